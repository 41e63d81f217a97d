// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nostrwire/relay/broadcast"
	"github.com/nostrwire/relay/cfg"
	"github.com/nostrwire/relay/server"
	"github.com/nostrwire/relay/store"
	"github.com/nostrwire/relay/subscription"
)

var (
	port         int16
	cert         string
	key          string
	dbPath       string
	writeTimeout time.Duration
	readTimeout  time.Duration
	relayd       = &cobra.Command{
		Use:   "relayd",
		Short: "relayd is a nostr relay server",
		Run: func(*cobra.Command, []string) {
			run()
		},
	}
	initFlags = func() {
		relayd.Flags().StringVar(&cert, "cert", "", "path to tls certificate for the http/ws server (TLS)")
		relayd.Flags().StringVar(&key, "key", "", "path to tls private key for the http/ws server (TLS)")
		relayd.Flags().Int16Var(&port, "port", 8080, "port to communicate with clients (http/websocket)")
		relayd.Flags().StringVar(&dbPath, "db", "relay.db", "path to the sqlite event store")
		relayd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "per-frame write deadline for websocket connections (0 = transport default)")
		relayd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "per-frame read deadline for websocket connections (0 = transport default)")
	}
)

func init() {
	initFlags()
}

func run() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg.MustInit("/etc/nostrwire-relay/relay.yaml", "application.yaml")

	st, err := store.Open(dbPath)
	if err != nil {
		log.Panicf("ERROR: failed to open store at %v: %v", dbPath, err)
	}

	index := subscription.New()
	bc := broadcast.New(index)
	go bc.Run()

	policy := cfg.NewPolicyStore()
	stopWatch, err := policy.Watch()
	if err != nil {
		log.Printf("WARN: policy hot-reload disabled: %v", err)
		stopWatch = func() {}
	}

	srv := server.New(&server.Config{
		CertPath:     cert,
		KeyPath:      key,
		Port:         uint16(port),
		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,
	}, st, index, bc, policy)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Printf("relayd listening on port %v", port)
		if err := srv.ListenAndServe(egCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	if err = eg.Wait(); err != nil {
		log.Printf("ERROR: server stopped: %v", err)
	}

	var shutdownErr *multierror.Error
	shutdownErr = multierror.Append(shutdownErr, st.Close())
	bc.Close()
	stopWatch()
	if shutdownErr.ErrorOrNil() != nil {
		log.Printf("WARN: shutdown errors: %v", shutdownErr)
	}
}

func main() {
	if err := relayd.Execute(); err != nil {
		log.Panic(err)
	}
}
