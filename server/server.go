// SPDX-License-Identifier: ice License 1.0

// Package server wires the relay's two HTTP-level concerns -- the
// WebSocket transport (package ws) and the NIP-11 relay information
// document (package http) -- onto a single listen address, the same
// single-port gin.Engine wiring the teacher's server/ws/internal/router.go
// draws between its WebSocket and file-upload handlers.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nostrwire/relay/broadcast"
	"github.com/nostrwire/relay/cfg"
	httpserver "github.com/nostrwire/relay/server/http"
	wsserver "github.com/nostrwire/relay/server/ws"
	"github.com/nostrwire/relay/store"
	"github.com/nostrwire/relay/subscription"
)

type Config struct {
	Port         uint16
	CertPath     string
	KeyPath      string
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Server is the relay's single listen socket: WebSocket upgrades and
// NIP-11 requests are both served on "/", selected by request headers.
type Server struct {
	cfg        *Config
	httpServer *http.Server
}

func New(serverCfg *Config, st store.Store, index *subscription.Index, bc *broadcast.Broadcaster, policy *cfg.PolicyStore) *Server {
	ws := wsserver.New(&wsserver.Config{
		Port:         serverCfg.Port,
		CertPath:     serverCfg.CertPath,
		KeyPath:      serverCfg.KeyPath,
		WriteTimeout: serverCfg.WriteTimeout,
		ReadTimeout:  serverCfg.ReadTimeout,
	}, st, index, bc, policy)
	nip11 := httpserver.NewNIP11Handler(policy)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Any("/", func(ginCtx *gin.Context) {
		if isWebSocketUpgrade(ginCtx.Request) {
			ws.Handler()(ginCtx.Writer, ginCtx.Request)

			return
		}
		nip11.ServeHTTP(ginCtx.Writer, ginCtx.Request)
	})

	return &Server{
		cfg: serverCfg,
		httpServer: &http.Server{
			Addr:    ":" + strconv.Itoa(int(serverCfg.Port)),
			Handler: engine,
		},
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// ListenAndServe blocks serving connections until ctx is canceled or
// the listener fails. TLS is used whenever both cert and key paths are
// configured.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.httpServer.Close()
	}()

	if s.cfg.CertPath != "" && s.cfg.KeyPath != "" {
		return s.httpServer.ListenAndServeTLS(s.cfg.CertPath, s.cfg.KeyPath)
	}

	return s.httpServer.ListenAndServe()
}
