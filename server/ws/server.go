// SPDX-License-Identifier: ice License 1.0

package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/nostrwire/relay/broadcast"
	"github.com/nostrwire/relay/cfg"
	"github.com/nostrwire/relay/session"
	"github.com/nostrwire/relay/store"
	"github.com/nostrwire/relay/subscription"
)

// defaultWriteTimeout/defaultReadTimeout are used whenever Config
// leaves its timeout fields at zero. defaultReadTimeout is longer than
// session.pingInterval. The read deadline is only renewed when a data
// frame arrives, so a client that answers pings but sends no text or
// binary frame within defaultReadTimeout is disconnected.
const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadTimeout  = 90 * time.Second
)

// Config is the transport's own listen configuration. CertPath/KeyPath
// left empty serve plain HTTP, matching the teacher's dev-mode
// fallback in server/ws/internal/http2/server.go; unlike the teacher,
// this server never negotiates HTTP/3 or WebTransport, since the spec
// has no use for either. WriteTimeout/ReadTimeout mirror the teacher's
// server/ws/internal/config.Config fields and bound every frame
// write/read on the adapter.
type Config struct {
	Port         uint16
	CertPath     string
	KeyPath      string
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Server upgrades incoming HTTP connections to WebSocket and drives a
// session.Session for each one. It owns no relay state itself --
// store, index and broadcaster are constructed once by cmd/relayd and
// shared across every connection.
type Server struct {
	store        store.Store
	index        *subscription.Index
	bc           *broadcast.Broadcaster
	policy       *cfg.PolicyStore
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func New(wsCfg *Config, st store.Store, index *subscription.Index, bc *broadcast.Broadcaster, policy *cfg.PolicyStore) *Server {
	writeTimeout, readTimeout := defaultWriteTimeout, defaultReadTimeout
	if wsCfg != nil {
		if wsCfg.WriteTimeout > 0 {
			writeTimeout = wsCfg.WriteTimeout
		}
		if wsCfg.ReadTimeout > 0 {
			readTimeout = wsCfg.ReadTimeout
		}
	}

	return &Server{store: st, index: index, bc: bc, policy: policy, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

// Handler returns the WebSocket upgrade endpoint. Callers that also
// need to serve NIP-11 on the same path (package server does) dispatch
// to this only once the request carries WebSocket upgrade headers.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleUpgrade
}

// handleUpgrade completes the WebSocket handshake and hands the
// connection off to a fresh Session for its whole lifetime; it returns
// as soon as the connection's read loop ends, per net/http's handler
// contract for hijacked connections.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("WARN: websocket upgrade from %v failed: %v", r.RemoteAddr, err)

		return
	}

	connID := uuid.NewString()
	wsc := newWSConn(conn, s.writeTimeout, s.readTimeout)
	sess := session.New(connID, wsc, s.store, s.index, s.bc, s.policy)

	ctx := context.Background()
	sess.Start(ctx)
	defer sess.Close()

	if err = wsc.readLoop(func(data []byte) { sess.HandleFrame(ctx, data) }); err != nil {
		log.Printf("INFO: connection %v closed: %v", connID, err)
	}
}
