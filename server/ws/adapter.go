// SPDX-License-Identifier: ice License 1.0

// Package ws is the relay's WebSocket transport: it upgrades incoming
// HTTP connections with gobwas/ws, adapts the raw connection to the
// session.Writer contract, and feeds inbound text frames to a
// session.Session. The per-connection state machine itself lives in
// package session; this package only owns socket I/O, the same split
// the teacher draws between server/ws/internal/adapters (transport)
// and server/ws (protocol).
package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsConn adapts a single upgraded net.Conn to session.Writer: one
// frame per WriteMessage call, serialized under a mutex so the
// session's own ping timer and frame-reply writers never interleave a
// partial frame onto the wire. writeTimeout/readTimeout bound every
// write/read deadline, per the teacher's
// server/ws/internal/config.Config WriteTimeout/ReadTimeout fields.
type wsConn struct {
	conn         net.Conn
	mx           sync.Mutex
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func newWSConn(conn net.Conn, writeTimeout, readTimeout time.Duration) *wsConn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

// WriteMessage implements session.Writer. opCode follows RFC 6455
// (1 = text, 9 = ping).
func (c *wsConn) WriteMessage(opCode int, data []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	return wsutil.WriteServerMessage(c.conn, ws.OpCode(opCode), data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// readLoop blocks reading frames off the connection and hands each
// text frame's payload to handle, until the client closes the
// connection, a read fails, or no data frame arrives within
// readTimeout. Control frames (ping, pong) are consumed inside
// wsutil.ReadClientData and do not renew the read deadline.
func (c *wsConn) readLoop(handle func(data []byte)) error {
	for {
		if c.readTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return err
			}
		}

		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return err
		}
		switch op {
		case ws.OpText:
			if len(data) > 0 {
				handle(data)
			}
		case ws.OpClose:
			return nil
		}
	}
}
