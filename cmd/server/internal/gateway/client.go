// Package gateway adapts raw WebSocket connections into hub sessions.
package gateway

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/cmd/server/internal/hub"
	"github.com/defistream/aave-apy-monitor/pkg/protocol"
)

const (
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// ClientAdapter pumps one connection: readPump decodes requests and relays
// pongs, writePump serializes outbound frames. The hub only ever sees the
// Session interface.
type ClientAdapter struct {
	conn   net.Conn
	hub    *hub.Hub
	id     uint64
	logger *zap.Logger

	send      chan []byte
	pings     chan struct{}
	closeOnce sync.Once

	writeWait time.Duration
	pongWait  time.Duration
}

var _ hub.Session = (*ClientAdapter)(nil)

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		conn:      conn,
		hub:       h,
		logger:    logger,
		send:      make(chan []byte, sendBuffer),
		pings:     make(chan struct{}, 1),
		writeWait: 5 * time.Second,
		pongWait:  90 * time.Second,
	}
}

func (c *ClientAdapter) Start() {
	c.id = c.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

// SendJSON enqueues without blocking; the frame is dropped when the
// session's buffer is full.
func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *ClientAdapter) Ping() {
	select {
	case c.pings <- struct{}{}:
	default:
	}
}

// Close ends the session with a normal closure frame. Safe to repeat.
func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Terminate drops the connection without a closing handshake.
func (c *ClientAdapter) Terminate() {
	c.conn.Close()
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}
		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return

		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			c.hub.Pong(c.id)

		case ws.OpText:
			var req protocol.Request
			if err := json.Unmarshal(payload, &req); err != nil {
				c.SendJSON(protocol.NewError("Invalid message format"))
				continue
			}
			c.hub.HandleRequest(c.id, req)

		case ws.OpBinary:
			c.SendJSON(protocol.NewError("Invalid message format"))
		}
	}
}

func (c *ClientAdapter) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-c.pings:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
