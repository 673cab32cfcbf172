package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMessage = 4096
)

// WSConn adapts a gorilla websocket connection to Conn. Writes are
// serialised because gorilla allows one concurrent writer.
type WSConn struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{id: uuid.NewString(), conn: conn}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// IsPing reports whether a client frame asks for a pong. Both the bare text
// "ping" and {"type":"ping"} are accepted.
func IsPing(data []byte) bool {
	s := strings.TrimSpace(string(data))
	if s == "ping" {
		return true
	}
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(s), &msg); err != nil {
		return false
	}
	return msg.Type == "ping"
}

// Serve registers c with the hub, greets it and reads until the client goes
// away or ctx is cancelled. It always unregisters and closes c.
func (h *Hub) Serve(ctx context.Context, c *WSConn) {
	h.Add(c)
	defer func() {
		h.Remove(c)
		_ = c.Close()
	}()

	if err := h.SendPersonal(ctx, c, NewConnected("Connected to status updates")); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Unblocks ReadMessage below.
				_ = c.Close()
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug().Err(err).Str("conn_id", c.ID()).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if IsPing(data) {
			if err := h.SendPersonal(ctx, c, NewPong()); err != nil {
				return
			}
		}
	}
}
