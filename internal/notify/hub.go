// Package notify delivers status and alert messages to live subscribers and
// the secondary channels (push, email, Redis stream, MQTT).
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fleetwatch/core-go/internal/metrics"
)

const defaultConcurrency = 16

// Conn is one live subscriber.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Failure is one recipient that could not be reached.
type Failure struct {
	Channel string
	Target  string
	Err     error
}

// Report summarises a delivery round.
type Report struct {
	Attempted int
	Delivered int
	Failures  []Failure
}

func (r *Report) merge(o Report) {
	r.Attempted += o.Attempted
	r.Delivered += o.Delivered
	r.Failures = append(r.Failures, o.Failures...)
}

// Hub is the registry of websocket subscribers.
type Hub struct {
	log         zerolog.Logger
	metrics     *metrics.Metrics
	concurrency int

	mu    sync.RWMutex
	conns map[string]Conn
}

func NewHub(log zerolog.Logger, m *metrics.Metrics, concurrency int) *Hub {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Hub{
		log:         log.With().Str("component", "ws_hub").Logger(),
		metrics:     m,
		concurrency: concurrency,
		conns:       make(map[string]Conn),
	}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)
	h.log.Info().Str("conn_id", c.ID()).Int("connections", n).Msg("subscriber connected")
}

// Remove drops c from the registry. It reports whether c was registered.
func (h *Hub) Remove(c Conn) bool {
	h.mu.Lock()
	_, ok := h.conns[c.ID()]
	delete(h.conns, c.ID())
	n := len(h.conns)
	h.mu.Unlock()
	if ok {
		h.metrics.SetSubscribers(n)
		h.log.Info().Str("conn_id", c.ID()).Int("connections", n).Msg("subscriber disconnected")
	}
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every registered connection. Each Serve loop then
// unregisters its connection.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		_ = c.Close()
	}
}

func (h *Hub) snapshot() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends msg to every subscriber registered when the call started.
// Subscribers whose send fails are removed and closed; the others still
// receive the message.
func (h *Hub) Broadcast(ctx context.Context, msg Message) Report {
	conns := h.snapshot()
	if len(conns) == 0 {
		return Report{}
	}
	payload, err := Encode(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.MessageType()).Msg("failed to encode broadcast message")
		return Report{}
	}
	return h.broadcastPayload(ctx, conns, payload)
}

func (h *Hub) broadcastPayload(ctx context.Context, conns []Conn, payload []byte) Report {
	errs := make([]error, len(conns))
	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, c := range conns {
		g.Go(func() error {
			errs[i] = c.Send(ctx, payload)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Attempted: len(conns)}
	for i, err := range errs {
		c := conns[i]
		if err == nil {
			rep.Delivered++
			h.metrics.ObserveDelivery("websocket", true)
			continue
		}
		h.metrics.ObserveDelivery("websocket", false)
		h.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("dropping subscriber after failed send")
		rep.Failures = append(rep.Failures, Failure{Channel: "websocket", Target: c.ID(), Err: err})
		if h.Remove(c) {
			_ = c.Close()
		}
	}
	return rep
}

// SendPersonal sends msg to a single subscriber. A failure is returned but
// does not remove the subscriber.
func (h *Hub) SendPersonal(ctx context.Context, c Conn, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, payload); err != nil {
		h.log.Warn().Err(err).Str("conn_id", c.ID()).Str("type", msg.MessageType()).Msg("failed to send personal message")
		return err
	}
	return nil
}
