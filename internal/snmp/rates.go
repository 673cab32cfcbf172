package snmp

import (
	"context"
	"sync"
	"time"

	"fleetwatch/core-go/internal/nms"
)

type sampleKey struct {
	address string
	ifIndex int
}

type sample struct {
	in, out *uint64
	at      time.Time
}

// RateTracker keeps the previous counter sample per interface so that a new
// sample can be turned into octets per second. The first sample of an
// interface, a counter reset and a non-advancing clock all yield no rate.
type RateTracker struct {
	mu   sync.Mutex
	last map[sampleKey]sample
}

func NewRateTracker() *RateTracker {
	return &RateTracker{last: make(map[sampleKey]sample)}
}

func (t *RateTracker) Rates(address string, counters []Counter, at time.Time) []nms.PortRate {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]nms.PortRate, 0, len(counters))
	for _, c := range counters {
		pr := nms.PortRate{Name: c.Name, Type: c.Type, OperStatus: c.OperStatus}
		key := sampleKey{address: address, ifIndex: c.IfIndex}
		prev, ok := t.last[key]
		if ok {
			secs := at.Sub(prev.at).Seconds()
			pr.InOctetsRate = rate(prev.in, c.InOctets, secs)
			pr.OutOctetsRate = rate(prev.out, c.OutOctets, secs)
		}
		t.last[key] = sample{in: c.InOctets, out: c.OutOctets, at: at}
		out = append(out, pr)
	}
	return out
}

func rate(prev, cur *uint64, secs float64) *float64 {
	if prev == nil || cur == nil || secs <= 0 || *cur < *prev {
		return nil
	}
	r := float64(*cur-*prev) / secs
	return &r
}

// CounterWalker reads the interface counters of one node.
type CounterWalker interface {
	WalkCounters(ctx context.Context, address string) ([]Counter, error)
}

// Source samples a node over SNMP and reports rates since its previous call.
type Source struct {
	client  CounterWalker
	tracker *RateTracker
	now     func() time.Time
}

func NewSource(client CounterWalker) *Source {
	return &Source{client: client, tracker: NewRateTracker(), now: time.Now}
}

func (s *Source) PortRates(ctx context.Context, address string) ([]nms.PortRate, error) {
	counters, err := s.client.WalkCounters(ctx, address)
	if err != nil {
		return nil, err
	}
	return s.tracker.Rates(address, counters, s.now()), nil
}
