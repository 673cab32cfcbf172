// Package poller runs reconciliation cycles on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/metrics"
)

const (
	// Without an explicit MaxBackoff the cap is backoffIntervals*Interval,
	// bounded by maxDefaultBackoff.
	backoffIntervals  = 4
	maxDefaultBackoff = 5 * time.Minute
)

// Cycle runs one reconciliation pass.
type Cycle func(ctx context.Context) error

type Options struct {
	Interval time.Duration
	// MaxBackoff caps the delay after consecutive failures. Zero picks a cap
	// of a few intervals; it never drops below Interval.
	MaxBackoff time.Duration
	// RunImmediately starts the first cycle without waiting one interval.
	RunImmediately bool
}

// Loop owns one background goroutine. Start and Stop may be called from any
// goroutine; cycles never overlap.
type Loop struct {
	name       string
	cycle      Cycle
	interval   time.Duration
	maxBackoff time.Duration
	immediate  bool
	log        zerolog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log zerolog.Logger, name string, cycle Cycle, opts Options, m *metrics.Metrics) (*Loop, error) {
	if cycle == nil {
		return nil, errors.New("poller: nil cycle")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poller %s: interval must be positive, got %s", name, opts.Interval)
	}
	return &Loop{
		name:       name,
		cycle:      cycle,
		interval:   opts.Interval,
		maxBackoff: maxBackoff(opts.Interval, opts.MaxBackoff),
		immediate:  opts.RunImmediately,
		log:        log.With().Str("component", "poller").Str("poller", name).Logger(),
		metrics:    m,
	}, nil
}

// Start launches the loop. It is a no-op if the loop is already running.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	l.log.Info().Dur("interval", l.interval).Dur("max_backoff", l.maxBackoff).Msg("poller started")
}

// Stop signals the loop and waits for the in-flight cycle to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
	l.log.Info().Msg("poller stopped")
}

// Running reports whether Start was called without a matching Stop.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	first := l.interval
	if l.immediate {
		first = 0
	}
	timer := time.NewTimer(first)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := l.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveFailures++
			l.log.Error().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("poll cycle failed")
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(l.interval, l.maxBackoff, consecutiveFailures))
	}
}

// runOnce runs one cycle and turns a panic into an error.
func (l *Loop) runOnce(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s cycle: %v", l.name, r)
			result = "panic"
			l.log.Error().Str("stack", string(debug.Stack())).Msg("poll cycle panicked")
		} else if err != nil {
			result = "error"
		}
		l.metrics.ObservePollCycle(l.name, result, time.Since(start))
	}()
	return l.cycle(ctx)
}

func maxBackoff(interval, configured time.Duration) time.Duration {
	mb := configured
	if mb <= 0 {
		mb = interval * backoffIntervals
		if mb > maxDefaultBackoff {
			mb = maxDefaultBackoff
		}
	}
	if mb < interval {
		mb = interval
	}
	return mb
}

func backoffDuration(base, max time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}

	// base * 2^failures, capped.
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > max {
		return max
	}
	return d
}
