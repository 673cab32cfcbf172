package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fleetwatch/core-go/internal/poller"
)

const (
	alertLoopName  = "alert_sync"
	statusLoopName = "status_sync"
)

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var loops []*poller.Loop
	if a.alerts != nil {
		l, err := poller.New(a.log, alertLoopName, a.alerts.Cycle, poller.Options{
			Interval:       a.cfg.AlertPollInterval,
			MaxBackoff:     a.cfg.PollMaxBackoff,
			RunImmediately: true,
		}, a.metrics)
		if err != nil {
			return err
		}
		loops = append(loops, l)
	}
	if a.status != nil {
		l, err := poller.New(a.log, statusLoopName, a.status.Cycle, poller.Options{
			Interval:       a.cfg.StatusPollInterval,
			MaxBackoff:     a.cfg.PollMaxBackoff,
			RunImmediately: true,
		}, a.metrics)
		if err != nil {
			return err
		}
		loops = append(loops, l)
	}
	for _, l := range loops {
		l.Start(ctx)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler().Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.HTTPAddr).Str("version", Version).Msg("fleetwatch listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			a.log.Error().Err(err).Msg("http server error")
		}
		for _, l := range loops {
			l.Stop()
		}
		return err
	}

	for _, l := range loops {
		l.Stop()
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	a.fanout.Hub().CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.log.Info().Msg("shutdown complete")
	return nil
}
