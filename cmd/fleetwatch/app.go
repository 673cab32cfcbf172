package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/alertsync"
	"fleetwatch/core-go/internal/config"
	"fleetwatch/core-go/internal/dashboard"
	"fleetwatch/core-go/internal/db"
	"fleetwatch/core-go/internal/httpapi"
	"fleetwatch/core-go/internal/metrics"
	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/notify"
	"fleetwatch/core-go/internal/snmp"
	"fleetwatch/core-go/internal/statussync"
	"fleetwatch/core-go/internal/uptime"
)

// redisStreamMaxLen bounds the event stream; older entries are trimmed.
const redisStreamMaxLen = 10000

// app holds every wired component. Fields stay nil when their dependency
// (database or NMS) is not configured.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	pool    *db.Pool
	metrics *metrics.Metrics
	fanout  *notify.Fanout

	alerts    *alertsync.Reconciler
	status    *statussync.Poller
	trends    *uptime.Calculator
	dashboard *dashboard.Service

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{
		cfg: cfg,
		log: httpapi.NewLogger(httpapi.LoggerOptions{
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Version: Version,
		}),
		metrics: metrics.New(),
	}

	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = p
		a.closers = append(a.closers, p.Close)
	} else {
		a.log.Warn().Msg("DATABASE_URL not set; reconciliation and dashboard endpoints are disabled")
	}

	sinks, err := a.openSinks(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	hub := notify.NewHub(a.log, a.metrics, cfg.FanoutConcurrency)
	a.fanout = notify.NewFanout(a.log, a.metrics, hub, notify.Options{
		Sinks:       sinks,
		Concurrency: cfg.FanoutConcurrency,
	})

	var nmsClient *nms.Client
	if cfg.NMSEnabled() {
		nmsClient = nms.New(a.log, nms.Config{
			BaseURL:    cfg.NMSURL,
			APIToken:   cfg.NMSAPIToken,
			Timeout:    cfg.NMSTimeout,
			RetryCount: cfg.NMSRetries,
		})
	} else {
		a.log.Warn().Msg("NMS_URL not set; alert and status sync are disabled")
	}

	if a.pool != nil {
		if nmsClient != nil {
			a.alerts = alertsync.New(a.log, nmsClient, alertsync.NewPgStore(a.pool), a.fanout, a.metrics)
			a.status = statussync.New(a.log, nmsClient, statussync.NewPgStore(a.pool), a.fanout, a.metrics)
		}
		q := a.pool.Queries()
		a.trends = uptime.NewCalculator(q, cfg.DashboardTimezone, cfg.UptimeLookback)
		a.dashboard = dashboard.New(a.log, q, dashboard.Options{Ports: a.portSource(nmsClient)})
	}

	return a, nil
}

func (a *app) portSource(nmsClient *nms.Client) dashboard.PortSource {
	switch a.cfg.PortCounterSource {
	case config.PortSourceSNMP:
		client := snmp.NewClient(snmp.Config{
			Community: a.cfg.SNMPCommunity,
			Version:   a.cfg.SNMPVersion,
			Port:      a.cfg.SNMPPort,
			Timeout:   a.cfg.SNMPTimeout,
		})
		return dashboard.SNMPPorts{Source: snmp.NewSource(client)}
	default:
		if nmsClient == nil {
			return nil
		}
		return dashboard.NMSPorts{Client: nmsClient}
	}
}

func (a *app) openSinks(ctx context.Context) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", a.cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		sinks = append(sinks, notify.NewRedisStreamSink(rdb, a.cfg.RedisStream, redisStreamMaxLen))
		a.log.Info().Str("addr", a.cfg.RedisAddr).Str("stream", a.cfg.RedisStream).Msg("redis event sink enabled")
	}

	if a.cfg.MQTTBroker != "" {
		sink, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:   a.cfg.MQTTBroker,
			ClientID: a.cfg.MQTTClientID,
			Username: a.cfg.MQTTUsername,
			Password: a.cfg.MQTTPassword,
			Topic:    a.cfg.MQTTTopic,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink)
		a.log.Info().Str("broker", a.cfg.MQTTBroker).Str("topic", a.cfg.MQTTTopic).Msg("mqtt event sink enabled")
	}

	return sinks, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) handler() *httpapi.Handler {
	deps := httpapi.Deps{
		Metrics: a.metrics,
		Fanout:  a.fanout,
	}
	// Typed nils would defeat the handler's nil checks.
	if a.alerts != nil {
		deps.Alerts = a.alerts
	}
	if a.trends != nil {
		deps.Trends = a.trends
	}
	if a.dashboard != nil {
		deps.Dashboard = a.dashboard
	}
	return httpapi.NewHandler(a.log, a.pool, deps)
}
