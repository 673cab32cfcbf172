// Package dashboard assembles the aggregate views served to the UI.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fleetwatch/core-go/internal/devicetype"
	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/sqlcgen"
)

const (
	MinTopDownWindow     = 1
	MaxTopDownWindow     = 90
	DefaultTopDownWindow = 7

	topDownLimit = 10
)

var ErrInvalidWindow = fmt.Errorf("top_down_window must be between %d and %d", MinTopDownWindow, MaxTopDownWindow)

type Queries interface {
	CountNodes(ctx context.Context, locationID *int64) (sqlcgen.NodeCounts, error)
	CountActiveAlerts(ctx context.Context, locationID *int64) (int64, error)
	ListTopDownLocations(ctx context.Context, since time.Time, limit int32) ([]sqlcgen.LocationDownCount, error)
	ListDeviceTypeCounts(ctx context.Context, locationID *int64) ([]sqlcgen.DeviceTypeCount, error)
	ListNodes(ctx context.Context, locationID *int64) ([]sqlcgen.Node, error)
}

type LocationDown struct {
	LocationID   int64  `json:"location_id"`
	LocationName string `json:"location_name"`
	OfflineCount int64  `json:"offline_count"`
}

type DeviceTypeStat struct {
	DeviceType string `json:"device_type"`
	Count      int64  `json:"count"`
}

// Stats is the dashboard summary. Percentages and bandwidth are nil when
// there is nothing to measure.
type Stats struct {
	TotalAllDevices      int64            `json:"total_all_devices"`
	AllOnlineDevices     int64            `json:"all_online_devices"`
	ActiveAlerts         int64            `json:"active_alerts"`
	TotalBandwidth       *float64         `json:"total_bandwidth"`
	UptimePercentage     *float64         `json:"uptime_percentage"`
	TopDownLocations     []LocationDown   `json:"top_down_locations"`
	TopDownWindowDays    int              `json:"top_down_window_days"`
	CCTVTotal            int64            `json:"cctv_total"`
	CCTVOnline           int64            `json:"cctv_online"`
	CCTVUptimePercentage *float64         `json:"cctv_uptime_percentage"`
	DeviceTypeStats      []DeviceTypeStat `json:"device_type_stats"`
	LastSyncedAt         *time.Time       `json:"last_synced_at"`
}

type Traffic struct {
	Timestamp    time.Time `json:"timestamp"`
	InboundMbps  *float64  `json:"inbound_mbps"`
	OutboundMbps *float64  `json:"outbound_mbps"`
}

type Options struct {
	// Ports is optional; without it bandwidth is always reported as null.
	Ports       PortSource
	Concurrency int
}

type Service struct {
	log         zerolog.Logger
	q           Queries
	ports       PortSource
	concurrency int
	now         func() time.Time
}

func New(log zerolog.Logger, q Queries, opts Options) *Service {
	c := opts.Concurrency
	if c <= 0 {
		c = 8
	}
	return &Service{
		log:         log.With().Str("component", "dashboard").Logger(),
		q:           q,
		ports:       opts.Ports,
		concurrency: c,
		now:         time.Now,
	}
}

func percent(part, total int64) *float64 {
	if total <= 0 {
		return nil
	}
	v := round2(float64(part) / float64(total) * 100)
	return &v
}

func (s *Service) Stats(ctx context.Context, locationID *int64, topDownWindow int) (Stats, error) {
	if topDownWindow < MinTopDownWindow || topDownWindow > MaxTopDownWindow {
		return Stats{}, ErrInvalidWindow
	}

	counts, err := s.q.CountNodes(ctx, locationID)
	if err != nil {
		return Stats{}, fmt.Errorf("count nodes: %w", err)
	}
	active, err := s.q.CountActiveAlerts(ctx, locationID)
	if err != nil {
		return Stats{}, fmt.Errorf("count active alerts: %w", err)
	}
	since := s.now().Add(-time.Duration(topDownWindow) * 24 * time.Hour)
	down, err := s.q.ListTopDownLocations(ctx, since, topDownLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("list top down locations: %w", err)
	}
	types, err := s.q.ListDeviceTypeCounts(ctx, locationID)
	if err != nil {
		return Stats{}, fmt.Errorf("list device types: %w", err)
	}

	total := counts.TotalDevices + counts.TotalSwitches
	online := counts.OnlineDevices + counts.OnlineSwitches
	st := Stats{
		TotalAllDevices:      total,
		AllOnlineDevices:     online,
		ActiveAlerts:         active,
		UptimePercentage:     percent(online, total),
		TopDownLocations:     make([]LocationDown, 0, len(down)),
		TopDownWindowDays:    topDownWindow,
		CCTVTotal:            counts.CCTVTotal,
		CCTVOnline:           counts.CCTVOnline,
		CCTVUptimePercentage: percent(counts.CCTVOnline, counts.CCTVTotal),
		DeviceTypeStats:      deviceTypeStats(types, counts.TotalSwitches),
		LastSyncedAt:         counts.LastSyncedAt,
	}
	for _, d := range down {
		st.TopDownLocations = append(st.TopDownLocations, LocationDown(d))
	}

	r, err := s.collectRates(ctx, locationID)
	if err != nil {
		return Stats{}, err
	}
	if r.found {
		bw := round2(OctetsToMbps(r.in) + OctetsToMbps(r.out))
		st.TotalBandwidth = &bw
	}
	return st, nil
}

func (s *Service) Traffic(ctx context.Context, locationID *int64) (Traffic, error) {
	r, err := s.collectRates(ctx, locationID)
	if err != nil {
		return Traffic{}, err
	}
	t := Traffic{Timestamp: s.now().UTC()}
	if r.found {
		in, out := round2(OctetsToMbps(r.in)), round2(OctetsToMbps(r.out))
		t.InboundMbps, t.OutboundMbps = &in, &out
	}
	return t, nil
}

// collectRates fetches port rates of every node in scope concurrently. A node
// whose ports cannot be read is logged and left out.
func (s *Service) collectRates(ctx context.Context, locationID *int64) (rates, error) {
	if s.ports == nil {
		return rates{}, nil
	}
	ns, err := s.q.ListNodes(ctx, locationID)
	if err != nil {
		return rates{}, fmt.Errorf("list nodes: %w", err)
	}

	perNode := make([][]nms.PortRate, len(ns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, n := range ns {
		g.Go(func() error {
			ports, err := s.ports.PortRates(gctx, n)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				s.log.Warn().Err(err).Str("node", nodes.Target{Kind: n.Kind, ID: n.ID}.String()).Msg("port rates unavailable")
				return nil
			}
			perNode[i] = SelectPorts(ports)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rates{}, err
	}

	var r rates
	for _, ps := range perNode {
		r.add(ps)
	}
	return r, nil
}

// deviceTypeStats folds device types into categories, merges switches in and
// orders the result by count, then category.
func deviceTypeStats(rows []sqlcgen.DeviceTypeCount, switches int64) []DeviceTypeStat {
	merged := make(map[string]int64, len(rows)+1)
	for _, r := range rows {
		merged[devicetype.Normalize(r.DeviceType)] += r.Count
	}
	if switches > 0 {
		merged[devicetype.Switch] += switches
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if merged[keys[i]] != merged[keys[j]] {
			return merged[keys[i]] > merged[keys[j]]
		}
		return keys[i] < keys[j]
	})
	out := make([]DeviceTypeStat, 0, len(keys))
	for _, k := range keys {
		out = append(out, DeviceTypeStat{DeviceType: devicetype.Label(k), Count: merged[k]})
	}
	return out
}
