package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/sqlcgen"
)

type fakeQueries struct {
	counts    sqlcgen.NodeCounts
	active    int64
	down      []sqlcgen.LocationDownCount
	types     []sqlcgen.DeviceTypeCount
	nodes     []sqlcgen.Node
	gotSince  time.Time
	gotLimit  int32
	countsErr error
}

func (f *fakeQueries) CountNodes(ctx context.Context, locationID *int64) (sqlcgen.NodeCounts, error) {
	return f.counts, f.countsErr
}

func (f *fakeQueries) CountActiveAlerts(ctx context.Context, locationID *int64) (int64, error) {
	return f.active, nil
}

func (f *fakeQueries) ListTopDownLocations(ctx context.Context, since time.Time, limit int32) ([]sqlcgen.LocationDownCount, error) {
	f.gotSince, f.gotLimit = since, limit
	return f.down, nil
}

func (f *fakeQueries) ListDeviceTypeCounts(ctx context.Context, locationID *int64) ([]sqlcgen.DeviceTypeCount, error) {
	return f.types, nil
}

func (f *fakeQueries) ListNodes(ctx context.Context, locationID *int64) ([]sqlcgen.Node, error) {
	return f.nodes, nil
}

type fakePorts struct {
	mu     sync.Mutex
	byNode map[int64][]nms.PortRate
	errFor map[int64]error
	calls  int
}

func (f *fakePorts) PortRates(ctx context.Context, node sqlcgen.Node) ([]nms.PortRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errFor[node.ID]; err != nil {
		return nil, err
	}
	return f.byNode[node.ID], nil
}

func f64(v float64) *float64 { return &v }

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(q Queries, ports PortSource) *Service {
	s := New(zerolog.Nop(), q, Options{Ports: ports, Concurrency: 2})
	s.now = func() time.Time { return testNow }
	return s
}

func TestStats(t *testing.T) {
	synced := testNow.Add(-time.Minute)
	q := &fakeQueries{
		counts: sqlcgen.NodeCounts{
			TotalDevices: 6, OnlineDevices: 5, TotalSwitches: 2, OnlineSwitches: 1,
			CCTVTotal: 3, CCTVOnline: 2, LastSyncedAt: &synced,
		},
		active: 4,
		down:   []sqlcgen.LocationDownCount{{LocationID: 1, LocationName: "HQ", OfflineCount: 3}},
		types: []sqlcgen.DeviceTypeCount{
			{DeviceType: "cctv", Count: 3},
			{DeviceType: "access_point", Count: 2},
			{DeviceType: "unknown", Count: 1},
		},
	}
	st, err := newTestService(q, nil).Stats(context.Background(), nil, 7)
	require.NoError(t, err)

	assert.Equal(t, int64(8), st.TotalAllDevices)
	assert.Equal(t, int64(6), st.AllOnlineDevices)
	assert.Equal(t, int64(4), st.ActiveAlerts)
	require.NotNil(t, st.UptimePercentage)
	assert.Equal(t, 75.0, *st.UptimePercentage)
	require.NotNil(t, st.CCTVUptimePercentage)
	assert.Equal(t, 66.67, *st.CCTVUptimePercentage)
	assert.Nil(t, st.TotalBandwidth, "no port source configured")
	assert.Equal(t, []LocationDown{{LocationID: 1, LocationName: "HQ", OfflineCount: 3}}, st.TopDownLocations)
	assert.Equal(t, 7, st.TopDownWindowDays)
	assert.Equal(t, testNow.Add(-7*24*time.Hour), q.gotSince)
	assert.Equal(t, int32(topDownLimit), q.gotLimit)
	assert.Equal(t, &synced, st.LastSyncedAt)
	assert.Equal(t, []DeviceTypeStat{
		{DeviceType: "CCTV", Count: 3},
		{DeviceType: "Access Point", Count: 2},
		{DeviceType: "Switch", Count: 2},
		{DeviceType: "Unknown", Count: 1},
	}, st.DeviceTypeStats)
}

func TestStats_emptyFleetHasNullPercentages(t *testing.T) {
	st, err := newTestService(&fakeQueries{}, nil).Stats(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Nil(t, st.UptimePercentage)
	assert.Nil(t, st.CCTVUptimePercentage)
	assert.NotNil(t, st.TopDownLocations)
	assert.Empty(t, st.DeviceTypeStats)
}

func TestStats_rejectsWindowOutOfRange(t *testing.T) {
	s := newTestService(&fakeQueries{}, nil)
	for _, w := range []int{0, 91} {
		_, err := s.Stats(context.Background(), nil, w)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	}
}

func TestStats_propagatesQueryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := newTestService(&fakeQueries{countsErr: boom}, nil).Stats(context.Background(), nil, 7)
	assert.ErrorIs(t, err, boom)
}

func TestTraffic_sumsSelectedPorts(t *testing.T) {
	q := &fakeQueries{nodes: []sqlcgen.Node{{Kind: "switch", ID: 1}, {Kind: "switch", ID: 2}, {Kind: "device", ID: 3}}}
	ports := &fakePorts{
		byNode: map[int64][]nms.PortRate{
			1: {
				{Name: "Gi0/1", Type: "ethernetCsmacd", OperStatus: "up", InOctetsRate: f64(1_250_000), OutOctetsRate: f64(250_000)},
				{Name: "Vlan10", Type: "l2vlan", OperStatus: "up", InOctetsRate: f64(1_250_000), OutOctetsRate: f64(250_000)},
				{Name: "Gi0/2", Type: "ethernetCsmacd", OperStatus: "down", InOctetsRate: f64(999_999)},
			},
			2: {
				{Name: "eth0", OperStatus: "up", InOctetsRate: f64(125_000)},
			},
		},
		errFor: map[int64]error{3: nms.ErrUpstreamUnavailable},
	}

	tr, err := newTestService(q, ports).Traffic(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, testNow, tr.Timestamp)
	require.NotNil(t, tr.InboundMbps)
	require.NotNil(t, tr.OutboundMbps)
	assert.Equal(t, 11.0, *tr.InboundMbps)
	assert.Equal(t, 2.0, *tr.OutboundMbps)
	assert.Equal(t, 3, ports.calls)
}

func TestTraffic_nullWithoutValidData(t *testing.T) {
	q := &fakeQueries{nodes: []sqlcgen.Node{{Kind: "switch", ID: 1}}}
	ports := &fakePorts{byNode: map[int64][]nms.PortRate{1: {{Name: "eth0", OperStatus: "up"}}}}

	tr, err := newTestService(q, ports).Traffic(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, tr.InboundMbps)
	assert.Nil(t, tr.OutboundMbps)
}

func TestStats_bandwidthFromPorts(t *testing.T) {
	q := &fakeQueries{nodes: []sqlcgen.Node{{Kind: "switch", ID: 1}}}
	ports := &fakePorts{byNode: map[int64][]nms.PortRate{1: {
		{Name: "eth0", OperStatus: "up", InOctetsRate: f64(125_000), OutOctetsRate: f64(125_000)},
	}}}

	st, err := newTestService(q, ports).Stats(context.Background(), nil, 7)
	require.NoError(t, err)
	require.NotNil(t, st.TotalBandwidth)
	assert.Equal(t, 2.0, *st.TotalBandwidth)
}

func TestSelectPorts(t *testing.T) {
	in := []nms.PortRate{
		{Name: "lo", Type: "softwareLoopback", OperStatus: "up"},
		{Name: "bridge0", Type: "bridge", OperStatus: "up"},
		{Name: "vlan20", OperStatus: "up"},
		{Name: "fa0/3", OperStatus: "up"},
		{Name: "port9", Type: "ethernetCsmacd", OperStatus: "UP"},
		{Name: "eth1", OperStatus: "down"},
	}
	got := SelectPorts(in)
	require.Len(t, got, 2)
	assert.Equal(t, "fa0/3", got[0].Name)
	assert.Equal(t, "port9", got[1].Name)

	// Nothing physical: every up port counts.
	fallback := SelectPorts([]nms.PortRate{
		{Name: "wlan0", OperStatus: "up"},
		{Name: "vlan1", OperStatus: "up"},
		{Name: "wlan1", OperStatus: "down"},
	})
	assert.Len(t, fallback, 2)
}

func TestNMSPorts_skipsNodesWithoutExternalID(t *testing.T) {
	called := false
	p := NMSPorts{Client: portCounterFunc(func(ctx context.Context, id int64) ([]nms.PortRate, error) {
		called = true
		return nil, nil
	})}
	got, err := p.PortRates(context.Background(), sqlcgen.Node{Kind: "device", ID: 1})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, called)
}

type portCounterFunc func(ctx context.Context, id int64) ([]nms.PortRate, error)

func (f portCounterFunc) PortCounters(ctx context.Context, id int64) ([]nms.PortRate, error) {
	return f(ctx, id)
}

func TestDeviceTypeStats_foldsSynonyms(t *testing.T) {
	got := deviceTypeStats([]sqlcgen.DeviceTypeCount{
		{DeviceType: "cctv", Count: 2},
		{DeviceType: "IP Camera", Count: 1},
		{DeviceType: "unifi wap", Count: 1},
		{DeviceType: "access_point", Count: 1},
	}, 0)
	assert.Equal(t, []DeviceTypeStat{
		{DeviceType: "CCTV", Count: 3},
		{DeviceType: "Access Point", Count: 2},
	}, got)
}
