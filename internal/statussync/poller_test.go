package statussync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/notify"
	"fleetwatch/core-go/internal/sqlcgen"
)

type fakeStore struct {
	monitored []sqlcgen.Node
	updates   []sqlcgen.UpdateNodeStatusParams
	events    []sqlcgen.StatusEvent
	commitErr error
	insertErr error
}

type fakeTx struct {
	s       *fakeStore
	updates []sqlcgen.UpdateNodeStatusParams
	events  []sqlcgen.StatusEvent
}

func (s *fakeStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx := &fakeTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	s.updates = append(s.updates, tx.updates...)
	s.events = append(s.events, tx.events...)
	return nil
}

func (t *fakeTx) ListMonitoredNodes(ctx context.Context) ([]sqlcgen.Node, error) {
	return t.s.monitored, nil
}

func (t *fakeTx) UpdateNodeStatus(ctx context.Context, arg sqlcgen.UpdateNodeStatusParams) error {
	t.updates = append(t.updates, arg)
	return nil
}

func (t *fakeTx) InsertStatusEvent(ctx context.Context, arg sqlcgen.StatusEvent) error {
	if t.s.insertErr != nil {
		return t.s.insertErr
	}
	t.events = append(t.events, arg)
	return nil
}

type fakeSource struct {
	statuses []nms.NodeStatus
	err      error
}

func (f *fakeSource) ListNodes(ctx context.Context) ([]nms.NodeStatus, error) {
	return f.statuses, f.err
}

type fakePublisher struct {
	subscribers int
	msgs        []notify.Message
}

func (f *fakePublisher) Publish(ctx context.Context, msg notify.Message) notify.Report {
	f.msgs = append(f.msgs, msg)
	return notify.Report{}
}

func (f *fakePublisher) Subscribers() int { return f.subscribers }

func (f *fakePublisher) ofType(t string) []notify.Message {
	var out []notify.Message
	for _, m := range f.msgs {
		if m.MessageType() == t {
			out = append(out, m)
		}
	}
	return out
}

func int64p(v int64) *int64 { return &v }

func newTestPoller(store *fakeStore, src *fakeSource, pub *fakePublisher) *Poller {
	p := New(zerolog.Nop(), src, store, pub, nil)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestPollOnce_recordsOneTransitionPerChange(t *testing.T) {
	store := &fakeStore{monitored: []sqlcgen.Node{
		{Kind: sqlcgen.NodeKindDevice, ID: 7, ExternalID: int64p(42), Name: "cam-1", IPAddress: "10.0.0.7"},
	}}
	src := &fakeSource{}
	pub := &fakePublisher{}
	p := newTestPoller(store, src, pub)
	ctx := context.Background()

	src.statuses = []nms.NodeStatus{{ExternalID: 42, Online: false}}
	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "first observation only seeds")

	src.statuses = []nms.NodeStatus{{ExternalID: 42, Online: true}}
	n, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, store.events, 1)
	assert.Equal(t, sqlcgen.StatusEvent{
		NodeKind:  sqlcgen.NodeKindDevice,
		NodeID:    7,
		Status:    StatusOnline,
		ChangedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, store.events[0])
	require.Len(t, store.updates, 1)
	assert.Equal(t, StatusOnline, store.updates[0].Status)

	changes := pub.ofType(notify.TypeStatusChange)
	require.Len(t, changes, 1)
	sc := changes[0].(notify.StatusChange)
	assert.Equal(t, "device", sc.NodeType)
	assert.Equal(t, int64(7), sc.ID)
	assert.Equal(t, "cam-1", sc.Name)
	assert.Equal(t, "10.0.0.7", sc.IPAddress)
	assert.Equal(t, StatusOffline, sc.OldStatus)
	assert.Equal(t, StatusOnline, sc.NewStatus)
}

func TestPollOnce_skipsAmbiguousExternalID(t *testing.T) {
	store := &fakeStore{monitored: []sqlcgen.Node{
		{Kind: sqlcgen.NodeKindDevice, ID: 7, ExternalID: int64p(42)},
		{Kind: sqlcgen.NodeKindSwitch, ID: 3, ExternalID: int64p(42)},
		{Kind: sqlcgen.NodeKindSwitch, ID: 4, ExternalID: int64p(50)},
	}}
	src := &fakeSource{statuses: []nms.NodeStatus{{ExternalID: 42, Online: true}, {ExternalID: 50, Online: true}}}
	p := newTestPoller(store, src, &fakePublisher{})

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)

	_, ok := p.Cached(nodes.Target{Kind: sqlcgen.NodeKindDevice, ID: 7})
	assert.False(t, ok)
	_, ok = p.Cached(nodes.Target{Kind: sqlcgen.NodeKindSwitch, ID: 3})
	assert.False(t, ok)
	s, ok := p.Cached(nodes.Target{Kind: sqlcgen.NodeKindSwitch, ID: 4})
	assert.True(t, ok)
	assert.Equal(t, StatusOnline, s)
}

func TestPollOnce_commitFailureRevertsCache(t *testing.T) {
	store := &fakeStore{monitored: []sqlcgen.Node{
		{Kind: sqlcgen.NodeKindSwitch, ID: 3, ExternalID: int64p(9)},
	}}
	src := &fakeSource{statuses: []nms.NodeStatus{{ExternalID: 9, Online: true}}}
	pub := &fakePublisher{}
	p := newTestPoller(store, src, pub)
	ctx := context.Background()
	target := nodes.Target{Kind: sqlcgen.NodeKindSwitch, ID: 3}

	_, err := p.PollOnce(ctx)
	require.NoError(t, err)

	src.statuses[0].Online = false
	store.commitErr = errors.New("commit failed")
	_, err = p.PollOnce(ctx)
	require.Error(t, err)
	s, _ := p.Cached(target)
	assert.Equal(t, StatusOnline, s)
	assert.Empty(t, pub.ofType(notify.TypeStatusChange))

	store.commitErr = nil
	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.events, 1)
	assert.Equal(t, StatusOffline, store.events[0].Status)
}

func TestPollOnce_failedSeedIsRetried(t *testing.T) {
	store := &fakeStore{
		monitored: []sqlcgen.Node{{Kind: sqlcgen.NodeKindDevice, ID: 1, ExternalID: int64p(5)}},
		commitErr: errors.New("commit failed"),
	}
	src := &fakeSource{statuses: []nms.NodeStatus{{ExternalID: 5, Online: true}}}
	p := newTestPoller(store, src, &fakePublisher{})

	_, err := p.PollOnce(context.Background())
	require.Error(t, err)
	_, ok := p.Cached(nodes.Target{Kind: sqlcgen.NodeKindDevice, ID: 1})
	assert.False(t, ok)
}

func TestPollOnce_writeFailureAbortsCycle(t *testing.T) {
	store := &fakeStore{monitored: []sqlcgen.Node{{Kind: sqlcgen.NodeKindDevice, ID: 1, ExternalID: int64p(5)}}}
	src := &fakeSource{statuses: []nms.NodeStatus{{ExternalID: 5, Online: true}}}
	pub := &fakePublisher{}
	p := newTestPoller(store, src, pub)
	ctx := context.Background()

	_, err := p.PollOnce(ctx)
	require.NoError(t, err)

	store.insertErr = errors.New("disk full")
	src.statuses[0].Online = false
	_, err = p.PollOnce(ctx)
	require.Error(t, err)
	s, _ := p.Cached(nodes.Target{Kind: sqlcgen.NodeKindDevice, ID: 1})
	assert.Equal(t, StatusOnline, s)
	assert.Empty(t, pub.msgs)
}

func TestPollOnce_fetchFailureSkipsCycle(t *testing.T) {
	store := &fakeStore{}
	src := &fakeSource{err: nms.ErrUpstreamUnavailable}
	pub := &fakePublisher{subscribers: 2}
	p := newTestPoller(store, src, pub)

	_, err := p.PollOnce(context.Background())
	assert.ErrorIs(t, err, nms.ErrUpstreamUnavailable)
	assert.Empty(t, pub.msgs)
}

func TestPollOnce_heartbeatOnlyWithSubscribers(t *testing.T) {
	store := &fakeStore{monitored: []sqlcgen.Node{
		{Kind: sqlcgen.NodeKindDevice, ID: 1, ExternalID: int64p(1)},
		{Kind: sqlcgen.NodeKindDevice, ID: 2, ExternalID: int64p(2)},
		{Kind: sqlcgen.NodeKindSwitch, ID: 1, ExternalID: int64p(3)},
	}}
	src := &fakeSource{statuses: []nms.NodeStatus{
		{ExternalID: 1, Online: true},
		{ExternalID: 2, Online: false},
		{ExternalID: 3, Online: true},
	}}
	pub := &fakePublisher{}
	p := newTestPoller(store, src, pub)

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pub.ofType(notify.TypeHeartbeat))

	pub.subscribers = 1
	_, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	beats := pub.ofType(notify.TypeHeartbeat)
	require.Len(t, beats, 1)
	hb := beats[0].(notify.Heartbeat)
	assert.Equal(t, 2, hb.TotalDevices)
	assert.Equal(t, 1, hb.OnlineDevices)
	assert.Equal(t, 1, hb.TotalSwitches)
	assert.Equal(t, 1, hb.OnlineSwitches)
}
