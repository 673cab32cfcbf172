package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPush struct {
	mu     sync.Mutex
	tokens []string
	failOn string
}

func (p *recordingPush) SendPush(ctx context.Context, token string, payload []byte) error {
	if token == p.failOn {
		return errors.New("provider rejected token")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, token)
	return nil
}

type recordingEmail struct {
	mu       sync.Mutex
	to       []string
	subjects []string
}

func (e *recordingEmail) SendEmail(ctx context.Context, to, subject, body string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.to = append(e.to, to)
	e.subjects = append(e.subjects, subject)
	return nil
}

type recordingSink struct {
	mu    sync.Mutex
	types []string
}

func (s *recordingSink) Name() string { return "test" }

func (s *recordingSink) Publish(ctx context.Context, msgType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, msgType)
	return nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	uid := int64(9)
	other := int64(10)

	assert.True(t, r.Register(nil, "global@example.com"))
	assert.True(t, r.Register(&uid, "user@example.com"))
	assert.True(t, r.Register(&uid, "global@example.com"))
	assert.True(t, r.Register(&other, "other@example.com"))
	assert.False(t, r.Register(nil, "   "))

	assert.Equal(t, []string{"global@example.com"}, r.Recipients(nil))
	assert.Equal(t, []string{"global@example.com", "user@example.com"}, r.Recipients(&uid))

	r.Unregister(&uid, "user@example.com")
	r.Unregister(&uid, "missing@example.com")
	assert.Equal(t, []string{"global@example.com"}, r.Recipients(&uid))
}

func TestNotify_reachesEveryChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil, 0)
	ws := &fakeConn{id: "ws1"}
	hub.Add(ws)

	push := &recordingPush{failOn: "bad-token"}
	email := &recordingEmail{}
	sink := &recordingSink{}
	f := NewFanout(zerolog.Nop(), nil, hub, Options{Sinks: []Sink{sink}, Push: push, Email: email})

	uid := int64(4)
	f.PushTokens().Register(nil, "t-global")
	f.PushTokens().Register(&uid, "t-user")
	f.PushTokens().Register(nil, "bad-token")
	f.Emails().Register(&uid, "ops@example.com")

	rep := f.Notify(context.Background(), AlertEvent{AlertType: "Port down", Status: "active"}, &uid)

	// websocket + sink + 3 push + 1 email
	assert.Equal(t, 6, rep.Attempted)
	assert.Equal(t, 5, rep.Delivered)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "push", rep.Failures[0].Channel)

	assert.Equal(t, 1, ws.count())
	sort.Strings(push.tokens)
	assert.Equal(t, []string{"t-global", "t-user"}, push.tokens)
	assert.Equal(t, []string{"ops@example.com"}, email.to)
	assert.Equal(t, []string{"[Monitoring] Port down"}, email.subjects)
	assert.Equal(t, []string{"alert"}, sink.types)
}

func TestPublish_skipsPushAndEmail(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil, 0)
	push := &recordingPush{}
	email := &recordingEmail{}
	sink := &recordingSink{}
	f := NewFanout(zerolog.Nop(), nil, hub, Options{Sinks: []Sink{sink}, Push: push, Email: email})
	f.PushTokens().Register(nil, "t-global")
	f.Emails().Register(nil, "ops@example.com")

	rep := f.Publish(context.Background(), Heartbeat{})

	assert.Equal(t, 1, rep.Attempted)
	assert.Empty(t, push.tokens)
	assert.Empty(t, email.to)
	assert.Equal(t, []string{"heartbeat"}, sink.types)
}

func TestRedisStreamSink_appendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisStreamSink(client, "fleetwatch:test", 100)
	payload, err := Encode(NewStatusChange("switch", 3, "sw-1", "10.0.0.3", "online", "offline", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), TypeStatusChange, payload))

	entries, err := client.XRange(context.Background(), "fleetwatch:test", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "status_change", entries[0].Values["type"])
	assert.JSONEq(t, string(payload), entries[0].Values["data"].(string))
}

func TestRedisStreamSink_failureIsReportedByFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	hub := NewHub(zerolog.Nop(), nil, 0)
	f := NewFanout(zerolog.Nop(), nil, hub, Options{Sinks: []Sink{NewRedisStreamSink(client, "", 0)}})

	rep := f.Publish(context.Background(), Heartbeat{})
	assert.Equal(t, 1, rep.Attempted)
	assert.Equal(t, 0, rep.Delivered)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "redis", rep.Failures[0].Channel)
}
