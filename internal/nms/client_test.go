package nms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(zerolog.Nop(), Config{BaseURL: srv.URL, APIToken: "secret", Timeout: 2 * time.Second})
}

func TestListNodes_parsesStatusVariants(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/devices", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Auth-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","devices":[
			{"device_id":42,"status":1,"hostname":"core-1"},
			{"device_id":"43","status":0,"hostname":"edge-1"},
			{"device_id":44,"status":true},
			{"device_id":45,"status":"down"},
			{"device_id":null,"status":1},
			{"status":1}
		]}`))
	})

	got, err := c.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, NodeStatus{ExternalID: 42, Online: true, Hostname: "core-1"}, got[0])
	assert.Equal(t, NodeStatus{ExternalID: 43, Online: false, Hostname: "edge-1"}, got[1])
	assert.True(t, got[2].Online)
	assert.False(t, got[3].Online)
}

func TestListAlerts_returnsRawMaps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/alerts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","alerts":[{"id":9,"device_id":42,"rule":"Device down","state":1}]}`))
	})

	got, err := c.ListAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(9), got[0]["id"])
	assert.Equal(t, "Device down", got[0]["rule"])
}

func TestGet_wrapsUpstreamFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})

	_, err := c.ListAlerts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func TestGet_unreachableHostIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(zerolog.Nop(), Config{BaseURL: url, Timeout: time.Second})
	_, err := c.ListNodes(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestPortCounters_acceptsRateAliases(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/devices/42/ports", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("columns"), "ifInOctets_rate")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","ports":[
			{"ifName":"ether1","ifType":"ethernetCsmacd","ifOperStatus":"up","ifInOctets_rate":125000,"ifOutOctets_rate":"250000"},
			{"ifName":"ether2","in_rate":1000},
			{"ifName":"lo"}
		]}`))
	})

	got, err := c.PortCounters(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.NotNil(t, got[0].InOctetsRate)
	require.NotNil(t, got[0].OutOctetsRate)
	assert.Equal(t, 125000.0, *got[0].InOctetsRate)
	assert.Equal(t, 250000.0, *got[0].OutOctetsRate)
	assert.Equal(t, "up", got[0].OperStatus)

	require.NotNil(t, got[1].InOctetsRate)
	assert.Nil(t, got[1].OutOctetsRate)

	assert.Nil(t, got[2].InOctetsRate)
	assert.Nil(t, got[2].OutOctetsRate)
}

func TestValues(t *testing.T) {
	id, ok := Int64Value(float64(42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = Int64Value(4.5)
	assert.False(t, ok)

	_, ok = Int64Value("abc")
	assert.False(t, ok)

	s, ok := StringValue(float64(3))
	assert.True(t, ok)
	assert.Equal(t, "3", s)

	_, ok = StringValue(nil)
	assert.False(t, ok)

	assert.True(t, IsUp(float64(1)))
	assert.True(t, IsUp("up"))
	assert.False(t, IsUp(float64(0)))
	assert.False(t, IsUp(nil))
}
