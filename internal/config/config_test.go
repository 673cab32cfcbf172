package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedKeys = []string{
	"HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "POLL_MAX_BACKOFF", "DATABASE_URL", "NMS_URL", "NMS_API_TOKEN", "NMS_TIMEOUT", "NMS_RETRIES",
	"ALERT_POLL_INTERVAL", "STATUS_POLL_INTERVAL", "DASHBOARD_TIMEZONE", "UPTIME_BASELINE_LOOKBACK",
	"PORT_COUNTER_SOURCE", "SNMP_COMMUNITY", "SNMP_VERSION", "SNMP_PORT", "SNMP_TIMEOUT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_STREAM", "MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME",
	"MQTT_PASSWORD", "MQTT_TOPIC", "FANOUT_CONCURRENCY", configFileEnv,
}

// clearEnv blanks every setting; blank values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedKeys {
		t.Setenv(k, "")
	}
}

func TestBuild_defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := build(source{})
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Zero(t, cfg.PollMaxBackoff)
	assert.Equal(t, 30*time.Second, cfg.NMSTimeout)
	assert.Equal(t, 30*time.Second, cfg.AlertPollInterval)
	assert.Equal(t, 5*time.Second, cfg.StatusPollInterval)
	assert.Equal(t, 365*24*time.Hour, cfg.UptimeLookback)
	assert.Equal(t, time.UTC, cfg.DashboardTimezone)
	assert.Equal(t, PortSourceNMS, cfg.PortCounterSource)
	assert.Equal(t, uint16(161), cfg.SNMPPort)
	assert.Equal(t, "fleetwatch:events", cfg.RedisStream)
	assert.Equal(t, 16, cfg.FanoutConcurrency)
	assert.False(t, cfg.NMSEnabled())
}

func TestBuild_envOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALERT_POLL_INTERVAL", "45")
	t.Setenv("NMS_URL", "http://nms.local")

	cfg, err := build(source{file: map[string]string{
		"ALERT_POLL_INTERVAL":  "10s",
		"STATUS_POLL_INTERVAL": "2s",
		"DASHBOARD_TIMEZONE":   "UTC",
	}})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.AlertPollInterval)
	assert.Equal(t, 2*time.Second, cfg.StatusPollInterval)
	assert.True(t, cfg.NMSEnabled())
}

func TestBuild_pollMaxBackoffAndLogFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLL_MAX_BACKOFF", "45")
	t.Setenv("LOG_FORMAT", "Console")

	cfg, err := build(source{})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.PollMaxBackoff)
	assert.Equal(t, "console", cfg.LogFormat)

	clearEnv(t)
	cfg, err = build(source{file: map[string]string{"POLL_MAX_BACKOFF": "1m"}})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.PollMaxBackoff)
}

func TestBuild_collectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATUS_POLL_INTERVAL", "0")
	t.Setenv("ALERT_POLL_INTERVAL", "soon")
	t.Setenv("PORT_COUNTER_SOURCE", "netflow")
	t.Setenv("SNMP_PORT", "70000")
	t.Setenv("DASHBOARD_TIMEZONE", "Mars/Olympus")
	t.Setenv("POLL_MAX_BACKOFF", "-5s")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := build(source{})
	require.Error(t, err)
	for _, key := range []string{"STATUS_POLL_INTERVAL", "ALERT_POLL_INTERVAL", "PORT_COUNTER_SOURCE", "SNMP_PORT", "DASHBOARD_TIMEZONE", "POLL_MAX_BACKOFF", "LOG_FORMAT"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoad_readsYAMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fleetwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\nfanout_concurrency: 4\nsnmp_timeout: 1500ms\n"), 0o600))
	t.Setenv(configFileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.FanoutConcurrency)
	assert.Equal(t, 1500*time.Millisecond, cfg.SNMPTimeout)
}

func TestLoad_rejectsNestedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fleetwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nms:\n  url: http://x\n"), 0o600))
	t.Setenv(configFileEnv, path)

	_, err := Load()
	assert.Error(t, err)
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30", 30 * time.Second, false},
		{" 5 ", 5 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"0", 0, true},
		{"-5s", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
