// Package config resolves runtime settings. Values come from the process
// environment, then an optional YAML file named by FLEETWATCH_CONFIG, then
// built-in defaults. A .env file in the working directory is loaded first
// and never overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configFileEnv = "FLEETWATCH_CONFIG"

type Config struct {
	HTTPAddr    string
	LogLevel    string
	LogFormat   string // json | console
	DatabaseURL string

	NMSURL      string
	NMSAPIToken string
	NMSTimeout  time.Duration
	NMSRetries  int

	AlertPollInterval  time.Duration
	StatusPollInterval time.Duration
	// PollMaxBackoff caps the retry delay of both loops. Zero lets each loop
	// derive a cap from its own interval.
	PollMaxBackoff time.Duration

	DashboardTimezone *time.Location
	UptimeLookback    time.Duration

	PortCounterSource string // nms | snmp
	SNMPCommunity     string
	SNMPVersion       string
	SNMPPort          uint16
	SNMPTimeout       time.Duration

	RedisAddr     string
	RedisPassword string
	RedisStream   string
	MQTTBroker    string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTTopic     string

	FanoutConcurrency int
}

const (
	PortSourceNMS  = "nms"
	PortSourceSNMP = "snmp"
)

type source struct {
	file map[string]string
}

func (s source) get(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := s.file[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// Load reads the configuration and validates it.
func Load() (Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	src := source{}
	if path := strings.TrimSpace(os.Getenv(configFileEnv)); path != "" {
		m, err := readFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
		src.file = m
	}
	return build(src)
}

// readFile decodes a flat YAML mapping of setting names to scalars. Keys are
// matched case-insensitively against the environment variable names.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("%s: nested values are not supported", k)
		case nil:
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func build(src source) (Config, error) {
	var errs []error
	dur := func(key, fallback string) time.Duration {
		d, err := ParseInterval(src.get(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	num := func(key string, fallback int) int {
		raw := src.get(key, strconv.Itoa(fallback))
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		}
		return n
	}

	cfg := Config{
		HTTPAddr:    src.get("HTTP_ADDR", ":8081"),
		LogLevel:    src.get("LOG_LEVEL", "info"),
		LogFormat:   strings.ToLower(src.get("LOG_FORMAT", "json")),
		DatabaseURL: src.get("DATABASE_URL", ""),

		NMSURL:      src.get("NMS_URL", ""),
		NMSAPIToken: src.get("NMS_API_TOKEN", ""),
		NMSTimeout:  dur("NMS_TIMEOUT", "30s"),
		NMSRetries:  num("NMS_RETRIES", 1),

		AlertPollInterval:  dur("ALERT_POLL_INTERVAL", "30s"),
		StatusPollInterval: dur("STATUS_POLL_INTERVAL", "5s"),
		UptimeLookback:     dur("UPTIME_BASELINE_LOOKBACK", "8760h"),

		PortCounterSource: strings.ToLower(src.get("PORT_COUNTER_SOURCE", PortSourceNMS)),
		SNMPCommunity:     src.get("SNMP_COMMUNITY", "public"),
		SNMPVersion:       src.get("SNMP_VERSION", "2c"),
		SNMPTimeout:       dur("SNMP_TIMEOUT", "2s"),

		RedisAddr:     src.get("REDIS_ADDR", ""),
		RedisPassword: src.get("REDIS_PASSWORD", ""),
		RedisStream:   src.get("REDIS_STREAM", "fleetwatch:events"),
		MQTTBroker:    src.get("MQTT_BROKER", ""),
		MQTTClientID:  src.get("MQTT_CLIENT_ID", "fleetwatch"),
		MQTTUsername:  src.get("MQTT_USERNAME", ""),
		MQTTPassword:  src.get("MQTT_PASSWORD", ""),
		MQTTTopic:     src.get("MQTT_TOPIC", "fleetwatch"),

		FanoutConcurrency: num("FANOUT_CONCURRENCY", 16),
	}

	if raw := src.get("POLL_MAX_BACKOFF", ""); raw != "" {
		cfg.PollMaxBackoff = dur("POLL_MAX_BACKOFF", "")
	}

	tzName := src.get("DASHBOARD_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		errs = append(errs, fmt.Errorf("DASHBOARD_TIMEZONE: %w", err))
		loc = time.UTC
	}
	cfg.DashboardTimezone = loc

	port := num("SNMP_PORT", 161)
	if port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("SNMP_PORT: out of range: %d", port))
	} else {
		cfg.SNMPPort = uint16(port)
	}

	switch cfg.PortCounterSource {
	case PortSourceNMS, PortSourceSNMP:
	default:
		errs = append(errs, fmt.Errorf("PORT_COUNTER_SOURCE: must be %q or %q, got %q", PortSourceNMS, PortSourceSNMP, cfg.PortCounterSource))
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT: must be \"json\" or \"console\", got %q", cfg.LogFormat))
	}
	if cfg.FanoutConcurrency <= 0 {
		errs = append(errs, errors.New("FANOUT_CONCURRENCY: must be positive"))
	}
	if cfg.NMSRetries < 0 {
		errs = append(errs, errors.New("NMS_RETRIES: must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseInterval accepts a whole number of seconds ("30") or a Go duration
// ("1m30s"). The result must be positive.
func ParseInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty duration")
	}
	var d time.Duration
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		d = parsed
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", raw)
	}
	return d, nil
}

// NMSEnabled reports whether an NMS endpoint was configured.
func (c Config) NMSEnabled() bool { return c.NMSURL != "" }
