// Package nms is the client for the external network monitoring system
// (LibreNMS API v0).
package nms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrUpstreamUnavailable wraps every transport failure and non-2xx answer.
var ErrUpstreamUnavailable = errors.New("nms upstream unavailable")

type Config struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	RetryCount int
}

type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

func New(log zerolog.Logger, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIToken != "" {
		h.SetHeader("X-Auth-Token", cfg.APIToken)
	}

	return &Client{
		http: h,
		log:  log.With().Str("component", "nms").Logger(),
	}
}

// NodeStatus is one entry of the external device list.
type NodeStatus struct {
	ExternalID int64
	Online     bool
	Hostname   string
	LastPolled string
}

// RawAlert is an alert as delivered by the NMS. Field names vary between
// NMS versions, so it is kept untyped.
type RawAlert map[string]any

// PortRate carries the per-port byte rates the NMS computed. A nil rate means
// the NMS did not report a usable value.
type PortRate struct {
	Name          string
	Type          string
	OperStatus    string
	InOctetsRate  *float64
	OutOctetsRate *float64
}

type devicesResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Devices []map[string]any `json:"devices"`
}

type alertsResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Alerts  []RawAlert `json:"alerts"`
}

type portsResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Ports   []map[string]any `json:"ports"`
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	req := c.http.R().SetContext(ctx).SetResult(out)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUpstreamUnavailable, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: GET %s: status %d", ErrUpstreamUnavailable, path, resp.StatusCode())
	}
	return nil
}

// ListNodes fetches every device the NMS knows with its up/down state.
// Entries without a usable device id are dropped.
func (c *Client) ListNodes(ctx context.Context) ([]NodeStatus, error) {
	var body devicesResponse
	if err := c.get(ctx, "/api/v0/devices", nil, &body); err != nil {
		return nil, err
	}

	out := make([]NodeStatus, 0, len(body.Devices))
	for _, d := range body.Devices {
		id, ok := Int64Value(d["device_id"])
		if !ok || id <= 0 {
			c.log.Debug().Interface("device_id", d["device_id"]).Msg("skipping nms device without usable id")
			continue
		}
		hostname, _ := StringValue(d["hostname"])
		lastPolled, _ := StringValue(d["last_polled"])
		out = append(out, NodeStatus{
			ExternalID: id,
			Online:     IsUp(d["status"]),
			Hostname:   hostname,
			LastPolled: lastPolled,
		})
	}
	return out, nil
}

// ListAlerts fetches the current alert snapshot.
func (c *Client) ListAlerts(ctx context.Context) ([]RawAlert, error) {
	var body alertsResponse
	if err := c.get(ctx, "/api/v0/alerts", nil, &body); err != nil {
		return nil, err
	}
	return body.Alerts, nil
}

var (
	inRateKeys  = []string{"ifInOctets_rate", "ifinoctets_rate", "ifInOctetsRate", "in_rate"}
	outRateKeys = []string{"ifOutOctets_rate", "ifoutoctets_rate", "ifOutOctetsRate", "out_rate"}
)

// PortCounters fetches per-port octet rates for one external device.
func (c *Client) PortCounters(ctx context.Context, externalID int64) ([]PortRate, error) {
	var body portsResponse
	path := "/api/v0/devices/" + strconv.FormatInt(externalID, 10) + "/ports"
	query := map[string]string{
		"columns": "ifName,ifType,ifOperStatus,ifInOctets_rate,ifOutOctets_rate",
	}
	if err := c.get(ctx, path, query, &body); err != nil {
		return nil, err
	}

	out := make([]PortRate, 0, len(body.Ports))
	for _, p := range body.Ports {
		out = append(out, ParsePortRate(p))
	}
	return out, nil
}

// ParsePortRate reads a port entry, accepting the rate key spellings seen
// across NMS versions.
func ParsePortRate(p map[string]any) PortRate {
	var pr PortRate
	pr.Name, _ = firstString(p, "ifName", "if_name")
	pr.Type, _ = firstString(p, "ifType", "if_type")
	pr.OperStatus, _ = firstString(p, "ifOperStatus", "if_oper_status")
	if v, ok := firstFloat(p, inRateKeys...); ok {
		pr.InOctetsRate = &v
	}
	if v, ok := firstFloat(p, outRateKeys...); ok {
		pr.OutOctetsRate = &v
	}
	return pr
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := StringValue(m[k]); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func firstFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := FloatValue(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}
