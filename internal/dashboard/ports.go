package dashboard

import (
	"context"
	"math"
	"strings"

	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/sqlcgen"
)

// PortSource returns the current per-port rates of one node. A node the
// source cannot address yields no ports and no error.
type PortSource interface {
	PortRates(ctx context.Context, node sqlcgen.Node) ([]nms.PortRate, error)
}

type portCounterClient interface {
	PortCounters(ctx context.Context, externalID int64) ([]nms.PortRate, error)
}

// NMSPorts reads the rates the NMS already computed.
type NMSPorts struct {
	Client portCounterClient
}

func (p NMSPorts) PortRates(ctx context.Context, node sqlcgen.Node) ([]nms.PortRate, error) {
	if node.ExternalID == nil {
		return nil, nil
	}
	return p.Client.PortCounters(ctx, *node.ExternalID)
}

type snmpSampler interface {
	PortRates(ctx context.Context, address string) ([]nms.PortRate, error)
}

// SNMPPorts samples the node itself. Rates appear from the second sample on.
type SNMPPorts struct {
	Source snmpSampler
}

func (p SNMPPorts) PortRates(ctx context.Context, node sqlcgen.Node) ([]nms.PortRate, error) {
	addr := strings.TrimSpace(node.IPAddress)
	if addr == "" {
		return nil, nil
	}
	return p.Source.PortRates(ctx, addr)
}

var (
	excludedTypes    = []string{"bridge", "l2vlan", "softwareloopback"}
	excludedPrefixes = []string{"bridge", "vlan", "lo"}
	physicalPrefixes = []string{"ether", "eth", "gi", "fa"}
)

func isUp(p nms.PortRate) bool {
	return strings.EqualFold(strings.TrimSpace(p.OperStatus), "up")
}

func physical(p nms.PortRate) bool {
	t := strings.ToLower(p.Type)
	name := strings.ToLower(p.Name)
	for _, x := range excludedTypes {
		if t == x {
			return false
		}
	}
	for _, x := range excludedPrefixes {
		if strings.HasPrefix(name, x) {
			return false
		}
	}
	if t == "ethernetcsmacd" {
		return true
	}
	for _, x := range physicalPrefixes {
		if strings.HasPrefix(name, x) {
			return true
		}
	}
	return false
}

// SelectPorts keeps operationally up physical ports so that VLAN, bridge and
// loopback interfaces do not count the same traffic twice. When no port
// qualifies every up port is used instead.
func SelectPorts(ports []nms.PortRate) []nms.PortRate {
	var up, phys []nms.PortRate
	for _, p := range ports {
		if !isUp(p) {
			continue
		}
		up = append(up, p)
		if physical(p) {
			phys = append(phys, p)
		}
	}
	if len(phys) > 0 {
		return phys
	}
	return up
}

// rates accumulates octets per second.
type rates struct {
	in, out float64
	found   bool
}

func (r *rates) add(ports []nms.PortRate) {
	for _, p := range ports {
		if p.InOctetsRate == nil && p.OutOctetsRate == nil {
			continue
		}
		r.found = true
		if p.InOctetsRate != nil {
			r.in += *p.InOctetsRate
		}
		if p.OutOctetsRate != nil {
			r.out += *p.OutOctetsRate
		}
	}
}

// OctetsToMbps converts bytes per second to megabits per second.
func OctetsToMbps(v float64) float64 {
	return v * 8 / 1_000_000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
