// Package snmp reads interface octet counters directly from nodes and turns
// successive samples into byte rates.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

type Config struct {
	Community      string
	Version        string // "2c" (default) | "1"
	Port           uint16
	Timeout        time.Duration
	Retries        int
	MaxRepetitions uint32
}

// Counter is one interface row of IF-MIB.
type Counter struct {
	IfIndex    int
	Name       string
	Type       string
	OperStatus string
	InOctets   *uint64
	OutOctets  *uint64
}

// walkFunc returns every varbind below a base OID.
type walkFunc func(baseOID string) ([]gosnmp.SnmpPDU, error)

type Client struct {
	cfg Config
	// open starts a session and returns its walker and a release func.
	open func(ctx context.Context, address string) (walkFunc, func(), error)
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxRepetitions == 0 {
		cfg.MaxRepetitions = 10
	}
	c := &Client{cfg: cfg}
	c.open = c.openSession
	return c
}

func (c *Client) openSession(ctx context.Context, address string) (walkFunc, func(), error) {
	s, err := c.connect(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	return s.BulkWalkAll, func() { _ = s.Conn.Close() }, nil
}

func (c *Client) connect(ctx context.Context, address string) (*gosnmp.GoSNMP, error) {
	var version gosnmp.SnmpVersion
	switch strings.ToLower(strings.TrimSpace(c.cfg.Version)) {
	case "2c", "v2c", "":
		version = gosnmp.Version2c
	case "1", "v1":
		version = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.cfg.Version)
	}

	s := &gosnmp.GoSNMP{
		Target:         address,
		Port:           c.cfg.Port,
		Community:      c.cfg.Community,
		Version:        version,
		Timeout:        c.cfg.Timeout,
		Retries:        c.cfg.Retries,
		MaxRepetitions: c.cfg.MaxRepetitions,
		Context:        ctx,
	}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	oidIfType       = "1.3.6.1.2.1.2.2.1.3"
	oidIfOperStatus = "1.3.6.1.2.1.2.2.1.8"
	oidIfInOctets   = "1.3.6.1.2.1.2.2.1.10"
	oidIfOutOctets  = "1.3.6.1.2.1.2.2.1.16"

	oidIfName        = "1.3.6.1.2.1.31.1.1.1.1"
	oidIfHCInOctets  = "1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOutOctets = "1.3.6.1.2.1.31.1.1.1.10"
)

// IANAifType names for the types the port filter cares about.
var ifTypeNames = map[int32]string{
	6:   "ethernetCsmacd",
	24:  "softwareLoopback",
	53:  "propVirtual",
	117: "gigabitEthernet",
	131: "tunnel",
	135: "l2vlan",
	136: "l3ipvlan",
	161: "ieee8023adLag",
	209: "bridge",
}

var operStatusNames = map[int32]string{
	1: "up",
	2: "down",
	3: "testing",
	4: "unknown",
	5: "dormant",
	6: "notPresent",
	7: "lowerLayerDown",
}

func pduString(pdu gosnmp.SnmpPDU) (string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	default:
		return "", false
	}
}

func pduInt32(pdu gosnmp.SnmpPDU) (int32, bool) {
	switch v := pdu.Value.(type) {
	case int:
		return int32(v), true
	case int32:
		return v, true
	case uint:
		return int32(v), true
	case uint32:
		return int32(v), true
	case int64:
		return int32(v), true
	case uint64:
		return int32(v), true
	default:
		return 0, false
	}
}

// pduCounter reads Counter32 and Counter64 values.
func pduCounter(pdu gosnmp.SnmpPDU) (uint64, bool) {
	switch v := pdu.Value.(type) {
	case uint:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

func lastOIDIndexInt(oid string) (int, bool) {
	oid = strings.TrimSpace(oid)
	i := strings.LastIndexByte(oid, '.')
	if i < 0 || i == len(oid)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(oid[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// WalkCounters reads name, type, oper status and octet counters of every
// interface. 64-bit counters are preferred; interfaces without IF-MIB HC
// columns fall back to the 32-bit ones.
func (c *Client) WalkCounters(ctx context.Context, address string) ([]Counter, error) {
	if c == nil || c.open == nil {
		return nil, errors.New("snmp client is nil")
	}

	bulkWalk, release, err := c.open(ctx, address)
	if err != nil {
		return nil, err
	}
	defer release()

	rows := make(map[int]*Counter)
	var order []int
	ensure := func(idx int) *Counter {
		if cur, ok := rows[idx]; ok {
			return cur
		}
		ci := &Counter{IfIndex: idx}
		rows[idx] = ci
		order = append(order, idx)
		return ci
	}

	walk := func(baseOID string, handle func(ci *Counter, p gosnmp.SnmpPDU)) error {
		pdus, err := bulkWalk(baseOID)
		if err != nil {
			return err
		}
		for _, p := range pdus {
			idx, ok := lastOIDIndexInt(p.Name)
			if !ok {
				continue
			}
			handle(ensure(idx), p)
		}
		return nil
	}

	if err := walk(oidIfOperStatus, func(ci *Counter, p gosnmp.SnmpPDU) {
		if n, ok := pduInt32(p); ok {
			ci.OperStatus = operStatusNames[n]
		}
	}); err != nil {
		return nil, fmt.Errorf("walk ifOperStatus on %s: %w", address, err)
	}
	// SNMPv1 agents have no ifXTable; names stay empty.
	_ = walk(oidIfName, func(ci *Counter, p gosnmp.SnmpPDU) {
		if v, ok := pduString(p); ok {
			ci.Name = v
		}
	})
	_ = walk(oidIfType, func(ci *Counter, p gosnmp.SnmpPDU) {
		if n, ok := pduInt32(p); ok {
			ci.Type = ifTypeNames[n]
		}
	})

	in := func(ci *Counter) **uint64 { return &ci.InOctets }
	out := func(ci *Counter) **uint64 { return &ci.OutOctets }
	for _, cols := range []struct {
		hc, legacy string
		field      func(ci *Counter) **uint64
	}{
		{oidIfHCInOctets, oidIfInOctets, in},
		{oidIfHCOutOctets, oidIfOutOctets, out},
	} {
		_ = walk(cols.hc, setCounter(cols.field))
		if missing(rows, cols.field) {
			_ = walk(cols.legacy, setCounter(cols.field))
		}
	}

	res := make([]Counter, 0, len(order))
	for _, idx := range order {
		res = append(res, *rows[idx])
	}
	return res, nil
}

// setCounter fills a counter field unless an earlier walk already set it.
func setCounter(field func(ci *Counter) **uint64) func(ci *Counter, p gosnmp.SnmpPDU) {
	return func(ci *Counter, p gosnmp.SnmpPDU) {
		dst := field(ci)
		if *dst != nil {
			return
		}
		if v, ok := pduCounter(p); ok {
			*dst = &v
		}
	}
}

func missing(rows map[int]*Counter, field func(ci *Counter) **uint64) bool {
	for _, r := range rows {
		if *field(r) == nil {
			return true
		}
	}
	return false
}
