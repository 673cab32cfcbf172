// Package devicetype folds the free-form device_type column into a small
// set of categories for reporting.
package devicetype

import (
	"strings"
)

const (
	CCTV        = "cctv"
	Switch      = "switch"
	Router      = "router"
	AccessPoint = "access_point"
	Firewall    = "firewall"
	Server      = "server"
	Printer     = "printer"
	NAS         = "nas"
	Unknown     = "unknown"
)

var labels = map[string]string{
	CCTV:        "CCTV",
	Switch:      "Switch",
	Router:      "Router",
	AccessPoint: "Access Point",
	Firewall:    "Firewall",
	Server:      "Server",
	Printer:     "Printer",
	NAS:         "NAS",
	Unknown:     "Unknown",
}

// tokenRules are checked in order; the first rule with a matching token wins.
var tokenRules = []struct {
	category string
	tokens   []string
}{
	{AccessPoint, []string{"ap", "wap", "eap", "wlan", "wireless", "accesspoint"}},
	{Switch, []string{"sw", "switch"}},
	{Firewall, []string{"fw", "firewall", "pfsense", "opnsense", "fortigate"}},
	{Router, []string{"gw", "router", "gateway"}},
	{NAS, []string{"nas", "synology", "qnap", "truenas"}},
	{Printer, []string{"printer"}},
	{Server, []string{"server", "esxi", "proxmox", "hyperv"}},
}

// IsCCTV matches the same rows the node counts treat as cameras.
func IsCCTV(raw string) bool {
	v := strings.ToLower(raw)
	return strings.Contains(v, "cctv") || strings.Contains(v, "camera")
}

// Normalize maps a stored device_type to a category. Values that match no
// rule are kept, lowercased with spaces folded to underscores.
func Normalize(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return Unknown
	}
	if IsCCTV(v) {
		return CCTV
	}
	tokens := tokenize(v)
	if strings.Join(tokens, "_") == AccessPoint {
		return AccessPoint
	}
	for _, rule := range tokenRules {
		for _, t := range tokens {
			for _, want := range rule.tokens {
				if t == want {
					return rule.category
				}
			}
		}
	}
	if len(tokens) == 0 {
		return Unknown
	}
	return strings.Join(tokens, "_")
}

// Label is the display form of a category.
func Label(category string) string {
	if l, ok := labels[category]; ok {
		return l
	}
	words := strings.Fields(strings.ReplaceAll(category, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func tokenize(value string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, buf.String())
		buf.Reset()
	}

	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			buf.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
