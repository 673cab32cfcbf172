// Package uptime rebuilds per-day availability from the status_history log.
package uptime

import (
	"math"
	"sort"
	"time"

	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/sqlcgen"
)

const (
	MinDays = 1
	MaxDays = 30

	statusOnline = "online"
)

// Day is one calendar day of the trend. UptimePercentage is nil when no node
// had a known status at any point of the day.
type Day struct {
	Date             string   `json:"date"`
	UptimePercentage *float64 `json:"uptime_percentage"`
}

type Trend struct {
	Days int   `json:"days"`
	Data []Day `json:"data"`
}

// Window is a run of whole local calendar days ending with the day of now.
type Window struct {
	Loc    *time.Location
	bounds []time.Time // len(days)+1 local midnights
}

// NewWindow builds the window of days calendar days in loc that ends with the
// day containing now.
func NewWindow(now time.Time, days int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	w := Window{Loc: loc, bounds: make([]time.Time, days+1)}
	for i := 0; i <= days; i++ {
		// time.Date normalises d-(days-1)+i across month ends, and DST days
		// come out as 23 or 25 hours long.
		w.bounds[i] = time.Date(y, m, d-(days-1)+i, 0, 0, 0, 0, loc)
	}
	return w
}

func (w Window) Days() int { return len(w.bounds) - 1 }

func (w Window) Start() time.Time { return w.bounds[0] }

func (w Window) End() time.Time { return w.bounds[len(w.bounds)-1] }

type coverage struct {
	online float64
	total  float64
}

// add splits [start, end) at local midnights and credits each slice to its day.
func (w Window) add(acc []coverage, start, end time.Time, online bool) {
	if start.Before(w.Start()) {
		start = w.Start()
	}
	if end.After(w.End()) {
		end = w.End()
	}
	if !end.After(start) {
		return
	}
	// First day whose end is after start.
	i := sort.Search(w.Days(), func(i int) bool { return w.bounds[i+1].After(start) })
	for ; i < w.Days() && start.Before(end); i++ {
		sliceEnd := w.bounds[i+1]
		if end.Before(sliceEnd) {
			sliceEnd = end
		}
		secs := sliceEnd.Sub(start).Seconds()
		acc[i].total += secs
		if online {
			acc[i].online += secs
		}
		start = sliceEnd
	}
}

// Compute turns transitions into a trend. scope lists the nodes that count;
// events must be the in-window transitions in chronological order and
// baselines the latest pre-window status per node. Anything after now is
// ignored.
func Compute(scope []nodes.Target, events, baselines []sqlcgen.StatusEvent, w Window, now time.Time) Trend {
	if len(scope) == 0 {
		return Trend{Days: 0, Data: []Day{}}
	}

	inScope := make(map[nodes.Target]struct{}, len(scope))
	for _, t := range scope {
		inScope[t] = struct{}{}
	}
	base := make(map[nodes.Target]string, len(baselines))
	for _, b := range baselines {
		base[nodes.Target{Kind: b.NodeKind, ID: b.NodeID}] = b.Status
	}
	byNode := make(map[nodes.Target][]sqlcgen.StatusEvent)
	for _, ev := range events {
		t := nodes.Target{Kind: ev.NodeKind, ID: ev.NodeID}
		if _, ok := inScope[t]; !ok {
			continue
		}
		// Clock skew between the NMS and this host can stamp events ahead of now.
		if ev.ChangedAt.After(now) {
			continue
		}
		byNode[t] = append(byNode[t], ev)
	}

	end := now
	if end.After(w.End()) {
		end = w.End()
	}

	acc := make([]coverage, w.Days())
	for _, t := range scope {
		evs := byNode[t]
		status, ok := base[t]
		cursor := w.Start()
		if !ok {
			if len(evs) == 0 {
				continue
			}
			status, cursor = evs[0].Status, evs[0].ChangedAt
			evs = evs[1:]
		}
		for _, ev := range evs {
			w.add(acc, cursor, ev.ChangedAt, status == statusOnline)
			status, cursor = ev.Status, ev.ChangedAt
		}
		w.add(acc, cursor, end, status == statusOnline)
	}

	data := make([]Day, w.Days())
	for i := range data {
		data[i].Date = w.bounds[i].Format(time.DateOnly)
		if acc[i].total > 0 {
			pct := round2(acc[i].online / acc[i].total * 100)
			data[i].UptimePercentage = &pct
		}
	}
	return Trend{Days: len(data), Data: data}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
