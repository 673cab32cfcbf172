// Package statussync mirrors NMS reachability onto devices and switches and
// records every transition in status_history.
package statussync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/metrics"
	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/notify"
	"fleetwatch/core-go/internal/sqlcgen"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type Source interface {
	ListNodes(ctx context.Context) ([]nms.NodeStatus, error)
}

// Publisher is the live side of the fan-out.
type Publisher interface {
	Publish(ctx context.Context, msg notify.Message) notify.Report
	Subscribers() int
}

// Poller owns the last observed status of every node. It is not safe for
// concurrent PollOnce calls; the scheduler runs one cycle at a time.
type Poller struct {
	log     zerolog.Logger
	source  Source
	store   Store
	pub     Publisher
	metrics *metrics.Metrics
	now     func() time.Time

	cache map[nodes.Target]string
}

func New(log zerolog.Logger, source Source, store Store, pub Publisher, m *metrics.Metrics) *Poller {
	return &Poller{
		log:     log.With().Str("component", "statussync").Logger(),
		source:  source,
		store:   store,
		pub:     pub,
		metrics: m,
		now:     time.Now,
		cache:   make(map[nodes.Target]string),
	}
}

type cacheChange struct {
	target   nodes.Target
	previous string
}

// PollOnce runs one cycle and returns the number of transitions recorded.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	statuses, err := p.source.ListNodes(ctx)
	if err != nil {
		return 0, err
	}
	observed := make(map[int64]string, len(statuses))
	for _, s := range statuses {
		if s.ExternalID <= 0 {
			continue
		}
		if s.Online {
			observed[s.ExternalID] = StatusOnline
		} else {
			observed[s.ExternalID] = StatusOffline
		}
	}

	now := p.now().UTC()
	var (
		changes   []cacheChange
		pending   []notify.StatusChange
		heartbeat notify.Heartbeat
	)
	err = p.store.InTx(ctx, func(q Queries) error {
		monitored, err := q.ListMonitoredNodes(ctx)
		if err != nil {
			return fmt.Errorf("list monitored nodes: %w", err)
		}
		heartbeat = notify.Heartbeat{Type: notify.TypeHeartbeat, Timestamp: now}

		for _, group := range groupByExternalID(monitored) {
			match, err := nodes.Classify(group)
			if err != nil {
				p.log.Error().Err(err).Int64("external_id", *group[0].ExternalID).Msg("skipping node")
				continue
			}
			if match.Kind == nodes.MatchAmbiguous {
				p.log.Error().
					Err(nodes.ErrAmbiguous).
					Int64("external_id", *group[0].ExternalID).
					Strs("candidates", match.CandidateTargets()).
					Msg("status skipped for ambiguous node")
				continue
			}
			node := match.Node
			target := match.Target()
			countTotal(&heartbeat, target.Kind)

			status, ok := observed[*node.ExternalID]
			if !ok {
				if p.cache[target] == StatusOnline {
					countOnline(&heartbeat, target.Kind)
				}
				continue
			}
			if status == StatusOnline {
				countOnline(&heartbeat, target.Kind)
			}

			old, seen := p.cache[target]
			if !seen {
				p.cache[target] = status
				changes = append(changes, cacheChange{target: target})
				continue
			}
			if old == status {
				continue
			}

			p.cache[target] = status
			changes = append(changes, cacheChange{target: target, previous: old})

			if err := q.UpdateNodeStatus(ctx, sqlcgen.UpdateNodeStatusParams{
				Kind:     target.Kind,
				ID:       target.ID,
				Status:   status,
				SyncedAt: now,
			}); err != nil {
				return fmt.Errorf("update %s status: %w", target, err)
			}
			if err := q.InsertStatusEvent(ctx, sqlcgen.StatusEvent{
				NodeKind:  target.Kind,
				NodeID:    target.ID,
				Status:    status,
				ChangedAt: now,
			}); err != nil {
				return fmt.Errorf("record %s transition: %w", target, err)
			}
			pending = append(pending, notify.NewStatusChange(target.Kind, target.ID, node.Name, node.IPAddress, old, status, now))
		}
		return nil
	})
	if err != nil {
		p.revert(changes)
		return 0, err
	}

	for _, msg := range pending {
		p.log.Info().
			Str("node", nodes.Target{Kind: msg.NodeType, ID: msg.ID}.String()).
			Str("name", msg.Name).
			Str("ip_address", msg.IPAddress).
			Str("old_status", msg.OldStatus).
			Str("new_status", msg.NewStatus).
			Msg("status changed")
		p.metrics.IncStatusTransition(msg.NodeType, msg.NewStatus)
		p.pub.Publish(ctx, msg)
	}
	if p.pub.Subscribers() > 0 {
		p.pub.Publish(ctx, heartbeat)
	}
	return len(pending), nil
}

// Cycle is the scheduler entry point.
func (p *Poller) Cycle(ctx context.Context) error {
	n, err := p.PollOnce(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		p.log.Info().Int("changes", n).Msg("status changes detected")
	}
	return nil
}

// Cached returns the last observed status of a node.
func (p *Poller) Cached(t nodes.Target) (string, bool) {
	s, ok := p.cache[t]
	return s, ok
}

// revert undoes cache writes of a cycle that did not commit, newest first.
func (p *Poller) revert(changes []cacheChange) {
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		if c.previous == "" {
			delete(p.cache, c.target)
			continue
		}
		p.cache[c.target] = c.previous
	}
}

// groupByExternalID keeps the input order of the first node per id.
func groupByExternalID(ns []sqlcgen.Node) [][]sqlcgen.Node {
	index := make(map[int64]int, len(ns))
	var groups [][]sqlcgen.Node
	for _, n := range ns {
		if n.ExternalID == nil {
			continue
		}
		i, ok := index[*n.ExternalID]
		if !ok {
			index[*n.ExternalID] = len(groups)
			groups = append(groups, []sqlcgen.Node{n})
			continue
		}
		groups[i] = append(groups[i], n)
	}
	return groups
}

func countTotal(h *notify.Heartbeat, kind string) {
	if kind == sqlcgen.NodeKindSwitch {
		h.TotalSwitches++
		return
	}
	h.TotalDevices++
}

func countOnline(h *notify.Heartbeat, kind string) {
	if kind == sqlcgen.NodeKindSwitch {
		h.OnlineSwitches++
		return
	}
	h.OnlineDevices++
}
