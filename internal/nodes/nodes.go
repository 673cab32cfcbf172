// Package nodes maps external monitoring identifiers onto local device and
// switch records.
package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fleetwatch/core-go/internal/sqlcgen"
)

var (
	// ErrAmbiguous reports an external id bound to both a device and a switch.
	ErrAmbiguous = errors.New("external id is bound to more than one node")
	// ErrExternalIDConflict reports a write that would bind an external id
	// already held by another node of either kind.
	ErrExternalIDConflict = errors.New("external id already bound to another node")
	ErrNotFound           = errors.New("node not found")
	ErrInvalidKind        = errors.New("invalid node kind")
)

// Finder is the lookup half of *sqlcgen.Queries used by Directory.
type Finder interface {
	FindNodesByExternalID(ctx context.Context, externalID int64) ([]sqlcgen.Node, error)
}

type Binder interface {
	SetNodeExternalID(ctx context.Context, arg sqlcgen.SetNodeExternalIDParams) (sqlcgen.Node, error)
}

// Target addresses one node. Kind is sqlcgen.NodeKindDevice or
// sqlcgen.NodeKindSwitch.
type Target struct {
	Kind string
	ID   int64
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

func ValidKind(kind string) bool {
	return kind == sqlcgen.NodeKindDevice || kind == sqlcgen.NodeKindSwitch
}

type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchDevice
	MatchSwitch
	MatchAmbiguous
)

func (k MatchKind) String() string {
	switch k {
	case MatchDevice:
		return "device"
	case MatchSwitch:
		return "switch"
	case MatchAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Match is the result of resolving one external id. Node is set only for
// MatchDevice and MatchSwitch; Candidates holds every row that matched.
type Match struct {
	Kind       MatchKind
	Node       sqlcgen.Node
	Candidates []sqlcgen.Node
}

func (m Match) Found() bool {
	return m.Kind == MatchDevice || m.Kind == MatchSwitch
}

func (m Match) Target() Target {
	return Target{Kind: m.Node.Kind, ID: m.Node.ID}
}

// CandidateTargets lists every matching node, used when logging ambiguity.
func (m Match) CandidateTargets() []string {
	out := make([]string, 0, len(m.Candidates))
	for _, c := range m.Candidates {
		out = append(out, Target{Kind: c.Kind, ID: c.ID}.String())
	}
	return out
}

type Directory struct {
	q Finder
}

func New(q Finder) *Directory {
	return &Directory{q: q}
}

// Resolve looks the external id up across devices and switches. The error is
// non-nil only when the lookup itself failed.
func (d *Directory) Resolve(ctx context.Context, externalID int64) (Match, error) {
	rows, err := d.q.FindNodesByExternalID(ctx, externalID)
	if err != nil {
		return Match{}, err
	}
	return Classify(rows)
}

// Classify turns the rows sharing one external id into a Match.
func Classify(rows []sqlcgen.Node) (Match, error) {
	switch len(rows) {
	case 0:
		return Match{Kind: MatchNone}, nil
	case 1:
		m := Match{Node: rows[0], Candidates: rows}
		switch rows[0].Kind {
		case sqlcgen.NodeKindDevice:
			m.Kind = MatchDevice
		case sqlcgen.NodeKindSwitch:
			m.Kind = MatchSwitch
		default:
			return Match{}, fmt.Errorf("%w: %q", ErrInvalidKind, rows[0].Kind)
		}
		return m, nil
	default:
		return Match{Kind: MatchAmbiguous, Candidates: rows}, nil
	}
}

// Bind sets (or clears, when externalID is nil) the external id of a node.
func Bind(ctx context.Context, q Binder, target Target, externalID *int64) (sqlcgen.Node, error) {
	if !ValidKind(target.Kind) {
		return sqlcgen.Node{}, fmt.Errorf("%w: %q", ErrInvalidKind, target.Kind)
	}
	n, err := q.SetNodeExternalID(ctx, sqlcgen.SetNodeExternalIDParams{
		Kind:       target.Kind,
		ID:         target.ID,
		ExternalID: externalID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sqlcgen.Node{}, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sqlcgen.Node{}, fmt.Errorf("%w: %s", ErrExternalIDConflict, pgErr.Message)
		}
		return sqlcgen.Node{}, err
	}
	return n, nil
}
