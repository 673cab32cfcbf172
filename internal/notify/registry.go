package notify

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds subscription addresses (push tokens or email addresses).
// Entries registered without a user land in the global bucket, which
// receives every notification.
type Registry struct {
	mu     sync.Mutex
	global map[string]struct{}
	byUser map[int64]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		global: make(map[string]struct{}),
		byUser: make(map[int64]map[string]struct{}),
	}
}

func (r *Registry) bucket(userID *int64, create bool) map[string]struct{} {
	if userID == nil {
		return r.global
	}
	b, ok := r.byUser[*userID]
	if !ok && create {
		b = make(map[string]struct{})
		r.byUser[*userID] = b
	}
	return b
}

// Register adds addr. Empty addresses are ignored; it reports whether addr
// was stored.
func (r *Registry) Register(userID *int64, addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bucket(userID, true)[addr] = struct{}{}
	return true
}

// Unregister removes addr. Removing an unknown address is not an error.
func (r *Registry) Unregister(userID *int64, addr string) {
	addr = strings.TrimSpace(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucket(userID, false)
	if b == nil {
		return
	}
	delete(b, addr)
	if userID != nil && len(b) == 0 {
		delete(r.byUser, *userID)
	}
}

// Recipients returns the global bucket plus the given user's bucket,
// deduplicated and sorted.
func (r *Registry) Recipients(userID *int64) []string {
	r.mu.Lock()
	seen := make(map[string]struct{}, len(r.global))
	for a := range r.global {
		seen[a] = struct{}{}
	}
	if userID != nil {
		for a := range r.byUser[*userID] {
			seen[a] = struct{}{}
		}
	}
	r.mu.Unlock()

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
