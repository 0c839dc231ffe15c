// Package guard keeps the per-object latches that stop a reconcile pass from
// overwriting an object the local participant is editing through the
// attribute panel.
package guard

import "sync"

// Guard is a set of sticky latches keyed by object id. Once set, a latch
// stays set until the Guard is dropped with its session.
type Guard struct {
	mu      sync.RWMutex
	editing map[string]struct{}
}

func New() *Guard {
	return &Guard{editing: make(map[string]struct{})}
}

// MarkEditing: latches id. Empty ids are ignored.
func (g *Guard) MarkEditing(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	g.editing[id] = struct{}{}
	g.mu.Unlock()
}

// IsEditing reports whether id was ever marked during this session.
func (g *Guard) IsEditing(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.editing[id]
	return ok
}

// Len: number of latched objects
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.editing)
}
