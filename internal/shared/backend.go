// Package shared pushes local object mutations into the shared object map and
// reads the authoritative snapshot back.
package shared

import (
	"context"
	"errors"
	"fmt"

	"whiteboard/internal/object"
)

// Backend is the authoritative shared map as seen by one client. Puts are
// merged last-writer-wins by Version; on equal versions the later arrival wins.
// Put, Delete and Clear return once the mutation is queued, not acknowledged.
type Backend interface {
	Put(ctx context.Context, o *object.GraphicObject) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Snapshot(ctx context.Context) (map[string]*object.GraphicObject, error)

	// Subscribe registers fn to run after every change to the map, local
	// echoes included. The returned func removes the registration.
	Subscribe(fn func()) (unsubscribe func())
}

// ErrNoOp: a mutation was attempted on an absent object. Callers log it and move on.
var ErrNoOp = errors.New("no-op mutation")

// PartialClearError: a reset observed a non-empty map afterwards, usually
// because a concurrent writer raced the clear. Retrying is safe.
type PartialClearError struct {
	Remaining int
}

func (e *PartialClearError) Error() string {
	return fmt.Sprintf("reset incomplete: %d objects remain", e.Remaining)
}

// Mutation describes one effective change. Before is nil for a create and
// After is nil for a delete.
type Mutation struct {
	ID     string
	Before *object.GraphicObject
	After  *object.GraphicObject
}

// Recorder observes mutations issued through a Synchronizer.
type Recorder interface {
	Record(m Mutation)
	// Cleared is called after a successful reset of the whole map.
	Cleared()
}
