package shared

import (
	"context"
	"fmt"
	"sync"

	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/object"

	"go.uber.org/zap"
)

// Synchronizer is the client's single path into the shared map. Calls forward
// synchronously to the backend, so operations on one object leave this
// client in issue order.
type Synchronizer struct {
	backend Backend
	author  string

	mu       sync.Mutex
	replica  map[string]*object.GraphicObject
	floor    map[string]uint64 // highest version seen per id, kept across deletes
	recorder Recorder
}

func NewSynchronizer(backend Backend, author string) *Synchronizer {
	return &Synchronizer{
		backend: backend,
		author:  author,
		replica: make(map[string]*object.GraphicObject),
		floor:   make(map[string]uint64),
	}
}

// SetRecorder: installs the mutation observer (nil removes it)
func (s *Synchronizer) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// Publish upserts a snapshot of o. The version is bumped past everything this
// client has seen for the id and written back to o. Publishing identical
// content twice leaves the map content unchanged.
func (s *Synchronizer) Publish(ctx context.Context, o *object.GraphicObject) error {
	if o == nil {
		metrics.SyncOps.WithLabelValues("noop").Inc()
		return fmt.Errorf("publish: %w", ErrNoOp)
	}

	s.mu.Lock()
	before := s.replica[o.ID]
	version := s.floor[o.ID]
	if before != nil && before.Version > version {
		version = before.Version
	}
	if o.Version > version {
		version = o.Version
	}
	version++

	snap := o.Clone()
	snap.Version = version
	if snap.Author == "" {
		snap.Author = s.author
	}
	s.mu.Unlock()

	if err := s.backend.Put(ctx, snap); err != nil {
		return fmt.Errorf("publish %s: %w", o.ID, err)
	}
	metrics.SyncOps.WithLabelValues("publish").Inc()

	o.Version = version
	if o.Author == "" {
		o.Author = snap.Author
	}

	s.mu.Lock()
	s.replica[o.ID] = snap
	s.floor[o.ID] = version
	rec := s.recorder
	s.mu.Unlock()

	if rec != nil && (before == nil || before.Fingerprint() != snap.Fingerprint()) {
		rec.Record(Mutation{ID: o.ID, Before: before.Clone(), After: snap.Clone()})
	}
	return nil
}

// Remove deletes id from the map. Removing an absent id is a no-op.
func (s *Synchronizer) Remove(ctx context.Context, id string) error {
	if id == "" {
		metrics.SyncOps.WithLabelValues("noop").Inc()
		return fmt.Errorf("remove: %w", ErrNoOp)
	}

	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	metrics.SyncOps.WithLabelValues("remove").Inc()

	s.mu.Lock()
	before := s.replica[id]
	delete(s.replica, id)
	rec := s.recorder
	s.mu.Unlock()

	if rec != nil && before != nil {
		rec.Record(Mutation{ID: id, Before: before.Clone()})
	}
	return nil
}

// ResetAll clears the map and reports whether it was empty afterwards. A
// false result comes with a *PartialClearError.
func (s *Synchronizer) ResetAll(ctx context.Context) (bool, error) {
	if err := s.backend.Clear(ctx); err != nil {
		return false, fmt.Errorf("reset: %w", err)
	}
	metrics.SyncOps.WithLabelValues("reset").Inc()

	snapshot, err := s.backend.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("reset: read back: %w", err)
	}

	s.mu.Lock()
	s.absorb(snapshot)
	rec := s.recorder
	s.mu.Unlock()

	if len(snapshot) > 0 {
		logger.Warn("reset raced a concurrent writer", zap.Int("remaining", len(snapshot)))
		return false, &PartialClearError{Remaining: len(snapshot)}
	}

	if rec != nil {
		rec.Cleared()
	}
	return true, nil
}

// Pull reads the authoritative snapshot and refreshes the cached replica.
// The returned map is owned by the caller.
func (s *Synchronizer) Pull(ctx context.Context) (map[string]*object.GraphicObject, error) {
	snapshot, err := s.backend.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	s.mu.Lock()
	s.absorb(snapshot)
	s.mu.Unlock()

	out := make(map[string]*object.GraphicObject, len(snapshot))
	for id, o := range snapshot {
		out[id] = o.Clone()
	}
	return out, nil
}

// absorb replaces the replica with snapshot. Caller holds mu.
func (s *Synchronizer) absorb(snapshot map[string]*object.GraphicObject) {
	s.replica = make(map[string]*object.GraphicObject, len(snapshot))
	for id, o := range snapshot {
		s.replica[id] = o.Clone()
		if o.Version > s.floor[id] {
			s.floor[id] = o.Version
		}
	}
}

// Replica returns the cached snapshot for id, or nil.
func (s *Synchronizer) Replica(id string) *object.GraphicObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica[id].Clone()
}

// Author: participant id stamped on new snapshots
func (s *Synchronizer) Author() string {
	return s.author
}

// Subscribe forwards to the backend's change notifications.
func (s *Synchronizer) Subscribe(fn func()) (unsubscribe func()) {
	return s.backend.Subscribe(fn)
}
