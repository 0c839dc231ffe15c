// Package reconcile rebuilds the local scene from the authoritative shared
// snapshot after every change to the shared map.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/object"
	"whiteboard/internal/scene"

	"go.uber.org/zap"
)

// ErrStaleGuard marks a remote snapshot that was not applied because its
// object is under local editing. It is logged, never returned.
var ErrStaleGuard = errors.New("stale guard violation")

// Source yields the authoritative snapshot.
type Source interface {
	Pull(ctx context.Context) (map[string]*object.GraphicObject, error)
}

type Guard interface {
	IsEditing(id string) bool
}

// Drafts exposes the shape currently being drafted, if any.
type Drafts interface {
	InFlight() *object.GraphicObject
}

// Result summarizes one pass.
type Result struct {
	Materialized int
	Skipped      int
	DraftKept    bool
}

type Reconciler struct {
	source Source
	scene  scene.Scene
	guard  Guard
	drafts Drafts
}

// New: drafts may be nil when no interaction machine drives the scene.
func New(src Source, sc scene.Scene, g Guard, drafts Drafts) *Reconciler {
	return &Reconciler{source: src, scene: sc, guard: g, drafts: drafts}
}

// Reconcile clears the scene and materializes the current snapshot. Guarded
// objects keep their local copy, the previous selection is restored for
// unguarded objects and an in-flight draft survives the pass. On a pull
// error the scene is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result

	snapshot, err := r.source.Pull(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}

	active := r.activeIDs()

	local := make(map[string]*object.GraphicObject)
	for id := range snapshot {
		if !r.guard.IsEditing(id) {
			continue
		}
		if o := r.scene.Get(id); o != nil {
			local[id] = o
		}
	}

	var draft *object.GraphicObject
	if r.drafts != nil {
		draft = r.drafts.InFlight()
	}

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.scene.Clear()

	for _, id := range ids {
		switch {
		case draft != nil && id == draft.ID:
			// the gesture owns this object until pointer-up
			continue
		case local[id] != nil:
			r.scene.Add(local[id])
			res.Skipped++
			logger.Debug("remote snapshot skipped",
				zap.String("objectId", id),
				zap.Uint64("remoteVersion", snapshot[id].Version),
				zap.Error(ErrStaleGuard))
		default:
			r.scene.Add(snapshot[id])
			res.Materialized++
		}
	}

	if draft != nil {
		r.scene.Add(draft)
		res.DraftKept = true
	}

	reselect := make([]string, 0, len(active))
	for _, id := range active {
		if r.guard.IsEditing(id) {
			continue
		}
		if r.scene.Get(id) != nil {
			reselect = append(reselect, id)
		}
	}
	if len(reselect) > 0 {
		r.scene.SetActive(reselect...)
	}

	r.scene.Render()

	metrics.ReconcilePasses.Inc()
	metrics.ReconcileSkipped.Add(float64(res.Skipped))
	return res, nil
}

func (r *Reconciler) activeIDs() []string {
	target, ok := r.scene.Active()
	if !ok {
		return nil
	}
	if !target.IsGroup {
		return []string{target.Object.ID}
	}
	ids := make([]string, 0, len(target.Members))
	for _, o := range target.Members {
		ids = append(ids, o.ID)
	}
	return ids
}
