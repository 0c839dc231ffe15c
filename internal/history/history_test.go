package history

import (
	"context"
	"testing"

	"whiteboard/internal/object"
	"whiteboard/internal/shared"

	"github.com/go-playground/assert/v2"
)

type mapBackend map[string]*object.GraphicObject

func (m mapBackend) Put(_ context.Context, o *object.GraphicObject) error {
	m[o.ID] = o.Clone()
	return nil
}

func (m mapBackend) Delete(_ context.Context, id string) error {
	delete(m, id)
	return nil
}

func (m mapBackend) Clear(_ context.Context) error {
	for id := range m {
		delete(m, id)
	}
	return nil
}

func (m mapBackend) Snapshot(_ context.Context) (map[string]*object.GraphicObject, error) {
	out := make(map[string]*object.GraphicObject, len(m))
	for id, o := range m {
		out[id] = o.Clone()
	}
	return out, nil
}

func (m mapBackend) Subscribe(func()) func() { return func() {} }

func setup() (*shared.Synchronizer, *Coordinator, mapBackend) {
	backend := mapBackend{}
	s := shared.NewSynchronizer(backend, "me")
	h := New(s, 0)
	s.SetRecorder(h)
	return s, h, backend
}

func TestUndoRedoCreate(t *testing.T) {
	ctx := context.Background()
	s, h, backend := setup()

	o := object.New(object.KindRectangle, object.Point{})
	assert.Equal(t, s.Publish(ctx, o), nil)
	assert.Equal(t, h.CanUndo(), true)

	h.Undo()
	assert.Equal(t, len(backend), 0)
	assert.Equal(t, h.CanRedo(), true)

	h.Redo()
	assert.Equal(t, len(backend), 1)
	assert.Equal(t, backend[o.ID].Geometry, o.Geometry)

	// the replays themselves were not recorded
	h.Undo()
	assert.Equal(t, h.CanUndo(), false)
}

func TestUndoRestoresBefore(t *testing.T) {
	ctx := context.Background()
	s, h, backend := setup()

	o := object.New(object.KindEllipse, object.Point{})
	assert.Equal(t, s.Publish(ctx, o), nil)
	o.Style.Fill = "#ff0000"
	assert.Equal(t, s.Publish(ctx, o), nil)

	h.Undo()
	assert.Equal(t, backend[o.ID].Style.Fill, object.DefaultColor)
	assert.Equal(t, backend[o.ID].Version > o.Version, true)

	h.Redo()
	assert.Equal(t, backend[o.ID].Style.Fill, "#ff0000")
}

func TestUndoDelete(t *testing.T) {
	ctx := context.Background()
	s, h, backend := setup()

	o := object.New(object.KindLine, object.Point{})
	assert.Equal(t, s.Publish(ctx, o), nil)
	assert.Equal(t, s.Remove(ctx, o.ID), nil)
	assert.Equal(t, len(backend), 0)

	h.Undo()
	assert.Equal(t, len(backend), 1)
	assert.Equal(t, backend[o.ID].Kind, object.KindLine)
}

func TestGestureCoalesces(t *testing.T) {
	ctx := context.Background()
	s, h, backend := setup()

	h.Pause()
	o := object.New(object.KindRectangle, object.Point{X: 10, Y: 10})
	for w := 10.0; w <= 100; w += 10 {
		o.Geometry.W = w
		assert.Equal(t, s.Publish(ctx, o), nil)
	}
	h.Resume()

	assert.Equal(t, len(h.undo), 1)
	assert.Equal(t, len(h.undo[0]), 1)

	h.Undo()
	assert.Equal(t, len(backend), 0)
	assert.Equal(t, h.CanUndo(), false)
}

func TestCancelledDraftLeavesNoStep(t *testing.T) {
	ctx := context.Background()
	s, h, _ := setup()

	h.Pause()
	o := object.New(object.KindRectangle, object.Point{})
	assert.Equal(t, s.Publish(ctx, o), nil)
	assert.Equal(t, s.Remove(ctx, o.ID), nil)
	h.Resume()

	assert.Equal(t, h.CanUndo(), false)
}

func TestNewMutationClearsRedo(t *testing.T) {
	ctx := context.Background()
	s, h, _ := setup()

	assert.Equal(t, s.Publish(ctx, object.New(object.KindRectangle, object.Point{})), nil)
	h.Undo()
	assert.Equal(t, h.CanRedo(), true)

	assert.Equal(t, s.Publish(ctx, object.New(object.KindTriangle, object.Point{})), nil)
	assert.Equal(t, h.CanRedo(), false)
}

func TestResetClearsStacks(t *testing.T) {
	ctx := context.Background()
	s, h, _ := setup()

	assert.Equal(t, s.Publish(ctx, object.New(object.KindRectangle, object.Point{})), nil)
	assert.Equal(t, s.Publish(ctx, object.New(object.KindRectangle, object.Point{})), nil)
	h.Undo()

	ok, err := s.ResetAll(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, h.CanUndo(), false)
	assert.Equal(t, h.CanRedo(), false)
}

func TestDepthIsBounded(t *testing.T) {
	ctx := context.Background()
	backend := mapBackend{}
	s := shared.NewSynchronizer(backend, "me")
	h := New(s, 3)
	s.SetRecorder(h)

	for i := 0; i < 5; i++ {
		assert.Equal(t, s.Publish(ctx, object.New(object.KindRectangle, object.Point{X: float64(i)})), nil)
	}
	assert.Equal(t, len(h.undo), 3)
}
