// Package history records the inverse of every mutation issued through the
// synchronizer and replays it on undo/redo through the same path, so undo is
// just another synchronized mutation.
package history

import (
	"context"
	"errors"
	"sync"

	"whiteboard/internal/logger"
	"whiteboard/internal/object"
	"whiteboard/internal/shared"

	"go.uber.org/zap"
)

const DefaultDepth = 100

// Replayer is where undo and redo write to.
type Replayer interface {
	Publish(ctx context.Context, o *object.GraphicObject) error
	Remove(ctx context.Context, id string) error
}

// entry is one undoable step. A gesture touching several objects is one entry.
type entry []shared.Mutation

// Coordinator implements shared.Recorder.
type Coordinator struct {
	target Replayer
	depth  int

	mu        sync.Mutex
	undo      []entry
	redo      []entry
	paused    bool
	pending   entry
	replaying bool
}

var _ shared.Recorder = (*Coordinator)(nil)

func New(target Replayer, depth int) *Coordinator {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Coordinator{target: target, depth: depth}
}

// Record stores m. While paused, mutations of one object are folded into a
// single change keeping the first before and the last after.
func (c *Coordinator) Record(m shared.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.replaying {
		return
	}
	if !c.paused {
		c.push(entry{m})
		return
	}

	for i := range c.pending {
		if c.pending[i].ID == m.ID {
			c.pending[i].After = m.After
			return
		}
	}
	c.pending = append(c.pending, m)
}

// Cleared drops both stacks; a reset cannot be undone.
func (c *Coordinator) Cleared() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.undo = nil
	c.redo = nil
	c.pending = nil
}

// Pause starts coalescing.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume ends coalescing and records the folded changes as one step.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return
	}
	c.paused = false

	var folded entry
	for _, m := range c.pending {
		if !effective(m) {
			continue
		}
		folded = append(folded, m)
	}
	c.pending = nil

	if len(folded) > 0 {
		c.push(folded)
	}
}

// effective is false for changes that cancel out, like a draft created and
// retracted inside one gesture.
func effective(m shared.Mutation) bool {
	switch {
	case m.Before == nil && m.After == nil:
		return false
	case m.Before != nil && m.After != nil:
		return m.Before.Fingerprint() != m.After.Fingerprint()
	default:
		return true
	}
}

// push appends to the undo stack and invalidates redo. Caller holds mu.
func (c *Coordinator) push(e entry) {
	c.undo = append(c.undo, e)
	if len(c.undo) > c.depth {
		c.undo = c.undo[len(c.undo)-c.depth:]
	}
	c.redo = nil
}

// Undo reverts the latest step.
func (c *Coordinator) Undo() {
	c.mu.Lock()
	if len(c.undo) == 0 {
		c.mu.Unlock()
		return
	}
	e := c.undo[len(c.undo)-1]
	c.undo = c.undo[:len(c.undo)-1]
	c.replaying = true
	c.mu.Unlock()

	for i := len(e) - 1; i >= 0; i-- {
		c.apply(e[i].ID, e[i].Before)
	}

	c.mu.Lock()
	c.replaying = false
	c.redo = append(c.redo, e)
	c.mu.Unlock()
}

// Redo re-applies the latest undone step.
func (c *Coordinator) Redo() {
	c.mu.Lock()
	if len(c.redo) == 0 {
		c.mu.Unlock()
		return
	}
	e := c.redo[len(c.redo)-1]
	c.redo = c.redo[:len(c.redo)-1]
	c.replaying = true
	c.mu.Unlock()

	for _, m := range e {
		c.apply(m.ID, m.After)
	}

	c.mu.Lock()
	c.replaying = false
	c.undo = append(c.undo, e)
	c.mu.Unlock()
}

// apply makes id look like state: absent when state is nil.
func (c *Coordinator) apply(id string, state *object.GraphicObject) {
	ctx := context.Background()

	var err error
	if state == nil {
		err = c.target.Remove(ctx, id)
	} else {
		err = c.target.Publish(ctx, state.Clone())
	}
	if err != nil && !errors.Is(err, shared.ErrNoOp) {
		logger.Warn("history replay failed", zap.String("objectId", id), zap.Error(err))
	}
}

func (c *Coordinator) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.undo) > 0
}

func (c *Coordinator) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.redo) > 0
}
