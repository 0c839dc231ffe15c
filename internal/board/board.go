// Package board runs one participant's client core on a single goroutine.
// Local input and remote change notifications are both events in the same
// queue, so a remote update never tears a gesture in progress.
package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"whiteboard/internal/clock"
	"whiteboard/internal/guard"
	"whiteboard/internal/history"
	"whiteboard/internal/interaction"
	"whiteboard/internal/logger"
	"whiteboard/internal/object"
	"whiteboard/internal/presence"
	"whiteboard/internal/reconcile"
	"whiteboard/internal/scene"
	"whiteboard/internal/shared"

	"go.uber.org/zap"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("board closed")

type Config struct {
	Presence     presence.Config
	HistoryDepth int
	RevertDelay  time.Duration
	QueueSize    int
}

func DefaultConfig() Config {
	return Config{
		Presence:     presence.DefaultConfig(),
		HistoryDepth: history.DefaultDepth,
		RevertDelay:  interaction.ToolRevertDelay,
		QueueSize:    256,
	}
}

// Modifiers held during a key press.
type Modifiers struct {
	Ctrl  bool
	Meta  bool
	Shift bool
}

// MenuItem is an entry of the canvas context menu.
type MenuItem string

const (
	MenuChat      MenuItem = "Chat"
	MenuUndo      MenuItem = "Undo"
	MenuRedo      MenuItem = "Redo"
	MenuReactions MenuItem = "Reactions"
)

type Board struct {
	scene      scene.Scene
	guard      *guard.Guard
	sync       *shared.Synchronizer
	machine    *interaction.Machine
	reconciler *reconcile.Reconciler
	presence   *presence.Presence
	history    *history.Coordinator

	events  chan func(context.Context)
	changed chan struct{}
	closing chan struct{}
	done    chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	mu        sync.Mutex
}

// New wires a client core for one participant. Nothing runs until Run.
func New(sc scene.Scene, backend shared.Backend, ch presence.Channel, clk clock.Clock, author string, cfg Config) *Board {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	b := &Board{
		scene:   sc,
		guard:   guard.New(),
		sync:    shared.NewSynchronizer(backend, author),
		events:  make(chan func(context.Context), cfg.QueueSize),
		changed: make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	b.history = history.New(sceneReplayer{board: b}, cfg.HistoryDepth)
	b.sync.SetRecorder(b.history)

	b.machine = interaction.NewMachine(sc, b.sync, b.guard, loopScheduler{clock: clk, post: b.post})
	if cfg.RevertDelay > 0 {
		b.machine.SetRevertDelay(cfg.RevertDelay)
	}
	b.reconciler = reconcile.New(b.sync, sc, b.guard, b.machine)
	b.presence = presence.New(ch, clk, cfg.Presence)
	return b
}

// sceneReplayer writes undo and redo to the local scene as well as to the
// shared map. The reconciler keeps the local copy of a guarded object, so
// without this a replayed attribute edit would never show here. Replays run
// on the loop.
type sceneReplayer struct {
	board *Board
}

func (r sceneReplayer) Publish(ctx context.Context, o *object.GraphicObject) error {
	sc := r.board.scene
	if sc.Get(o.ID) != nil {
		sc.Add(o)
		sc.Render()
	}
	return r.board.sync.Publish(ctx, o)
}

func (r sceneReplayer) Remove(ctx context.Context, id string) error {
	sc := r.board.scene
	if sc.Get(id) != nil {
		sc.Remove(id)
		sc.Render()
	}
	return r.board.sync.Remove(ctx, id)
}

// loopScheduler delivers timer callbacks through the event queue.
type loopScheduler struct {
	clock clock.Clock
	post  func(func(context.Context))
}

func (s loopScheduler) AfterFunc(d time.Duration, f func()) *clock.Timer {
	return s.clock.AfterFunc(d, func() {
		s.post(func(context.Context) { f() })
	})
}

// Run processes events until ctx ends or Close is called. The presence tasks
// and the backend subscription live exactly as long as Run.
func (b *Board) Run(ctx context.Context) error {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	defer close(b.done)

	b.presence.Start(ctx)
	defer b.presence.Stop()

	unsubscribe := b.sync.Subscribe(b.notify)
	defer unsubscribe()

	b.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closing:
			return ErrClosed
		case fn := <-b.events:
			fn(ctx)
		case <-b.changed:
			b.reconcile(ctx)
		}
	}
}

// Close stops Run and waits for it to return.
func (b *Board) Close() {
	b.closeOnce.Do(func() { close(b.closing) })

	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if started {
		<-b.done
	}
}

// notify marks the shared map as changed. Bursts collapse into one pass.
func (b *Board) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

func (b *Board) post(fn func(context.Context)) {
	select {
	case b.events <- fn:
	case <-b.closing:
	}
}

// call runs fn on the loop and waits for it.
func (b *Board) call(fn func(context.Context)) bool {
	ran := make(chan struct{})
	b.post(func(ctx context.Context) {
		defer close(ran)
		fn(ctx)
	})
	select {
	case <-ran:
		return true
	case <-b.closing:
		return false
	}
}

func (b *Board) reconcile(ctx context.Context) {
	res, err := b.reconciler.Reconcile(ctx)
	if err != nil {
		logger.Warn("reconcile failed", zap.Error(err))
		return
	}
	logger.Debug("reconciled",
		zap.Int("materialized", res.Materialized),
		zap.Int("skipped", res.Skipped),
		zap.Bool("draftKept", res.DraftKept))
}

// Flush waits until every queued event and any pending remote change has
// been processed.
func (b *Board) Flush() {
	b.call(func(ctx context.Context) {
		select {
		case <-b.changed:
			b.reconcile(ctx)
		default:
		}
	})
}

// Inspect runs fn on the loop with read access to the scene and machine.
func (b *Board) Inspect(fn func(sc scene.Scene, m *interaction.Machine)) {
	b.call(func(context.Context) { fn(b.scene, b.machine) })
}

func (b *Board) Presence() *presence.Presence { return b.presence }

func (b *Board) Guard() *guard.Guard { return b.guard }

func (b *Board) PointerDown(p object.Point) {
	b.post(func(ctx context.Context) {
		b.history.Pause()
		b.machine.PointerDown(ctx, p)
		b.presence.PointerDown(p)
	})
}

func (b *Board) PointerMove(p object.Point) {
	b.post(func(ctx context.Context) {
		b.machine.PointerMove(ctx, p)
		b.presence.PointerMove(p)
	})
}

func (b *Board) PointerUp() {
	b.post(func(ctx context.Context) {
		b.machine.PointerUp(ctx)
		b.history.Resume()
		b.presence.PointerUp()
	})
}

func (b *Board) PointerLeave() {
	b.post(func(ctx context.Context) {
		b.machine.PointerLeave(ctx)
		b.history.Resume()
		b.presence.PointerLeave()
	})
}

// KeyDown handles shortcuts and reports whether the host should suppress the
// key's default action.
func (b *Board) KeyDown(key string, mods Modifiers) bool {
	if b.presence.State().Record.Mode == presence.ModeChat {
		return false
	}

	command := mods.Ctrl || mods.Meta
	switch {
	case key == "Delete" || key == "Backspace":
		b.DeleteActive()
	case command && (key == "z" || key == "Z") && !mods.Shift:
		b.Undo()
	case command && (key == "y" || key == "Y"):
		b.Redo()
	case command && (key == "z" || key == "Z") && mods.Shift:
		b.Redo()
	}
	return b.presence.KeyDown(key)
}

func (b *Board) KeyUp(key string) {
	b.presence.KeyUp(key)
}

func (b *Board) SetTool(t interaction.Tool) {
	b.post(func(ctx context.Context) { b.machine.SetTool(ctx, t) })
}

// Tool: currently selected tool
func (b *Board) Tool() interaction.Tool {
	var t interaction.Tool
	b.call(func(context.Context) { t = b.machine.Tool() })
	return t
}

// SelectionCreated is the drawing library's selection callback; it returns
// the attribute panel values when the panel should refresh.
func (b *Board) SelectionCreated(ids ...string) (interaction.Attributes, bool) {
	var (
		attrs interaction.Attributes
		ok    bool
	)
	b.call(func(context.Context) {
		selected := make([]*object.GraphicObject, 0, len(ids))
		for _, id := range ids {
			if o := b.scene.Get(id); o != nil {
				selected = append(selected, o)
			}
		}
		attrs, ok = b.machine.SelectionCreated(selected)
	})
	return attrs, ok
}

// EditAttribute applies an attribute panel edit.
func (b *Board) EditAttribute(property, value string) error {
	var err error
	b.call(func(ctx context.Context) {
		b.history.Pause()
		err = b.machine.EditAttribute(ctx, property, value)
		b.history.Resume()
	})
	return err
}

// ObjectMoving is the drawing library's drag callback. The object is clamped
// inside the canvas; the move is published by ObjectModified.
func (b *Board) ObjectMoving(id string, to object.Point) {
	b.post(func(context.Context) {
		o := b.scene.Get(id)
		if o == nil {
			return
		}
		o.MoveTo(to)
		b.machine.ObjectMoving(o)
		b.scene.Render()
	})
}

// ObjectModified is the drawing library's transform-finished callback.
func (b *Board) ObjectModified(id string) {
	b.post(func(ctx context.Context) {
		o := b.scene.Get(id)
		if o == nil {
			return
		}
		b.machine.ObjectModified(ctx, scene.Target{Object: o})
	})
}

func (b *Board) DeleteActive() {
	b.post(func(ctx context.Context) { b.machine.DeleteActive(ctx) })
}

func (b *Board) Undo() {
	b.post(func(context.Context) { b.history.Undo() })
}

func (b *Board) Redo() {
	b.post(func(context.Context) { b.history.Redo() })
}

// ResetAll clears the whole shared map. A reset that raced a concurrent
// writer is logged; the next reconcile shows what survived.
func (b *Board) ResetAll() {
	b.post(func(ctx context.Context) {
		ok, err := b.sync.ResetAll(ctx)
		if err != nil {
			var partial *shared.PartialClearError
			if errors.As(err, &partial) {
				logger.Warn("reset incomplete", zap.Int("remaining", partial.Remaining))
				return
			}
			logger.Error("reset failed", zap.Error(err))
			return
		}
		logger.Info("board reset", zap.Bool("empty", ok))
	})
}

func (b *Board) Zoom(deltaY float64, at object.Point) {
	b.post(func(context.Context) { b.machine.Zoom(deltaY, at) })
}

func (b *Board) SelectReaction(symbol string) { b.presence.SelectReaction(symbol) }

func (b *Board) ChatInput(text string) { b.presence.ChatInput(text) }

func (b *Board) ChatSubmit() { b.presence.ChatSubmit() }

func (b *Board) ContextMenu(item MenuItem) {
	switch item {
	case MenuChat:
		b.presence.OpenChat()
	case MenuUndo:
		b.Undo()
	case MenuRedo:
		b.Redo()
	case MenuReactions:
		b.presence.OpenReactionSelector()
	}
}
