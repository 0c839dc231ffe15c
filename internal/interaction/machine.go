package interaction

import (
	"context"
	"errors"
	"math"
	"time"

	"whiteboard/internal/clock"
	"whiteboard/internal/logger"
	"whiteboard/internal/object"
	"whiteboard/internal/scene"
	"whiteboard/internal/shared"

	"go.uber.org/zap"
)

// ToolRevertDelay: how long a non-sticky tool stays selected after pointer-up
const ToolRevertDelay = 700 * time.Millisecond

const (
	MinZoom  = 0.2
	MaxZoom  = 1.0
	ZoomStep = 0.001
)

// Publisher is the synchronizer surface the machine writes through.
type Publisher interface {
	Publish(ctx context.Context, o *object.GraphicObject) error
	Remove(ctx context.Context, id string) error
}

// Guard latches objects edited through the attribute panel.
type Guard interface {
	MarkEditing(id string)
	IsEditing(id string) bool
}

// Scheduler runs f once after d. Callbacks must arrive on the goroutine that
// drives the Machine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) *clock.Timer
}

// Session is the transient state of one gesture. It is never shared.
type Session struct {
	State    State
	Draft    *object.GraphicObject
	Anchor   object.Point
	ActiveID string

	// pushed is set once an incremental publish of Draft reached the synchronizer.
	pushed bool
}

// Machine is the pointer-driven interaction state machine. It is not safe
// for concurrent use.
type Machine struct {
	scene scene.Scene
	sync  Publisher
	guard Guard
	sched Scheduler

	tool        Tool
	session     Session
	revert      *clock.Timer
	revertGen   uint64 // bumped by every cancel; a callback from an older generation is stale
	revertDelay time.Duration

	panelTarget string
	attrs       Attributes

	onToolChange func(Tool)
}

func NewMachine(sc scene.Scene, pub Publisher, g Guard, sched Scheduler) *Machine {
	m := &Machine{
		scene:       sc,
		sync:        pub,
		guard:       g,
		sched:       sched,
		revertDelay: ToolRevertDelay,
	}
	sc.OnPathCreated(func(path *object.GraphicObject) {
		m.PathCreated(context.Background(), path)
	})
	return m
}

// SetRevertDelay overrides ToolRevertDelay.
func (m *Machine) SetRevertDelay(d time.Duration) {
	m.revertDelay = d
}

// OnToolChange registers fn to observe every tool change, reverts included.
func (m *Machine) OnToolChange(fn func(Tool)) {
	m.onToolChange = fn
}

func (m *Machine) Tool() Tool { return m.tool }

func (m *Machine) State() State { return m.session.State }

// Session returns the current gesture state.
func (m *Machine) Session() Session { return m.session }

// InFlight: the draft of an unfinished shape gesture, or nil
func (m *Machine) InFlight() *object.GraphicObject {
	if m.session.State != StateShapeDrafting {
		return nil
	}
	return m.session.Draft
}

// PanelTarget: id of the object the attribute panel is showing
func (m *Machine) PanelTarget() string {
	return m.panelTarget
}

// SetTool switches tools. A shape being drafted is abandoned and a pending
// revert is cancelled.
func (m *Machine) SetTool(ctx context.Context, t Tool) {
	m.cancelRevert()
	m.abandon(ctx)

	m.tool = t
	m.scene.SetDrawingMode(t == ToolFreehand)
	if m.onToolChange != nil {
		m.onToolChange(t)
	}
}

// PointerDown starts a gesture at p.
func (m *Machine) PointerDown(ctx context.Context, p object.Point) {
	m.cancelRevert()
	m.scene.SetDrawingMode(false)

	if m.tool == ToolFreehand {
		m.session = Session{State: StateFreehandDrawing}
		m.scene.SetDrawingMode(true)
		m.scene.Capture(p)
		return
	}

	kind, drafts := m.tool.Kind()

	target, hit := m.scene.HitTest(p)
	if hit && (target.IsGroup || m.tool == ToolSelect || (drafts && target.Object.Kind == kind)) {
		m.session = Session{State: StateSelecting}
		if !target.IsGroup {
			m.scene.SetActive(target.Object.ID)
			m.session.ActiveID = target.Object.ID
		}
		return
	}

	if !drafts {
		m.scene.ClearActive()
		m.session = Session{State: StateIdle}
		return
	}

	draft := object.New(kind, p)
	m.scene.Add(draft)
	m.session = Session{State: StateShapeDrafting, Draft: draft, Anchor: p}
}

// PointerMove grows the draft from its anchor to p and pushes a live preview.
func (m *Machine) PointerMove(ctx context.Context, p object.Point) {
	switch m.session.State {
	case StateFreehandDrawing:
		m.scene.Capture(p)
		return
	case StateShapeDrafting:
	default:
		return
	}

	d := m.session.Draft
	a := m.session.Anchor
	switch d.Kind {
	case object.KindRectangle, object.KindTriangle, object.KindImage:
		d.Geometry.W = p.X - a.X
		d.Geometry.H = p.Y - a.Y
	case object.KindEllipse:
		d.Geometry.R = math.Abs(p.X-a.X) / 2
	case object.KindLine:
		d.Geometry.X2 = p.X
		d.Geometry.Y2 = p.Y
	}
	m.scene.Render()

	if d.ID != "" {
		if m.publish(ctx, d) {
			m.session.pushed = true
		}
	}
}

// PointerUp ends the gesture, publishes its result and schedules the tool
// revert for non-sticky tools.
func (m *Machine) PointerUp(ctx context.Context) {
	switch m.session.State {
	case StateFreehandDrawing:
		m.session = Session{}
		m.scene.EndCapture()
		return
	case StateShapeDrafting:
		m.publish(ctx, m.session.Draft)
	case StateSelecting:
		m.publish(ctx, m.activeObject())
	default:
		m.publish(ctx, nil)
	}

	m.session = Session{}

	if !m.tool.Sticky() {
		m.cancelRevert()
		gen := m.revertGen
		m.revert = m.sched.AfterFunc(m.revertDelay, func() {
			// the scheduler may deliver a callback after Stop lost the race
			if gen != m.revertGen {
				return
			}
			m.revert = nil
			m.SetTool(context.Background(), ToolSelect)
		})
	}
}

// PointerLeave abandons the gesture in progress.
func (m *Machine) PointerLeave(ctx context.Context) {
	m.abandon(ctx)
}

// PathCreated takes ownership of a finished freehand path: it mints the id,
// adds the path to the scene and publishes it once. Paths skip the guard.
func (m *Machine) PathCreated(ctx context.Context, path *object.GraphicObject) {
	if path == nil {
		return
	}
	path.ID = object.NewID()
	m.scene.Add(path)
	m.publish(ctx, path)
}

// ObjectModified publishes an object after a transform finished. Group
// transforms are not published.
func (m *Machine) ObjectModified(ctx context.Context, target scene.Target) {
	if target.IsGroup {
		return
	}
	m.publish(ctx, target.Object)
}

// ObjectMoving keeps o inside the canvas while it is dragged.
func (m *Machine) ObjectMoving(o *object.GraphicObject) {
	if o == nil {
		return
	}
	bounds := m.scene.Bounds()
	x := math.Max(0, math.Min(o.Geometry.X, bounds.MaxX-o.ScaledWidth()))
	y := math.Max(0, math.Min(o.Geometry.Y, bounds.MaxY-o.ScaledHeight()))
	o.MoveTo(object.Point{X: x, Y: y})
}

// DeleteActive removes the selection from the scene and the shared map.
func (m *Machine) DeleteActive(ctx context.Context) {
	target, ok := m.scene.Active()
	if !ok {
		return
	}

	members := target.Members
	if !target.IsGroup {
		members = []*object.GraphicObject{target.Object}
	}
	for _, o := range members {
		m.scene.Remove(o.ID)
		if err := m.sync.Remove(ctx, o.ID); err != nil {
			logger.Warn("remove failed", zap.String("objectId", o.ID), zap.Error(err))
		}
		if o.ID == m.panelTarget {
			m.panelTarget = ""
			m.attrs = Attributes{}
		}
	}
	m.scene.Render()
}

// Zoom applies a wheel delta around p.
func (m *Machine) Zoom(deltaY float64, p object.Point) {
	z := m.scene.Zoom() + deltaY*ZoomStep
	z = math.Min(math.Max(MinZoom, z), MaxZoom)
	m.scene.ZoomToPoint(p, z)
}

// abandon discards an unfinished draft. A draft whose preview already
// reached the shared map is retracted.
func (m *Machine) abandon(ctx context.Context) {
	s := m.session
	m.session = Session{}

	if s.State != StateShapeDrafting || s.Draft == nil {
		return
	}
	m.scene.Remove(s.Draft.ID)
	m.scene.Render()
	if s.pushed {
		if err := m.sync.Remove(ctx, s.Draft.ID); err != nil {
			logger.Warn("retract draft failed", zap.String("objectId", s.Draft.ID), zap.Error(err))
		}
	}
}

func (m *Machine) cancelRevert() {
	m.revertGen++
	if m.revert != nil {
		m.revert.Stop()
		m.revert = nil
	}
}

func (m *Machine) activeObject() *object.GraphicObject {
	if m.session.ActiveID == "" {
		return nil
	}
	return m.scene.Get(m.session.ActiveID)
}

// publish reports whether the snapshot reached the synchronizer. No-ops are
// expected (nothing to publish) and only logged at debug.
func (m *Machine) publish(ctx context.Context, o *object.GraphicObject) bool {
	err := m.sync.Publish(ctx, o)
	switch {
	case err == nil:
		return true
	case errors.Is(err, shared.ErrNoOp):
		logger.Debug("publish skipped", zap.Error(err))
	default:
		logger.Warn("publish failed", zap.Error(err))
	}
	return false
}
