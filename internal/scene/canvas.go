package scene

import (
	"whiteboard/internal/object"
)

// Canvas keeps objects in z-order (last added on top) and records what the
// last Render pass would have drawn.
type Canvas struct {
	width, height float64

	order   []string
	objects map[string]*object.GraphicObject
	active  []string

	drawing     bool
	capture     []object.Point
	pathCreated func(*object.GraphicObject)

	zoom       float64
	zoomCenter object.Point

	frame   []*object.GraphicObject
	renders int
}

var _ Scene = (*Canvas)(nil)

func NewCanvas(width, height float64) *Canvas {
	return &Canvas{
		width:   width,
		height:  height,
		objects: make(map[string]*object.GraphicObject),
		zoom:    1,
	}
}

// Add inserts o on top. Adding an id that is already present replaces it in place.
func (c *Canvas) Add(o *object.GraphicObject) {
	if o == nil {
		return
	}
	if _, ok := c.objects[o.ID]; !ok {
		c.order = append(c.order, o.ID)
	}
	c.objects[o.ID] = o
}

func (c *Canvas) Remove(id string) {
	if _, ok := c.objects[id]; !ok {
		return
	}
	delete(c.objects, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.dropActive(id)
}

// Clear removes every object and the selection.
func (c *Canvas) Clear() {
	c.order = nil
	c.objects = make(map[string]*object.GraphicObject)
	c.active = nil
}

func (c *Canvas) Get(id string) *object.GraphicObject {
	return c.objects[id]
}

// Objects: scene objects bottom to top
func (c *Canvas) Objects() []*object.GraphicObject {
	out := make([]*object.GraphicObject, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.objects[id])
	}
	return out
}

// HitTest finds the topmost object under p. A hit on a member of a
// multi-object selection resolves to the group.
func (c *Canvas) HitTest(p object.Point) (Target, bool) {
	for i := len(c.order) - 1; i >= 0; i-- {
		o := c.objects[c.order[i]]
		if !o.Bounds().Contains(p) {
			continue
		}
		if len(c.active) > 1 && c.isActive(o.ID) {
			t, _ := c.Active()
			return t, true
		}
		return Target{Object: o}, true
	}
	return Target{}, false
}

// SetActive replaces the selection. Unknown ids are ignored.
func (c *Canvas) SetActive(ids ...string) {
	c.active = c.active[:0]
	for _, id := range ids {
		if _, ok := c.objects[id]; ok && !c.isActive(id) {
			c.active = append(c.active, id)
		}
	}
}

func (c *Canvas) ClearActive() {
	c.active = nil
}

func (c *Canvas) Active() (Target, bool) {
	switch len(c.active) {
	case 0:
		return Target{}, false
	case 1:
		return Target{Object: c.objects[c.active[0]]}, true
	}

	members := make([]*object.GraphicObject, 0, len(c.active))
	for _, id := range c.active {
		members = append(members, c.objects[id])
	}
	return Target{Members: members, IsGroup: true}, true
}

func (c *Canvas) isActive(id string) bool {
	for _, a := range c.active {
		if a == id {
			return true
		}
	}
	return false
}

func (c *Canvas) dropActive(id string) {
	for i, a := range c.active {
		if a == id {
			c.active = append(c.active[:i], c.active[i+1:]...)
			return
		}
	}
}

// SetDrawingMode toggles freehand capture. Turning it off discards any
// points captured so far.
func (c *Canvas) SetDrawingMode(on bool) {
	c.drawing = on
	if !on {
		c.capture = nil
	}
}

func (c *Canvas) DrawingMode() bool {
	return c.drawing
}

func (c *Canvas) Capture(p object.Point) {
	if !c.drawing {
		return
	}
	c.capture = append(c.capture, p)
}

// EndCapture finishes the stroke. Strokes shorter than two points are dropped.
// The finished path has no id and is not in the scene; the callback owns it.
func (c *Canvas) EndCapture() {
	points := c.capture
	c.capture = nil
	if !c.drawing || len(points) < object.MinPointsInPath {
		return
	}

	path := object.New(object.KindPath, points[0])
	path.ID = ""
	path.Geometry.Points = points

	if c.pathCreated != nil {
		c.pathCreated(path)
	}
}

func (c *Canvas) OnPathCreated(fn func(path *object.GraphicObject)) {
	c.pathCreated = fn
}

// Render snapshots the current objects as the displayed frame.
func (c *Canvas) Render() {
	frame := make([]*object.GraphicObject, 0, len(c.order))
	for _, id := range c.order {
		frame = append(frame, c.objects[id].Clone())
	}
	c.frame = frame
	c.renders++
}

// Frame returns copies of the objects drawn by the last Render.
func (c *Canvas) Frame() []*object.GraphicObject {
	out := make([]*object.GraphicObject, len(c.frame))
	for i, o := range c.frame {
		out[i] = o.Clone()
	}
	return out
}

// Renders counts Render calls.
func (c *Canvas) Renders() int {
	return c.renders
}

func (c *Canvas) Bounds() object.Rect {
	return object.Rect{MaxX: c.width, MaxY: c.height}
}

func (c *Canvas) Zoom() float64 {
	return c.zoom
}

// ZoomCenter: point of the last ZoomToPoint call
func (c *Canvas) ZoomCenter() object.Point {
	return c.zoomCenter
}

func (c *Canvas) ZoomToPoint(p object.Point, zoom float64) {
	c.zoom = zoom
	c.zoomCenter = p
}
