// Package scene is the contract the client core expects from a drawing
// library, plus Canvas, a headless in-memory implementation of it.
package scene

import "whiteboard/internal/object"

// Target is what a hit-test or the current selection resolves to. A group
// target is a multi-object selection acting as one.
type Target struct {
	Object  *object.GraphicObject
	Members []*object.GraphicObject
	IsGroup bool
}

// Scene is owned by a single goroutine. Objects returned by Get, HitTest and
// Active are the live scene objects; mutating them changes the scene.
type Scene interface {
	Add(o *object.GraphicObject)
	Remove(id string)
	Clear()
	Get(id string) *object.GraphicObject
	Objects() []*object.GraphicObject

	HitTest(p object.Point) (Target, bool)
	SetActive(ids ...string)
	ClearActive()
	Active() (Target, bool)

	// Freehand capture. While drawing mode is on the scene collects points
	// and hands a finished path to the OnPathCreated callback.
	SetDrawingMode(on bool)
	DrawingMode() bool
	Capture(p object.Point)
	EndCapture()
	OnPathCreated(fn func(path *object.GraphicObject))

	Render()
	Bounds() object.Rect
	Zoom() float64
	ZoomToPoint(p object.Point, zoom float64)
}
