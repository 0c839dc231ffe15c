// Package interaction turns raw pointer and keyboard input into object
// creations and mutations on the local scene.
package interaction

import (
	"fmt"

	"whiteboard/internal/object"
)

// Tool is the currently selected toolbar item.
type Tool uint8

const (
	ToolSelect Tool = iota
	ToolRectangle
	ToolEllipse
	ToolTriangle
	ToolLine
	ToolFreehand
	ToolText
	ToolImage
)

var toolNames = [...]string{
	ToolSelect:    "select",
	ToolRectangle: "rectangle",
	ToolEllipse:   "ellipse",
	ToolTriangle:  "triangle",
	ToolLine:      "line",
	ToolFreehand:  "freehand",
	ToolText:      "text",
	ToolImage:     "image",
}

func ParseTool(name string) (Tool, error) {
	for t, n := range toolNames {
		if n == name {
			return Tool(t), nil
		}
	}
	return ToolSelect, fmt.Errorf("unknown tool: %q", name)
}

func (t Tool) String() string {
	if int(t) < len(toolNames) {
		return toolNames[t]
	}
	return fmt.Sprintf("tool(%d)", uint8(t))
}

// Kind: object kind a shape tool creates. Select and freehand create none
// through drafting.
func (t Tool) Kind() (object.Kind, bool) {
	switch t {
	case ToolRectangle:
		return object.KindRectangle, true
	case ToolEllipse:
		return object.KindEllipse, true
	case ToolTriangle:
		return object.KindTriangle, true
	case ToolLine:
		return object.KindLine, true
	case ToolText:
		return object.KindText, true
	case ToolImage:
		return object.KindImage, true
	default:
		return 0, false
	}
}

// Sticky tools stay selected after a gesture ends.
func (t Tool) Sticky() bool {
	return t == ToolSelect || t == ToolFreehand
}

// State of the gesture in progress.
type State uint8

const (
	StateIdle State = iota
	StateFreehandDrawing
	StateShapeDrafting
	StateSelecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFreehandDrawing:
		return "freehand-drawing"
	case StateShapeDrafting:
		return "shape-drafting"
	case StateSelecting:
		return "selecting"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
