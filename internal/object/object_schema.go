package object

import (
	"github.com/go-playground/validator/v10"
)

// Validation limit constants
const (
	MaxStringLength = 1000
	MaxURLLength    = 2048
	MaxPointsInPath = 10000
	MinPointsInPath = 2
	MaxCoordinate   = 1000000
	MinCoordinate   = -1000000
	MaxStrokeWidth  = 1000
	MaxFontSize     = 500
	MaxColorLength  = 50
	MaxIDLength     = 128
)

// kindRules: struct-level checks that depend on the object's kind. Field
// ranges live in the struct tags; this covers what a tag cannot express.
func kindRules(sl validator.StructLevel) {
	o := sl.Current().Interface().(GraphicObject)

	if !o.Kind.Valid() {
		sl.ReportError(o.Kind, "Kind", "kind", "kind", "")
		return
	}

	g := o.Geometry
	switch o.Kind {
	case KindPath:
		if len(g.Points) < MinPointsInPath {
			sl.ReportError(g.Points, "Points", "points", "min", "2")
		}
	case KindText:
		if g.Text == "" {
			sl.ReportError(g.Text, "Text", "text", "required", "")
		}
	}
	// a zero-radius ellipse or a zero-length line is what a straight drag
	// produces; the renderer normalizes those, so they are accepted here

	// only text carries typography
	if o.Kind != KindText && (o.Style.FontFamily != "" || o.Style.FontWeight != "") {
		sl.ReportError(o.Style.FontFamily, "FontFamily", "fontFamily", "excluded", "")
	}
}
