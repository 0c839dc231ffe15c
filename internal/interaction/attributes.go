package interaction

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"whiteboard/internal/object"
	"whiteboard/internal/shared"

	"github.com/lucasb-eyer/go-colorful"
)

// Attributes is what the attribute panel shows for a single selection.
// Sizes are scaled and rounded to whole units.
type Attributes struct {
	Width      string
	Height     string
	Fill       string
	Stroke     string
	FontSize   string
	FontFamily string
	FontWeight string
}

func attributesOf(o *object.GraphicObject) Attributes {
	a := Attributes{
		Width:      formatSize(o.ScaledWidth()),
		Height:     formatSize(o.ScaledHeight()),
		Fill:       o.Style.Fill,
		Stroke:     o.Style.Stroke,
		FontFamily: o.Style.FontFamily,
		FontWeight: o.Style.FontWeight,
	}
	if o.Style.FontSize > 0 {
		a.FontSize = strconv.FormatFloat(o.Style.FontSize, 'f', -1, 64)
	}
	return a
}

func formatSize(v float64) string {
	return strconv.FormatFloat(math.Round(v), 'f', 0, 64)
}

// SelectionCreated fills the panel for a single selection. It returns false
// for empty or multi-object selections and for objects under manual editing.
func (m *Machine) SelectionCreated(selected []*object.GraphicObject) (Attributes, bool) {
	if len(selected) != 1 || selected[0] == nil {
		return Attributes{}, false
	}
	o := selected[0]
	if m.guard.IsEditing(o.ID) {
		return Attributes{}, false
	}

	m.panelTarget = o.ID
	m.attrs = attributesOf(o)
	return m.attrs, true
}

// ObjectScaling refreshes the panel's width and height while o is resized.
func (m *Machine) ObjectScaling(o *object.GraphicObject) Attributes {
	if o == nil {
		return m.attrs
	}
	m.attrs.Width = formatSize(o.ScaledWidth())
	m.attrs.Height = formatSize(o.ScaledHeight())
	return m.attrs
}

// Attributes: the panel's current values
func (m *Machine) Attributes() Attributes {
	return m.attrs
}

// EditAttribute applies a panel edit to the panel's object and publishes it.
// A valid edit latches the object in the guard before it is published, so
// the next reconcile pass keeps the local value. An invalid one changes
// nothing.
func (m *Machine) EditAttribute(ctx context.Context, property, value string) error {
	id := m.panelTarget
	if id == "" {
		if t, ok := m.scene.Active(); ok && !t.IsGroup {
			id = t.Object.ID
		}
	}
	o := m.scene.Get(id)
	if o == nil {
		return fmt.Errorf("edit %s: %w", property, shared.ErrNoOp)
	}

	if err := applyAttribute(o, property, value); err != nil {
		return fmt.Errorf("edit %s: %w", property, err)
	}
	m.guard.MarkEditing(o.ID)
	m.panelTarget = o.ID
	m.attrs = attributesOf(o)
	m.scene.Render()

	return m.sync.Publish(ctx, o)
}

// applyAttribute leaves o untouched when it returns an error.
func applyAttribute(o *object.GraphicObject, property, value string) error {
	switch property {
	case "fontSize", "fontFamily", "fontWeight":
		if o.Kind != object.KindText {
			return fmt.Errorf("%s applies to text only", property)
		}
	}

	switch property {
	case "width", "height":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid size %q", value)
		}
		setSize(o, property == "width", v)
	case "fill", "stroke":
		c, err := colorful.Hex(value)
		if err != nil {
			return fmt.Errorf("invalid color %q: %w", value, err)
		}
		if property == "fill" {
			o.Style.Fill = c.Hex()
		} else {
			o.Style.Stroke = c.Hex()
		}
	case "fontSize":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 1 || v > object.MaxFontSize {
			return fmt.Errorf("invalid font size %q", value)
		}
		o.Style.FontSize = v
	case "fontFamily":
		o.Style.FontFamily = value
	case "fontWeight":
		o.Style.FontWeight = value
	default:
		return fmt.Errorf("unknown attribute %q", property)
	}
	return nil
}

// setSize sets the displayed width or height to v by adjusting the scale
// factor, keeping the stored geometry intact.
func setSize(o *object.GraphicObject, horizontal bool, v float64) {
	var base float64
	if horizontal {
		base = o.ScaledWidth()
		if o.Geometry.ScaleX != 0 {
			base /= o.Geometry.ScaleX
		}
	} else {
		base = o.ScaledHeight()
		if o.Geometry.ScaleY != 0 {
			base /= o.Geometry.ScaleY
		}
	}

	base = math.Abs(base)
	if base == 0 {
		return
	}
	if horizontal {
		o.Geometry.ScaleX = v / base
	} else {
		o.Geometry.ScaleY = v / base
	}
}
