package object

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Point: x,y coordinates on the canvas
type Point struct {
	X float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y float64 `json:"y" validate:"min=-1000000,max=1000000"`
}

// Geometry holds every kind-specific numeric (and string) field. Width and
// height are signed: dragging up/left yields negative values and they are
// stored as-is.
type Geometry struct {
	X      float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y      float64 `json:"y" validate:"min=-1000000,max=1000000"`
	W      float64 `json:"w,omitempty" validate:"min=-1000000,max=1000000"`
	H      float64 `json:"h,omitempty" validate:"min=-1000000,max=1000000"`
	R      float64 `json:"r,omitempty" validate:"min=0,max=1000000"`
	X1     float64 `json:"x1,omitempty" validate:"min=-1000000,max=1000000"`
	Y1     float64 `json:"y1,omitempty" validate:"min=-1000000,max=1000000"`
	X2     float64 `json:"x2,omitempty" validate:"min=-1000000,max=1000000"`
	Y2     float64 `json:"y2,omitempty" validate:"min=-1000000,max=1000000"`
	Points []Point `json:"points,omitempty" validate:"max=10000,dive"`
	ScaleX float64 `json:"scaleX,omitempty" validate:"min=0,max=1000"`
	ScaleY float64 `json:"scaleY,omitempty" validate:"min=0,max=1000"`
	Angle  float64 `json:"angle,omitempty" validate:"min=-360,max=360"`
	Text   string  `json:"text,omitempty" validate:"max=1000"`
	Src    string  `json:"src,omitempty" validate:"omitempty,max=2048"`
}

// Style: fill/stroke colors and font attributes
type Style struct {
	Fill        string  `json:"fill,omitempty" validate:"max=50"`
	Stroke      string  `json:"stroke,omitempty" validate:"max=50"`
	StrokeWidth float64 `json:"strokeWidth,omitempty" validate:"min=0,max=1000"`
	FontSize    float64 `json:"fontSize,omitempty" validate:"omitempty,min=1,max=500"`
	FontFamily  string  `json:"fontFamily,omitempty" validate:"max=100"`
	FontWeight  string  `json:"fontWeight,omitempty" validate:"max=20"`
}

// GraphicObject is one drawable item and, serialized, its snapshot in the
// shared map. ID and Kind never change after creation.
type GraphicObject struct {
	ID       string   `json:"objectId" validate:"required,max=128"`
	Kind     Kind     `json:"kind"`
	Geometry Geometry `json:"geometry"`
	Style    Style    `json:"style"`
	Version  uint64   `json:"version"`
	Author   string   `json:"author,omitempty" validate:"max=128"`
}

const (
	DefaultColor      = "#aabbcc"
	DefaultSize       = 100
	DefaultText       = "Tap to Type"
	DefaultFontSize   = 36
	DefaultFontFamily = "Helvetica"
	DefaultFontWeight = "400"
)

// NewID: mints a fresh object id
func NewID() string {
	return uuid.NewString()
}

// New creates an object of the given kind at the pointer with default
// geometry and style and a freshly minted id.
func New(kind Kind, at Point) *GraphicObject {
	o := &GraphicObject{
		ID:       NewID(),
		Kind:     kind,
		Geometry: Geometry{X: at.X, Y: at.Y},
	}

	switch kind {
	case KindRectangle, KindTriangle, KindImage:
		o.Geometry.W = DefaultSize
		o.Geometry.H = DefaultSize
		o.Style.Fill = DefaultColor
	case KindEllipse:
		o.Geometry.R = DefaultSize
		o.Style.Fill = DefaultColor
	case KindLine:
		o.Geometry.X1, o.Geometry.Y1 = at.X, at.Y
		o.Geometry.X2, o.Geometry.Y2 = at.X+DefaultSize, at.Y+DefaultSize
		o.Style.Stroke = DefaultColor
		o.Style.StrokeWidth = 2
	case KindPath:
		o.Geometry.Points = []Point{at}
		o.Style.Stroke = DefaultColor
		o.Style.StrokeWidth = 5
	case KindText:
		o.Geometry.Text = DefaultText
		o.Geometry.W = 200
		o.Geometry.H = DefaultFontSize * 1.25
		o.Style.Fill = DefaultColor
		o.Style.FontSize = DefaultFontSize
		o.Style.FontFamily = DefaultFontFamily
		o.Style.FontWeight = DefaultFontWeight
	}
	return o
}

// Clone returns a deep copy.
func (o *GraphicObject) Clone() *GraphicObject {
	if o == nil {
		return nil
	}
	c := *o
	if o.Geometry.Points != nil {
		c.Geometry.Points = append([]Point(nil), o.Geometry.Points...)
	}
	return &c
}

// ScaledWidth: width after the scale factor is applied
func (o *GraphicObject) ScaledWidth() float64 {
	return scaled(o.baseWidth(), o.Geometry.ScaleX)
}

// ScaledHeight: height after the scale factor is applied
func (o *GraphicObject) ScaledHeight() float64 {
	return scaled(o.baseHeight(), o.Geometry.ScaleY)
}

func (o *GraphicObject) baseWidth() float64 {
	switch o.Kind {
	case KindEllipse:
		return 2 * o.Geometry.R
	case KindLine:
		return o.Geometry.X2 - o.Geometry.X1
	case KindPath:
		b := pointsBounds(o.Geometry.Points)
		return b.MaxX - b.MinX
	default:
		return o.Geometry.W
	}
}

func (o *GraphicObject) baseHeight() float64 {
	switch o.Kind {
	case KindEllipse:
		return 2 * o.Geometry.R
	case KindLine:
		return o.Geometry.Y2 - o.Geometry.Y1
	case KindPath:
		b := pointsBounds(o.Geometry.Points)
		return b.MaxY - b.MinY
	default:
		return o.Geometry.H
	}
}

func scaled(v, factor float64) float64 {
	if factor == 0 {
		return v
	}
	return v * factor
}

// Rect is an axis-aligned box with Min <= Max.
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

func normalized(x1, y1, x2, y2 float64) Rect {
	return Rect{
		MinX: math.Min(x1, x2), MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2), MaxY: math.Max(y1, y2),
	}
}

func pointsBounds(pts []Point) Rect {
	if len(pts) == 0 {
		return Rect{}
	}
	r := Rect{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		r.MinX = math.Min(r.MinX, p.X)
		r.MinY = math.Min(r.MinY, p.Y)
		r.MaxX = math.Max(r.MaxX, p.X)
		r.MaxY = math.Max(r.MaxY, p.Y)
	}
	return r
}

// Bounds returns the normalized bounding box. Negative sizes flip the box
// around the anchor instead of collapsing it.
func (o *GraphicObject) Bounds() Rect {
	g := o.Geometry
	switch o.Kind {
	case KindLine:
		return normalized(g.X1, g.Y1, g.X2, g.Y2)
	case KindPath:
		return pointsBounds(g.Points)
	default:
		return normalized(g.X, g.Y, g.X+o.ScaledWidth(), g.Y+o.ScaledHeight())
	}
}

// MoveTo translates the object so its anchor sits at p.
func (o *GraphicObject) MoveTo(p Point) {
	dx, dy := p.X-o.Geometry.X, p.Y-o.Geometry.Y
	o.Geometry.X, o.Geometry.Y = p.X, p.Y
	switch o.Kind {
	case KindLine:
		o.Geometry.X1 += dx
		o.Geometry.Y1 += dy
		o.Geometry.X2 += dx
		o.Geometry.Y2 += dy
	case KindPath:
		for i := range o.Geometry.Points {
			o.Geometry.Points[i].X += dx
			o.Geometry.Points[i].Y += dy
		}
	}
}

// Marshal encodes the snapshot form sent to the shared map.
func Marshal(o *GraphicObject) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("marshal snapshot: nil object")
	}
	return json.Marshal(o)
}

// Unmarshal decodes a snapshot and checks the fields every consumer relies on.
func Unmarshal(data []byte) (*GraphicObject, error) {
	var o GraphicObject
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if o.ID == "" {
		return nil, fmt.Errorf("unmarshal snapshot: missing objectId")
	}
	if !o.Kind.Valid() {
		return nil, fmt.Errorf("unmarshal snapshot: missing kind")
	}
	return &o, nil
}
