package object

import "fmt"

// Kind: closed set of drawable object variants. The zero value is invalid.
type Kind uint8

const (
	KindRectangle Kind = iota + 1
	KindEllipse
	KindTriangle
	KindLine
	KindPath
	KindText
	KindImage
)

var kindNames = map[Kind]string{
	KindRectangle: "rectangle",
	KindEllipse:   "ellipse",
	KindTriangle:  "triangle",
	KindLine:      "line",
	KindPath:      "path",
	KindText:      "text",
	KindImage:     "image",
}

// Kinds lists every valid kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindRectangle, KindEllipse, KindTriangle, KindLine, KindPath, KindText, KindImage}
}

// ParseKind: maps a wire name back to its Kind
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown object kind: %q", name)
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid object kind: %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
