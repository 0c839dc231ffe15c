package object

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// encMode uses Core Deterministic Encoding (sorted keys, shortest ints), so
// equal content always produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	opts := cbor.CoreDetEncOptions()
	// Kind serializes through MarshalText, as a text string.
	opts.TextMarshaler = cbor.TextMarshalerTextString

	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("object: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("object: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeCBOR: compact deterministic binary form used for durable storage
func EncodeCBOR(o *GraphicObject) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("encode snapshot: nil object")
	}
	return encMode.Marshal(o)
}

// DecodeCBOR: inverse of EncodeCBOR
func DecodeCBOR(data []byte) (*GraphicObject, error) {
	var o GraphicObject
	if err := decMode.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &o, nil
}

// content is the part of an object that defines what it looks like.
// Version and author are deliberately absent.
type content struct {
	Kind     Kind     `cbor:"k"`
	Geometry Geometry `cbor:"g"`
	Style    Style    `cbor:"s"`
}

// Fingerprint identifies an object's visible content. Two snapshots that
// differ only in version or author share a fingerprint.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:8])
}

// Fingerprint hashes kind, geometry and style.
func (o *GraphicObject) Fingerprint() Fingerprint {
	var fp Fingerprint
	if o == nil {
		return fp
	}
	data, err := encMode.Marshal(content{Kind: o.Kind, Geometry: o.Geometry, Style: o.Style})
	if err != nil {
		// only an invalid kind can fail here; hash the id so it never collides with real content
		data = []byte("invalid:" + o.ID)
	}
	return blake3.Sum256(data)
}
