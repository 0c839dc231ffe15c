package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrTooDeep    = errors.New("object nesting too deep")
	ErrTooComplex = errors.New("object too complex")
)

// ObjectCounter is satisfied by a room; kept as an interface so middleware
// does not import room.
type ObjectCounter interface {
	ObjectCount() int
}

// RateLimit: server-side caps on rooms, objects and inbound messages
type RateLimit struct {
	MaxRoomSize       int
	MaxObjects        int
	MaxMessageSize    int
	MaxRooms          int
	MaxObjectDepth    int
	MaxObjectElements int
}

func DefaultRateLimit() *RateLimit {
	return &RateLimit{
		MaxRoomSize:       20,
		MaxObjects:        5000,
		MaxMessageSize:    512 * 1024,
		MaxRooms:          1000,
		MaxObjectDepth:    6,
		MaxObjectElements: 200,
	}
}

// CanAddObject: whether the room is below its object cap
func (rl *RateLimit) CanAddObject(counter ObjectCounter) bool {
	return counter.ObjectCount() < rl.MaxObjects
}

func (rl *RateLimit) ValidateMessageSize(msgSize int) bool {
	return msgSize <= rl.MaxMessageSize
}

// ValidateRawComplexity decodes raw as a JSON object and checks its shape.
// It runs before schema validation so a hostile payload never reaches the
// validator.
func (rl *RateLimit) ValidateRawComplexity(raw []byte) error {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("object is not a JSON object: %w", err)
	}
	return rl.ValidateObjectComplexity(data)
}

// ValidateObjectComplexity: bounds nesting depth and key count
func (rl *RateLimit) ValidateObjectComplexity(data map[string]any) error {
	s := measure(data, 0)

	if s.depth > rl.MaxObjectDepth {
		return fmt.Errorf("%w: %d levels (max %d)", ErrTooDeep, s.depth, rl.MaxObjectDepth)
	}
	if s.keys > rl.MaxObjectElements {
		return fmt.Errorf("%w: %d keys (max %d)", ErrTooComplex, s.keys, rl.MaxObjectElements)
	}
	return nil
}

type shape struct {
	depth int
	keys  int
}

// measure walks a decoded JSON value. Every map key counts; an array counts
// only as much as its widest element, so a long freehand path costs the same
// as a short one. Point counts are the validator's job.
func measure(v any, level int) shape {
	s := shape{depth: level}

	switch v := v.(type) {
	case map[string]any:
		s.keys = len(v)
		for _, child := range v {
			c := measure(child, level+1)
			s.depth = max(s.depth, c.depth)
			s.keys += c.keys
		}
	case []any:
		for _, child := range v {
			c := measure(child, level+1)
			s.depth = max(s.depth, c.depth)
			s.keys = max(s.keys, c.keys)
		}
	}
	return s
}
