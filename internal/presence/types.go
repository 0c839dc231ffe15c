// Package presence carries the ephemeral, non-authoritative state of each
// participant: live cursor, chat bubble and short-lived reactions.
package presence

import (
	"fmt"
	"time"

	"whiteboard/internal/object"
)

// CursorMode is what the local cursor is currently doing.
type CursorMode uint8

const (
	ModeHidden CursorMode = iota
	ModeChat
	ModeReactionSelector
	ModeReaction
)

var modeNames = [...]string{
	ModeHidden:           "hidden",
	ModeChat:             "chat",
	ModeReactionSelector: "reaction-selector",
	ModeReaction:         "reaction",
}

func (m CursorMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func (m CursorMode) MarshalText() ([]byte, error) {
	if int(m) >= len(modeNames) {
		return nil, fmt.Errorf("invalid cursor mode: %d", uint8(m))
	}
	return []byte(modeNames[m]), nil
}

func (m *CursorMode) UnmarshalText(text []byte) error {
	for i, n := range modeNames {
		if n == string(text) {
			*m = CursorMode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown cursor mode: %q", text)
}

// Record is one participant's presence. It is superseded by every update.
type Record struct {
	Cursor  *object.Point `json:"cursor"`
	Message *string       `json:"message"`
	Mode    CursorMode    `json:"mode"`
}

func (r Record) clone() Record {
	c := r
	if r.Cursor != nil {
		p := *r.Cursor
		c.Cursor = &p
	}
	if r.Message != nil {
		m := *r.Message
		c.Message = &m
	}
	return c
}

// Reaction is a transient emoji burst at a point.
type Reaction struct {
	Point     object.Point `json:"point"`
	Symbol    string       `json:"value"`
	EmittedAt time.Time    `json:"emittedAt"`
}

// EventKind distinguishes remote presence events.
type EventKind uint8

const (
	EventPresence EventKind = iota + 1
	EventReaction
	EventLeave
)

// Event is a remote presence notification delivered by a Channel.
type Event struct {
	Kind        EventKind
	Participant string
	Color       string
	Presence    Record
	Reaction    Reaction
}

// Channel is the best-effort broadcast primitive: most recent wins, no
// ordering or delivery guarantees.
type Channel interface {
	UpdatePresence(r Record) error
	BroadcastReaction(r Reaction) error
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Peer is a remote participant's latest presence.
type Peer struct {
	ID     string
	Color  string
	Record Record
}
