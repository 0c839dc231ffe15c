package handlers

import (
	"time"

	"whiteboard/internal/object"
	"whiteboard/internal/presence"
)

// Client is the connection a message arrived on; replies go back through it.
type Client interface {
	WriteJSON(v any) error
}

// SessionProvider defines operations for throttling presence per participant
type SessionProvider interface {
	LastPresence(userID string) (time.Time, bool)
	UpdateLastPresence(userID string, t time.Time)
}

// RoomObjects defines the interface for rooms that object handlers need
type RoomObjects interface {
	Apply(o *object.GraphicObject, origin string) (bool, *object.GraphicObject)
	Remove(id string, origin string) bool
	ClearAll(origin string)
	GetObject(id string) *object.GraphicObject
	ObjectCount() int
}

// RoomPresence defines the ephemeral broadcasts presence handlers need
type RoomPresence interface {
	BroadcastPresence(from string, rec presence.Record)
	BroadcastReaction(from string, re presence.Reaction)
}

// Room is everything the router dispatches to.
type Room interface {
	RoomObjects
	RoomPresence
}
