// Package protocol defines the JSON envelopes exchanged over the websocket.
package protocol

import (
	"encoding/json"
	"fmt"

	"whiteboard/internal/object"
	"whiteboard/internal/presence"
)

// Message types. Object and presence types travel in both directions.
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeRoomJoined    = "room_joined"
	TypeSync          = "sync"
	TypeGetUserID     = "getUserId"
	TypeUserID        = "userId"
	TypeObjectPut     = "objectPut"
	TypeObjectDelete  = "objectDelete"
	TypeObjectsReset  = "objectsReset"
	TypePresence      = "presence"
	TypeReaction      = "reaction"
	TypeUserLeft      = "userLeft"
	TypeError         = "error"
)

// Envelope carries every message; only the fields its type uses are set.
type Envelope struct {
	Type string `json:"type"`

	// identity
	Token    string `json:"token,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Color    string `json:"color,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`

	// objects
	Object   *object.GraphicObject   `json:"object,omitempty"`
	ObjectID string                  `json:"objectId,omitempty"`
	Objects  []*object.GraphicObject `json:"objects,omitempty"`

	// Supersedes is set on replies to a rejected put: the sender's replica
	// takes this state unless it already holds a version newer than the
	// rejected one.
	Supersedes uint64 `json:"supersedes,omitempty"`

	// ephemeral
	Presence *presence.Record   `json:"presence,omitempty"`
	Reaction *presence.Reaction `json:"reaction,omitempty"`

	Error string `json:"error,omitempty"`
}

// Decode parses one inbound frame.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("missing message type")
	}
	return &env, nil
}

func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", env.Type, err)
	}
	return data, nil
}

func ObjectPut(o *object.GraphicObject) *Envelope {
	return &Envelope{Type: TypeObjectPut, Object: o}
}

func ObjectDelete(id string) *Envelope {
	return &Envelope{Type: TypeObjectDelete, ObjectID: id}
}

// Correction answers a rejected put of version rejected with what the room
// holds under id: the current snapshot, or a delete when there is none.
func Correction(id string, current *object.GraphicObject, rejected uint64) *Envelope {
	if current == nil {
		return &Envelope{Type: TypeObjectDelete, ObjectID: id, Supersedes: rejected}
	}
	return &Envelope{Type: TypeObjectPut, Object: current, Supersedes: rejected}
}

func ObjectsReset() *Envelope {
	return &Envelope{Type: TypeObjectsReset}
}

func Sync(objects []*object.GraphicObject) *Envelope {
	return &Envelope{Type: TypeSync, Objects: objects}
}

func Presence(userID, color string, r presence.Record) *Envelope {
	return &Envelope{Type: TypePresence, UserID: userID, Color: color, Presence: &r}
}

func Reaction(userID, color string, r presence.Reaction) *Envelope {
	return &Envelope{Type: TypeReaction, UserID: userID, Color: color, Reaction: &r}
}

func UserLeft(userID string) *Envelope {
	return &Envelope{Type: TypeUserLeft, UserID: userID}
}

func Error(msg string) *Envelope {
	return &Envelope{Type: TypeError, Error: msg}
}
