package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/middleware"
	"whiteboard/internal/object"
	"whiteboard/internal/user"

	"go.uber.org/zap"
)

const (
	roomIdleTimeout = 1 * time.Hour
	roomMaxAge      = 24 * time.Hour
)

// Store is the durable side of the manager. nil disables persistence.
type Store interface {
	Persister
	LoadRoom(code string) (map[string]*object.GraphicObject, error)
}

// Manager manages all rooms in the application
type Manager struct {
	rooms        map[string]*Room
	store        Store
	synchronizer *Synchronizer
	mu           sync.RWMutex
}

// NewManager creates a new room manager
func NewManager(store Store) *Manager {
	return &Manager{
		rooms:        make(map[string]*Room),
		store:        store,
		synchronizer: NewSynchronizer(),
	}
}

// CreateRoom returns the room for roomCode, creating it (and loading its
// persisted objects) if it is not in memory.
func (rm *Manager) CreateRoom(roomCode string, maxRooms int) (*Room, error) {
	if !ValidRoomCode(roomCode) {
		return nil, errors.New("invalid room code")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if room := rm.rooms[roomCode]; room != nil {
		return room, nil
	}

	// Check global room limit before creating new room
	if len(rm.rooms) >= maxRooms {
		return nil, errors.New("server at maximum room capacity")
	}

	var (
		objects map[string]*object.GraphicObject
		store   Persister
	)
	if rm.store != nil {
		loaded, err := rm.store.LoadRoom(roomCode)
		if err != nil {
			return nil, fmt.Errorf("load room %s: %w", roomCode, err)
		}
		objects = loaded
		store = rm.store
	}

	room := NewRoom(roomCode, store, objects)
	rm.rooms[roomCode] = room
	metrics.ActiveRooms.Set(float64(len(rm.rooms)))
	logger.Info("room created", zap.String("room", roomCode), zap.Int("objects", room.ObjectCount()))
	return room, nil
}

// JoinRoom adds a user to a room, creating it if necessary, and sends the
// joining user the full snapshot.
func (rm *Manager) JoinRoom(roomCode string, session *user.UserSession, u *user.User, rl *middleware.RateLimit) (*Room, error) {
	if roomCode == "" {
		return nil, errors.New("room code missing")
	}

	if session.LastRoom == roomCode {
		logger.Debug("rejoining last room", zap.String("user", u.ID), zap.String("room", roomCode))
	}

	var room *Room
	for {
		var err error
		room, err = rm.CreateRoom(roomCode, rl.MaxRooms)
		if err != nil {
			return nil, err
		}
		err = room.Join(u, rl.MaxRoomSize)
		if err == nil {
			break
		}
		// evicted between lookup and join: the next lookup builds a fresh room
		if !errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
	}
	session.LastRoom = roomCode

	if err := rm.synchronizer.SyncNewUser(room, u); err != nil {
		room.RemoveConnection(u.ID)
		return nil, err
	}

	return room, nil
}

// Cleanup removes empty rooms that have been idle for an hour or are older
// than a day. Persisted objects stay in the store and are reloaded on the
// next join.
func (rm *Manager) Cleanup(now time.Time) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	removed := 0
	for code, room := range rm.rooms {
		if room.evict(now, roomIdleTimeout, roomMaxAge) {
			delete(rm.rooms, code)
			removed++
		}
	}
	metrics.ActiveRooms.Set(float64(len(rm.rooms)))
	return removed
}

// GetRoom: checks if a room exists and returns it
func (rm *Manager) GetRoom(roomCode string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, exists := rm.rooms[roomCode]
	return room, exists
}

// RoomCount returns the total number of rooms
func (rm *Manager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return len(rm.rooms)
}
