package room

import (
	"fmt"

	"whiteboard/internal/protocol"
	"whiteboard/internal/user"

	"github.com/gorilla/websocket"
)

// Synchronizer: handles synchronizing room state to new users
type Synchronizer struct{}

// NewSynchronizer: creates new synchronizer
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// SyncNewUser sends the current room state (all objects, ordered by id) to a
// newly joined user. The frame is written under sendMu, so every later
// mutation reaches the user after the snapshot that precedes it.
func (s *Synchronizer) SyncNewUser(rm *Room, u *user.User) error {
	rm.mu.RLock()
	objects := rm.sortedObjectsLocked()
	rm.sendMu.Lock()
	rm.mu.RUnlock()
	defer rm.sendMu.Unlock()

	msg, err := protocol.Encode(protocol.Sync(objects))
	if err != nil {
		return fmt.Errorf("failed to marshal sync message: %w", err)
	}

	if err := u.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to send sync message: %w", err)
	}
	return nil
}
