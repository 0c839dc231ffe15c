package room

import (
	"sync"

	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/user"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Broadcaster: handles broadcasting messages to room users
type Broadcaster struct{}

// NewBroadcaster: creates a new broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Broadcast: writes msg to every target concurrently and returns the users
// whose write failed. The caller decides what to do with them.
func (b *Broadcaster) Broadcast(targets []*user.User, msg []byte) []*user.User {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failedUsers []*user.User

	for _, u := range targets {
		if u.Connection == nil {
			continue
		}
		wg.Add(1)
		go func(usr *user.User) {
			defer wg.Done()

			if err := usr.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("broadcast failed", zap.String("user", usr.ID), zap.Error(err))
				metrics.BroadcastFailures.Inc()
				mu.Lock()
				failedUsers = append(failedUsers, usr)
				mu.Unlock()
			}
		}(u)
	}

	wg.Wait()
	return failedUsers
}
