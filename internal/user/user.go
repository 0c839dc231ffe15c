package user

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

// UserSession persists across reconnects for as long as its token is valid
type UserSession struct {
	UserID       string
	SessionToken string
	LastRoom     string
	LastSeen     time.Time
	LastPresence time.Time

	MessageLimiter  *rate.Limiter // every inbound message
	ObjectLimiter   *rate.Limiter // objectPut / objectDelete / objectsReset
	PresenceLimiter *rate.Limiter // presence / reaction
}

// User represents one open connection of a participant
type User struct {
	ID         string
	Session    *UserSession
	Connection *websocket.Conn

	writeMu sync.Mutex
}

func NewUser(session *UserSession, conn *websocket.Conn) *User {
	return &User{
		ID:         session.UserID,
		Session:    session,
		Connection: conn,
	}
}

// WriteMessage: serialized write with a deadline. gorilla connections allow
// one concurrent writer only.
func (u *User) WriteMessage(messageType int, data []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	if err := u.Connection.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return u.Connection.WriteMessage(messageType, data)
}

// WriteJSON: marshals v and sends it as a text frame
func (u *User) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return u.WriteMessage(websocket.TextMessage, data)
}

func (u *User) Close() error {
	return u.Connection.Close()
}

// NewUserID: sortable participant id
func NewUserID() string {
	return ulid.Make().String()
}

// GenerateSessionToken: unguessable token, entropy from crypto/rand
func GenerateSessionToken() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
