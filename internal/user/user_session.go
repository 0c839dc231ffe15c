package user

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SessionLimits: per-session token buckets
type SessionLimits struct {
	MessagesPerSecond float64
	MessageBurst      int
	ObjectsPerSecond  float64
	ObjectBurst       int
	PresencePerSecond float64
	PresenceBurst     int
	IdleTimeout       time.Duration
}

func DefaultSessionLimits() SessionLimits {
	return SessionLimits{
		MessagesPerSecond: 100,
		MessageBurst:      50,
		ObjectsPerSecond:  60,
		ObjectBurst:       30,
		PresencePerSecond: 60,
		PresenceBurst:     20,
		IdleTimeout:       time.Hour,
	}
}

type SessionManager struct {
	sessions      map[string]*UserSession // userID -> session
	tokenToUserID map[string]string       // token -> userID
	limits        SessionLimits
	mu            sync.RWMutex
}

func NewSessionManager(limits SessionLimits) *SessionManager {
	return &SessionManager{
		sessions:      make(map[string]*UserSession),
		tokenToUserID: make(map[string]string),
		limits:        limits,
	}
}

// Create: new participant with a fresh id and token
func (sm *SessionManager) Create() *UserSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session := &UserSession{
		UserID:          NewUserID(),
		SessionToken:    GenerateSessionToken(),
		LastSeen:        time.Now(),
		MessageLimiter:  rate.NewLimiter(rate.Limit(sm.limits.MessagesPerSecond), sm.limits.MessageBurst),
		ObjectLimiter:   rate.NewLimiter(rate.Limit(sm.limits.ObjectsPerSecond), sm.limits.ObjectBurst),
		PresenceLimiter: rate.NewLimiter(rate.Limit(sm.limits.PresencePerSecond), sm.limits.PresenceBurst),
	}
	sm.sessions[session.UserID] = session
	sm.tokenToUserID[session.SessionToken] = session.UserID
	return session
}

// Resume: returns the session for token and refreshes its last-seen time
func (sm *SessionManager) Resume(token string) (*UserSession, bool) {
	if token == "" {
		return nil, false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	userID, exists := sm.tokenToUserID[token]
	if !exists {
		return nil, false
	}

	session, exists := sm.sessions[userID]
	if !exists {
		delete(sm.tokenToUserID, token)
		return nil, false
	}

	session.LastSeen = time.Now()
	return session, true
}

// Get: session by participant id
func (sm *SessionManager) Get(userID string) (*UserSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[userID]
	return session, exists
}

// Touch: marks the participant as seen now (called on disconnect so the
// token stays valid for a reconnect until the idle timeout)
func (sm *SessionManager) Touch(userID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[userID]; exists {
		session.LastSeen = time.Now()
	}
}

// LastPresence: time of the last presence update accepted for userID
func (sm *SessionManager) LastPresence(userID string) (time.Time, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if session, exists := sm.sessions[userID]; exists {
		return session.LastPresence, true
	}
	return time.Time{}, false
}

func (sm *SessionManager) UpdateLastPresence(userID string, t time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[userID]; exists {
		session.LastPresence = t
	}
}

// Remove: drops a session and its token
func (sm *SessionManager) Remove(userID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[userID]; exists {
		delete(sm.tokenToUserID, session.SessionToken)
	}
	delete(sm.sessions, userID)
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.sessions)
}

// Cleanup: removes sessions idle longer than the configured timeout
func (sm *SessionManager) Cleanup(now time.Time) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for userID, session := range sm.sessions {
		if now.Sub(session.LastSeen) > sm.limits.IdleTimeout {
			delete(sm.tokenToUserID, session.SessionToken)
			delete(sm.sessions, userID)
			removed++
		}
	}
	return removed
}
