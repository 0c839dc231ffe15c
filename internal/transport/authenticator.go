package transport

import (
	"fmt"
	"time"

	"whiteboard/internal/logger"
	"whiteboard/internal/protocol"
	"whiteboard/internal/user"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authenticator: handles WebSocket authentication
type Authenticator struct {
	sessionMgr *user.SessionManager
}

// NewAuthenticator: creates a new authenticator
func NewAuthenticator(sessionMgr *user.SessionManager) *Authenticator {
	return &Authenticator{
		sessionMgr: sessionMgr,
	}
}

// AuthResult contains the results of authentication
type AuthResult struct {
	Session *user.UserSession
	Resumed bool
}

// Authenticate: reads the authenticate message of a new connection. A valid
// token resumes its session; a missing or unknown token starts a new one.
func (a *Authenticator) Authenticate(conn *websocket.Conn, timeout time.Duration) (*AuthResult, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to receive auth message: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(msg)
	if err != nil {
		return nil, fmt.Errorf("invalid auth message format: %w", err)
	}
	if env.Type != protocol.TypeAuthenticate {
		return nil, fmt.Errorf("expected authenticate message, got: %s", env.Type)
	}

	if env.Token != "" {
		if session, ok := a.sessionMgr.Resume(env.Token); ok {
			logger.Debug("returning user authenticated", zap.String("user", session.UserID))
			return &AuthResult{Session: session, Resumed: true}, nil
		}
		logger.Debug("invalid or expired token, treating as new user")
	}

	session := a.sessionMgr.Create()
	logger.Debug("new user created", zap.String("user", session.UserID))
	return &AuthResult{Session: session}, nil
}
