package handlers

import (
	"errors"
	"fmt"

	"whiteboard/internal/clock"
	"whiteboard/internal/metrics"
	"whiteboard/internal/middleware"
	"whiteboard/internal/object"
	"whiteboard/internal/protocol"
	"whiteboard/internal/user"
)

// ErrRateLimited: the sender's session is over its budget for this message type
var ErrRateLimited = errors.New("rate limited")

// MessageRouter routes incoming messages to appropriate handlers
type MessageRouter struct {
	objectHandler   *ObjectHandler
	presenceHandler *PresenceHandler
	userHandler     *UserHandler
}

func NewMessageRouter(
	validator *object.Validator,
	config *middleware.RateLimit,
	sessionMgr SessionProvider,
	clk clock.Clock,
) *MessageRouter {
	return &MessageRouter{
		objectHandler:   NewObjectHandler(validator, config),
		presenceHandler: NewPresenceHandler(sessionMgr, validator, clk),
		userHandler:     NewUserHandler(),
	}
}

// Route: process a message from a connected participant
func (mr *MessageRouter) Route(rm Room, u *user.User, msg []byte) error {
	return mr.Dispatch(rm, u.ID, u, u.Session, msg)
}

// Dispatch decodes msg and hands it to its handler. session may be nil, in
// which case no per-session limits apply.
func (mr *MessageRouter) Dispatch(rm Room, userID string, c Client, session *user.UserSession, msg []byte) error {
	env, err := protocol.Decode(msg)
	if err != nil {
		metrics.Rejected.WithLabelValues("malformed").Inc()
		return err
	}
	metrics.Messages.WithLabelValues(env.Type).Inc()

	if !allowed(session, env.Type) {
		metrics.Rejected.WithLabelValues("rate").Inc()
		return fmt.Errorf("%s from %s: %w", env.Type, userID, ErrRateLimited)
	}

	switch env.Type {
	case protocol.TypeGetUserID:
		return mr.userHandler.HandleGetUserID(c, userID)
	case protocol.TypeObjectPut:
		return mr.objectHandler.HandlePut(rm, userID, c, env, msg)
	case protocol.TypeObjectDelete:
		return mr.objectHandler.HandleDelete(rm, userID, env)
	case protocol.TypeObjectsReset:
		return mr.objectHandler.HandleReset(rm, userID)
	case protocol.TypePresence:
		return mr.presenceHandler.HandlePresence(rm, userID, env)
	case protocol.TypeReaction:
		return mr.presenceHandler.HandleReaction(rm, userID, env)
	default:
		metrics.Rejected.WithLabelValues("unknown").Inc()
		return fmt.Errorf("unknown message type: %s", env.Type)
	}
}

func allowed(session *user.UserSession, messageType string) bool {
	if session == nil {
		return true
	}
	if session.MessageLimiter != nil && !session.MessageLimiter.Allow() {
		return false
	}
	switch messageType {
	case protocol.TypeObjectPut, protocol.TypeObjectDelete, protocol.TypeObjectsReset:
		return session.ObjectLimiter == nil || session.ObjectLimiter.Allow()
	case protocol.TypePresence, protocol.TypeReaction:
		return session.PresenceLimiter == nil || session.PresenceLimiter.Allow()
	}
	return true
}
