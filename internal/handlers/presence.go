package handlers

import (
	"fmt"
	"time"
	"unicode/utf8"

	"whiteboard/internal/clock"
	"whiteboard/internal/object"
	"whiteboard/internal/presence"
	"whiteboard/internal/protocol"
)

// PresenceThrottle: minimum spacing of relayed presence updates (~30fps)
const PresenceThrottle = 33 * time.Millisecond

// PresenceHandler handles presence and reaction messages
type PresenceHandler struct {
	sessionMgr SessionProvider
	validator  *object.Validator
	clock      clock.Clock
}

func NewPresenceHandler(sessionMgr SessionProvider, validator *object.Validator, clk clock.Clock) *PresenceHandler {
	return &PresenceHandler{
		sessionMgr: sessionMgr,
		validator:  validator,
		clock:      clk,
	}
}

// HandlePresence relays presence with server-side throttling. Throttled
// updates are dropped silently; the next one supersedes them anyway.
func (h *PresenceHandler) HandlePresence(rm RoomPresence, userID string, env *protocol.Envelope) error {
	if env.Presence == nil {
		return fmt.Errorf("missing presence")
	}

	now := h.clock.Now()
	last, exists := h.sessionMgr.LastPresence(userID)
	if !exists {
		return fmt.Errorf("session not found")
	}
	if !last.IsZero() && now.Sub(last) < PresenceThrottle {
		return nil
	}
	h.sessionMgr.UpdateLastPresence(userID, now)

	rec := *env.Presence
	if rec.Message != nil {
		msg := h.validator.SanitizeString(truncate(*rec.Message, presence.DefaultConfig().MaxChatLength))
		rec.Message = &msg
	}
	rm.BroadcastPresence(userID, rec)
	return nil
}

// HandleReaction relays a reaction. Reactions are not throttled here; the
// per-session presence limiter bounds them.
func (h *PresenceHandler) HandleReaction(rm RoomPresence, userID string, env *protocol.Envelope) error {
	if env.Reaction == nil || env.Reaction.Symbol == "" {
		return fmt.Errorf("missing reaction")
	}

	re := *env.Reaction
	re.Symbol = h.validator.SanitizeString(truncate(re.Symbol, 16))
	rm.BroadcastReaction(userID, re)
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
