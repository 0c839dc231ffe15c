package handlers

import (
	"encoding/json"
	"fmt"

	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/middleware"
	"whiteboard/internal/object"
	"whiteboard/internal/protocol"

	"go.uber.org/zap"
)

// ObjectHandler: handles shared map mutations (put, delete, reset)
type ObjectHandler struct {
	validator *object.Validator
	config    *middleware.RateLimit
}

func NewObjectHandler(validator *object.Validator, config *middleware.RateLimit) *ObjectHandler {
	return &ObjectHandler{
		validator: validator,
		config:    config,
	}
}

// HandlePut: objectPut messages. A rejected put is answered with the
// authoritative state of the object so the sender's replica heals.
func (h *ObjectHandler) HandlePut(rm RoomObjects, userID string, c Client, env *protocol.Envelope, raw []byte) error {
	if env.Object == nil {
		return fmt.Errorf("missing object data")
	}
	id := env.Object.ID

	var body struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("unmarshal object: %w", err)
	}
	if err := h.config.ValidateRawComplexity(body.Object); err != nil {
		h.reject(rm, c, env.Object, "complexity")
		return err
	}

	existing := rm.GetObject(id)
	if existing == nil && !h.config.CanAddObject(rm) {
		h.reject(rm, c, env.Object, "capacity")
		return fmt.Errorf("room at maximum object capacity")
	}

	clean, err := h.validator.ValidateAndSanitize(env.Object)
	if err != nil {
		h.reject(rm, c, env.Object, "invalid")
		return fmt.Errorf("object validation failed: %w", err)
	}
	if existing != nil && existing.Kind != clean.Kind {
		h.reject(rm, c, env.Object, "kind")
		return fmt.Errorf("object %s cannot change kind", id)
	}
	clean.Author = userID

	applied, current := rm.Apply(clean, userID)
	if !applied {
		metrics.Rejected.WithLabelValues("stale").Inc()
		logger.Debug("stale put", zap.String("id", id), zap.Uint64("version", clean.Version), zap.Uint64("current", current.Version))
		return c.WriteJSON(protocol.ObjectPut(current))
	}

	// sanitization rewrote part of the object: the sender holds the raw form
	if clean.Fingerprint() != env.Object.Fingerprint() {
		return c.WriteJSON(protocol.ObjectPut(current))
	}
	return nil
}

// HandleDelete: objectDelete messages. Deleting an absent object is a no-op.
func (h *ObjectHandler) HandleDelete(rm RoomObjects, userID string, env *protocol.Envelope) error {
	if env.ObjectID == "" {
		return fmt.Errorf("missing objectId")
	}
	if !rm.Remove(env.ObjectID, userID) {
		logger.Debug("delete of absent object", zap.String("id", env.ObjectID), zap.String("user", userID))
	}
	return nil
}

// HandleReset: objectsReset messages
func (h *ObjectHandler) HandleReset(rm RoomObjects, userID string) error {
	rm.ClearAll(userID)
	logger.Info("room reset", zap.String("user", userID))
	return nil
}

// reject tells the sender what the room actually holds under the object's
// id. The reply supersedes the rejected version, which the sender has already
// applied to its replica.
func (h *ObjectHandler) reject(rm RoomObjects, c Client, o *object.GraphicObject, reason string) {
	metrics.Rejected.WithLabelValues(reason).Inc()

	reply := protocol.Correction(o.ID, rm.GetObject(o.ID), max(o.Version, 1))
	if err := c.WriteJSON(reply); err != nil {
		logger.Warn("reject reply failed", zap.String("id", o.ID), zap.Error(err))
	}
}
