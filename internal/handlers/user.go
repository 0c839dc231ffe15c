package handlers

import (
	"whiteboard/internal/protocol"
)

type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// HandleGetUserID: processes getUserId messages and returns the user ID
func (h *UserHandler) HandleGetUserID(c Client, userID string) error {
	return c.WriteJSON(&protocol.Envelope{Type: protocol.TypeUserID, UserID: userID})
}
