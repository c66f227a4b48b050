package handlers

import (
	"encoding/json"
	"fmt"

	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/user"
)

type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// HandlePing: answers an application ping with pong
func (h *UserHandler) HandlePing(s *user.Session) error {
	msg, err := json.Marshal(protocol.Pong{Type: protocol.TypePong})
	if err != nil {
		return fmt.Errorf("marshal pong: %w", err)
	}
	return s.Send(msg)
}
