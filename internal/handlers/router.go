package handlers

import (
	"encoding/json"
	"fmt"

	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/user"
)

// MessageRouter routes inbound frames of an authenticated session
type MessageRouter struct {
	gateway       *Gateway
	cursorHandler *CursorHandler
	userHandler   *UserHandler
}

func NewMessageRouter(gateway *Gateway, registry *room.Registry, broadcaster *room.Broadcaster) *MessageRouter {
	return &MessageRouter{
		gateway:       gateway,
		cursorHandler: NewCursorHandler(registry, broadcaster),
		userHandler:   NewUserHandler(),
	}
}

// Route: process a message via appropriate handler
func (mr *MessageRouter) Route(s *user.Session, msg []byte) error {
	messageType, err := protocol.PeekType(msg)
	if err != nil {
		return err
	}

	switch messageType {
	case protocol.TypeJoin:
		var join protocol.Join
		if err := json.Unmarshal(msg, &join); err != nil {
			return fmt.Errorf("unmarshal join: %w", err)
		}
		return mr.gateway.OnJoin(s, join.BoardID)
	case protocol.TypeLeave:
		mr.gateway.OnLeave(s)
		return nil
	case protocol.TypeDrawEvent:
		return mr.gateway.OnEvent(s, msg)
	case protocol.TypeCursor:
		return mr.cursorHandler.Handle(s, msg)
	case protocol.TypePing:
		return mr.userHandler.HandlePing(s)
	default:
		return fmt.Errorf("unknown message type: %s", messageType)
	}
}
