package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/user"
)

// CursorInterval: ~30 updates per second per session
const CursorInterval = 33 * time.Millisecond

// CursorHandler relays cursor positions to the rest of the board. Cursor
// frames are neither sequenced nor stored.
type CursorHandler struct {
	registry    *room.Registry
	broadcaster *room.Broadcaster
	interval    time.Duration
	now         func() time.Time
}

func NewCursorHandler(registry *room.Registry, broadcaster *room.Broadcaster) *CursorHandler {
	return &CursorHandler{
		registry:    registry,
		broadcaster: broadcaster,
		interval:    CursorInterval,
		now:         time.Now,
	}
}

// Handle processes cursor messages with server-side throttling
func (h *CursorHandler) Handle(s *user.Session, raw []byte) error {
	boardID := s.Board()
	if boardID == "" {
		return ErrNotJoined
	}

	if !s.AllowCursor(h.now(), h.interval) {
		return nil
	}

	var in protocol.Cursor
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("unmarshal cursor: %w", err)
	}

	msg, err := json.Marshal(protocol.Cursor{
		Type:    protocol.TypeCursor,
		BoardID: boardID,
		UserID:  s.UserID(),
		Color:   h.registry.Color(boardID, s.UserID()),
		X:       in.X,
		Y:       in.Y,
	})
	if err != nil {
		return fmt.Errorf("marshal cursor message: %w", err)
	}

	h.broadcaster.Relay(room.Frame{BoardID: boardID, Payload: msg}, s.ID())
	return nil
}
