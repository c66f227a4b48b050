package room

import (
	"fmt"
	"log/slog"

	"whiteboard-backend/internal/event"
	"whiteboard-backend/internal/protocol"
)

// Broadcaster: delivers frames to the members of a board
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
	}
}

// Fanout encodes ev once and queues it to every member of ev's board
// except excludedID. It never blocks, so it is safe to call while the
// board's order is held.
func (b *Broadcaster) Fanout(ev event.DrawEvent, excludedID string) error {
	payload, err := protocol.EncodeDrawEvent(ev)
	if err != nil {
		return fmt.Errorf("encode draw event %s#%d: %w", ev.BoardID, ev.Sequence, err)
	}

	b.Relay(Frame{BoardID: ev.BoardID, Sequence: ev.Sequence, Payload: payload}, excludedID)
	return nil
}

// Relay queues an already encoded frame to the board's members except
// excludedID. Members that cannot take the frame are removed from the
// board and closed; the rest are unaffected.
func (b *Broadcaster) Relay(f Frame, excludedID string) {
	for _, m := range b.registry.MembersExcept(f.BoardID, excludedID) {
		if err := m.Deliver(f); err != nil {
			b.logger.Warn("dropping member",
				"board", f.BoardID,
				"member", m.ID(),
				"user", m.UserID(),
				"sequence", f.Sequence,
				"error", err,
			)
			if b.registry.RemoveFrom(f.BoardID, m) {
				go m.Close()
			}
		}
	}
}
