package room

import (
	"context"
	"fmt"

	"whiteboard-backend/internal/event"
)

// HistorySource: ordered board history, read while the board's order is held
type HistorySource interface {
	Snapshot(ctx context.Context, boardID string, fn func([]event.DrawEvent)) error
}

// Synchronizer: replays a board's history to a newly joined member
type Synchronizer struct {
	history HistorySource
}

func NewSynchronizer(history HistorySource) *Synchronizer {
	return &Synchronizer{history: history}
}

// Replay sends boardID's full history to m as a single frame. m must
// already be registered in the board so that every event sequenced after
// the snapshot reaches it live.
func (s *Synchronizer) Replay(ctx context.Context, boardID string, m Member) error {
	var deliverErr error
	err := s.history.Snapshot(ctx, boardID, func(events []event.DrawEvent) {
		deliverErr = m.Replay(boardID, events)
	})
	if err != nil {
		return fmt.Errorf("load history %s: %w", boardID, err)
	}
	if deliverErr != nil {
		return fmt.Errorf("send history %s: %w", boardID, deliverErr)
	}
	return nil
}
