package handlers

import (
	"context"

	"whiteboard-backend/internal/event"
)

// EventStore: the sequencing and durable halves of an append
type EventStore interface {
	Publish(ctx context.Context, ev event.DrawEvent, fanout func(event.DrawEvent)) (event.DrawEvent, error)
	Persist(ctx context.Context, ev event.DrawEvent) error
}
