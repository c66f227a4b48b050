package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"whiteboard-backend/internal/event"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/user"
)

var (
	ErrNotJoined    = errors.New("session not joined to a board")
	ErrWrongBoard   = errors.New("event addressed to another board")
	ErrInvalidBoard = errors.New("invalid board id")
)

type GatewayConfig struct {
	Store        EventStore
	Registry     *room.Registry
	Broadcaster  *room.Broadcaster
	Synchronizer *room.Synchronizer
	Validator    *event.Validator
	Logger       *slog.Logger
}

// Gateway applies session lifecycle and draw events to the registry and
// the event store.
type Gateway struct {
	ctx          context.Context
	store        EventStore
	registry     *room.Registry
	broadcaster  *room.Broadcaster
	synchronizer *room.Synchronizer
	validator    *event.Validator
	logger       *slog.Logger
	writes       sync.WaitGroup
}

// NewGateway: ctx is the server's lifetime. Durable writes started under
// it are not cancelled when it is; use Wait to drain them.
func NewGateway(ctx context.Context, cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	validator := cfg.Validator
	if validator == nil {
		validator = event.NewValidator(0)
	}
	return &Gateway{
		ctx:          ctx,
		store:        cfg.Store,
		registry:     cfg.Registry,
		broadcaster:  cfg.Broadcaster,
		synchronizer: cfg.Synchronizer,
		validator:    validator,
		logger:       logger,
	}
}

// OnJoin joins s to boardID, leaving any other board first, and replays
// the board's history to s alone. On failure s is left unjoined.
func (g *Gateway) OnJoin(s *user.Session, boardID string) error {
	if boardID == "" || len(boardID) > event.MaxIDLength {
		g.logger.Warn("join rejected", "session", s.ID(), "error", ErrInvalidBoard)
		return ErrInvalidBoard
	}

	// awaiting replay before it can receive any live frame
	previous, err := s.Join(boardID)
	if err != nil {
		return err
	}

	if err := g.registry.Add(boardID, s); err != nil {
		s.Leave()
		g.registry.Remove(s)
		g.logger.Warn("join rejected",
			"session", s.ID(),
			"user", s.UserID(),
			"board", boardID,
			"error", err,
		)
		return fmt.Errorf("join %s: %w", boardID, err)
	}

	joined, err := json.Marshal(protocol.Joined{
		Type:    protocol.TypeJoined,
		BoardID: boardID,
		Color:   g.registry.Color(boardID, s.UserID()),
	})
	if err != nil {
		return g.abortJoin(s, boardID, fmt.Errorf("marshal joined: %w", err))
	}
	if err := s.Send(joined); err != nil {
		return g.abortJoin(s, boardID, err)
	}

	if err := g.synchronizer.Replay(g.ctx, boardID, s); err != nil {
		return g.abortJoin(s, boardID, err)
	}

	g.logger.Info("session joined",
		"session", s.ID(),
		"user", s.UserID(),
		"board", boardID,
		"previous", previous,
	)
	return nil
}

func (g *Gateway) abortJoin(s *user.Session, boardID string, err error) error {
	g.registry.RemoveFrom(boardID, s)
	s.Leave()
	g.logger.Error("join failed",
		"session", s.ID(),
		"user", s.UserID(),
		"board", boardID,
		"error", err,
	)
	if errors.Is(err, user.ErrSlowConsumer) {
		s.Close()
	}
	return fmt.Errorf("join %s: %w", boardID, err)
}

// OnLeave is idempotent.
func (g *Gateway) OnLeave(s *user.Session) {
	boardID := s.Leave()
	left := g.registry.Remove(s)
	if boardID != "" || left != "" {
		g.logger.Info("session left", "session", s.ID(), "user", s.UserID(), "board", boardID)
	}
}

// OnEvent validates a raw draw-event frame, sequences it and fans it out
// to the other members of the sender's board. The durable write runs in
// the background.
func (g *Gateway) OnEvent(s *user.Session, raw []byte) error {
	boardID := s.Board()
	if boardID == "" {
		return g.drop(s, ErrNotJoined)
	}

	ev, err := protocol.DecodeDrawEvent(raw)
	if err != nil {
		return g.drop(s, err)
	}
	switch ev.BoardID {
	case "":
		ev.BoardID = boardID
	case boardID:
	default:
		return g.drop(s, fmt.Errorf("%w: joined %s, got %s", ErrWrongBoard, boardID, ev.BoardID))
	}
	ev.UserID = s.UserID()
	ev.Sequence = 0

	ev, err = g.validator.ValidateAndSanitize(ev)
	if err != nil {
		return g.drop(s, err)
	}

	stored, err := g.store.Publish(g.ctx, ev, func(stored event.DrawEvent) {
		if err := g.broadcaster.Fanout(stored, s.ID()); err != nil {
			g.logger.Error("fanout failed", "board", stored.BoardID, "sequence", stored.Sequence, "error", err)
		}
	})
	if err != nil {
		g.logger.Error("sequence failed", "session", s.ID(), "board", boardID, "error", err)
		return fmt.Errorf("publish: %w", err)
	}

	g.writes.Add(1)
	go func() {
		defer g.writes.Done()
		// failures are reported by the store
		_ = g.store.Persist(context.WithoutCancel(g.ctx), stored)
	}()

	g.logger.Debug("draw event",
		"board", stored.BoardID,
		"sequence", stored.Sequence,
		"kind", stored.Kind,
		"user", stored.UserID,
	)
	return nil
}

func (g *Gateway) drop(s *user.Session, err error) error {
	g.logger.Warn("draw event dropped", "session", s.ID(), "user", s.UserID(), "error", err)
	return err
}

// OnDisconnect leaves the board and closes the session's queue.
func (g *Gateway) OnDisconnect(s *user.Session) {
	g.OnLeave(s)
	s.Close()
}

// Wait blocks until background durable writes have finished.
func (g *Gateway) Wait() {
	g.writes.Wait()
}
