package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"whiteboard-backend/internal/event"
)

var ErrPersistenceFailure = errors.New("persistence failure")

// PersistenceError reports a failed durable write. The event keeps its
// sequence number; it is a candidate for backfill.
type PersistenceError struct {
	BoardID  string
	Sequence uint64
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s#%d: %v", e.BoardID, e.Sequence, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailure, e.Err}
}

// Record is one persisted row.
type Record struct {
	BoardID   string          `json:"boardId"`
	UserID    string          `json:"userId"`
	Sequence  uint64          `json:"sequence"`
	Event     event.DrawEvent `json:"event"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Backend is the record store the event store persists into.
// OrderedSelect returns a board's records ascending by sequence.
type Backend interface {
	Insert(ctx context.Context, rec Record) error
	OrderedSelect(ctx context.Context, boardID string) ([]Record, error)
	Close() error
}

// Options for New. Everything is optional.
type Options struct {
	Logger *slog.Logger

	// OnFailure observes every failed durable write.
	OnFailure func(*PersistenceError)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats: counters for /stats
type Stats struct {
	Boards          int    `json:"boards"`
	Appended        uint64 `json:"appended"`
	Persisted       uint64 `json:"persisted"`
	PersistFailures uint64 `json:"persistFailures"`
}

// boardLog holds the ordered history of one board. mu serializes
// sequence assignment and everything that must observe board order.
type boardLog struct {
	mu          sync.Mutex
	loaded      bool
	records     []Record
	lastSeq     uint64
	lastCreated time.Time
	pending     int
	lost        bool // a write failed; the backend is behind lastSeq
	released    bool
}

// Store is the single sequencing authority per board. Sequence numbers
// start at 1 and are gap-free per board.
type Store struct {
	backend   Backend
	logger    *slog.Logger
	onFailure func(*PersistenceError)
	now       func() time.Time

	mu     sync.Mutex
	boards map[string]*boardLog

	appended  atomic.Uint64
	persisted atomic.Uint64
	failures  atomic.Uint64
}

func New(backend Backend, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		backend:   backend,
		logger:    logger,
		onFailure: opts.OnFailure,
		now:       now,
		boards:    make(map[string]*boardLog),
	}
}

// lockBoard returns the live log of a board with its mutex held.
func (s *Store) lockBoard(boardID string) *boardLog {
	for {
		s.mu.Lock()
		b, ok := s.boards[boardID]
		if !ok {
			b = &boardLog{}
			s.boards[boardID] = b
		}
		s.mu.Unlock()

		b.mu.Lock()
		if !b.released {
			return b
		}
		// lost a race with Release
		b.mu.Unlock()
	}
}

// load: caller holds b.mu
func (s *Store) load(ctx context.Context, boardID string, b *boardLog) error {
	if b.loaded {
		return nil
	}

	records, err := s.backend.OrderedSelect(ctx, boardID)
	if err != nil {
		return fmt.Errorf("load board %s: %w", boardID, err)
	}

	b.records = records
	if n := len(records); n > 0 {
		b.lastSeq = records[n-1].Sequence
		b.lastCreated = records[n-1].CreatedAt
	}
	b.loaded = true

	s.logger.Debug("board history loaded", "board", boardID, "events", len(records))
	return nil
}

// Append assigns the next sequence for ev.BoardID, persists the event and
// returns it with its sequence. A failed write still returns the
// sequenced event together with a *PersistenceError.
func (s *Store) Append(ctx context.Context, ev event.DrawEvent) (event.DrawEvent, error) {
	stored, err := s.Publish(ctx, ev, nil)
	if err != nil {
		return event.DrawEvent{}, err
	}
	return stored, s.Persist(ctx, stored)
}

// Publish is the sequencing half of Append. It assigns the sequence,
// records the event in the board log and calls fanout before any later
// event of the same board is sequenced. fanout must not block. The
// caller owes a Persist call for the returned event.
func (s *Store) Publish(ctx context.Context, ev event.DrawEvent, fanout func(event.DrawEvent)) (event.DrawEvent, error) {
	if ev.BoardID == "" {
		return event.DrawEvent{}, fmt.Errorf("%w: missing board id", event.ErrMalformedEvent)
	}

	b := s.lockBoard(ev.BoardID)
	defer b.mu.Unlock()

	if err := s.load(ctx, ev.BoardID, b); err != nil {
		return event.DrawEvent{}, err
	}

	stored := ev.Clone()
	stored.Sequence = b.lastSeq + 1

	// createdAt never goes backwards within a board
	createdAt := s.now().UTC()
	if createdAt.Before(b.lastCreated) {
		createdAt = b.lastCreated
	}

	b.records = append(b.records, Record{
		BoardID:   stored.BoardID,
		UserID:    stored.UserID,
		Sequence:  stored.Sequence,
		Event:     stored,
		CreatedAt: createdAt,
	})
	b.lastSeq = stored.Sequence
	b.lastCreated = createdAt
	b.pending++
	s.appended.Add(1)

	if fanout != nil {
		fanout(stored.Clone())
	}

	return stored, nil
}

// Persist writes a sequenced event to the backend. Failures are counted,
// logged and handed to Options.OnFailure.
func (s *Store) Persist(ctx context.Context, ev event.DrawEvent) error {
	b := s.lockBoard(ev.BoardID)
	rec, ok := b.find(ev.Sequence)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("persist %s#%d: event was never sequenced", ev.BoardID, ev.Sequence)
	}

	err := s.backend.Insert(ctx, rec)

	// pending > 0 kept b from being released
	b.mu.Lock()
	if b.pending > 0 {
		b.pending--
	}
	if err != nil {
		b.lost = true
	}
	b.mu.Unlock()

	if err != nil {
		s.failures.Add(1)
		pErr := &PersistenceError{BoardID: ev.BoardID, Sequence: ev.Sequence, Err: err}
		s.logger.Error("event persistence failed",
			"board", ev.BoardID,
			"sequence", ev.Sequence,
			"error", err,
		)
		if s.onFailure != nil {
			s.onFailure(pErr)
		}
		return pErr
	}

	s.persisted.Add(1)
	return nil
}

// find: caller holds b.mu. Rows lost to failed writes of an earlier
// process leave holes, so this scans back from the newest record.
func (b *boardLog) find(seq uint64) (Record, bool) {
	for i := len(b.records) - 1; i >= 0; i-- {
		if b.records[i].Sequence == seq {
			return b.records[i], true
		}
		if b.records[i].Sequence < seq {
			break
		}
	}
	return Record{}, false
}

// LoadAll returns the board's events ascending by sequence. Every event
// sequenced before the call is included.
func (s *Store) LoadAll(ctx context.Context, boardID string) ([]event.DrawEvent, error) {
	var history []event.DrawEvent
	err := s.Snapshot(ctx, boardID, func(events []event.DrawEvent) {
		history = events
	})
	return history, err
}

// Snapshot calls fn with the board's ordered history while holding the
// board's order: no event is sequenced or fanned out while fn runs.
// fn must not block and owns the slice it receives.
func (s *Store) Snapshot(ctx context.Context, boardID string, fn func([]event.DrawEvent)) error {
	b := s.lockBoard(boardID)
	defer b.mu.Unlock()

	if err := s.load(ctx, boardID, b); err != nil {
		return err
	}

	events := make([]event.DrawEvent, len(b.records))
	for i, rec := range b.records {
		events[i] = rec.Event.Clone()
	}
	fn(events)
	return nil
}

// Release drops the in-memory log of a board so it is reloaded from the
// backend on next access. Boards with writes in flight are kept, and so
// are boards with a failed write: reloading them would hand out a
// sequence number that was already broadcast.
func (s *Store) Release(boardID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[boardID]
	if !ok {
		return false
	}

	// a busy board is not idle
	if !b.mu.TryLock() {
		return false
	}
	defer b.mu.Unlock()
	if b.pending > 0 || b.lost {
		return false
	}

	b.released = true
	delete(s.boards, boardID)
	return true
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	boards := len(s.boards)
	s.mu.Unlock()

	return Stats{
		Boards:          boards,
		Appended:        s.appended.Load(),
		Persisted:       s.persisted.Load(),
		PersistFailures: s.failures.Load(),
	}
}

func (s *Store) Close() error {
	return s.backend.Close()
}
