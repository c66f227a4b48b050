package user

import (
	"errors"
	"sync"
	"time"

	"whiteboard-backend/internal/event"
	"whiteboard-backend/internal/protocol"
	"whiteboard-backend/internal/room"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("outbound queue full")
)

// DefaultSendBuffer: outbound frames queued per session
const DefaultSendBuffer = 256

// Session is one live connection. It is Connected until Join, Joined to
// at most one board at a time, and terminal once closed.
//
// Live frames for a board are discarded until that board's history has
// been replayed, and afterwards only frames past the replayed sequence
// are queued. The replay snapshot and live fan-out are both taken in
// board order, so this yields every event exactly once.
type Session struct {
	id       string
	identity *Identity
	send     chan []byte
	done     chan struct{}

	mu         sync.Mutex
	boardID    string
	replayed   bool
	watermark  uint64
	closed     bool
	lastCursor time.Time
}

// NewSession: buffer <= 0 uses DefaultSendBuffer
func NewSession(id string, identity *Identity, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		id:       id,
		identity: identity,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() string { return s.identity.UserID }

func (s *Session) Identity() *Identity { return s.identity }

// Board returns the joined board, or "" when not joined.
func (s *Session) Board() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardID
}

// Join moves the session to boardID, awaiting replay. Returns the board
// it was previously joined to.
func (s *Session) Join(boardID string) (previous string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSessionClosed
	}

	previous = s.boardID
	s.boardID = boardID
	s.replayed = false
	s.watermark = 0
	return previous, nil
}

// Leave returns the board the session left, or "" if it was not joined.
func (s *Session) Leave() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	left := s.boardID
	s.boardID = ""
	s.replayed = false
	s.watermark = 0
	return left
}

// Deliver queues a live frame. Frames for other boards, frames that
// arrive before replay and frames already covered by the replay are
// dropped without error.
func (s *Session) Deliver(f room.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if f.BoardID != s.boardID || !s.replayed {
		return nil
	}
	if f.Sequence != 0 && f.Sequence <= s.watermark {
		return nil
	}
	if err := s.enqueue(f.Payload); err != nil {
		return err
	}
	if f.Sequence > s.watermark {
		s.watermark = f.Sequence
	}
	return nil
}

// Replay queues the history frame for boardID and switches the session
// to live delivery.
func (s *Session) Replay(boardID string, history []event.DrawEvent) error {
	payload, err := protocol.EncodeHistory(boardID, history)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	// re-joined elsewhere in the meantime
	if s.boardID != boardID {
		return nil
	}
	if err := s.enqueue(payload); err != nil {
		return err
	}

	s.replayed = true
	s.watermark = 0
	if n := len(history); n > 0 {
		s.watermark = history[n-1].Sequence
	}
	return nil
}

// Send queues a frame outside any board's order (acks, pong).
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.enqueue(payload)
}

// enqueue: caller holds s.mu
func (s *Session) enqueue(payload []byte) error {
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Outbound is drained by the connection's writer. It is closed by Close.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close is idempotent. Queued frames stay readable from Outbound.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.boardID = ""
	close(s.send)
	close(s.done)
	return nil
}

// AllowCursor throttles cursor updates to one per interval.
func (s *Session) AllowCursor(now time.Time, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastCursor.IsZero() && now.Sub(s.lastCursor) < interval {
		return false
	}
	s.lastCursor = now
	return true
}
