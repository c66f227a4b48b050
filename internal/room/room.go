package room

import (
	"sync"
	"time"

	"whiteboard-backend/internal/event"
)

// Frame is one encoded outbound message for a board. Sequence is zero for
// frames outside the board's event order (cursor presence).
type Frame struct {
	BoardID  string
	Sequence uint64
	Payload  []byte
}

// Member is a session as seen by the registry and the broadcaster.
type Member interface {
	ID() string
	UserID() string
	Deliver(f Frame) error
	Replay(boardID string, history []event.DrawEvent) error
	Close() error
}

// Room: the live members of one board
type Room struct {
	members    map[string]Member
	userColors map[string]string // userID -> color, kept across rejoins
	palette    *palette
	lastActive time.Time
	createdAt  time.Time
	mu         sync.RWMutex
}

func newRoom(boardID string, now time.Time) *Room {
	return &Room{
		members:    make(map[string]Member),
		userColors: make(map[string]string),
		palette:    newPalette(boardID),
		lastActive: now,
		createdAt:  now,
	}
}

// join: caller has checked capacity
func (r *Room) join(m Member, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[m.ID()] = m
	if _, ok := r.userColors[m.UserID()]; !ok {
		r.userColors[m.UserID()] = r.palette.next()
	}
	r.lastActive = now
}

func (r *Room) leave(memberID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[memberID]; !ok {
		return false
	}
	delete(r.members, memberID)
	r.lastActive = now
	return true
}

func (r *Room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// membersExcept: point-in-time copy
func (r *Room) membersExcept(excludedID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Member, 0, len(r.members))
	for id, m := range r.members {
		if id != excludedID {
			out = append(out, m)
		}
	}
	return out
}

func (r *Room) color(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userColors[userID]
}

func (r *Room) idleSince(now time.Time, idle time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0 && now.Sub(r.lastActive) > idle
}
