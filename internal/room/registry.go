package room

import (
	"errors"
	"sync"
	"time"

	"whiteboard-backend/internal/middleware"
)

var (
	ErrMissingBoard = errors.New("board id missing")
	ErrRoomFull     = errors.New("room is full")
	ErrTooManyRooms = errors.New("server at maximum room capacity")
)

// Stats: point-in-time registry counters
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// Registry tracks which members are in which board. The index lock guards
// the board -> room and member -> board maps; each room has its own lock
// for its member set. Lock order is index, then room.
type Registry struct {
	rooms   map[string]*Room
	boardOf map[string]string // member id -> board
	limits  *middleware.RateLimit
	now     func() time.Time
	mu      sync.RWMutex
}

// NewRegistry: nil limits uses middleware.DefaultRateLimit
func NewRegistry(limits *middleware.RateLimit) *Registry {
	if limits == nil {
		limits = middleware.DefaultRateLimit()
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		boardOf: make(map[string]string),
		limits:  limits,
		now:     time.Now,
	}
}

// Add puts m in boardID, moving it out of any other board first. Adding
// a member to the board it is already in is a no-op. On error the member
// stays where it was.
func (reg *Registry) Add(boardID string, m Member) error {
	if boardID == "" {
		return ErrMissingBoard
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	prev, joined := reg.boardOf[m.ID()]
	if joined && prev == boardID {
		return nil
	}

	rm := reg.rooms[boardID]
	if rm == nil {
		if !reg.limits.CanCreateRoom(len(reg.rooms)) {
			return ErrTooManyRooms
		}
	} else if !reg.limits.CanJoinRoom(rm.memberCount()) {
		return ErrRoomFull
	}

	now := reg.now()
	if joined {
		if old := reg.rooms[prev]; old != nil {
			old.leave(m.ID(), now)
		}
	}
	if rm == nil {
		rm = newRoom(boardID, now)
		reg.rooms[boardID] = rm
	}
	rm.join(m, now)
	reg.boardOf[m.ID()] = boardID
	return nil
}

// Remove takes m out of whatever board it is in and returns that board,
// or "" if it was in none.
func (reg *Registry) Remove(m Member) string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	return reg.removeLocked(m.ID())
}

// RemoveFrom removes m only if it is still in boardID. Used when a
// delivery failure is noticed after the member may have moved on.
func (reg *Registry) RemoveFrom(boardID string, m Member) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.boardOf[m.ID()] != boardID {
		return false
	}
	reg.removeLocked(m.ID())
	return true
}

func (reg *Registry) removeLocked(memberID string) string {
	boardID, ok := reg.boardOf[memberID]
	if !ok {
		return ""
	}
	delete(reg.boardOf, memberID)
	if rm := reg.rooms[boardID]; rm != nil {
		rm.leave(memberID, reg.now())
	}
	return boardID
}

// MembersExcept returns a snapshot of boardID's members without excludedID.
func (reg *Registry) MembersExcept(boardID, excludedID string) []Member {
	reg.mu.RLock()
	rm := reg.rooms[boardID]
	reg.mu.RUnlock()

	if rm == nil {
		return nil
	}
	return rm.membersExcept(excludedID)
}

func (reg *Registry) BoardOf(memberID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	boardID, ok := reg.boardOf[memberID]
	return boardID, ok
}

// Color: the user's cursor color in boardID, "" if never joined there
func (reg *Registry) Color(boardID, userID string) string {
	reg.mu.RLock()
	rm := reg.rooms[boardID]
	reg.mu.RUnlock()

	if rm == nil {
		return ""
	}
	return rm.color(userID)
}

func (reg *Registry) Stats() Stats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return Stats{Rooms: len(reg.rooms), Members: len(reg.boardOf)}
}

// Cleanup removes rooms that have been empty for longer than idle and
// returns their board ids.
func (reg *Registry) Cleanup(now time.Time, idle time.Duration) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var removed []string
	for boardID, rm := range reg.rooms {
		if rm.idleSince(now, idle) {
			delete(reg.rooms, boardID)
			removed = append(removed, boardID)
		}
	}
	return removed
}
