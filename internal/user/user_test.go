package user

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/event"
	"whiteboard-backend/internal/room"
)

func newTestSession(buffer int) *Session {
	ids := NewIdentityManager(Limits{MessagesPerSecond: 10, BurstSize: 5})
	identity, _ := ids.Authenticate("")
	return NewSession("conn-1", identity, buffer)
}

func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case payload, ok := <-s.Outbound():
			if !ok {
				return out
			}
			out = append(out, payload)
		default:
			return out
		}
	}
}

func frame(board string, seq uint64) room.Frame {
	return room.Frame{BoardID: board, Sequence: seq, Payload: []byte(board)}
}

func TestSession_DropsLiveFramesUntilReplayed(t *testing.T) {
	s := newTestSession(8)
	_, err := s.Join("b1")
	require.NoError(t, err)

	require.NoError(t, s.Deliver(frame("b1", 1)))
	assert.Empty(t, drain(s), "awaiting replay")

	history := []event.DrawEvent{{Kind: event.KindClear, BoardID: "b1", Sequence: 1}}
	require.NoError(t, s.Replay("b1", history))

	require.NoError(t, s.Deliver(frame("b1", 1)))
	require.NoError(t, s.Deliver(frame("b1", 2)))

	out := drain(s)
	require.Len(t, out, 2, "history then sequence 2 only")

	var h map[string]any
	require.NoError(t, json.Unmarshal(out[0], &h))
	assert.Equal(t, "history", h["type"])
	assert.Len(t, h["events"], 1)
}

func TestSession_IgnoresOtherBoards(t *testing.T) {
	s := newTestSession(8)
	_, err := s.Join("b1")
	require.NoError(t, err)
	require.NoError(t, s.Replay("b1", nil))
	drain(s)

	require.NoError(t, s.Deliver(frame("b2", 1)))
	assert.Empty(t, drain(s))

	// cursor frames carry no sequence and are always passed
	require.NoError(t, s.Deliver(frame("b1", 0)))
	require.NoError(t, s.Deliver(frame("b1", 0)))
	assert.Len(t, drain(s), 2)
}

func TestSession_ReplayForStaleBoardIsIgnored(t *testing.T) {
	s := newTestSession(8)
	_, err := s.Join("b1")
	require.NoError(t, err)
	previous, err := s.Join("b2")
	require.NoError(t, err)
	assert.Equal(t, "b1", previous)

	require.NoError(t, s.Replay("b1", nil))
	assert.Empty(t, drain(s))
}

func TestSession_SlowConsumer(t *testing.T) {
	s := newTestSession(1)
	require.NoError(t, s.Send([]byte("a")))
	assert.ErrorIs(t, s.Send([]byte("b")), ErrSlowConsumer)
}

func TestSession_Close(t *testing.T) {
	s := newTestSession(4)
	require.NoError(t, s.Send([]byte("queued")))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.Equal(t, [][]byte{[]byte("queued")}, drain(s))

	assert.ErrorIs(t, s.Send([]byte("late")), ErrSessionClosed)
	assert.ErrorIs(t, s.Deliver(frame("b1", 1)), ErrSessionClosed)
	_, err := s.Join("b1")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, "", s.Board())
}

func TestSession_Leave(t *testing.T) {
	s := newTestSession(4)
	assert.Equal(t, "", s.Leave())

	_, err := s.Join("b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", s.Board())
	assert.Equal(t, "b1", s.Leave())
	assert.Equal(t, "", s.Board())
}

func TestSession_AllowCursor(t *testing.T) {
	s := newTestSession(4)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, s.AllowCursor(base, 33*time.Millisecond))
	assert.False(t, s.AllowCursor(base.Add(10*time.Millisecond), 33*time.Millisecond))
	assert.True(t, s.AllowCursor(base.Add(40*time.Millisecond), 33*time.Millisecond))
}

func TestIdentityManager_Authenticate(t *testing.T) {
	im := NewIdentityManager(Limits{MessagesPerSecond: 30, BurstSize: 10})

	fresh, resumed := im.Authenticate("")
	assert.False(t, resumed)
	assert.NotEmpty(t, fresh.UserID)
	assert.NotEmpty(t, fresh.Token)
	assert.NotNil(t, fresh.RateLimiter)

	again, resumed := im.Authenticate(fresh.Token)
	assert.True(t, resumed)
	assert.Same(t, fresh, again)

	stranger, resumed := im.Authenticate("forged")
	assert.False(t, resumed)
	assert.NotEqual(t, fresh.UserID, stranger.UserID)

	userID, ok := im.ValidateToken(fresh.Token)
	assert.True(t, ok)
	assert.Equal(t, fresh.UserID, userID)
	assert.Equal(t, 2, im.Count())
}

func TestIdentityManager_Cleanup(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	current := base
	im := NewIdentityManager(Limits{MessagesPerSecond: 30, BurstSize: 10})
	im.now = func() time.Time { return current }

	old, _ := im.Authenticate("")
	current = base.Add(50 * time.Minute)
	recent, _ := im.Authenticate("")

	current = base.Add(90 * time.Minute)
	assert.Equal(t, 1, im.Cleanup(DefaultIdentityTTL))

	_, ok := im.ValidateToken(old.Token)
	assert.False(t, ok)
	_, ok = im.ValidateToken(recent.Token)
	assert.True(t, ok)

	// Touch keeps an identity alive
	im.Touch(recent.UserID)
	current = base.Add(2 * time.Hour)
	assert.Equal(t, 0, im.Cleanup(DefaultIdentityTTL))
}
