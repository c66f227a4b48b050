package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/event"
)

func TestPeekType(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "join", raw: `{"type":"join","boardId":"b1"}`, want: TypeJoin},
		{name: "draw event", raw: `{"type":"draw-event","kind":"stroke"}`, want: TypeDrawEvent},
		{name: "missing type", raw: `{"boardId":"b1"}`, wantErr: true},
		{name: "not json", raw: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekType([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDrawEvent(t *testing.T) {
	raw := `{"type":"draw-event","kind":"stroke","tool":"pen","color":"#123456","brushSize":4,
		"points":[{"x":0,"y":0},{"x":5,"y":5},{"x":10,"y":2}],"boardId":"b1","userId":"u1"}`

	ev, err := DecodeDrawEvent([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, event.KindStroke, ev.Kind)
	assert.Equal(t, "pen", ev.Tool)
	assert.Equal(t, float64(4), ev.BrushSize)
	assert.Equal(t, []event.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 2}}, ev.Points)
	assert.Equal(t, "b1", ev.BoardID)
	assert.Zero(t, ev.Sequence)
}

func TestDecodeDrawEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown kind", raw: `{"type":"draw-event","kind":"spray","boardId":"b1"}`},
		{name: "points not an array", raw: `{"type":"draw-event","kind":"stroke","points":"x"}`},
		{name: "truncated", raw: `{"type":"draw-event",`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDrawEvent([]byte(tt.raw))
			assert.ErrorIs(t, err, event.ErrMalformedEvent)
		})
	}
}

func TestEncodeHistory_EmptyIsArray(t *testing.T) {
	data, err := EncodeHistory("b1", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"history","boardId":"b1","events":[]}`, string(data))
}

func TestEncodeDrawEvent(t *testing.T) {
	data, err := EncodeDrawEvent(event.DrawEvent{
		Kind:     event.KindClear,
		BoardID:  "b1",
		UserID:   "u1",
		Sequence: 3,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeDrawEvent, decoded["type"])
	assert.Equal(t, "clear", decoded["kind"])
	assert.Equal(t, float64(3), decoded["sequence"])
}
