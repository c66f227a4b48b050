package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStroke() DrawEvent {
	return DrawEvent{
		Kind:      KindStroke,
		Tool:      "pen",
		Color:     "#000000",
		BrushSize: 2,
		Points:    []Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 2}},
		BoardID:   "b1",
	}
}

func TestValidator_ValidateAndSanitize(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DrawEvent)
		wantErr bool
	}{
		{name: "valid stroke", mutate: func(*DrawEvent) {}},
		{name: "valid erase", mutate: func(e *DrawEvent) { e.Kind = KindErase }},
		{name: "valid line", mutate: func(e *DrawEvent) { e.Kind = KindLine; e.Points = e.Points[:2] }},
		{name: "clear without points", mutate: func(e *DrawEvent) { e.Kind = KindClear; e.Points = nil; e.BrushSize = 0 }},
		{name: "invalid kind", mutate: func(e *DrawEvent) { e.Kind = 0 }, wantErr: true},
		{name: "stroke without points", mutate: func(e *DrawEvent) { e.Points = nil }, wantErr: true},
		{name: "zero brush size", mutate: func(e *DrawEvent) { e.BrushSize = 0 }, wantErr: true},
		{name: "negative brush size", mutate: func(e *DrawEvent) { e.BrushSize = -1 }, wantErr: true},
		{name: "huge brush size", mutate: func(e *DrawEvent) { e.BrushSize = MaxBrushSize + 1 }, wantErr: true},
		{name: "missing board", mutate: func(e *DrawEvent) { e.BoardID = "" }, wantErr: true},
		{name: "coordinate out of range", mutate: func(e *DrawEvent) { e.Points[1].X = MaxCoordinate + 1 }, wantErr: true},
		{name: "color too long", mutate: func(e *DrawEvent) { e.Color = string(make([]byte, MaxColorLength+1)) }, wantErr: true},
	}

	v := NewValidator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validStroke()
			tt.mutate(&ev)

			_, err := v.ValidateAndSanitize(ev)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidator_ClearDropsPoints(t *testing.T) {
	v := NewValidator(0)
	ev := validStroke()
	ev.Kind = KindClear

	out, err := v.ValidateAndSanitize(ev)
	require.NoError(t, err)
	assert.Empty(t, out.Points)
}

func TestValidator_PointLimit(t *testing.T) {
	v := NewValidator(2)

	_, err := v.ValidateAndSanitize(validStroke())
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestValidator_SanitizesStrings(t *testing.T) {
	v := NewValidator(0)
	ev := validStroke()
	ev.Tool = `<script>alert(1)</script>pen`
	ev.Color = `<b>#fff</b>`

	out, err := v.ValidateAndSanitize(ev)
	require.NoError(t, err)
	assert.Equal(t, "pen", out.Tool)
	assert.Equal(t, "#fff", out.Color)
}

func TestValidator_DoesNotAliasInput(t *testing.T) {
	v := NewValidator(0)
	ev := validStroke()

	out, err := v.ValidateAndSanitize(ev)
	require.NoError(t, err)

	out.Points[0].X = 42
	assert.Equal(t, float64(0), ev.Points[0].X)
}
