package event

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent: event failed decoding or validation
var ErrMalformedEvent = errors.New("malformed draw event")

// Kind is the closed set of drawing actions. The zero value is invalid.
type Kind uint8

const (
	KindStroke Kind = iota + 1
	KindErase
	KindLine
	KindClear
)

var kindNames = map[Kind]string{
	KindStroke: "stroke",
	KindErase:  "erase",
	KindLine:   "line",
	KindClear:  "clear",
}

// ParseKind: maps a wire name to its Kind
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, name)
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MarshalText: kinds travel as their lowercase names (JSON and CBOR)
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: invalid kind %d", ErrMalformedEvent, uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText: rejects anything outside the closed set
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Point is one canvas coordinate.
type Point struct {
	X float64 `json:"x" validate:"min=-1000000,max=1000000"`
	Y float64 `json:"y" validate:"min=-1000000,max=1000000"`
}

// DrawEvent is the unit of synchronization. Sequence is zero until the
// event store assigns it; after that the event is never modified.
type DrawEvent struct {
	Kind      Kind    `json:"kind"`
	Tool      string  `json:"tool,omitempty" validate:"max=64"`
	Color     string  `json:"color,omitempty" validate:"max=50"`
	BrushSize float64 `json:"brushSize,omitempty" validate:"min=0,max=1000"`
	Points    []Point `json:"points,omitempty" validate:"max=10000,dive"`
	BoardID   string  `json:"boardId" validate:"required,max=128"`
	UserID    string  `json:"userId,omitempty" validate:"max=128"`
	Sequence  uint64  `json:"sequence,omitempty"`
}

// Clone returns a copy that shares no slice memory with e.
func (e DrawEvent) Clone() DrawEvent {
	if e.Points != nil {
		points := make([]Point, len(e.Points))
		copy(points, e.Points)
		e.Points = points
	}
	return e
}
