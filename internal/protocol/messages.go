// Package protocol defines the JSON frames exchanged with clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"whiteboard-backend/internal/event"
)

// Message types
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeJoin          = "join"
	TypeJoined        = "joined"
	TypeLeave         = "leave"
	TypeDrawEvent     = "draw-event"
	TypeHistory       = "history"
	TypeCursor        = "cursor"
	TypePing          = "ping"
	TypePong          = "pong"
)

var ErrMissingType = errors.New("missing message type")

// Envelope: the field every inbound frame carries
type Envelope struct {
	Type string `json:"type"`
}

// PeekType returns the type of a raw frame without decoding the rest.
func PeekType(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("unmarshal base message: %w", err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

type Authenticate struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type Authenticated struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// Join and Leave share a shape.
type Join struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
}

type Leave = Join

type Joined struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Color   string `json:"color,omitempty"`
}

// DrawEventMessage is a draw-event frame in either direction.
type DrawEventMessage struct {
	Type string `json:"type"`
	event.DrawEvent
}

type History struct {
	Type    string            `json:"type"`
	BoardID string            `json:"boardId"`
	Events  []event.DrawEvent `json:"events"`
}

type Cursor struct {
	Type    string  `json:"type"`
	BoardID string  `json:"boardId,omitempty"`
	UserID  string  `json:"userId,omitempty"`
	Color   string  `json:"color,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type Pong struct {
	Type string `json:"type"`
}

// DecodeDrawEvent: decode errors (including unknown kinds) wrap event.ErrMalformedEvent
func DecodeDrawEvent(raw []byte) (event.DrawEvent, error) {
	var msg DrawEventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		if errors.Is(err, event.ErrMalformedEvent) {
			return event.DrawEvent{}, err
		}
		return event.DrawEvent{}, fmt.Errorf("%w: %v", event.ErrMalformedEvent, err)
	}
	return msg.DrawEvent, nil
}

func EncodeDrawEvent(ev event.DrawEvent) ([]byte, error) {
	return json.Marshal(DrawEventMessage{Type: TypeDrawEvent, DrawEvent: ev})
}

// EncodeHistory always emits a JSON array, never null.
func EncodeHistory(boardID string, events []event.DrawEvent) ([]byte, error) {
	if events == nil {
		events = []event.DrawEvent{}
	}
	return json.Marshal(History{Type: TypeHistory, BoardID: boardID, Events: events})
}
