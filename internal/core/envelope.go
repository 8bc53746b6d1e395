package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/abnjv/Ha-sub000/internal/domain"
)

// Kind discriminates signaling envelopes on the wire.
type Kind string

const (
	KindJoinRoom       Kind = "join-room"
	KindLeaveRoom      Kind = "leave-room"
	KindRoomState      Kind = "room-state"
	KindPresenceJoined Kind = "presence-joined"
	KindPresenceLeft   Kind = "presence-left"
	KindOffer          Kind = "offer"
	KindAnswer         Kind = "answer"
	KindICECandidate   Kind = "ice-candidate"
	KindStartStream    Kind = "start-stream"
	KindStopStream     Kind = "stop-stream"
	KindWatchStream    Kind = "watch-stream"
	KindNewWatcher     Kind = "new-watcher"
	KindStreamEnded    Kind = "stream-ended"
	KindPing           Kind = "ping"
	KindPong           Kind = "pong"
	KindError          Kind = "error"
)

var (
	ErrUnknownKind   = errors.New("unknown envelope kind")
	ErrMissingTarget = errors.New("missing target")
	ErrMissingRoom   = errors.New("missing room")
	ErrMissingStream = errors.New("missing stream")
)

// Envelope is the unit the relay routes. The relay fills Sender from
// the connection, never trusting the client's value, and never looks
// inside Payload.
type Envelope struct {
	Kind    Kind            `json:"type"`
	Sender  domain.PeerID   `json:"sender,omitempty"`
	Target  domain.PeerID   `json:"target,omitempty"`
	Room    domain.RoomID   `json:"room,omitempty"`
	Stream  domain.StreamID `json:"stream,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Unicast reports whether the envelope must name a single target.
func (e Envelope) Unicast() bool {
	switch e.Kind {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// Validate enforces the per-kind required fields at the relay boundary.
// A failing envelope is dropped and logged; the connection is not
// penalized.
func (e Envelope) Validate() error {
	switch e.Kind {
	case KindJoinRoom:
		if e.Room == "" {
			return fmt.Errorf("%s: %w", e.Kind, ErrMissingRoom)
		}
	case KindOffer, KindAnswer, KindICECandidate:
		if e.Target == "" {
			return fmt.Errorf("%s: %w", e.Kind, ErrMissingTarget)
		}
	case KindStartStream, KindStopStream, KindWatchStream:
		if e.Stream == "" {
			return fmt.Errorf("%s: %w", e.Kind, ErrMissingStream)
		}
	case KindLeaveRoom, KindPing, KindPong:
	case KindRoomState, KindPresenceJoined, KindPresenceLeft, KindNewWatcher, KindStreamEnded, KindError:
	default:
		return fmt.Errorf("%q: %w", string(e.Kind), ErrUnknownKind)
	}
	return nil
}

// RoomStatePayload is sent to a joiner so it knows who to initiate
// offers toward.
type RoomStatePayload struct {
	Members []MemberDTO `json:"members"`
	Count   int         `json:"count"`
}

// ErrorPayload carries relay-side rejections back to the sender.
type ErrorPayload struct {
	Error string `json:"error"`
}
