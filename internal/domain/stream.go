package domain

type StreamID string

// Stream is the broadcast-session meta: who owns it and whether it is
// currently live. Watcher links live in the star manager, not here.
type Stream struct {
	ID          StreamID
	Broadcaster PeerID
	Live        bool
}
