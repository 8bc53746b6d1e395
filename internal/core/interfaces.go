package core

import (
	"context"

	"github.com/abnjv/Ha-sub000/internal/domain"
)

// Frame is a raw serialized envelope.
type Frame []byte

// SignalConnection abstracts the signaling transport for one peer.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a peer's meta and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Peer() domain.PeerID
	User() *domain.User
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SentTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for API responses (no transport fields).
type MemberDTO struct {
	ID       domain.PeerID `json:"id"`
	Username string        `json:"username"`
}

// ProfileStore is the key-value profile lookup collaborator. Display
// metadata only; negotiation never depends on it.
type ProfileStore interface {
	Get(ctx context.Context, id domain.PeerID) (*domain.User, error)
	Put(ctx context.Context, id domain.PeerID, u *domain.User) error
}

// Notifier is invoked when a session ends abnormally. Delivery is
// best-effort and outside this subsystem's responsibility.
type Notifier interface {
	SessionEnded(ctx context.Context, peer domain.PeerID, reason string)
}
