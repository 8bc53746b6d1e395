package core

import "github.com/abnjv/Ha-sub000/internal/domain"

// RoomService is the relay-facing API of a room. It owns the membership
// set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Peers() []domain.PeerID

	// AddMember reports false when the peer was already a member, so
	// a re-join stays a no-op at the relay layer.
	AddMember(ms MemberSession) bool
	RemoveMember(peer domain.PeerID) bool
	Has(peer domain.PeerID) bool

	// SendTo delivers to one member; reports false on a routing miss.
	SendTo(target domain.PeerID, data Frame) bool
	Broadcast(from domain.PeerID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Code        domain.RoomCode `json:"code,omitempty"`
	MemberCount int             `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
