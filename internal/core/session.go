package core

import "github.com/abnjv/Ha-sub000/internal/domain"

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	peer domain.PeerID
	user *domain.User
	conn SignalConnection
}

func NewMemberSession(peer domain.PeerID, user *domain.User, conn SignalConnection) MemberSession {
	return &memberSession{peer: peer, user: user, conn: conn}
}

func (m *memberSession) Peer() domain.PeerID      { return m.peer }
func (m *memberSession) User() *domain.User       { return m.user }
func (m *memberSession) Signal() SignalConnection { return m.conn }
