package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

type sessionEntry struct {
	Room    domain.RoomID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry tracks live signaling connections and which room each one
// currently belongs to. Held by the relay instance, never a global.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]*sessionEntry
	users    map[domain.PeerID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.PeerID]*sessionEntry),
		users:    make(map[domain.PeerID]*domain.User),
	}
}

func (r *Registry) GetOrCreateUser(peer domain.PeerID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[peer]; ok {
		return u
	}
	u := &domain.User{ID: domain.UserID(peer), Username: "guest"}
	r.users[peer] = u
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("created new user")
	return u
}

func (r *Registry) UpdateUsername(peer domain.PeerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[peer]
	if !ok {
		u = &domain.User{ID: domain.UserID(peer)}
		r.users[peer] = u
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Str("username", name).Msg("updated username")
	return nil
}

func (r *Registry) BindSignal(peer domain.PeerID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[peer] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("bound signal")
}

func (r *Registry) GetSession(peer domain.PeerID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[peer]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(peer domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, peer)
	delete(r.users, peer)
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("unbind session")
}

func (r *Registry) RoomOf(peer domain.PeerID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[peer]
	if !ok || entry.Room == "" {
		return "", nil, false
	}
	return entry.Room, entry.Session, true
}

func (r *Registry) UpdateRoom(peer domain.PeerID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[peer]
	if !ok {
		return false
	}
	entry.Room = room
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Str("room", string(room)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(peer domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[peer]; ok {
		entry.Room = ""
	}
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("removed room association")
}

// Cancel fires the context bound to a connection and closes its signal
// transport. Closing unblocks a read pump parked on the socket, so the
// kick takes effect now instead of at the next read deadline.
func (r *Registry) Cancel(peer domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.sessions[peer]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	if e.Session != nil {
		e.Session.Signal().Close()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("canceled session")
	return true
}
