package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/domain"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	byPeer map[domain.PeerID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:   room,
		byPeer: make(map[domain.PeerID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPeer)
}

func (r *roomImpl) AddMember(ms MemberSession) bool {
	p := ms.Peer()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPeer[p]; ok {
		return false
	}
	r.byPeer[p] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("peer", string(p)).Msg("member added")
	return true
}

func (r *roomImpl) RemoveMember(peer domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPeer[peer]; !ok {
		return false
	}
	delete(r.byPeer, peer)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("peer", string(peer)).Msg("member removed")
	return true
}

func (r *roomImpl) Has(peer domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPeer[peer]
	return ok
}

func (r *roomImpl) SendTo(target domain.PeerID, data Frame) bool {
	r.mu.RLock()
	ms, ok := r.byPeer[target]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := ms.Signal().TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "core.room").Str("target", string(target)).Msg("unicast dropped")
		return false
	}
	return true
}

func (r *roomImpl) Broadcast(from domain.PeerID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for peer, m := range r.byPeer {
		if peer == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) Peers() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(r.byPeer))
	for p := range r.byPeer {
		out = append(out, p)
	}
	return out
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.byPeer))
	for p, ms := range r.byPeer {
		dto := MemberDTO{ID: p}
		if u := ms.User(); u != nil {
			dto.Username = u.Username
		}
		out = append(out, dto)
	}
	return out
}
