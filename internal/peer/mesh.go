package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

// MeshManager drives one link per other participant of a voice room.
// Who initiates is decided by id order, so a pair never sends crossed
// offers at each other. The manager is a single-owner arena: all link
// map mutation goes through its method surface, guarded by one mutex.
// Transport work runs as detached tasks per link and reports back
// through the Link's own lock.
type MeshManager struct {
	self    domain.PeerID
	room    domain.RoomID
	sender  Sender
	factory TransportFactory
	clock   Clock
	timeout time.Duration

	mu    sync.Mutex
	links map[domain.PeerID]*Link
}

func NewMeshManager(self domain.PeerID, room domain.RoomID, sender Sender, factory TransportFactory, clock Clock, timeout time.Duration) *MeshManager {
	return &MeshManager{
		self:    self,
		room:    room,
		sender:  sender,
		factory: factory,
		clock:   clock,
		timeout: timeout,
		links:   make(map[domain.PeerID]*Link),
	}
}

// Join announces the room membership to the relay. The room-state reply
// arrives through HandleEnvelope.
func (m *MeshManager) Join() error {
	return m.sender.Send(core.Envelope{
		Kind:   core.KindJoinRoom,
		Sender: m.self,
		Room:   m.room,
	})
}

// Run consumes the inbound envelope queue until ctx ends, sweeping
// half-open links on every tick. Leaving tears every link down.
func (m *MeshManager) Run(ctx context.Context, inbox <-chan core.Envelope) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case env, ok := <-inbox:
			if !ok {
				m.closeAll()
				return
			}
			m.HandleEnvelope(ctx, env)
		case <-ticker.C:
			m.SweepTimeouts(m.clock.Now())
		}
	}
}

// HandleEnvelope advances the per-peer state machines. Envelopes tagged
// with a stream id belong to the star manager and are ignored here.
func (m *MeshManager) HandleEnvelope(ctx context.Context, env core.Envelope) {
	if env.Stream != "" {
		return
	}
	switch env.Kind {
	case core.KindRoomState:
		var state core.RoomStatePayload
		if err := json.Unmarshal(env.Payload, &state); err != nil {
			log.Warn().Err(err).Str("module", "peer.mesh").Msg("bad room-state payload")
			return
		}
		for _, member := range state.Members {
			m.considerPeer(ctx, member.ID)
		}
	case core.KindPresenceJoined:
		m.considerPeer(ctx, env.Sender)
	case core.KindPresenceLeft:
		m.dropPeer(env.Sender)
	case core.KindOffer:
		m.handleOffer(ctx, env)
	case core.KindAnswer:
		m.handleAnswer(env)
	case core.KindICECandidate:
		m.handleCandidate(env)
	}
}

// considerPeer opens an initiator link iff the tie-break says we start.
// Otherwise the other side's offer will arrive and we respond.
func (m *MeshManager) considerPeer(ctx context.Context, peer domain.PeerID) {
	if peer == "" || peer == m.self {
		return
	}
	if !m.self.Initiates(peer) {
		return
	}
	m.mu.Lock()
	if _, ok := m.links[peer]; ok {
		m.mu.Unlock()
		return
	}
	link, err := m.createLink(peer, RoleInitiator)
	m.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "peer.mesh").Str("peer", string(peer)).Msg("create link")
		return
	}
	go link.Negotiate(ctx)
}

func (m *MeshManager) handleOffer(ctx context.Context, env core.Envelope) {
	var p DescriptionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Err(err).Str("module", "peer.mesh").Msg("bad offer payload")
		return
	}
	m.mu.Lock()
	link, ok := m.links[env.Sender]
	if !ok {
		var err error
		link, err = m.createLink(env.Sender, RoleResponder)
		if err != nil {
			m.mu.Unlock()
			log.Error().Err(err).Str("module", "peer.mesh").Str("peer", string(env.Sender)).Msg("create responder link")
			return
		}
	}
	m.mu.Unlock()
	go link.Accept(ctx, p.SDP)
}

func (m *MeshManager) handleAnswer(env core.Envelope) {
	var p DescriptionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Err(err).Str("module", "peer.mesh").Msg("bad answer payload")
		return
	}
	if link, ok := m.link(env.Sender); ok {
		link.HandleAnswer(p.SDP)
	}
}

func (m *MeshManager) handleCandidate(env core.Envelope) {
	var p CandidatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Err(err).Str("module", "peer.mesh").Msg("bad candidate payload")
		return
	}
	if link, ok := m.link(env.Sender); ok {
		link.AddRemoteCandidate(p.Candidate)
	}
}

func (m *MeshManager) link(peer domain.PeerID) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[peer]
	return l, ok
}

// createLink requires m.mu held.
func (m *MeshManager) createLink(peer domain.PeerID, role Role) (*Link, error) {
	tr, err := m.factory(peer)
	if err != nil {
		return nil, err
	}
	link := newLink(m.self, peer, role, tr, m.sender, m.clock, m.timeout)
	link.onClosed = func(p domain.PeerID, final NegotiationState) {
		log.Info().Str("module", "peer.mesh").Str("peer", string(p)).Str("state", final.String()).Msg("link finished")
	}
	m.links[peer] = link
	return link, nil
}

func (m *MeshManager) dropPeer(peer domain.PeerID) {
	m.mu.Lock()
	link, ok := m.links[peer]
	if ok {
		delete(m.links, peer)
	}
	m.mu.Unlock()
	if ok {
		link.Close()
	}
}

// SweepTimeouts fails links stuck half-open past their deadline and
// prunes links the transport already reported dead.
func (m *MeshManager) SweepTimeouts(now time.Time) {
	m.mu.Lock()
	var timedOut []*Link
	for peer, link := range m.links {
		if link.expired(now) {
			log.Warn().Str("module", "peer.mesh").Str("peer", string(peer)).Msg("negotiation timed out")
			delete(m.links, peer)
			timedOut = append(timedOut, link)
			continue
		}
		if s := link.State(); s == StateFailed || s == StateClosed {
			delete(m.links, peer)
		}
	}
	m.mu.Unlock()
	for _, link := range timedOut {
		link.Fail()
	}
}

// Leave closes every link synchronously, then tells the relay.
func (m *MeshManager) Leave() error {
	m.closeAll()
	return m.sender.Send(core.Envelope{
		Kind:   core.KindLeaveRoom,
		Sender: m.self,
	})
}

func (m *MeshManager) closeAll() {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for peer, link := range m.links {
		delete(m.links, peer)
		links = append(links, link)
	}
	m.mu.Unlock()
	for _, link := range links {
		link.Close()
	}
}

func (m *MeshManager) LinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *MeshManager) LinkState(peer domain.PeerID) (NegotiationState, bool) {
	link, ok := m.link(peer)
	if !ok {
		return StateClosed, false
	}
	return link.State(), true
}

// LinkRole reports the negotiated role toward peer.
func (m *MeshManager) LinkRole(peer domain.PeerID) (Role, bool) {
	link, ok := m.link(peer)
	if !ok {
		return RoleInitiator, false
	}
	return link.Role(), true
}
