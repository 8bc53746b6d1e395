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

type StarRole int

const (
	StarBroadcaster StarRole = iota
	StarWatcher
)

// BroadcastManager is the star-topology counterpart of MeshManager.
// A broadcaster owns one outbound link per watcher; a watcher owns
// exactly one link, toward the broadcaster. Like MeshManager it is a
// single-owner arena: all map mutation goes through its method
// surface, guarded by one mutex.
type BroadcastManager struct {
	self    domain.PeerID
	stream  domain.StreamID
	role    StarRole
	sender  Sender
	factory TransportFactory
	clock   Clock
	timeout time.Duration

	// source is the broadcaster's local media; nil for watchers.
	source *SharedSource

	mu    sync.Mutex
	links map[domain.PeerID]*Link
	live  bool
}

func NewBroadcastManager(self domain.PeerID, stream domain.StreamID, role StarRole, sender Sender, factory TransportFactory, clock Clock, timeout time.Duration) *BroadcastManager {
	return &BroadcastManager{
		self:    self,
		stream:  stream,
		role:    role,
		sender:  sender,
		factory: factory,
		clock:   clock,
		timeout: timeout,
		links:   make(map[domain.PeerID]*Link),
	}
}

// AttachSource hands the broadcaster its refcounted local media. Must
// be set before Start; a failed media acquisition is a startup failure
// surfaced by the caller, never a protocol error.
func (m *BroadcastManager) AttachSource(src *SharedSource) { m.source = src }

// Start announces the stream. Broadcaster role only.
func (m *BroadcastManager) Start() error {
	m.setLive(true)
	return m.sender.Send(core.Envelope{
		Kind:   core.KindStartStream,
		Sender: m.self,
		Stream: m.stream,
	})
}

// Watch announces intent to watch. Watcher role only; the broadcaster's
// offer arrives through HandleEnvelope.
func (m *BroadcastManager) Watch() error {
	m.setLive(true)
	return m.sender.Send(core.Envelope{
		Kind:   core.KindWatchStream,
		Sender: m.self,
		Stream: m.stream,
	})
}

// Run consumes the inbound envelope queue until ctx ends.
func (m *BroadcastManager) Run(ctx context.Context, inbox <-chan core.Envelope) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return
		case env, ok := <-inbox:
			if !ok {
				m.teardown()
				return
			}
			m.HandleEnvelope(ctx, env)
		case <-ticker.C:
			m.SweepTimeouts(m.clock.Now())
		}
	}
}

func (m *BroadcastManager) HandleEnvelope(ctx context.Context, env core.Envelope) {
	if env.Stream != m.stream {
		return
	}
	switch env.Kind {
	case core.KindNewWatcher:
		m.handleNewWatcher(ctx, env.Sender)
	case core.KindOffer:
		m.handleOffer(ctx, env)
	case core.KindAnswer:
		m.handleAnswer(env)
	case core.KindICECandidate:
		m.handleCandidate(env)
	case core.KindPresenceLeft:
		m.dropWatcher(env.Sender)
	case core.KindStreamEnded:
		m.handleStreamEnded()
	}
}

// handleNewWatcher opens one initiator link toward the watcher and
// pins the shared source for it.
func (m *BroadcastManager) handleNewWatcher(ctx context.Context, watcher domain.PeerID) {
	if m.role != StarBroadcaster || !m.Live() {
		return
	}
	m.mu.Lock()
	if _, ok := m.links[watcher]; ok {
		m.mu.Unlock()
		return
	}
	tr, err := m.factory(watcher)
	if err != nil {
		m.mu.Unlock()
		log.Error().Err(err).Str("module", "peer.star").Str("watcher", string(watcher)).Msg("create watcher link")
		return
	}
	link := newLink(m.self, watcher, RoleInitiator, tr, m.sender, m.clock, m.timeout)
	link.stream = m.stream
	if m.source != nil {
		m.source.Acquire()
		var once sync.Once
		link.onClosed = func(domain.PeerID, NegotiationState) {
			once.Do(m.source.Release)
		}
	}
	m.links[watcher] = link
	viewers := len(m.links)
	m.mu.Unlock()
	go link.Negotiate(ctx)
	log.Info().Str("module", "peer.star").Str("watcher", string(watcher)).Int("viewers", viewers).Msg("watcher link opened")
}

// handleOffer is the watcher side: exactly one responder link, to the
// broadcaster.
func (m *BroadcastManager) handleOffer(ctx context.Context, env core.Envelope) {
	if m.role != StarWatcher {
		return
	}
	var p DescriptionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Err(err).Str("module", "peer.star").Msg("bad offer payload")
		return
	}
	m.mu.Lock()
	link, ok := m.links[env.Sender]
	if !ok {
		if len(m.links) != 0 {
			m.mu.Unlock()
			// A watcher holds a single link; a second offer source is
			// bogus traffic.
			log.Warn().Str("module", "peer.star").Str("sender", string(env.Sender)).Msg("offer from unexpected peer")
			return
		}
		tr, err := m.factory(env.Sender)
		if err != nil {
			m.mu.Unlock()
			log.Error().Err(err).Str("module", "peer.star").Msg("create broadcaster link")
			return
		}
		link = newLink(m.self, env.Sender, RoleResponder, tr, m.sender, m.clock, m.timeout)
		link.stream = m.stream
		m.links[env.Sender] = link
	}
	m.mu.Unlock()
	go link.Accept(ctx, p.SDP)
}

func (m *BroadcastManager) handleAnswer(env core.Envelope) {
	var p DescriptionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Err(err).Str("module", "peer.star").Msg("bad answer payload")
		return
	}
	if link, ok := m.link(env.Sender); ok {
		link.HandleAnswer(p.SDP)
	}
}

func (m *BroadcastManager) handleCandidate(env core.Envelope) {
	var p CandidatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Err(err).Str("module", "peer.star").Msg("bad candidate payload")
		return
	}
	if link, ok := m.link(env.Sender); ok {
		link.AddRemoteCandidate(p.Candidate)
	}
}

// dropWatcher closes one watcher link. The viewer count moves down
// exactly once because the map delete and Close are tied together.
func (m *BroadcastManager) dropWatcher(watcher domain.PeerID) {
	m.mu.Lock()
	link, ok := m.links[watcher]
	if ok {
		delete(m.links, watcher)
	}
	viewers := len(m.links)
	m.mu.Unlock()
	if ok {
		link.Close()
		log.Info().Str("module", "peer.star").Str("watcher", string(watcher)).Int("viewers", viewers).Msg("watcher gone")
	}
}

// handleStreamEnded is the watcher's teardown path, for both explicit
// stop and broadcaster disconnect.
func (m *BroadcastManager) handleStreamEnded() {
	if m.role != StarWatcher {
		return
	}
	m.setLive(false)
	m.closeAll()
	log.Info().Str("module", "peer.star").Str("stream", string(m.stream)).Msg("stream ended")
}

// Stop is the broadcaster's explicit teardown: close every watcher
// link, mark not-live, tell the relay so watchers get stream-ended.
func (m *BroadcastManager) Stop() error {
	if m.role != StarBroadcaster {
		return nil
	}
	m.teardown()
	return m.sender.Send(core.Envelope{
		Kind:   core.KindStopStream,
		Sender: m.self,
		Stream: m.stream,
	})
}

func (m *BroadcastManager) teardown() {
	m.setLive(false)
	m.closeAll()
	if m.role == StarBroadcaster && m.source != nil {
		m.source.Release()
	}
}

func (m *BroadcastManager) closeAll() {
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

func (m *BroadcastManager) link(peer domain.PeerID) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[peer]
	return l, ok
}

func (m *BroadcastManager) setLive(v bool) {
	m.mu.Lock()
	m.live = v
	m.mu.Unlock()
}

func (m *BroadcastManager) SweepTimeouts(now time.Time) {
	m.mu.Lock()
	var timedOut []*Link
	for peer, link := range m.links {
		if link.expired(now) {
			log.Warn().Str("module", "peer.star").Str("peer", string(peer)).Msg("negotiation timed out")
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

func (m *BroadcastManager) ViewerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *BroadcastManager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// LinkState reports the negotiation state toward peer.
func (m *BroadcastManager) LinkState(peer domain.PeerID) (NegotiationState, bool) {
	link, ok := m.link(peer)
	if !ok {
		return StateClosed, false
	}
	return link.State(), true
}
