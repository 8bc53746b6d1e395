// Package peer holds the client-side session managers: one link state
// machine per remote peer, a mesh manager for voice rooms and a star
// manager for live broadcasts.
package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswerSent
	StateAnswerReceived
	StateConnected
	StateFailed
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerSent:
		return "answer-sent"
	case StateAnswerReceived:
		return "answer-received"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// legalNext is the forward-only transition table. failed and closed are
// reachable from every non-terminal state and a link never re-enters
// new.
var legalNext = map[NegotiationState][]NegotiationState{
	StateNew:            {StateOfferSent, StateOfferReceived},
	StateOfferSent:      {StateAnswerReceived},
	StateOfferReceived:  {StateAnswerSent},
	StateAnswerSent:     {StateConnected},
	StateAnswerReceived: {StateConnected},
}

// Link is one negotiated connection toward a single remote peer. All
// mutation goes through its methods; the owning manager is the only
// holder.
type Link struct {
	self   domain.PeerID
	peer   domain.PeerID
	role   Role
	stream domain.StreamID // set for star links only

	sender    Sender
	transport Transport
	clock     Clock
	timeout   time.Duration

	mu        sync.Mutex
	state     NegotiationState
	deadline  time.Time
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	onClosed func(peer domain.PeerID, final NegotiationState)
}

func newLink(self, remote domain.PeerID, role Role, tr Transport, sender Sender, clock Clock, timeout time.Duration) *Link {
	l := &Link{
		self:      self,
		peer:      remote,
		role:      role,
		sender:    sender,
		transport: tr,
		clock:     clock,
		timeout:   timeout,
		state:     StateNew,
	}
	tr.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		l.sendCandidate(ci)
	})
	tr.OnStateChange(func(s TransportState) {
		switch s {
		case TransportConnected:
			l.markConnected()
		case TransportFailed:
			l.Fail()
		}
	})
	return l
}

func (l *Link) Peer() domain.PeerID { return l.peer }
func (l *Link) Role() Role          { return l.role }

func (l *Link) State() NegotiationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// advance moves the state machine forward; illegal transitions are
// rejected and logged, never applied.
func (l *Link) advance(to NegotiationState) bool {
	if l.state == StateClosed || l.state == StateFailed {
		return false
	}
	if to == StateFailed || to == StateClosed {
		l.state = to
		return true
	}
	for _, next := range legalNext[l.state] {
		if next == to {
			l.state = to
			return true
		}
	}
	log.Warn().Str("module", "peer.link").
		Str("peer", string(l.peer)).
		Str("from", l.state.String()).
		Str("to", to.String()).
		Msg("illegal transition rejected")
	return false
}

// Negotiate runs the initiator side: create a local description, send
// the offer and arm the half-open timeout. Runs as its own goroutine so
// unrelated envelopes are never blocked behind it.
func (l *Link) Negotiate(ctx context.Context) {
	offer, err := l.transport.CreateOffer(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("create offer")
		l.Fail()
		return
	}

	l.mu.Lock()
	if !l.advance(StateOfferSent) {
		l.mu.Unlock()
		return
	}
	l.deadline = l.clock.Now().Add(l.timeout)
	l.mu.Unlock()

	l.sendDescription(core.KindOffer, offer)
}

// Accept runs the responder side against a received offer: apply the
// remote description, flush any early candidates, answer.
func (l *Link) Accept(ctx context.Context, offer webrtc.SessionDescription) {
	l.mu.Lock()
	if !l.advance(StateOfferReceived) {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.applyRemote(offer); err != nil {
		log.Error().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("apply offer")
		l.Fail()
		return
	}

	answer, err := l.transport.CreateAnswer(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("create answer")
		l.Fail()
		return
	}

	l.mu.Lock()
	if !l.advance(StateAnswerSent) {
		l.mu.Unlock()
		return
	}
	l.deadline = l.clock.Now().Add(l.timeout)
	l.mu.Unlock()

	l.sendDescription(core.KindAnswer, answer)
}

// HandleAnswer completes the initiator's exchange.
func (l *Link) HandleAnswer(answer webrtc.SessionDescription) {
	l.mu.Lock()
	if !l.advance(StateAnswerReceived) {
		l.mu.Unlock()
		return
	}
	l.deadline = time.Time{}
	l.mu.Unlock()

	if err := l.applyRemote(answer); err != nil {
		log.Error().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("apply answer")
		l.Fail()
	}
}

// applyRemote sets the remote description and flushes candidates that
// arrived early, in arrival order.
func (l *Link) applyRemote(desc webrtc.SessionDescription) error {
	if err := l.transport.SetRemoteDescription(desc); err != nil {
		return err
	}
	l.mu.Lock()
	l.remoteSet = true
	buffered := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, ci := range buffered {
		if err := l.transport.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("flush candidate")
		}
	}
	return nil
}

// AddRemoteCandidate buffers candidates until the remote description is
// applied; none are dropped.
func (l *Link) AddRemoteCandidate(ci webrtc.ICECandidateInit) {
	l.mu.Lock()
	if l.state == StateClosed || l.state == StateFailed {
		l.mu.Unlock()
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, ci)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.transport.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("add candidate")
	}
}

// BufferedCandidates reports how many candidates are waiting on the
// remote description.
func (l *Link) BufferedCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Link) markConnected() {
	l.mu.Lock()
	if !l.advance(StateConnected) {
		l.mu.Unlock()
		return
	}
	l.deadline = time.Time{}
	l.mu.Unlock()
	log.Info().Str("module", "peer.link").Str("peer", string(l.peer)).Str("role", l.role.String()).Msg("link connected")
}

// Fail marks the link failed and tears the transport down. The owning
// manager removes it; no retry happens at this layer.
func (l *Link) Fail() {
	l.finish(StateFailed)
}

// Close releases the link synchronously.
func (l *Link) Close() {
	l.finish(StateClosed)
}

func (l *Link) finish(final NegotiationState) {
	l.mu.Lock()
	if l.state == StateClosed || l.state == StateFailed {
		l.mu.Unlock()
		return
	}
	l.state = final
	l.pending = nil
	l.deadline = time.Time{}
	l.mu.Unlock()

	if err := l.transport.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("transport close")
	}
	if l.onClosed != nil {
		l.onClosed(l.peer, final)
	}
}

// expired reports whether the link sat half-open past its deadline.
func (l *Link) expired(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOfferSent && l.state != StateAnswerSent {
		return false
	}
	return !l.deadline.IsZero() && now.After(l.deadline)
}

func (l *Link) sendDescription(kind core.Kind, desc webrtc.SessionDescription) {
	payload, err := json.Marshal(DescriptionPayload{SDP: desc})
	if err != nil {
		log.Error().Err(err).Str("module", "peer.link").Msg("marshal description")
		return
	}
	env := core.Envelope{
		Kind:    kind,
		Sender:  l.self,
		Target:  l.peer,
		Stream:  l.stream,
		Payload: payload,
	}
	if err := l.sender.Send(env); err != nil {
		log.Error().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("send description")
	}
}

func (l *Link) sendCandidate(ci webrtc.ICECandidateInit) {
	payload, err := json.Marshal(CandidatePayload{Candidate: ci})
	if err != nil {
		log.Error().Err(err).Str("module", "peer.link").Msg("marshal candidate")
		return
	}
	env := core.Envelope{
		Kind:    core.KindICECandidate,
		Sender:  l.self,
		Target:  l.peer,
		Stream:  l.stream,
		Payload: payload,
	}
	if err := l.sender.Send(env); err != nil {
		log.Warn().Err(err).Str("module", "peer.link").Str("peer", string(l.peer)).Msg("send candidate")
	}
}
