package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// envelopeLog is a Sender that records everything handed to it.
type envelopeLog struct {
	mu   sync.Mutex
	envs []core.Envelope
}

func (s *envelopeLog) Send(env core.Envelope) error {
	s.mu.Lock()
	s.envs = append(s.envs, env)
	s.mu.Unlock()
	return nil
}

func (s *envelopeLog) byKind(kind core.Kind) []core.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Envelope
	for _, e := range s.envs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *envelopeLog) countKind(kind core.Kind) int { return len(s.byKind(kind)) }

// fakeTransport is a scriptable Transport. With emitOnRemote set it
// fires one local candidate when the remote description lands, and
// with connectOnCandidate set it reports connected when a remote
// candidate is delivered. Together those make a pair of fakes converge
// the way a real pair does, without any network.
type fakeTransport struct {
	mu                 sync.Mutex
	offerErr           error
	answerErr          error
	remote             *webrtc.SessionDescription
	added              []webrtc.ICECandidateInit
	closed             bool
	emitOnRemote       bool
	connectOnCandidate bool
	onCandidate        func(webrtc.ICECandidateInit)
	onState            func(TransportState)
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	err := f.offerErr
	f.mu.Unlock()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	err := f.answerErr
	f.mu.Unlock()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	f.remote = &desc
	emit := f.emitOnRemote
	cb := f.onCandidate
	f.mu.Unlock()
	if emit && cb != nil {
		cb(webrtc.ICECandidateInit{Candidate: "candidate:fake 1 udp 1 127.0.0.1 9 typ host"})
	}
	return nil
}

func (f *fakeTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	f.mu.Lock()
	f.added = append(f.added, ci)
	connect := f.connectOnCandidate
	cb := f.onState
	f.mu.Unlock()
	if connect && cb != nil {
		cb(TransportConnected)
	}
	return nil
}

func (f *fakeTransport) OnICECandidate(cb func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCandidate = cb
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(cb func(TransportState)) {
	f.mu.Lock()
	f.onState = cb
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) remoteSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote != nil
}

func (f *fakeTransport) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) fireState(s TransportState) {
	f.mu.Lock()
	cb := f.onState
	f.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestLink(role Role) (*Link, *fakeTransport, *envelopeLog, *fakeClock) {
	tr := &fakeTransport{}
	sender := &envelopeLog{}
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := newLink("a", "b", role, tr, sender, clk, 30*time.Second)
	return l, tr, sender, clk
}

func TestLinkInitiatorFlow(t *testing.T) {
	l, tr, sender, _ := newTestLink(RoleInitiator)

	l.Negotiate(context.Background())
	if got := l.State(); got != StateOfferSent {
		t.Fatalf("state after negotiate = %s, want offer-sent", got)
	}
	offers := sender.byKind(core.KindOffer)
	if len(offers) != 1 {
		t.Fatalf("offers sent = %d, want 1", len(offers))
	}
	if offers[0].Target != "b" || offers[0].Sender != "a" {
		t.Fatalf("offer addressing = %s -> %s", offers[0].Sender, offers[0].Target)
	}

	l.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if got := l.State(); got != StateAnswerReceived {
		t.Fatalf("state after answer = %s, want answer-received", got)
	}
	if !tr.remoteSet() {
		t.Fatalf("answer was not applied to the transport")
	}

	tr.fireState(TransportConnected)
	if got := l.State(); got != StateConnected {
		t.Fatalf("state after transport connected = %s, want connected", got)
	}
}

func TestLinkResponderFlow(t *testing.T) {
	l, tr, sender, _ := newTestLink(RoleResponder)

	l.Accept(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	if got := l.State(); got != StateAnswerSent {
		t.Fatalf("state after accept = %s, want answer-sent", got)
	}
	if !tr.remoteSet() {
		t.Fatalf("offer was not applied to the transport")
	}
	if n := sender.countKind(core.KindAnswer); n != 1 {
		t.Fatalf("answers sent = %d, want 1", n)
	}

	tr.fireState(TransportConnected)
	if got := l.State(); got != StateConnected {
		t.Fatalf("state after transport connected = %s, want connected", got)
	}
}

func TestLinkRejectsCrossedOffer(t *testing.T) {
	l, _, sender, _ := newTestLink(RoleInitiator)

	l.Negotiate(context.Background())
	// A crossed offer from the remote must not knock us out of
	// offer-sent; the tie-break upstream means it never answers ours
	// and ours never answers theirs.
	l.Accept(context.Background(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})

	if got := l.State(); got != StateOfferSent {
		t.Fatalf("state after crossed offer = %s, want offer-sent", got)
	}
	if n := sender.countKind(core.KindAnswer); n != 0 {
		t.Fatalf("answers sent = %d, want 0", n)
	}
}

func TestLinkIgnoresPrematureAnswer(t *testing.T) {
	l, tr, _, _ := newTestLink(RoleInitiator)

	l.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if got := l.State(); got != StateNew {
		t.Fatalf("state after premature answer = %s, want new", got)
	}
	if tr.remoteSet() {
		t.Fatalf("premature answer must not reach the transport")
	}
}

func TestLinkBuffersCandidatesUntilRemoteSet(t *testing.T) {
	l, tr, _, _ := newTestLink(RoleInitiator)
	l.Negotiate(context.Background())

	first := webrtc.ICECandidateInit{Candidate: "candidate:1"}
	second := webrtc.ICECandidateInit{Candidate: "candidate:2"}
	l.AddRemoteCandidate(first)
	l.AddRemoteCandidate(second)

	if got := l.BufferedCandidates(); got != 2 {
		t.Fatalf("buffered = %d, want 2", got)
	}
	if tr.addedCount() != 0 {
		t.Fatalf("candidates reached transport before remote description")
	}

	l.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})

	if tr.addedCount() != 2 {
		t.Fatalf("flushed = %d, want 2", tr.addedCount())
	}
	tr.mu.Lock()
	ordered := tr.added[0].Candidate == first.Candidate && tr.added[1].Candidate == second.Candidate
	tr.mu.Unlock()
	if !ordered {
		t.Fatalf("candidates flushed out of arrival order")
	}

	// After the remote description, candidates go straight through.
	l.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: "candidate:3"})
	if tr.addedCount() != 3 {
		t.Fatalf("post-remote candidate not applied, added = %d", tr.addedCount())
	}
	if got := l.BufferedCandidates(); got != 0 {
		t.Fatalf("buffered after flush = %d, want 0", got)
	}
}

func TestLinkTimeoutOnlyWhileHalfOpen(t *testing.T) {
	l, _, _, clk := newTestLink(RoleInitiator)

	if l.expired(clk.Now()) {
		t.Fatalf("a new link must not be expired")
	}

	l.Negotiate(context.Background())
	if l.expired(clk.Now()) {
		t.Fatalf("link expired before its deadline")
	}

	clk.Advance(31 * time.Second)
	if !l.expired(clk.Now()) {
		t.Fatalf("half-open link did not expire past the deadline")
	}

	// Completing the exchange clears the deadline.
	l.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if l.expired(clk.Now().Add(time.Hour)) {
		t.Fatalf("answered link must never expire")
	}
}

func TestLinkFinishIsTerminalAndIdempotent(t *testing.T) {
	l, tr, _, _ := newTestLink(RoleInitiator)

	var finals []NegotiationState
	l.onClosed = func(_ domain.PeerID, final NegotiationState) {
		finals = append(finals, final)
	}

	l.Negotiate(context.Background())
	l.Fail()
	if got := l.State(); got != StateFailed {
		t.Fatalf("state after fail = %s, want failed", got)
	}
	if !tr.isClosed() {
		t.Fatalf("transport not closed on fail")
	}

	// A later close must not resurrect or re-fire anything.
	l.Close()
	if got := l.State(); got != StateFailed {
		t.Fatalf("state after close-after-fail = %s, want failed", got)
	}
	if len(finals) != 1 || finals[0] != StateFailed {
		t.Fatalf("onClosed fired %d times with %v, want once with failed", len(finals), finals)
	}

	// Terminal links drop incoming candidates.
	l.AddRemoteCandidate(webrtc.ICECandidateInit{Candidate: "candidate:late"})
	if got := l.BufferedCandidates(); got != 0 {
		t.Fatalf("terminal link buffered a candidate")
	}
}
