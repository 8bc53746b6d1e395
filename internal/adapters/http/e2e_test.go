package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	router "github.com/abnjv/Ha-sub000/internal/adapters/http"
	"github.com/abnjv/Ha-sub000/internal/adapters/signal"
	"github.com/abnjv/Ha-sub000/internal/app"
	"github.com/abnjv/Ha-sub000/internal/app/orch"
	"github.com/abnjv/Ha-sub000/internal/client"
	"github.com/abnjv/Ha-sub000/internal/config"
	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
	"github.com/abnjv/Ha-sub000/internal/notify"
	"github.com/abnjv/Ha-sub000/internal/peer"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Mode:        "release",
		StaticPath:  t.TempDir(),
		ReadLimit:   32768,
		PingPeriod:  30 * time.Second,
		Secret:      "e2e-secret",
		LinkTimeout: 30 * time.Second,
	}

	rooms := app.NewRoomManager()
	streams := app.NewStreamManager()
	relay := orch.New(app.NewRegistry(), rooms, streams, app.SimplePolicy{}, notify.NewLogNotifier())
	ctrl := signal.NewController(relay, nil, cfg.ReadLimit, cfg.PingPeriod)
	api := &router.API{Rooms: rooms, Streams: streams, Secret: cfg.Secret}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, ctrl, api))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	return srv, wsURL
}

func dial(t *testing.T, wsURL string, self domain.PeerID) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), wsURL, self)
	if err != nil {
		t.Fatalf("dial %s: %v", self, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// nextOfKind drains the inbox until the wanted kind shows up. Other
// kinds in between are legitimate interleavings, not failures.
func nextOfKind(t *testing.T, c *client.Client, kind core.Kind) core.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-c.Inbox():
			if !ok {
				t.Fatalf("connection closed while waiting for %s", kind)
			}
			if env.Kind == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestSignalingSessionOverWebsocket(t *testing.T) {
	_, wsURL := newTestServer(t)

	a := dial(t, wsURL, "aaaa")
	b := dial(t, wsURL, "bbbb")

	// a joins first and sees an empty room.
	if err := a.Send(core.Envelope{Kind: core.KindJoinRoom, Room: "r1"}); err != nil {
		t.Fatalf("a join: %v", err)
	}
	state := nextOfKind(t, a, core.KindRoomState)
	var stateA core.RoomStatePayload
	if err := json.Unmarshal(state.Payload, &stateA); err != nil {
		t.Fatalf("room state payload: %v", err)
	}
	if len(stateA.Members) != 0 {
		t.Fatalf("first joiner saw members %+v", stateA.Members)
	}

	// b joins and sees a; a hears presence.
	if err := b.Send(core.Envelope{Kind: core.KindJoinRoom, Room: "r1"}); err != nil {
		t.Fatalf("b join: %v", err)
	}
	state = nextOfKind(t, b, core.KindRoomState)
	var stateB core.RoomStatePayload
	if err := json.Unmarshal(state.Payload, &stateB); err != nil {
		t.Fatalf("room state payload: %v", err)
	}
	if len(stateB.Members) != 1 || stateB.Members[0].ID != "aaaa" {
		t.Fatalf("second joiner snapshot = %+v, want just aaaa", stateB.Members)
	}
	if joined := nextOfKind(t, a, core.KindPresenceJoined); joined.Sender != "bbbb" {
		t.Fatalf("presence-joined sender = %s, want bbbb", joined.Sender)
	}

	// Relay forwards the negotiation kinds verbatim and fills in the
	// sender from the connection.
	payload, _ := json.Marshal(map[string]string{"sdp": "v=0"})
	if err := a.Send(core.Envelope{Kind: core.KindOffer, Sender: "spoofed", Target: "bbbb", Payload: payload}); err != nil {
		t.Fatalf("a offer: %v", err)
	}
	offer := nextOfKind(t, b, core.KindOffer)
	if offer.Sender != "aaaa" {
		t.Fatalf("offer sender = %s, spoofed value passed through", offer.Sender)
	}
	if !bytes.Equal(offer.Payload, payload) {
		t.Fatalf("offer payload mangled: %s", offer.Payload)
	}

	if err := b.Send(core.Envelope{Kind: core.KindAnswer, Target: "aaaa", Payload: payload}); err != nil {
		t.Fatalf("b answer: %v", err)
	}
	if answer := nextOfKind(t, a, core.KindAnswer); answer.Sender != "bbbb" {
		t.Fatalf("answer sender = %s", answer.Sender)
	}

	if err := b.Send(core.Envelope{Kind: core.KindICECandidate, Target: "aaaa", Payload: payload}); err != nil {
		t.Fatalf("b candidate: %v", err)
	}
	nextOfKind(t, a, core.KindICECandidate)

	// Liveness check.
	if err := a.Send(core.Envelope{Kind: core.KindPing}); err != nil {
		t.Fatalf("a ping: %v", err)
	}
	nextOfKind(t, a, core.KindPong)

	// b going away is an implicit leave.
	_ = b.Close()
	if left := nextOfKind(t, a, core.KindPresenceLeft); left.Sender != "bbbb" {
		t.Fatalf("presence-left sender = %s, want bbbb", left.Sender)
	}
}

func TestMalformedEnvelopeGetsErrorReply(t *testing.T) {
	_, wsURL := newTestServer(t)
	a := dial(t, wsURL, "aaaa")

	if err := a.Send(core.Envelope{Kind: core.KindJoinRoom}); err != nil {
		t.Fatalf("send: %v", err)
	}
	errEnv := nextOfKind(t, a, core.KindError)
	var p core.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &p); err != nil || p.Error == "" {
		t.Fatalf("error payload = %s (%v)", errEnv.Payload, err)
	}
}

// pairTransport mimics a webrtc transport well enough for two session
// managers to converge over the real relay: it announces one candidate
// once the remote description lands and reports connected when the far
// side's candidate is delivered.
type pairTransport struct {
	mu          sync.Mutex
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(peer.TransportState)
	closed      bool
}

func (f *pairTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *pairTransport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *pairTransport) SetRemoteDescription(webrtc.SessionDescription) error {
	f.mu.Lock()
	cb := f.onCandidate
	f.mu.Unlock()
	if cb != nil {
		cb(webrtc.ICECandidateInit{Candidate: "candidate:fake 1 udp 1 127.0.0.1 9 typ host"})
	}
	return nil
}

func (f *pairTransport) AddICECandidate(webrtc.ICECandidateInit) error {
	f.mu.Lock()
	cb := f.onState
	f.mu.Unlock()
	if cb != nil {
		cb(peer.TransportConnected)
	}
	return nil
}

func (f *pairTransport) OnICECandidate(cb func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCandidate = cb
	f.mu.Unlock()
}

func (f *pairTransport) OnStateChange(cb func(peer.TransportState)) {
	f.mu.Lock()
	f.onState = cb
	f.mu.Unlock()
}

func (f *pairTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func pairFactory(domain.PeerID) (peer.Transport, error) {
	return &pairTransport{}, nil
}

func pollUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMeshManagersConvergeOverRelay(t *testing.T) {
	_, wsURL := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := dial(t, wsURL, "aaaa")
	b := dial(t, wsURL, "bbbb")

	meshA := peer.NewMeshManager("aaaa", "r1", a, pairFactory, peer.SystemClock(), 30*time.Second)
	meshB := peer.NewMeshManager("bbbb", "r1", b, pairFactory, peer.SystemClock(), 30*time.Second)
	go meshA.Run(ctx, a.Inbox())
	go meshB.Run(ctx, b.Inbox())

	if err := meshA.Join(); err != nil {
		t.Fatalf("a join: %v", err)
	}
	if err := meshB.Join(); err != nil {
		t.Fatalf("b join: %v", err)
	}

	pollUntil(t, "both links connected", func() bool {
		sa, okA := meshA.LinkState("bbbb")
		sb, okB := meshB.LinkState("aaaa")
		return okA && okB && sa == peer.StateConnected && sb == peer.StateConnected
	})

	roleA, _ := meshA.LinkRole("bbbb")
	roleB, _ := meshB.LinkRole("aaaa")
	if roleA != peer.RoleInitiator || roleB != peer.RoleResponder {
		t.Fatalf("roles = %s/%s, want initiator/responder", roleA, roleB)
	}

	// b dropping off the relay clears a's side of the mesh.
	_ = b.Close()
	pollUntil(t, "a's link torn down", func() bool {
		return meshA.LinkCount() == 0
	})
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("decode body %s: %v", raw, err)
	}
}

func TestRoomManagementAPI(t *testing.T) {
	srv, _ := newTestServer(t)

	// Room creation is gated on a token.
	resp := postJSON(t, srv.URL+"/api/rooms", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create = %d, want 401", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/auth/login", "", map[string]string{"username": "tester"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login = %d, want 200", resp.StatusCode)
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &login)
	if login.Token == "" {
		t.Fatalf("login returned no token")
	}

	resp = postJSON(t, srv.URL+"/api/rooms", login.Token, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room = %d, want 201", resp.StatusCode)
	}
	var created struct {
		RoomID string `json:"roomId"`
		Code   string `json:"code"`
	}
	decodeBody(t, resp, &created)
	if created.RoomID == "" || len(created.Code) != 6 {
		t.Fatalf("create room response = %+v", created)
	}

	// The short code resolves back to the room.
	getResp, err := http.Get(fmt.Sprintf("%s/api/rooms/%s", srv.URL, created.Code))
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get room = %d, want 200", getResp.StatusCode)
	}
	var room struct {
		ID string `json:"id"`
	}
	decodeBody(t, getResp, &room)
	if room.ID != created.RoomID {
		t.Fatalf("code resolved to %s, want %s", room.ID, created.RoomID)
	}

	getResp, err = http.Get(srv.URL + "/api/rooms/does-not-exist")
	if err != nil {
		t.Fatalf("get missing room: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing room = %d, want 404", getResp.StatusCode)
	}
}

func TestBroadcastSessionOverWebsocket(t *testing.T) {
	_, wsURL := newTestServer(t)

	bcast := dial(t, wsURL, "bcast")
	w := dial(t, wsURL, "watcher")

	if err := bcast.Send(core.Envelope{Kind: core.KindStartStream, Stream: "s1"}); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if err := w.Send(core.Envelope{Kind: core.KindWatchStream, Stream: "s1"}); err != nil {
		t.Fatalf("watch stream: %v", err)
	}

	watcher := nextOfKind(t, bcast, core.KindNewWatcher)
	if watcher.Sender != "watcher" || watcher.Stream != "s1" {
		t.Fatalf("new-watcher = %+v", watcher)
	}

	// The pair shares no room; the stream session alone routes the
	// negotiation envelopes.
	payload, _ := json.Marshal(map[string]string{"sdp": "v=0"})
	if err := bcast.Send(core.Envelope{Kind: core.KindOffer, Target: "watcher", Stream: "s1", Payload: payload}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	offer := nextOfKind(t, w, core.KindOffer)
	if offer.Sender != "bcast" || offer.Stream != "s1" {
		t.Fatalf("offer = %+v", offer)
	}

	if err := bcast.Send(core.Envelope{Kind: core.KindStopStream, Stream: "s1"}); err != nil {
		t.Fatalf("stop stream: %v", err)
	}
	ended := nextOfKind(t, w, core.KindStreamEnded)
	if ended.Stream != "s1" {
		t.Fatalf("stream-ended = %+v", ended)
	}
}
