package peer

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

// TransportState is the subset of connectivity states the negotiation
// layer cares about.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// Transport is one underlying peer connection. The state machine talks
// to it through this seam so negotiation is testable without a network
// stack.
type Transport interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer requires the remote offer to be applied first.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(TransportState))
	Close() error
}

// TransportFactory creates the transport for a link toward peer.
type TransportFactory func(peer domain.PeerID) (Transport, error)

// Sender delivers envelopes toward the relay.
type Sender interface {
	Send(env core.Envelope) error
}

// DescriptionPayload carries an SDP offer or answer.
type DescriptionPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// CandidatePayload carries one ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}
