package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/domain"
	"github.com/abnjv/Ha-sub000/internal/peer"
)

// Connection adapts a pion PeerConnection to peer.Transport.
type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.PeerID
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func New(cfg webrtc.Configuration, remote domain.PeerID) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc, remote: remote}, nil
}

// Factory builds peer.Transport instances for a session manager. When
// track is non-nil it is attached to every new connection, which is how
// a broadcaster fans its source out to watcher links.
func Factory(cfg webrtc.Configuration, track *webrtc.TrackLocalStaticRTP) peer.TransportFactory {
	return func(remote domain.PeerID) (peer.Transport, error) {
		c, err := New(cfg, remote)
		if err != nil {
			return nil, err
		}
		if track != nil {
			if _, err := c.pc.AddTrack(track); err != nil {
				_ = c.pc.Close()
				return nil, err
			}
		}
		return c, nil
	}
}

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Trickle ICE: candidates follow through OnICECandidate.
	return offer, nil
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *Connection) OnStateChange(fn func(peer.TransportState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Str("state", s.String()).Msg("peer connection state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			fn(peer.TransportConnected)
		case webrtc.PeerConnectionStateFailed:
			fn(peer.TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(peer.TransportClosed)
		}
	})
}

// OnTrack sets the application callback for remote media.
func (c *Connection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.pc.OnTrack(fn)
}

func (c *Connection) Close() error {
	return c.pc.Close()
}
