package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// SharedSource reference-counts a broadcaster's local media track so
// closing one watcher's link never releases the source for the others.
// The owner holds the initial reference until Stop.
type SharedSource struct {
	mu      sync.Mutex
	refs    int
	track   *webrtc.TrackLocalStaticRTP
	release func()
}

func NewSharedSource(track *webrtc.TrackLocalStaticRTP, release func()) *SharedSource {
	return &SharedSource{refs: 1, track: track, release: release}
}

func (s *SharedSource) Track() *webrtc.TrackLocalStaticRTP { return s.track }

func (s *SharedSource) Acquire() {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

// Release drops one reference; the underlying source is released only
// when the last holder lets go.
func (s *SharedSource) Release() {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.refs--
	last := s.refs == 0
	s.mu.Unlock()
	if last && s.release != nil {
		s.release()
	}
}

func (s *SharedSource) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
