package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

type streamEntry struct {
	stream   domain.Stream
	watchers map[domain.PeerID]core.MemberSession
}

// StreamManager is the broadcast registry: one entry per live stream,
// holding the broadcaster slot and the watcher set. One connection may
// own several streams at once; byOwner keeps the full set so a
// disconnect can cascade over all of them. Mutated only by the relay's
// operation handlers.
type StreamManager struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*streamEntry
	byOwner map[domain.PeerID]map[domain.StreamID]struct{}
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		streams: make(map[domain.StreamID]*streamEntry),
		byOwner: make(map[domain.PeerID]map[domain.StreamID]struct{}),
	}
}

// Start registers a live stream. Re-announcing an id already owned by
// another broadcaster is rejected.
func (m *StreamManager) Start(id domain.StreamID, broadcaster domain.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.streams[id]; ok {
		return e.stream.Broadcaster == broadcaster
	}
	m.streams[id] = &streamEntry{
		stream:   domain.Stream{ID: id, Broadcaster: broadcaster, Live: true},
		watchers: make(map[domain.PeerID]core.MemberSession),
	}
	if m.byOwner[broadcaster] == nil {
		m.byOwner[broadcaster] = make(map[domain.StreamID]struct{})
	}
	m.byOwner[broadcaster][id] = struct{}{}
	log.Info().Str("module", "app.streams").Str("stream", string(id)).Str("broadcaster", string(broadcaster)).Msg("stream started")
	return true
}

func (m *StreamManager) Get(id domain.StreamID) (domain.Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.streams[id]
	if !ok {
		return domain.Stream{}, false
	}
	return e.stream, true
}

// OwnedBy returns every stream the broadcaster currently owns.
func (m *StreamManager) OwnedBy(broadcaster domain.PeerID) []domain.StreamID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StreamID, 0, len(m.byOwner[broadcaster]))
	for id := range m.byOwner[broadcaster] {
		out = append(out, id)
	}
	return out
}

// AddWatcher reports false when the stream is not live or the watcher
// is already registered, so a watcher is never counted twice.
func (m *StreamManager) AddWatcher(id domain.StreamID, ms core.MemberSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.streams[id]
	if !ok || !e.stream.Live {
		return false
	}
	if _, ok := e.watchers[ms.Peer()]; ok {
		return false
	}
	e.watchers[ms.Peer()] = ms
	return true
}

func (m *StreamManager) RemoveWatcher(id domain.StreamID, watcher domain.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.streams[id]
	if !ok {
		return false
	}
	if _, ok := e.watchers[watcher]; !ok {
		return false
	}
	delete(e.watchers, watcher)
	return true
}

// SameSession reports whether two peers share a broadcast session,
// in either direction of the star.
func (m *StreamManager) SameSession(a, b domain.PeerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.streams {
		aIn := e.stream.Broadcaster == a
		bIn := e.stream.Broadcaster == b
		if _, ok := e.watchers[a]; ok {
			aIn = true
		}
		if _, ok := e.watchers[b]; ok {
			bIn = true
		}
		if aIn && bIn {
			return true
		}
	}
	return false
}

// Stop tears the stream down and returns the watcher sessions that
// still need a stream-ended notification. Exactly one call wins.
func (m *StreamManager) Stop(id domain.StreamID) ([]core.MemberSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.streams[id]
	if !ok {
		return nil, false
	}
	delete(m.streams, id)
	if owned := m.byOwner[e.stream.Broadcaster]; owned != nil {
		delete(owned, id)
		if len(owned) == 0 {
			delete(m.byOwner, e.stream.Broadcaster)
		}
	}
	out := make([]core.MemberSession, 0, len(e.watchers))
	for _, ms := range e.watchers {
		out = append(out, ms)
	}
	log.Info().Str("module", "app.streams").Str("stream", string(id)).Int("watchers", len(out)).Msg("stream stopped")
	return out, true
}

// WatchedBy returns the streams a peer is currently watching.
func (m *StreamManager) WatchedBy(watcher domain.PeerID) []domain.StreamID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.StreamID
	for id, e := range m.streams {
		if _, ok := e.watchers[watcher]; ok {
			out = append(out, id)
		}
	}
	return out
}

type StreamInfo struct {
	ID          domain.StreamID `json:"id"`
	Broadcaster domain.PeerID   `json:"broadcaster"`
	ViewerCount int             `json:"viewer_count"`
}

func (m *StreamManager) List() []StreamInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StreamInfo, 0, len(m.streams))
	for id, e := range m.streams {
		out = append(out, StreamInfo{ID: id, Broadcaster: e.stream.Broadcaster, ViewerCount: len(e.watchers)})
	}
	return out
}
