package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

// StartStream announces a live broadcast owned by peer.
func (o *Orchestrator) StartStream(peer domain.PeerID, streamID domain.StreamID) bool {
	if _, ok := o.Registry.GetSession(peer); !ok {
		return false
	}
	return o.Streams.Start(streamID, peer)
}

// WatchStream registers watcher on the stream and tells the broadcaster
// so it can open an outbound link toward the watcher.
func (o *Orchestrator) WatchStream(watcher domain.PeerID, streamID domain.StreamID) bool {
	sess, ok := o.Registry.GetSession(watcher)
	if !ok {
		return false
	}
	stream, ok := o.Streams.Get(streamID)
	if !ok || !stream.Live {
		return false
	}
	if !o.Streams.AddWatcher(streamID, sess) {
		return false
	}

	broadcaster, ok := o.Registry.GetSession(stream.Broadcaster)
	if !ok {
		// Broadcaster vanished between lookup and notify; roll back.
		o.Streams.RemoveWatcher(streamID, watcher)
		return false
	}
	o.sendTo(broadcaster, core.Envelope{
		Kind:   core.KindNewWatcher,
		Sender: watcher,
		Stream: streamID,
	})
	return true
}

// StopStream is the broadcaster's explicit teardown.
func (o *Orchestrator) StopStream(peer domain.PeerID, streamID domain.StreamID) bool {
	stream, ok := o.Streams.Get(streamID)
	if !ok || stream.Broadcaster != peer {
		return false
	}
	o.endStream(streamID, peer)
	return true
}

// endStream cascades: every watcher gets exactly one stream-ended, then
// the registry entry is released. Shared by explicit stop and
// broadcaster disconnect.
func (o *Orchestrator) endStream(streamID domain.StreamID, broadcaster domain.PeerID) {
	watchers, ok := o.Streams.Stop(streamID)
	if !ok {
		return
	}
	env := core.Envelope{
		Kind:   core.KindStreamEnded,
		Sender: broadcaster,
		Stream: streamID,
	}
	for _, w := range watchers {
		o.sendTo(w, env)
	}
	log.Info().Str("module", "orch").Str("stream", string(streamID)).Int("watchers", len(watchers)).Msg("stream ended")
}

// dropWatcher handles a watcher-side disconnect: the broadcaster learns
// about it so it can close that one link and drop the viewer count.
func (o *Orchestrator) dropWatcher(streamID domain.StreamID, watcher domain.PeerID) {
	if !o.Streams.RemoveWatcher(streamID, watcher) {
		return
	}
	stream, ok := o.Streams.Get(streamID)
	if !ok {
		return
	}
	if sess, ok := o.Registry.GetSession(stream.Broadcaster); ok {
		o.sendTo(sess, core.Envelope{
			Kind:   core.KindPresenceLeft,
			Sender: watcher,
			Stream: streamID,
		})
	}
}
