package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

// Join adds peer to roomID and tells the existing members about it.
// The returned snapshot is who was already there, so the joiner knows
// which peers to expect negotiation with. Re-joining the same room is a
// no-op that does not re-emit presence.
func (o *Orchestrator) Join(peer domain.PeerID, roomID domain.RoomID) ([]core.MemberDTO, bool) {
	sess, ok := o.Registry.GetSession(peer)
	if !ok {
		return nil, false
	}

	if cur, _, ok := o.Registry.RoomOf(peer); ok {
		if cur == roomID {
			room := o.Rooms.GetOrCreate(roomID)
			return membersExcept(room, peer), true
		}
		// One room at a time; switching rooms is leave-then-join.
		o.Leave(peer)
	}

	lock := o.lockRoom(roomID)
	defer lock.mu.Unlock()

	room := o.Rooms.GetOrCreate(roomID)
	existing := membersExcept(room, peer)
	if room.AddMember(sess) {
		o.Registry.UpdateRoom(peer, roomID)
		o.emitRoom(room, peer, core.Envelope{
			Kind:   core.KindPresenceJoined,
			Sender: peer,
			Room:   roomID,
		})
		log.Info().Str("module", "orch").Str("peer", string(peer)).Str("room", string(roomID)).Msg("joined room")
	}
	return existing, true
}

// Leave removes peer from its current room, emits presence-left to the
// remaining members and releases the room once it empties.
func (o *Orchestrator) Leave(peer domain.PeerID) {
	roomID, _, ok := o.Registry.RoomOf(peer)
	if !ok {
		return
	}

	lock := o.lockRoom(roomID)
	defer lock.mu.Unlock()

	room, ok := o.Rooms.Get(roomID)
	if !ok {
		o.Registry.RemoveRoom(peer)
		return
	}
	if !room.RemoveMember(peer) {
		o.Registry.RemoveRoom(peer)
		return
	}
	o.Registry.RemoveRoom(peer)
	o.emitRoom(room, peer, core.Envelope{
		Kind:   core.KindPresenceLeft,
		Sender: peer,
		Room:   roomID,
	})
	log.Info().Str("module", "orch").Str("peer", string(peer)).Str("room", string(roomID)).Msg("left room")

	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
		o.dropOrder(roomID, lock)
	}
}

// Disconnect is the implicit leave-room and stop-stream for everything
// the connection participated in. Never fatal for other participants.
func (o *Orchestrator) Disconnect(peer domain.PeerID) {
	o.Leave(peer)

	if owned := o.Streams.OwnedBy(peer); len(owned) > 0 {
		for _, streamID := range owned {
			o.endStream(streamID, peer)
		}
		if o.Notifier != nil {
			o.Notifier.SessionEnded(context.Background(), peer, "broadcaster disconnected")
		}
	}

	for _, streamID := range o.Streams.WatchedBy(peer) {
		o.dropWatcher(streamID, peer)
	}

	o.Registry.Unbind(peer)
}

func membersExcept(room core.RoomService, peer domain.PeerID) []core.MemberDTO {
	all := room.MembersSnapshot()
	out := make([]core.MemberDTO, 0, len(all))
	for _, m := range all {
		if m.ID == peer {
			continue
		}
		out = append(out, m)
	}
	return out
}
