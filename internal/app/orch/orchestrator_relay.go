package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
)

// Relay routes one envelope. Unicast kinds go verbatim to the target
// when it shares the sender's room or broadcast session; otherwise the
// envelope is silently dropped. Broadcast kinds fan out to the sender's
// room. The payload is never inspected.
func (o *Orchestrator) Relay(env core.Envelope) {
	if err := env.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sender", string(env.Sender)).Msg("malformed envelope")
		return
	}

	if !env.Unicast() {
		roomID, _, ok := o.Registry.RoomOf(env.Sender)
		if !ok {
			return
		}
		room, ok := o.Rooms.Get(roomID)
		if !ok {
			return
		}
		env.Room = roomID
		o.emitRoom(room, env.Sender, env)
		return
	}

	// Same-room path first: mesh negotiation.
	if roomID, _, ok := o.Registry.RoomOf(env.Sender); ok {
		if room, ok := o.Rooms.Get(roomID); ok && room.Has(env.Target) {
			frame, ok := encode(env)
			if !ok {
				return
			}
			if !room.SendTo(env.Target, frame) {
				log.Debug().Str("module", "orch").Str("target", string(env.Target)).Msg("unicast routing miss")
			}
			return
		}
	}

	// Star path: broadcaster and watcher share a broadcast session but
	// not necessarily a room.
	if o.Streams.SameSession(env.Sender, env.Target) {
		if sess, ok := o.Registry.GetSession(env.Target); ok {
			o.sendTo(sess, env)
			return
		}
	}

	log.Debug().Str("module", "orch").
		Str("sender", string(env.Sender)).
		Str("target", string(env.Target)).
		Str("kind", string(env.Kind)).
		Msg("envelope dropped, target not reachable")
}
