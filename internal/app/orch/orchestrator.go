// Package orch hosts the signaling relay: it owns the room and stream
// registries and is the only writer to them. It forwards envelopes and
// emits presence; no media state ever passes through it.
package orch

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/app"
	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManagerImpl
	Streams  *app.StreamManager
	Policy   app.Policy
	Notifier core.Notifier

	mu    sync.Mutex
	order map[domain.RoomID]*roomLock
}

// roomLock serializes all presence and membership work for one room.
// dropped marks a lock retired while its room was released; a waiter
// that acquires a retired lock must re-fetch from the map, otherwise
// two joins for the same id could proceed under different locks.
type roomLock struct {
	mu      sync.Mutex
	dropped bool
}

func New(reg *app.Registry, rooms *app.RoomManagerImpl, streams *app.StreamManager, policy app.Policy, notifier core.Notifier) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Streams:  streams,
		Policy:   policy,
		Notifier: notifier,
		order:    make(map[domain.RoomID]*roomLock),
	}
}

// lockRoom acquires the ordering lock for one room. Different rooms
// proceed concurrently. The caller must release via l.mu.Unlock.
func (o *Orchestrator) lockRoom(id domain.RoomID) *roomLock {
	for {
		o.mu.Lock()
		l, ok := o.order[id]
		if !ok {
			l = &roomLock{}
			o.order[id] = l
		}
		o.mu.Unlock()

		l.mu.Lock()
		if !l.dropped {
			return l
		}
		l.mu.Unlock()
	}
}

// dropOrder retires the room's ordering lock. The caller must hold l.
func (o *Orchestrator) dropOrder(id domain.RoomID, l *roomLock) {
	l.dropped = true
	o.mu.Lock()
	delete(o.order, id)
	o.mu.Unlock()
}

func encode(env core.Envelope) (core.Frame, bool) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode envelope")
		return nil, false
	}
	return b, true
}

// emitRoom fans an envelope out to every room member except from, then
// applies the backpressure policy to members that could not keep up.
func (o *Orchestrator) emitRoom(room core.RoomService, from domain.PeerID, env core.Envelope) {
	frame, ok := encode(env)
	if !ok {
		return
	}
	res := room.Broadcast(from, frame)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.Registry.Cancel(slow.Peer())
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

func (o *Orchestrator) sendTo(sess core.MemberSession, env core.Envelope) {
	frame, ok := encode(env)
	if !ok {
		return
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", string(sess.Peer())).Str("kind", string(env.Kind)).Msg("send dropped")
	}
}
