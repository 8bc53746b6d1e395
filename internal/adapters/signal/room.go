package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

func (ctl *Controller) handleJoin(peerID domain.PeerID, c *wsSignalConn, env core.Envelope) {
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Str("room", string(env.Room)).Msg("join")

	members, ok := ctl.Orch.Join(peerID, env.Room)
	if !ok {
		ctl.sendError(c, "no session")
		return
	}

	payload, err := json.Marshal(core.RoomStatePayload{Members: members, Count: len(members)})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal room state")
		return
	}
	ctl.sendEnvelope(c, core.Envelope{
		Kind:    core.KindRoomState,
		Room:    env.Room,
		Payload: payload,
	})
}

// handleLeave exits the current room; the connection itself stays up.
func (ctl *Controller) handleLeave(peerID domain.PeerID, c *wsSignalConn) {
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("leave")
	ctl.Orch.Leave(peerID)
}
