package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

func (ctl *Controller) handleStartStream(peerID domain.PeerID, c *wsSignalConn, env core.Envelope) {
	if !ctl.Orch.StartStream(peerID, env.Stream) {
		ctl.sendError(c, "stream id taken")
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Str("stream", string(env.Stream)).Msg("start stream")
}

func (ctl *Controller) handleStopStream(peerID domain.PeerID, c *wsSignalConn, env core.Envelope) {
	if !ctl.Orch.StopStream(peerID, env.Stream) {
		ctl.sendError(c, "not your stream")
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Str("stream", string(env.Stream)).Msg("stop stream")
}

func (ctl *Controller) handleWatchStream(peerID domain.PeerID, c *wsSignalConn, env core.Envelope) {
	if !ctl.Orch.WatchStream(peerID, env.Stream) {
		ctl.sendError(c, "stream not live")
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Str("stream", string(env.Stream)).Msg("watch stream")
}
