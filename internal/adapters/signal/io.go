package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, peerID domain.PeerID, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Str("peer", string(peerID)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, peerID domain.PeerID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("readPump closing")
		ctl.Orch.Disconnect(peerID)
		ctl.Limiter.Forget(peerID)
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	deadline := 2 * ctl.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("peer", string(peerID)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
			ctl.handleEnvelope(peerID, c, data)
		}
	}
}

func (ctl *Controller) handleEnvelope(peerID domain.PeerID, c *wsSignalConn, data []byte) {
	if !ctl.Limiter.Allow(peerID) {
		log.Warn().Str("module", "signal").Str("peer", string(peerID)).Msg("rate limited, envelope dropped")
		return
	}

	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	// Never trust the client's sender field.
	env.Sender = peerID

	if err := env.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(peerID)).Msg("malformed envelope")
		ctl.sendError(c, err.Error())
		return
	}

	switch env.Kind {
	case core.KindJoinRoom:
		ctl.handleJoin(peerID, c, env)
	case core.KindLeaveRoom:
		ctl.handleLeave(peerID, c)
	case core.KindPing:
		ctl.handlePing(c)
	case core.KindOffer, core.KindAnswer, core.KindICECandidate:
		ctl.Orch.Relay(env)
	case core.KindStartStream:
		ctl.handleStartStream(peerID, c, env)
	case core.KindStopStream:
		ctl.handleStopStream(peerID, c, env)
	case core.KindWatchStream:
		ctl.handleWatchStream(peerID, c, env)
	default:
		log.Warn().Str("module", "signal").Str("kind", string(env.Kind)).Msg("unexpected client envelope")
	}
}

func (ctl *Controller) sendEnvelope(c *wsSignalConn, env core.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal envelope")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsSignalConn, msg string) {
	payload, err := json.Marshal(core.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	ctl.sendEnvelope(c, core.Envelope{Kind: core.KindError, Payload: payload})
}
