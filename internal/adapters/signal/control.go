package signal

import "github.com/abnjv/Ha-sub000/internal/core"

func (ctl *Controller) handlePing(c *wsSignalConn) {
	ctl.sendEnvelope(c, core.Envelope{Kind: core.KindPong})
}
