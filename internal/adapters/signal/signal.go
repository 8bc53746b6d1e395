package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/app/orch"
	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the websocket signaling endpoint: it accepts relay
// links, pumps envelopes and hands them to the orchestrator.
type Controller struct {
	Orch     *orch.Orchestrator
	Profiles core.ProfileStore
	Limiter  *RateLimiter

	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(o *orch.Orchestrator, profiles core.ProfileStore, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Orch:       o,
		Profiles:   profiles,
		Limiter:    NewRateLimiter(64, time.Second),
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Cross-origin access is intentionally open; identity comes from the
// connection layer's client token only.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	peerID := domain.PeerID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	user := ctl.Orch.Registry.GetOrCreateUser(peerID)
	if ctl.Profiles != nil {
		if profile, err := ctl.Profiles.Get(c.Request.Context(), peerID); err == nil && profile != nil {
			_ = user.SetUsername(profile.Username)
		}
	}

	sess := core.NewMemberSession(peerID, user, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(peerID, sess, cancel)

	go ctl.writePump(ctx, peerID, conn)
	go ctl.readPump(ctx, peerID, conn)
}
