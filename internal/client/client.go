// Package client is the Go side of the signaling channel: it dials the
// relay's websocket endpoint and turns the stream into an envelope
// inbox the session managers consume.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/core"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

var ErrClosed = errors.New("client closed")

type Client struct {
	self  domain.PeerID
	conn  *websocket.Conn
	inbox chan core.Envelope

	mu     sync.Mutex
	closed bool
}

// Dial connects to the relay. The client token cookie carries self, so
// the relay addresses us by the id we chose.
func Dial(ctx context.Context, rawURL string, self domain.PeerID) (*Client, error) {
	header := http.Header{}
	header.Set("Cookie", "ct="+string(self))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		self:  self,
		conn:  conn,
		inbox: make(chan core.Envelope, 64),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Self() domain.PeerID { return c.self }

// Inbox delivers envelopes until the connection dies, then closes.
func (c *Client) Inbox() <-chan core.Envelope { return c.inbox }

// Send implements peer.Sender.
func (c *Client) Send(env core.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "client").Str("self", string(c.self)).Msg("read loop ended")
			}
			return
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad envelope")
			continue
		}
		c.inbox <- env
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
