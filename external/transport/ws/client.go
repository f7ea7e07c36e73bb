package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/mailbox"
	"github.com/broadcomms/brainstormx-transcribe/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	clientOutboxSize = 256
	writeTimeout     = 10 * time.Second
	maxMessageBytes  = 1 << 20
)

// Client is one websocket connection. Its outbox may be written from any
// goroutine; the session bookkeeping below is owned by the gateway
// dispatcher.
type Client struct {
	id       string
	conn     *websocket.Conn
	identity Identity
	outbox   *mailbox.Mailbox[[]byte]
	once     sync.Once

	// dispatcher only
	bound    session.Key
	hasBound bool
	owned    map[session.Key]struct{}
	gone     bool
}

func newClient(conn *websocket.Conn, identity Identity) *Client {
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		identity: identity,
		outbox:   mailbox.New[[]byte](clientOutboxSize),
		owned:    make(map[session.Key]struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// send queues a frame without blocking. Frames to a saturated or closed
// client are dropped.
func (c *Client) send(frame []byte) {
	if err := c.outbox.TrySend(frame); errors.Is(err, mailbox.ErrFull) {
		slog.Warn("websocket client outbox full; dropping frame", "connection_id", c.id)
	}
}

func (c *Client) reply(msg outboundMessage) {
	frame, err := encode(msg)
	if err != nil {
		slog.Error("failed to encode websocket reply", "error", err, "type", msg.Type)
		return
	}
	c.send(frame)
}

func (c *Client) replyError(requestID, roomID string, err error) {
	c.reply(outboundMessage{Type: replyError, RequestID: requestID, Data: newErrorReply(roomID, err)})
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for frame := range c.outbox.Receive() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			slog.Debug("websocket write failed", "error", err, "connection_id", c.id)
			c.close()
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (c *Client) close() {
	c.once.Do(c.outbox.Close)
}
