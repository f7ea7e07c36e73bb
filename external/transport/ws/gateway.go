package ws

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/broadcomms/brainstormx-transcribe/internal/mailbox"
	"github.com/broadcomms/brainstormx-transcribe/internal/session"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
	"github.com/gorilla/websocket"
)

const dispatchQueueSize = 1024

// Sessions is the part of the session registry the gateway drives.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (session.Ready, error)
	AudioChunk(key session.Key, seq int64, data []byte) error
	Stop(key session.Key) session.StopAck
	SetNotifier(n session.Notifier)
}

type itemKind int

const (
	itemMessage itemKind = iota
	itemBinary
	itemDisconnect
	itemStarted
	itemStopped
	itemFault
)

type dispatchItem struct {
	kind   itemKind
	client *Client
	msg    inboundMessage
	data   []byte

	key       session.Key
	sessionID string
	requestID string
	ready     session.Ready
	err       error
	stopped   session.Stopped
}

// Gateway accepts websocket connections and serializes every inbound event
// through one dispatcher goroutine.
type Gateway struct {
	sessions Sessions
	hub      *Hub
	tokens   *Tokens
	upgrader websocket.Upgrader

	inbox *mailbox.Mailbox[dispatchItem]
	done  chan struct{}

	// dispatcher only
	ctx    context.Context
	owners map[session.Key]*Client
	// current holds the session id bound to each owned key, empty until a
	// start for it succeeds.
	current map[session.Key]string
	// pending counts starts in flight per key.
	pending map[session.Key]int
	// early holds stopped reports that arrived while a start for the key
	// was still in flight.
	early map[session.Key][]session.Stopped
}

// NewGateway registers the gateway as the session notifier. tokens may be
// nil, in which case connections are anonymous.
func NewGateway(sessions Sessions, hub *Hub, tokens *Tokens) *Gateway {
	g := &Gateway{
		sessions: sessions,
		hub:      hub,
		tokens:   tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		inbox:   mailbox.New[dispatchItem](dispatchQueueSize),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		owners:  make(map[session.Key]*Client),
		current: make(map[session.Key]string),
		pending: make(map[session.Key]int),
		early:   make(map[session.Key][]session.Stopped),
	}
	sessions.SetNotifier(g)
	return g
}

// Run is the dispatcher. It returns when ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	defer close(g.done)
	g.ctx = ctx
	slog.Info("websocket dispatcher started")
	for {
		select {
		case item := <-g.inbox.Receive():
			g.dispatch(item)
		case <-ctx.Done():
			slog.Info("websocket dispatcher stopped")
			return nil
		}
	}
}

func (g *Gateway) post(item dispatchItem) {
	if err := g.inbox.Send(item, g.done); err != nil {
		slog.Debug("dispatcher is gone; dropping item", "kind", int(item.kind))
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authenticate(r)
	if err != nil {
		slog.Warn("websocket authentication failed", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	c := newClient(conn, identity)
	slog.Info("websocket connection opened", "connection_id", c.id, "participant", identity.Participant)
	go c.writePump()
	g.readPump(c)
}

func (g *Gateway) authenticate(r *http.Request) (Identity, error) {
	if g.tokens == nil {
		return Identity{}, nil
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return Identity{}, errors.New("missing token")
	}
	return g.tokens.Verify(token)
}

func (g *Gateway) readPump(c *Client) {
	defer g.post(dispatchItem{kind: itemDisconnect, client: c})
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket connection error", "error", err, "connection_id", c.id)
			}
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			g.post(dispatchItem{kind: itemBinary, client: c, data: data})
		case websocket.TextMessage:
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.replyError("", "", fmt.Errorf("invalid message: %w", err))
				continue
			}
			g.post(dispatchItem{kind: itemMessage, client: c, msg: msg})
		}
	}
}

func (g *Gateway) dispatch(item dispatchItem) {
	switch item.kind {
	case itemMessage:
		g.handleMessage(item.client, item.msg)
	case itemBinary:
		g.handleBinary(item.client, item.data)
	case itemDisconnect:
		g.handleDisconnect(item.client)
	case itemStarted:
		g.handleStarted(item)
	case itemStopped:
		g.handleStopped(item.key, item.stopped)
	case itemFault:
		g.handleFault(item.key, item.sessionID, item.err)
	}
}

func (g *Gateway) handleMessage(c *Client, msg inboundMessage) {
	key, err := g.keyFor(c, msg)
	if err != nil {
		c.replyError(msg.RequestID, msg.Room, err)
		return
	}
	switch msg.Type {
	case msgStart:
		g.handleStart(c, key, msg)
	case msgAudioChunk:
		data, err := base64.StdEncoding.DecodeString(msg.PCM)
		if err != nil || len(data) == 0 {
			c.replyError(msg.RequestID, key.Room, transcriber.ErrMalformedChunk)
			return
		}
		if err := g.sessions.AudioChunk(key, msg.Seq, data); err != nil {
			c.replyError(msg.RequestID, key.Room, err)
		}
	case msgStop:
		ack := g.sessions.Stop(key)
		c.reply(outboundMessage{Type: replyStopAck, RequestID: msg.RequestID, Data: ack})
	case msgJoin:
		g.hub.Join(key.Room, c)
		c.reply(outboundMessage{Type: replyJoined, RequestID: msg.RequestID, Data: joinedReply{Room: key.Room}})
	default:
		c.replyError(msg.RequestID, key.Room, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

// keyFor resolves the session key, enforcing the connection identity when the
// connection was authenticated.
func (g *Gateway) keyFor(c *Client, msg inboundMessage) (session.Key, error) {
	key := session.Key{Room: strings.TrimSpace(msg.Room), Participant: strings.TrimSpace(msg.Participant)}
	if key.Room == "" {
		return key, errors.New("room is required")
	}
	if c.identity.Room != "" && c.identity.Room != key.Room {
		return key, transcriber.NewError(transcriber.CodeUnauthorized, "token is not valid for this room")
	}
	if c.identity.Participant != "" {
		if key.Participant != "" && key.Participant != c.identity.Participant {
			return key, transcriber.NewError(transcriber.CodeUnauthorized, "participant does not match token")
		}
		key.Participant = c.identity.Participant
	}
	if key.Participant == "" && msg.Type != msgJoin {
		return key, errors.New("participant is required")
	}
	return key, nil
}

func (g *Gateway) handleStart(c *Client, key session.Key, msg inboundMessage) {
	var kind transcriber.Kind
	if msg.Provider != "" {
		parsed, err := transcriber.ParseKind(msg.Provider)
		if err != nil {
			c.replyError(msg.RequestID, key.Room, transcriber.NewError(transcriber.CodeFeatureDisabled, err.Error()))
			return
		}
		kind = parsed
	}
	g.claim(c, key)

	req := session.StartRequest{
		Key: key,
		Config: transcriber.ProviderConfig{
			Language:             msg.Language,
			SampleRateHz:         msg.SampleRateHz,
			VocabularyName:       msg.VocabularyName,
			VocabularyFilterName: msg.VocabularyFilterName,
		},
		Provider: kind,
		Force:    msg.Force,
	}
	ctx := g.ctx
	go func() {
		ready, err := g.sessions.Start(ctx, req)
		g.post(dispatchItem{kind: itemStarted, client: c, key: key, requestID: msg.RequestID, ready: ready, err: err})
	}()
}

// claim binds key to c so binary frames and late notifications find it.
func (g *Gateway) claim(c *Client, key session.Key) {
	if prev, ok := g.owners[key]; ok && prev != c {
		g.release(prev, key)
	}
	g.owners[key] = c
	if _, ok := g.current[key]; !ok {
		g.current[key] = ""
	}
	g.pending[key]++
	c.owned[key] = struct{}{}
	c.bound = key
	c.hasBound = true
}

func (g *Gateway) release(c *Client, key session.Key) {
	delete(c.owned, key)
	if c.hasBound && c.bound == key {
		c.hasBound = false
	}
	if g.owners[key] == c {
		delete(g.owners, key)
		delete(g.current, key)
		delete(g.pending, key)
		delete(g.early, key)
	}
}

func (g *Gateway) handleStarted(item dispatchItem) {
	c, key := item.client, item.key
	if g.owners[key] != c {
		// Another connection took the key over while this start ran.
		if item.err != nil {
			c.replyError(item.requestID, key.Room, item.err)
		} else {
			c.reply(outboundMessage{Type: replyReady, RequestID: item.requestID, Data: item.ready})
		}
		return
	}
	g.pending[key]--
	if item.err != nil {
		c.replyError(item.requestID, key.Room, item.err)
	} else {
		c.reply(outboundMessage{Type: replyReady, RequestID: item.requestID, Data: item.ready})
		g.current[key] = item.ready.SessionID
		if c.gone {
			// The connection dropped while the start was in flight.
			g.sessions.Stop(key)
		}
	}
	if g.pending[key] > 0 {
		return
	}
	early := g.early[key]
	delete(g.early, key)
	for _, stopped := range early {
		g.handleStopped(key, stopped)
	}
	if _, owned := g.owners[key]; owned && g.current[key] == "" {
		g.release(c, key)
	}
}

func (g *Gateway) handleBinary(c *Client, data []byte) {
	if !c.hasBound {
		c.replyError("", "", transcriber.ErrNoActiveSession)
		return
	}
	if len(data) <= binaryHeaderSize {
		c.replyError("", c.bound.Room, transcriber.ErrMalformedChunk)
		return
	}
	seq := int64(binary.BigEndian.Uint64(data[:binaryHeaderSize]))
	if err := g.sessions.AudioChunk(c.bound, seq, data[binaryHeaderSize:]); err != nil {
		c.replyError("", c.bound.Room, err)
	}
}

// handleStopped unbinds the key only when the report is for the session
// currently bound to it. Reports for an older session of the same key are
// still delivered to the owner.
func (g *Gateway) handleStopped(key session.Key, stopped session.Stopped) {
	owner, ok := g.owners[key]
	if !ok {
		return
	}
	if g.pending[key] > 0 {
		// It may belong to the start still in flight; handleStarted settles it.
		g.early[key] = append(g.early[key], stopped)
		return
	}
	if g.current[key] == stopped.SessionID {
		g.release(owner, key)
	}
	owner.reply(outboundMessage{Type: replyStopped, Data: stopped})
}

func (g *Gateway) handleFault(key session.Key, sessionID string, err error) {
	owner, ok := g.owners[key]
	if !ok {
		return
	}
	if g.pending[key] == 0 && g.current[key] != sessionID {
		slog.Debug("dropping fault for superseded session", "session_key", key.String(), "session_id", sessionID)
		return
	}
	owner.replyError("", key.Room, err)
}

// handleDisconnect stops every session the connection still owns.
func (g *Gateway) handleDisconnect(c *Client) {
	c.gone = true
	g.hub.Leave(c)
	for key := range c.owned {
		if g.owners[key] == c {
			slog.Info("stopping session of disconnected client", "session_key", key.String(), "connection_id", c.id)
			g.sessions.Stop(key)
		}
	}
	c.close()
	slog.Info("websocket connection closed", "connection_id", c.id)
}

func (g *Gateway) NotifyStopped(key session.Key, stopped session.Stopped) {
	g.post(dispatchItem{kind: itemStopped, key: key, stopped: stopped})
}

func (g *Gateway) NotifyError(key session.Key, sessionID string, err *transcriber.Error) {
	g.post(dispatchItem{kind: itemFault, key: key, sessionID: sessionID, err: err})
}
