////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package socket implements the live channel over a websocket connection.
// Frames are JSON envelopes; requests that need a reply carry an ack ID that
// the server echoes on its acknowledgement.
package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"go.uber.org/ratelimit"

	"gitlab.com/elite-erp/chatcore/channels"
	"gitlab.com/elite-erp/chatcore/stoppable"
)

// ConnectionClosedErr is returned when using a Client whose connection has
// been closed or lost.
var ConnectionClosedErr = errors.New("the live connection is closed")

// Client is a live channel over a single websocket connection. It adheres to
// the channels.LiveChannel interface.
type Client struct {
	conn    *websocket.Conn
	params  Params
	limiter ratelimit.Limiter

	// Serialises frame writes; the websocket connection supports one
	// concurrent writer.
	writeMux sync.Mutex

	rooms map[string]channels.EventHandler
	acks  map[string]chan ackPayload
	mux   sync.Mutex

	reader *stoppable.Single
}

var _ channels.LiveChannel = (*Client)(nil)

// Dial opens the live connection. If token is not empty it is sent as a
// bearer token on the handshake.
func Dial(ctx context.Context, url, token string, params Params) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: params.HandshakeTimeout,
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s (HTTP %d)",
				url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "failed to connect to %s", url)
	}

	jww.INFO.Printf("[SOCKET] Connected to %s", url)

	return newClient(conn, params), nil
}

// newClient starts the read and keepalive loops on an open connection.
func newClient(conn *websocket.Conn, params Params) *Client {
	c := &Client{
		conn:   conn,
		params: params,
		rooms:  make(map[string]channels.EventHandler),
		acks:   make(map[string]chan ackPayload),
		reader: stoppable.NewSingle("SocketReader"),
	}

	if params.WriteRate > 0 {
		c.limiter = ratelimit.New(params.WriteRate, ratelimit.WithoutSlack)
	} else {
		c.limiter = ratelimit.NewUnlimited()
	}

	if params.MaxFrameSize > 0 {
		conn.SetReadLimit(params.MaxFrameSize)
	}
	if params.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(params.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(params.PongWait))
		})
	}

	go c.readLoop()
	go c.pingLoop()

	return c
}

// Done returns a channel that is closed once the connection is closed or
// lost.
func (c *Client) Done() <-chan struct{} {
	return c.reader.Stopped()
}

// Close sends a close frame, closes the connection and waits for the read
// loop to exit. Closing a lost connection releases it without error.
func (c *Client) Close() error {
	if c.reader.IsRunning() && c.reader.Close() == nil {
		err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			c.writeDeadline())
		if err != nil {
			jww.DEBUG.Printf("[SOCKET] Failed to send close frame: %+v", err)
		}
	}

	if err := c.conn.Close(); err != nil && !c.reader.IsStopped() {
		return errors.Wrap(err, "failed to close the connection")
	}

	return c.reader.WaitForStopped(c.params.WriteTimeout + time.Second)
}

// JoinRoom adheres to the channels.LiveChannel interface. The handler is
// registered before the request is sent so that events broadcast right after
// the join are not lost.
func (c *Client) JoinRoom(
	ctx context.Context, room string, handler channels.EventHandler) error {
	c.mux.Lock()
	c.rooms[room] = handler
	c.mux.Unlock()

	_, err := c.request(ctx, envelope{Event: joinRoomEvent, Room: room})
	if err != nil {
		c.mux.Lock()
		delete(c.rooms, room)
		c.mux.Unlock()
		return errors.WithMessagef(err, "failed to join room %q", room)
	}

	jww.INFO.Printf("[SOCKET] Joined room %q", room)
	return nil
}

// LeaveRoom adheres to the channels.LiveChannel interface. Events of the room
// are dropped from the moment it is called, even if the request fails.
func (c *Client) LeaveRoom(ctx context.Context, room string) error {
	c.mux.Lock()
	delete(c.rooms, room)
	c.mux.Unlock()

	_, err := c.request(ctx, envelope{Event: leaveRoomEvent, Room: room})
	if err != nil {
		return errors.WithMessagef(err, "failed to leave room %q", room)
	}

	jww.INFO.Printf("[SOCKET] Left room %q", room)
	return nil
}

// SendMessage adheres to the channels.LiveChannel interface.
func (c *Client) SendMessage(
	ctx context.Context, req channels.SendRequest) (channels.Message, error) {
	env, err := newEnvelope(sendMessageEvent, req.Room, req)
	if err != nil {
		return channels.Message{}, err
	}

	ap, err := c.request(ctx, env)
	if err != nil {
		return channels.Message{}, err
	}

	var msg channels.Message
	if err = json.Unmarshal(ap.Message, &msg); err != nil {
		return channels.Message{}, errors.Wrap(err,
			"failed to decode the acknowledged message")
	}
	return msg, nil
}

// React adheres to the channels.LiveChannel interface.
func (c *Client) React(ctx context.Context, intent channels.ReactionIntent) error {
	env, err := newEnvelope(messageReactionEvent, intent.Room, intent)
	if err != nil {
		return err
	}
	return c.write(ctx, env)
}

// Typing adheres to the channels.LiveChannel interface.
func (c *Client) Typing(ctx context.Context, signal channels.TypingSignal) error {
	env, err := newEnvelope(
		channels.TypingEvent.String(), signal.Room, signal)
	if err != nil {
		return err
	}
	return c.write(ctx, env)
}

// request writes the envelope with a fresh ack ID and blocks until the
// acknowledgement arrives. A refusal by the server is returned as a
// channels.RejectedError; every other failure as a channels.RetryableError.
func (c *Client) request(ctx context.Context, env envelope) (ackPayload, error) {
	env.Ack = uuid.NewString()
	ackCh := make(chan ackPayload, 1)

	c.mux.Lock()
	c.acks[env.Ack] = ackCh
	c.mux.Unlock()

	defer func() {
		c.mux.Lock()
		delete(c.acks, env.Ack)
		c.mux.Unlock()
	}()

	if err := c.write(ctx, env); err != nil {
		return ackPayload{}, &channels.RetryableError{Op: env.Event, Err: err}
	}

	timer := time.NewTimer(c.params.AckTimeout)
	defer timer.Stop()

	select {
	case ap := <-ackCh:
		return ap, ap.err()
	case <-timer.C:
		return ackPayload{}, &channels.RetryableError{Op: env.Event,
			Err: errors.Errorf("no acknowledgement within %s",
				c.params.AckTimeout)}
	case <-ctx.Done():
		return ackPayload{}, &channels.RetryableError{Op: env.Event,
			Err: ctx.Err()}
	case <-c.reader.Stopped():
		return ackPayload{}, &channels.RetryableError{Op: env.Event,
			Err: ConnectionClosedErr}
	}
}

// write sends a single frame, waiting for the rate limiter first.
func (c *Client) write(ctx context.Context, env envelope) error {
	if !c.reader.IsRunning() {
		return ConnectionClosedErr
	}

	c.limiter.Take()
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMux.Lock()
	defer c.writeMux.Unlock()

	_ = c.conn.SetWriteDeadline(c.writeDeadline())
	if err := c.conn.WriteJSON(env); err != nil {
		return errors.Wrapf(err, "failed to write %s frame", env.Event)
	}

	jww.TRACE.Printf("[SOCKET] Sent %s to room %q (ack %q)",
		env.Event, env.Room, env.Ack)
	return nil
}

// writeDeadline returns the deadline of a write starting now. The zero time
// means no deadline.
func (c *Client) writeDeadline() time.Time {
	if c.params.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.params.WriteTimeout)
}

// readLoop reads frames until the connection is closed or lost. Room handlers
// are called on this goroutine, so events of a room are delivered in the
// order the server sent them.
func (c *Client) readLoop() {
	defer c.reader.ToStopped()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.reader.IsStopping() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				jww.DEBUG.Printf("[SOCKET] Stopping read loop: %v", err)
			} else {
				jww.ERROR.Printf("[SOCKET] Connection lost: %+v", err)
			}
			return
		}

		var env envelope
		if err = json.Unmarshal(data, &env); err != nil {
			jww.WARN.Printf("[SOCKET] Dropping malformed frame: %+v", err)
			continue
		}

		c.handle(env)
	}
}

// pingLoop keeps the connection alive until it is closed.
func (c *Client) pingLoop() {
	if c.params.PingPeriod <= 0 {
		return
	}

	ticker := time.NewTicker(c.params.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.reader.Quit():
			return
		case <-c.reader.Stopped():
			return
		case <-ticker.C:
			err := c.conn.WriteControl(
				websocket.PingMessage, nil, c.writeDeadline())
			if err != nil {
				jww.WARN.Printf("[SOCKET] Failed to send ping: %+v", err)
				return
			}
		}
	}
}

// handle routes an inbound frame to the waiting request or the room handler.
func (c *Client) handle(env envelope) {
	if env.Event == ackEvent {
		c.resolve(env)
		return
	}

	ev, err := decodeEvent(env)
	if err != nil {
		jww.WARN.Printf("[SOCKET] Dropping frame for room %q: %+v",
			env.Room, err)
		return
	}

	room := env.Room
	switch {
	case room != "":
	case ev.Message != nil:
		room = channels.RoomName(ev.Message.ChannelID)
	case ev.Typing != nil && ev.Typing.Room != "":
		room = ev.Typing.Room
	case ev.Reaction != nil:
		// Reaction updates sent only to the reacting client carry no room
		c.broadcast(ev)
		return
	}

	c.mux.Lock()
	handler, exists := c.rooms[room]
	c.mux.Unlock()

	if !exists {
		jww.TRACE.Printf("[SOCKET] Dropping %s for unsubscribed room %q",
			env.Event, room)
		return
	}

	handler(ev)
}

// broadcast passes an event without a room to the handler of every joined
// room, marked as such.
func (c *Client) broadcast(ev channels.InboundEvent) {
	c.mux.Lock()
	handlers := make([]channels.EventHandler, 0, len(c.rooms))
	for _, handler := range c.rooms {
		handlers = append(handlers, handler)
	}
	c.mux.Unlock()

	if len(handlers) == 0 {
		jww.TRACE.Printf("[SOCKET] Dropping %s without a room", ev.Type)
		return
	}
	ev.Broadcast = true
	for _, handler := range handlers {
		handler(ev)
	}
}

// resolve passes an acknowledgement to the request waiting on it.
func (c *Client) resolve(env envelope) {
	var ap ackPayload
	if err := json.Unmarshal(env.Data, &ap); err != nil {
		jww.WARN.Printf("[SOCKET] Dropping malformed ack %q: %+v", env.Ack, err)
		return
	}

	c.mux.Lock()
	ackCh, exists := c.acks[env.Ack]
	delete(c.acks, env.Ack)
	c.mux.Unlock()

	if !exists {
		jww.DEBUG.Printf("[SOCKET] Ignoring ack %q with no waiting request",
			env.Ack)
		return
	}

	ackCh <- ap
}
