/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	readWait     = 90 * time.Second
	outboxSize   = 16
	minReconnect = 250 * time.Millisecond
	maxReconnect = 10 * time.Second
)

// Channel is a spinner.Channel over the server's per-room websocket. Each
// subscription keeps its own connection and redials it after a drop.
type Channel struct {
	base   *url.URL
	tokens spinner.Tokens
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

type ChannelOption func(*Channel)

func WithChannelTokens(t spinner.Tokens) ChannelOption {
	return func(c *Channel) { c.tokens = t }
}

func WithChannelLogger(l zerolog.Logger) ChannelOption {
	return func(c *Channel) { c.log = l }
}

func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

func NewChannel(server string, opts ...ChannelOption) (*Channel, error) {
	base, err := parseServer(server)
	if err != nil {
		return nil, err
	}

	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}

	c := &Channel{
		base:   base,
		dialer: websocket.DefaultDialer,
		log:    zerolog.Nop(),
		subs:   make(map[string]*subscription),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type subscription struct {
	code      string
	handlers  spinner.Handlers
	outbox    chan spinner.Message
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Subscribe starts delivering the room's messages to h. It returns once the
// subscription exists; the connection is established in the background.
func (c *Channel) Subscribe(ctx context.Context, roomCode string, h spinner.Handlers) error {
	code := spinner.NormalizeRoomCode(roomCode)
	if err := spinner.ValidateRoomCode(code); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[code]; ok {
		return fmt.Errorf("already subscribed to room %s", code)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		code:     code,
		handlers: h,
		outbox:   make(chan spinner.Message, outboxSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.subs[code] = sub

	go c.maintain(ctx, sub)

	return nil
}

// Publish queues msg for the room. It fails fast when the room's connection
// is down rather than holding the message for a later reconnect.
func (c *Channel) Publish(ctx context.Context, roomCode string, msg spinner.Message) error {
	sub := c.lookup(roomCode)
	if sub == nil || !sub.connected.Load() {
		return spinner.ErrChannelUnavailable
	}

	select {
	case sub.outbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: outbox full", spinner.ErrChannelUnavailable)
	}
}

func (c *Channel) Unsubscribe(roomCode string) error {
	code := spinner.NormalizeRoomCode(roomCode)

	c.mu.Lock()
	sub, ok := c.subs[code]
	delete(c.subs, code)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	sub.cancel()
	<-sub.done

	return nil
}

func (c *Channel) Connected(roomCode string) bool {
	sub := c.lookup(roomCode)
	return sub != nil && sub.connected.Load()
}

func (c *Channel) lookup(roomCode string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[spinner.NormalizeRoomCode(roomCode)]
}

func (c *Channel) roomURL(code string) string {
	u := *c.base
	u.Path = u.Path + "/room/" + url.PathEscape(code) + "/ws"

	if c.tokens != nil {
		token, err := c.tokens.Token(code)
		if err != nil {
			c.log.Warn().Err(err).Str("room", code).Msg("failed to read creator token")
		} else if token != "" {
			u.RawQuery = url.Values{"session": {token}}.Encode()
		}
	}

	return u.String()
}

// newReconnectBackOff spaces redials from minReconnect up to maxReconnect,
// doubling with jitter.
func newReconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minReconnect
	b.MaxInterval = maxReconnect
	b.Multiplier = 2
	b.Reset()
	return b
}

// maintain keeps one connection for sub alive until ctx is done, redialling
// with exponential backoff.
func (c *Channel) maintain(ctx context.Context, sub *subscription) {
	defer close(sub.done)

	retry := newReconnectBackOff()

	for {
		conn, resp, err := c.dialer.DialContext(ctx, c.roomURL(sub.code), http.Header{})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if err == nil {
			retry.Reset()
			c.serve(ctx, sub, conn)
		}

		wait := retry.NextBackOff()
		if err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Str("room", sub.code).Dur("retry", wait).Msg("realtime connection failed")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve runs one connection until it drops or ctx is done.
func (c *Channel) serve(ctx context.Context, sub *subscription, conn *websocket.Conn) {
	closed := make(chan struct{})
	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			close(closed)
			_ = conn.Close()
		})
	}
	defer closeConn()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			closeConn()
		case <-closed:
		}
	}()

	go func() {
		for {
			select {
			case <-closed:
				return
			case msg := <-sub.outbox:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					c.log.Warn().Err(err).Str("room", sub.code).Str("type", msg.Type).Msg("failed to send message")
					closeConn()
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.setConnected(sub, true)
	defer c.setConnected(sub, false)

	c.log.Debug().Str("room", sub.code).Msg("realtime connected")

	for {
		var msg spinner.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Str("room", sub.code).Msg("realtime connection lost")
			}
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.dispatch(sub, msg)
	}
}

func (c *Channel) setConnected(sub *subscription, connected bool) {
	if sub.connected.Swap(connected) == connected {
		return
	}
	if sub.handlers.OnStatus != nil {
		sub.handlers.OnStatus(connected)
	}
}

func (c *Channel) dispatch(sub *subscription, msg spinner.Message) {
	h := sub.handlers

	switch msg.Type {
	case spinner.MessageSpin:
		if msg.Spin != nil && h.OnSpin != nil {
			h.OnSpin(*msg.Spin)
		}
	case spinner.MessageSpinFinalized:
		if msg.NextMaterialIndex != nil && h.OnSpinFinalized != nil {
			h.OnSpinFinalized(*msg.NextMaterialIndex)
		}
	case spinner.MessageSpinAborted:
		if msg.Spin != nil && h.OnSpinAborted != nil {
			h.OnSpinAborted(msg.Spin.ID)
		}
	case spinner.MessageRoomChanged:
		if msg.Room != nil && h.OnRoomChanged != nil {
			h.OnRoomChanged(*msg.Room)
		}
	case spinner.MessageError:
		c.log.Warn().Str("room", sub.code).Str("error", msg.Error).Msg("server rejected message")
	default:
		c.log.Debug().Str("room", sub.code).Str("type", msg.Type).Msg("ignoring unknown message")
	}
}

var _ spinner.Channel = (*Channel)(nil)
