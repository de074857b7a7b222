/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/Seednode/spinnerly/store"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 32
)

type Client struct {
	conn      *websocket.Conn
	send      chan spinner.Message
	authority bool
}

type inbound struct {
	client *Client
	msg    spinner.Message
}

// Hub relays one room's realtime messages. Only the creator's connection may
// announce spins; committed room states come from the store.
type Hub struct {
	code    string
	creator string
	room    spinner.Room
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	inbound  chan inbound
	changes  chan spinner.Room
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu          sync.RWMutex
	lastActive  time.Time
	connected   int
	unsubscribe func()
}

func newHub(code string) *Hub {
	return &Hub{
		code:       code,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		inbound:    make(chan inbound),
		changes:    make(chan spinner.Room),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		lastActive: time.Now(),
	}
}

func (h *Hub) isCreator(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.creator)) == 1
}

func (h *Hub) touch(delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActive = time.Now()
	h.connected += delta
}

func (h *Hub) idleSince(cutoff time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected == 0 && h.lastActive.Before(cutoff)
}

func (h *Hub) run(cfg *Config) {
	defer close(h.stopped)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.touch(1)
			connectedClients.Inc()

			logf(cfg, "ROOMS: Client joined %s (creator: %t, clients: %d)", h.code, c.authority, len(h.clients))

			// Catch up whoever just (re)connected on the committed state.
			h.deliver(c, h.roomChanged(c))

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				logf(cfg, "ROOMS: Client left %s (clients: %d)", h.code, len(h.clients))
			}

		case in := <-h.inbound:
			h.touch(0)
			h.relay(cfg, in)

		case room := <-h.changes:
			h.touch(0)
			if room.Version < h.room.Version {
				continue
			}
			h.room = room
			for c := range h.clients {
				h.deliver(c, h.roomChanged(c))
			}
			messagesRelayed.WithLabelValues(spinner.MessageRoomChanged).Add(float64(len(h.clients)))

		case <-h.quit:
			for c := range h.clients {
				h.drop(c)
				_ = c.conn.Close()
			}
			if h.unsubscribe != nil {
				h.unsubscribe()
			}
			return
		}
	}
}

func (h *Hub) relay(cfg *Config, in inbound) {
	msg := in.msg

	var reason string
	switch {
	case msg.Type != spinner.MessageSpin && msg.Type != spinner.MessageSpinFinalized && msg.Type != spinner.MessageSpinAborted:
		reason = "unsupported message type"
	case !in.client.authority:
		reason = "only the room creator can spin the wheel"
	case (msg.Type == spinner.MessageSpin || msg.Type == spinner.MessageSpinAborted) && msg.Spin == nil:
		reason = msg.Type + " message without a spin"
	case msg.Type == spinner.MessageSpinFinalized && msg.NextMaterialIndex == nil:
		reason = "spin-finalized message without an index"
	}

	if reason != "" {
		messagesRejected.WithLabelValues(msg.Type).Inc()
		logf(cfg, "ROOMS: Rejected %q message in %s: %s", msg.Type, h.code, reason)
		h.deliver(in.client, spinner.Message{Type: spinner.MessageError, Error: reason})
		return
	}

	if msg.Type == spinner.MessageSpin {
		logf(cfg, "SPINS: Spin %s in %s lands on %q", msg.Spin.ID, h.code, msg.Spin.SelectedName)
	}

	for c := range h.clients {
		h.deliver(c, msg)
	}
	messagesRelayed.WithLabelValues(msg.Type).Add(float64(len(h.clients)))
}

// roomChanged carries the creator token only to the creator's connections.
func (h *Hub) roomChanged(c *Client) spinner.Message {
	room := h.room.Clone()
	if !c.authority {
		room.CreatorSessionID = ""
	}
	return spinner.Message{Type: spinner.MessageRoomChanged, Room: &room}
}

// deliver never blocks the hub; a client that cannot keep up is dropped and
// will reconnect.
func (h *Hub) deliver(c *Client, msg spinner.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.drop(c)
		_ = c.conn.Close()
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.touch(-1)
	connectedClients.Dec()
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.stopped:
	}
}

func (h *Hub) receive(c *Client, msg spinner.Message) bool {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
		return true
	case <-h.stopped:
		return false
	}
}

// announce hands a committed room to the hub. It is called from the store's
// change feed, so it must return promptly.
func (h *Hub) announce(room spinner.Room) {
	select {
	case h.changes <- room:
	case <-h.stopped:
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// RoomManager holds the running hubs keyed by room code.
type RoomManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	store       *store.Store
	load        func(ctx context.Context, code string) (spinner.Room, error)
}

func newRoomManager(ctx context.Context, st *store.Store, idleTimeout time.Duration) *RoomManager {
	rm := &RoomManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		store:       st,
		load:        st.RoomByCode,
	}
	if idleTimeout > 0 {
		go rm.reaperLoop(ctx)
	}
	return rm
}

func (rm *RoomManager) getHub(ctx context.Context, cfg *Config, code string) (*Hub, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if hub, ok := rm.hubs[code]; ok {
		return hub, nil
	}

	// Subscribe before loading so no commit falls between the two. Changes
	// announced meanwhile wait for run, which drops any older than room.
	hub := newHub(code)
	hub.unsubscribe = rm.store.Subscribe(code, hub.announce)

	room, err := rm.load(ctx, code)
	if err != nil {
		hub.unsubscribe()
		close(hub.stopped)
		return nil, err
	}

	hub.room = room
	hub.creator = room.CreatorSessionID
	rm.hubs[code] = hub
	activeHubs.Inc()

	go hub.run(cfg)

	logf(cfg, "ROOMS: Opened hub for %s", code)

	return hub, nil
}

// reaperLoop periodically closes hubs nobody has been connected to for longer
// than idleTimeout.
func (rm *RoomManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.reap(time.Now().Add(-rm.idleTimeout))
		}
	}
}

func (rm *RoomManager) reap(cutoff time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for code, hub := range rm.hubs {
		if hub.idleSince(cutoff) {
			delete(rm.hubs, code)
			activeHubs.Dec()
			hub.stop()
		}
	}
}

func (rm *RoomManager) closeAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for code, hub := range rm.hubs {
		delete(rm.hubs, code)
		activeHubs.Dec()
		hub.stop()
		<-hub.stopped
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := spinner.NormalizeRoomCode(ps.ByName("code"))
		if err := spinner.ValidateRoomCode(code); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		hub, err := rm.getHub(r.Context(), cfg, code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
			return
		case err != nil:
			logf(cfg, "ERROR: Failed to open hub for %s: %v", code, err)
			http.Error(w, "unable to open room", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade for %s from %s failed: %v", code, realIP(r), err)
			return
		}

		client := &Client{
			conn:      conn,
			send:      make(chan spinner.Message, sendBuffer),
			authority: hub.isCreator(r.URL.Query().Get("session")),
		}

		if !hub.join(client) {
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg spinner.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !h.receive(c, msg) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
