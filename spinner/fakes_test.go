/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// memGateway is an in-memory room store that announces every commit on bus.
type memGateway struct {
	mu          sync.Mutex
	room        Room
	history     []HistoryEntry
	failCommits int
	bus         *memBus
}

func newMemGateway(room Room, bus *memBus) *memGateway {
	return &memGateway{room: room.Clone(), bus: bus}
}

func (g *memGateway) LoadRoom(_ context.Context, code string) (Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if code != g.room.RoomCode {
		return Room{}, ErrNotFound
	}
	return g.room.Clone(), nil
}

func (g *memGateway) CommitSpin(_ context.Context, req CommitRequest) error {
	g.mu.Lock()

	if g.failCommits > 0 {
		g.failCommits--
		g.mu.Unlock()
		return errors.New("connection reset by peer")
	}

	switch {
	case req.CreatorSessionID != g.room.CreatorSessionID,
		req.ExpectedVersion != nil && *req.ExpectedVersion != g.room.Version,
		req.NextMaterialIndex != g.room.CurrentMaterialIndex+1,
		len(req.RemainingNames) != len(g.room.Names)-1:
		g.mu.Unlock()
		return errors.New("conflict")
	}

	g.history = append(g.history, HistoryEntry{
		RoomID:           req.RoomID,
		SelectedName:     req.SelectedName,
		AssignedMaterial: req.AssignedMaterial,
		SpunAt:           time.Now(),
	})
	g.room.Names = slices.Clone(req.RemainingNames)
	g.room.CurrentMaterialIndex = req.NextMaterialIndex
	g.room.Version++
	room := g.room.Clone()
	g.mu.Unlock()

	if g.bus != nil {
		g.bus.deliver(room.RoomCode, Message{Type: MessageRoomChanged, Room: &room})
	}
	return nil
}

func (g *memGateway) state() (Room, []HistoryEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.room.Clone(), slices.Clone(g.history)
}

func (g *memGateway) failNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCommits = n
}

// memBus delivers every message synchronously to every subscriber,
// publisher included.
type memBus struct {
	mu        sync.Mutex
	subs      map[*memChannel]Handlers
	offline   bool
	published []Message
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[*memChannel]Handlers)}
}

func (b *memBus) channel() *memChannel {
	return &memChannel{bus: b}
}

func (b *memBus) setOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
}

func (b *memBus) sent(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, m := range b.published {
		if m.Type == kind {
			n++
		}
	}
	return n
}

func (b *memBus) deliver(_ string, msg Message) {
	b.mu.Lock()
	handlers := make([]Handlers, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		switch msg.Type {
		case MessageSpin:
			h.OnSpin(*msg.Spin)
		case MessageSpinFinalized:
			h.OnSpinFinalized(*msg.NextMaterialIndex)
		case MessageSpinAborted:
			h.OnSpinAborted(msg.Spin.ID)
		case MessageRoomChanged:
			h.OnRoomChanged(*msg.Room)
		}
	}
}

type memChannel struct {
	bus *memBus
}

func (c *memChannel) Subscribe(_ context.Context, _ string, h Handlers) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.bus.subs[c] = h
	return nil
}

func (c *memChannel) Publish(_ context.Context, code string, msg Message) error {
	c.bus.mu.Lock()
	if c.bus.offline {
		c.bus.mu.Unlock()
		return ErrChannelUnavailable
	}
	c.bus.published = append(c.bus.published, msg)
	c.bus.mu.Unlock()

	c.bus.deliver(code, msg)
	return nil
}

func (c *memChannel) Unsubscribe(string) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	delete(c.bus.subs, c)
	return nil
}

func (c *memChannel) Connected(string) bool {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return !c.bus.offline
}

type staticTokens map[string]string

func (s staticTokens) Token(code string) (string, error) {
	return s[code], nil
}

// recorder is a View that keeps everything it is shown.
type recorder struct {
	mu            sync.Mutex
	renders       int
	last          Snapshot
	notifications []Notification
	cues          []Cue
}

func (r *recorder) Render(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
	r.last = s
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) Cue(c Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}

func (r *recorder) count(c Cue) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, got := range r.cues {
		if got == c {
			n++
		}
	}
	return n
}

func (r *recorder) errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, n := range r.notifications {
		if n.Level == LevelError {
			errs = append(errs, n.Err)
		}
	}
	return errs
}

// mockGateway is a testify mock for assertions on what the coordinator asks
// of the persistence service.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) LoadRoom(ctx context.Context, code string) (Room, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(Room), args.Error(1)
}

func (m *mockGateway) CommitSpin(ctx context.Context, req CommitRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}
