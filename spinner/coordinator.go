/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State of a Coordinator.
type State int

const (
	Idle State = iota
	Spinning
	Saving
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Spinning:
		return "spinning"
	case Saving:
		return "saving"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome shown once a spin stops.
type Result struct {
	Name     string
	Material string
}

// Snapshot is a copy of a Coordinator's state, safe to keep.
type Snapshot struct {
	State                State
	RoomCode             string
	RoomName             string
	Names                []string
	Materials            []string
	CurrentMaterialIndex int
	CurrentMaterial      string
	Version              int64
	Rotation             float64
	Result               *Result
	Celebrating          bool
	Authority            bool
	Connected            bool
}

// Deps are the collaborators of a Coordinator. Tokens and View may be nil.
type Deps struct {
	Gateway Gateway
	Channel Channel
	Tokens  Tokens
	View    View
}

type Option func(*Coordinator)

func WithSettings(s Settings) Option {
	return func(c *Coordinator) { c.settings = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithSource(src Source) Option {
	return func(c *Coordinator) { c.rng = src }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator is the spin state machine for one client in one room. All of
// its state is owned by the goroutine running Run; every input, whether a
// user request, a channel message, a gateway reply or an animation frame, is
// queued to that goroutine and handled one at a time.
type Coordinator struct {
	code     string
	gateway  Gateway
	channel  Channel
	tokens   Tokens
	view     View
	rng      Source
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
	driver   *Driver

	inbox   chan func()
	done    chan struct{}
	started atomic.Bool

	// Owned by the Run goroutine.
	ctx         context.Context
	room        Room
	token       string
	authority   bool
	state       State
	rotation    float64
	result      *Result
	celebrating bool
	pending     *SpinEvent
	saving      string
	played      map[string]struct{}
	optimistic  bool
	stale       bool
	cancelAnim  func()
	echoTimer   *time.Timer
	lingerTimer *time.Timer
	lingerGen   int
}

func New(roomCode string, deps Deps, opts ...Option) (*Coordinator, error) {
	code := NormalizeRoomCode(roomCode)
	if err := ValidateRoomCode(code); err != nil {
		return nil, err
	}
	if deps.Gateway == nil || deps.Channel == nil {
		return nil, fmt.Errorf("%w: gateway and channel are required", ErrValidation)
	}

	c := &Coordinator{
		code:     code,
		gateway:  deps.Gateway,
		channel:  deps.Channel,
		tokens:   deps.Tokens,
		view:     deps.View,
		settings: DefaultSettings(),
		log:      zerolog.Nop(),
		now:      time.Now,
		inbox:    make(chan func(), 256),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		played:   make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.settings = c.settings.withDefaults()

	if c.rng == nil {
		src, err := NewSource()
		if err != nil {
			return nil, err
		}
		c.rng = src
	}
	if c.view == nil {
		c.view = nopView{}
	}
	if c.tokens == nil {
		c.tokens = noTokens{}
	}

	c.driver = NewDriver(c.settings, c.now, c.post)

	return c, nil
}

// Run loads the room, subscribes to its channel and handles events until ctx
// is cancelled. Leaving cancels any animation and releases the subscription.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator for room %s is already running", c.code)
	}
	defer close(c.done)

	room, err := c.gateway.LoadRoom(ctx, c.code)
	if err != nil {
		c.fail("load room", err)
		return err
	}

	c.ctx = ctx
	c.apply(room)

	err = c.channel.Subscribe(ctx, c.code, Handlers{
		OnSpin:          c.OnSpinEventReceived,
		OnSpinFinalized: c.OnSpinFinalized,
		OnSpinAborted:   c.OnSpinAborted,
		OnRoomChanged:   c.OnRoomChanged,
		OnStatus: func(connected bool) {
			c.post(func() {
				c.log.Debug().Str("room", c.code).Bool("connected", connected).Msg("realtime status")
				c.render()
			})
		},
	})
	if err != nil {
		c.fail("subscribe", fmt.Errorf("%w: %w", ErrChannelUnavailable, err))
	}
	defer c.teardown()

	c.log.Info().Str("room", c.code).Bool("authority", c.authority).Msg("joined room")
	c.render()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.inbox:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// RequestSpin asks for a new spin. It fails without changing anything unless
// this client is the authority, no spin is in flight, and names remain.
func (c *Coordinator) RequestSpin(ctx context.Context) error {
	errs := make(chan error, 1)
	if !c.post(func() { errs <- c.requestSpin() }) {
		return ErrClosed
	}

	select {
	case err := <-errs:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	snaps := make(chan Snapshot, 1)
	if !c.post(func() { snaps <- c.snapshot() }) {
		return Snapshot{}, ErrClosed
	}

	select {
	case s := <-snaps:
		return s, nil
	case <-c.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// OnSpinEventReceived queues a spin broadcast, including this client's own.
func (c *Coordinator) OnSpinEventReceived(ev SpinEvent) {
	c.post(func() { c.onSpin(ev) })
}

// OnSpinFinalized queues the fast-path notice that a commit landed.
func (c *Coordinator) OnSpinFinalized(nextMaterialIndex int) {
	c.post(func() { c.onSpinFinalized(nextMaterialIndex) })
}

// OnSpinAborted queues the notice that a broadcast spin will not be
// committed.
func (c *Coordinator) OnSpinAborted(spinID string) {
	c.post(func() { c.onSpinAborted(spinID) })
}

// OnRoomChanged queues a persisted room state. It is the point where local
// state is reconciled with what was durably committed.
func (c *Coordinator) OnRoomChanged(room Room) {
	c.post(func() { c.reconcile(room, "notification") })
}

func (c *Coordinator) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) requestSpin() error {
	if err := c.checkSpin(); err != nil {
		c.reject(err)
		return err
	}

	if len(c.room.Names) == 1 {
		c.commitSole()
		return nil
	}

	if !c.channel.Connected(c.code) {
		c.reject(ErrChannelUnavailable)
		return ErrChannelUnavailable
	}

	out, err := Select(len(c.room.Names), c.rotation, c.rng)
	if err != nil {
		c.reject(err)
		return err
	}

	ev := SpinEvent{
		ID:                  uuid.NewString(),
		SelectedIndex:       out.SelectedIndex,
		SelectedName:        c.room.Names[out.SelectedIndex],
		SelectedMaterial:    c.room.CurrentMaterial(),
		TotalRotationAmount: out.TotalRotation,
		BaseVersion:         c.room.Version,
		Timestamp:           c.now(),
	}

	err = c.channel.Publish(c.ctx, c.code, Message{Type: MessageSpin, Spin: &ev})
	if err != nil {
		if !errors.Is(err, ErrChannelUnavailable) {
			err = fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
		}
		c.reject(err)
		return err
	}

	c.log.Debug().Str("room", c.code).Str("spin", ev.ID).Int("index", ev.SelectedIndex).Msg("spin published")

	c.state = Spinning
	c.pending = &ev
	c.armEcho(ev.ID)
	c.render()

	return nil
}

func (c *Coordinator) checkSpin() error {
	switch {
	case !c.authority:
		return ErrNotAuthority
	case c.state == Spinning, c.state == Saving:
		return ErrBusy
	case c.state == Complete, c.room.Complete():
		return ErrComplete
	case len(c.room.Names) == 0:
		return ErrNoNames
	case c.stale:
		c.reload()
		return ErrRefreshing
	}
	return nil
}

// commitSole assigns the last material to the last name. There is nothing to
// draw, so no spin is broadcast.
func (c *Coordinator) commitSole() {
	name, material := c.room.Names[0], c.room.CurrentMaterial()

	c.state = Saving
	c.result = &Result{Name: name, Material: material}
	c.celebrate()
	c.render()

	c.commit(0, name, material)
}

func (c *Coordinator) onSpin(ev SpinEvent) {
	log := c.log.Debug().Str("room", c.code).Str("spin", ev.ID)

	_, seen := c.played[ev.ID]

	switch {
	case c.cancelAnim != nil:
		log.Msg("ignoring spin while another is playing")
		return
	case c.state == Saving, c.state == Complete:
		log.Str("state", c.state.String()).Msg("ignoring spin")
		return
	case seen:
		log.Msg("ignoring duplicate spin")
		return
	case ev.BaseVersion < c.room.Version:
		log.Int64("base", ev.BaseVersion).Int64("version", c.room.Version).Msg("ignoring stale spin")
		return
	case c.state == Spinning && (c.pending == nil || c.pending.ID != ev.ID):
		log.Msg("ignoring foreign spin while waiting for own echo")
		return
	case ev.TotalRotationAmount < 0, math.IsNaN(ev.TotalRotationAmount), math.IsInf(ev.TotalRotationAmount, 0):
		log.Float64("rotation", ev.TotalRotationAmount).Msg("ignoring malformed spin")
		return
	}

	if c.pending != nil && c.pending.ID == ev.ID {
		c.stopEcho()
		c.pending = nil
	}

	c.played[ev.ID] = struct{}{}
	c.state = Spinning
	c.result = nil
	c.celebrating = false
	c.stopLinger()
	c.cue(CueStart)

	c.cancelAnim = c.driver.Play(c.rotation, ev.TotalRotationAmount, Callbacks{
		OnFrame: func(rotation float64) {
			c.rotation = rotation
			c.render()
		},
		OnTick: func() {
			c.cue(CueTick)
		},
		OnComplete: func() {
			c.cancelAnim = nil
			c.finishSpin(ev)
		},
	})

	c.render()
}

func (c *Coordinator) finishSpin(ev SpinEvent) {
	c.result = &Result{Name: ev.SelectedName, Material: ev.SelectedMaterial}
	c.celebrate()

	if c.authority {
		c.state = Saving
		c.saving = ev.ID
		c.render()
		c.commit(ev.SelectedIndex, ev.SelectedName, ev.SelectedMaterial)
		return
	}

	names := c.room.Names
	if !c.optimistic && ev.BaseVersion == c.room.Version &&
		ev.SelectedIndex >= 0 && ev.SelectedIndex < len(names) && names[ev.SelectedIndex] == ev.SelectedName {
		c.room.Names = removeAt(names, ev.SelectedIndex)
		c.room.CurrentMaterialIndex++
		c.optimistic = true
	}

	c.state = c.restingState()
	if c.state == Complete {
		c.result = nil
		c.celebrating = false
		c.rotation = 0
	}

	c.render()
}

func (c *Coordinator) commit(index int, name, material string) {
	names := c.room.Names
	if index < 0 || index >= len(names) || names[index] != name {
		c.commitFailed(fmt.Errorf("%w: %q is no longer on the wheel", ErrPersistence, name))
		return
	}

	version := c.room.Version
	req := CommitRequest{
		RoomID:            c.room.ID,
		SelectedName:      name,
		AssignedMaterial:  material,
		RemainingNames:    removeAt(names, index),
		NextMaterialIndex: c.room.CurrentMaterialIndex + 1,
		ExpectedVersion:   &version,
		CreatorSessionID:  c.token,
	}

	ctx := c.ctx
	go func() {
		err := c.gateway.CommitSpin(ctx, req)
		c.post(func() { c.onCommitted(req, err) })
	}()
}

func (c *Coordinator) onCommitted(req CommitRequest, err error) {
	if err != nil {
		if !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		c.commitFailed(err)
		return
	}

	c.log.Info().
		Str("room", c.code).
		Str("name", req.SelectedName).
		Str("material", req.AssignedMaterial).
		Int("next", req.NextMaterialIndex).
		Msg("spin committed")

	c.saving = ""

	c.view.Notify(Notification{
		Level:   LevelSuccess,
		Message: fmt.Sprintf("%s receives %s", req.SelectedName, req.AssignedMaterial),
	})

	next := req.NextMaterialIndex
	if c.channel.Connected(c.code) {
		err := c.channel.Publish(c.ctx, c.code, Message{Type: MessageSpinFinalized, NextMaterialIndex: &next})
		if err != nil {
			c.log.Warn().Err(err).Str("room", c.code).Msg("failed to publish spin-finalized")
		}
	}

	c.reload()
}

// commitFailed unlocks the wheel without retrying. The cached room is marked
// stale and re-fetched so the next attempt starts from committed state.
func (c *Coordinator) commitFailed(err error) {
	c.abandon(c.saving)
	c.saving = ""

	c.fail("commit spin", err)

	c.state = c.restingState()
	c.result = nil
	c.celebrating = false
	c.stale = true
	c.render()

	c.reload()
}

func (c *Coordinator) reload() {
	ctx := c.ctx
	go func() {
		room, err := c.gateway.LoadRoom(ctx, c.code)
		c.post(func() {
			if err != nil {
				c.fail("reload room", err)
				c.stale = true
				if c.state == Saving {
					c.state = c.restingState()
					c.result = nil
					c.render()
				}
				return
			}
			c.reconcile(room, "reload")
		})
	}()
}

func (c *Coordinator) onSpinFinalized(next int) {
	if c.authority {
		return
	}

	// Already reconciled to (or past) this commit.
	if next < c.room.CurrentMaterialIndex || (next == c.room.CurrentMaterialIndex && !c.optimistic) {
		return
	}

	if next >= len(c.room.Materials) {
		c.stopAnimation()
		c.stopLinger()
		c.room.Names = []string{}
		c.room.CurrentMaterialIndex = len(c.room.Materials)
		c.result = nil
		c.celebrating = false
		c.rotation = 0
		c.state = Complete
		c.render()
		return
	}

	if c.cancelAnim == nil {
		c.result = nil
		c.celebrating = false
		c.render()
	}
}

// onSpinAborted drops whatever a viewer applied for the spin and refetches
// the committed room.
func (c *Coordinator) onSpinAborted(id string) {
	if c.authority {
		return
	}

	c.log.Debug().Str("room", c.code).Str("spin", id).Msg("spin aborted by authority")

	c.stopAnimation()
	c.stopLinger()
	c.result = nil
	c.celebrating = false
	c.rotation = 0
	c.state = c.restingState()
	c.stale = true
	c.render()

	c.reload()
}

// abandon tells the other clients in the room that spin id will not be
// committed. Best effort.
func (c *Coordinator) abandon(id string) {
	if id == "" {
		return
	}

	err := c.channel.Publish(c.ctx, c.code, Message{Type: MessageSpinAborted, Spin: &SpinEvent{ID: id}})
	if err != nil {
		c.log.Warn().Err(err).Str("room", c.code).Str("spin", id).Msg("failed to publish spin-aborted")
	}
}

// inFlight reports whether a spin has started and not yet been settled.
func (c *Coordinator) inFlight() bool {
	return c.cancelAnim != nil || c.pending != nil || c.state == Saving
}

func (c *Coordinator) reconcile(room Room, source string) {
	// A repeat of the state we already hold, such as a reconnect catch-up,
	// must not cancel a spin that is still playing or being saved.
	if room.Version == c.room.Version && c.inFlight() {
		c.log.Debug().
			Str("room", c.code).
			Str("source", source).
			Int64("version", room.Version).
			Msg("keeping in-flight spin")
		return
	}

	if room.Version < c.room.Version {
		c.log.Debug().
			Str("room", c.code).
			Str("source", source).
			Int64("got", room.Version).
			Int64("have", c.room.Version).
			Msg("dropping stale room state")
		return
	}

	c.apply(room)
	c.render()
}

// apply overwrites every cached field with a committed room.
func (c *Coordinator) apply(room Room) {
	c.stopAnimation()
	c.stopEcho()
	c.stopLinger()

	c.room = room.Clone()
	c.token = c.lookupToken()
	c.authority = c.token != "" && c.token == room.CreatorSessionID
	c.optimistic = false
	c.stale = false
	c.pending = nil
	c.result = nil
	c.celebrating = false
	c.rotation = 0
	c.state = c.restingState()
}

func (c *Coordinator) restingState() State {
	if c.room.Complete() {
		return Complete
	}
	return Idle
}

func (c *Coordinator) lookupToken() string {
	token, err := c.tokens.Token(c.code)
	if err != nil {
		c.log.Warn().Err(err).Str("room", c.code).Msg("failed to read creator token")
		return ""
	}
	return token
}

func (c *Coordinator) armEcho(id string) {
	if c.settings.EchoTimeout <= 0 {
		return
	}

	c.stopEcho()
	c.echoTimer = time.AfterFunc(c.settings.EchoTimeout, func() {
		c.post(func() {
			if c.pending == nil || c.pending.ID != id || c.cancelAnim != nil {
				return
			}
			c.pending = nil
			c.state = c.restingState()
			c.abandon(id)
			c.reject(fmt.Errorf("%w: spin was not echoed back", ErrChannelUnavailable))
			c.render()
		})
	})
}

func (c *Coordinator) celebrate() {
	c.celebrating = true
	c.cue(CueCelebrate)

	if c.settings.ResultLinger <= 0 {
		return
	}

	c.stopLinger()
	c.lingerGen++
	gen := c.lingerGen
	c.lingerTimer = time.AfterFunc(c.settings.ResultLinger, func() {
		c.post(func() {
			if gen != c.lingerGen {
				return
			}
			c.celebrating = false
			c.render()
		})
	})
}

func (c *Coordinator) stopAnimation() {
	if c.cancelAnim != nil {
		c.cancelAnim()
		c.cancelAnim = nil
	}
}

func (c *Coordinator) stopEcho() {
	if c.echoTimer != nil {
		c.echoTimer.Stop()
		c.echoTimer = nil
	}
}

func (c *Coordinator) stopLinger() {
	if c.lingerTimer != nil {
		c.lingerTimer.Stop()
		c.lingerTimer = nil
	}
	c.lingerGen++
}

func (c *Coordinator) teardown() {
	c.stopAnimation()
	c.stopEcho()
	c.stopLinger()

	if err := c.channel.Unsubscribe(c.code); err != nil {
		c.log.Warn().Err(err).Str("room", c.code).Msg("failed to unsubscribe")
	}

	c.log.Info().Str("room", c.code).Msg("left room")
}

func (c *Coordinator) cue(cue Cue) {
	if c.settings.Sound {
		c.view.Cue(cue)
	}
}

func (c *Coordinator) reject(err error) {
	c.log.Warn().Err(err).Str("room", c.code).Msg("spin rejected")
	c.view.Notify(Notification{Level: LevelError, Message: err.Error(), Err: err})
}

func (c *Coordinator) fail(op string, err error) {
	c.log.Error().Err(err).Str("room", c.code).Msg(op)
	c.view.Notify(Notification{Level: LevelError, Message: err.Error(), Err: err})
}

func (c *Coordinator) render() {
	c.view.Render(c.snapshot())
}

func (c *Coordinator) snapshot() Snapshot {
	var result *Result
	if c.result != nil {
		r := *c.result
		result = &r
	}

	return Snapshot{
		State:                c.state,
		RoomCode:             c.code,
		RoomName:             c.room.RoomName,
		Names:                append([]string{}, c.room.Names...),
		Materials:            append([]string{}, c.room.Materials...),
		CurrentMaterialIndex: c.room.CurrentMaterialIndex,
		CurrentMaterial:      c.room.CurrentMaterial(),
		Version:              c.room.Version,
		Rotation:             c.rotation,
		Result:               result,
		Celebrating:          c.celebrating,
		Authority:            c.authority,
		Connected:            c.channel.Connected(c.code),
	}
}

type nopView struct{}

func (nopView) Render(Snapshot)     {}
func (nopView) Notify(Notification) {}
func (nopView) Cue(Cue)             {}

type noTokens struct{}

func (noTokens) Token(string) (string, error) { return "", nil }
