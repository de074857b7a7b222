/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

import "context"

// Gateway is the persistence service holding rooms and their history.
type Gateway interface {
	LoadRoom(ctx context.Context, roomCode string) (Room, error)
	CommitSpin(ctx context.Context, req CommitRequest) error
}

// Handlers receive the messages of one room subscription.
type Handlers struct {
	OnSpin          func(SpinEvent)
	OnSpinFinalized func(nextMaterialIndex int)
	OnSpinAborted   func(spinID string)
	OnRoomChanged   func(Room)
	OnStatus        func(connected bool)
}

// Channel is a per-room publish/subscribe bus. Delivery is at-least-once and
// includes the publisher's own messages.
type Channel interface {
	Subscribe(ctx context.Context, roomCode string, h Handlers) error
	Publish(ctx context.Context, roomCode string, msg Message) error
	Unsubscribe(roomCode string) error
	Connected(roomCode string) bool
}

// Tokens looks up the creator token stored locally for a room. A missing
// token is "" with a nil error.
type Tokens interface {
	Token(roomCode string) (string, error)
}

// Cue is an audible signal.
type Cue int

const (
	CueStart Cue = iota
	CueTick
	CueCelebrate
)

// Level of a Notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

// Notification is a transient, dismissible message for the user.
type Notification struct {
	Level   Level
	Message string
	Err     error
}

// View renders coordinator state. Its methods are called from the
// coordinator's loop goroutine and must not block.
type View interface {
	Render(Snapshot)
	Notify(Notification)
	Cue(Cue)
}
