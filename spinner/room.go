/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package spinner coordinates a shared spinning wheel that assigns materials
// to names. One client per room, the creator, decides every outcome; all other
// clients replay the creator's spin and reconcile against the persisted room.
package spinner

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

const (
	RoomCodeLength   = 6
	RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Room is the persisted state of one wheel.
type Room struct {
	ID                   string    `json:"id"`
	RoomCode             string    `json:"roomCode"`
	RoomName             string    `json:"roomName"`
	Names                []string  `json:"names"`
	Materials            []string  `json:"materials"`
	CurrentMaterialIndex int       `json:"currentMaterialIndex"`
	CreatorSessionID     string    `json:"creatorSessionId,omitempty"`
	Version              int64     `json:"version"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Complete reports whether every material has been assigned.
func (r Room) Complete() bool {
	return r.CurrentMaterialIndex >= len(r.Materials)
}

// CurrentMaterial returns the material the next spin assigns, or "" once the
// room is complete.
func (r Room) CurrentMaterial() string {
	if r.CurrentMaterialIndex < 0 || r.Complete() {
		return ""
	}
	return r.Materials[r.CurrentMaterialIndex]
}

// Clone returns a copy that shares no slices with r.
func (r Room) Clone() Room {
	r.Names = append([]string{}, r.Names...)
	r.Materials = append([]string{}, r.Materials...)
	return r
}

// HistoryEntry records one committed spin.
type HistoryEntry struct {
	ID               string    `json:"id"`
	RoomID           string    `json:"roomId"`
	SelectedName     string    `json:"selectedName"`
	AssignedMaterial string    `json:"assignedMaterial"`
	SpunAt           time.Time `json:"spunAt"`
}

// SpinEvent is broadcast by the authority when a spin starts. It is never
// stored.
type SpinEvent struct {
	ID                  string    `json:"id"`
	SelectedIndex       int       `json:"selectedIndex"`
	SelectedName        string    `json:"selectedName"`
	SelectedMaterial    string    `json:"selectedMaterial"`
	TotalRotationAmount float64   `json:"totalRotationAmount"`
	BaseVersion         int64     `json:"baseVersion"`
	Timestamp           time.Time `json:"timestamp"`
}

// CommitRequest is the durable application of one spin outcome.
type CommitRequest struct {
	RoomID            string   `json:"roomId" validate:"required"`
	SelectedName      string   `json:"selectedName" validate:"required"`
	AssignedMaterial  string   `json:"assignedMaterial" validate:"required"`
	RemainingNames    []string `json:"remainingNames"`
	NextMaterialIndex int      `json:"nextMaterialIndex" validate:"min=1"`
	ExpectedVersion   *int64   `json:"expectedVersion,omitempty" validate:"omitempty,min=0"`

	// CreatorSessionID travels out of band (a request header).
	CreatorSessionID string `json:"-"`
}

// Realtime message types.
const (
	MessageSpin          = "spin"
	MessageSpinFinalized = "spin-finalized"
	MessageSpinAborted   = "spin-aborted"
	MessageRoomChanged   = "room-changed"
	MessageError         = "error"
)

// Message is the envelope exchanged on a room's realtime channel.
type Message struct {
	Type              string     `json:"type"`
	Spin              *SpinEvent `json:"spin,omitempty"`
	NextMaterialIndex *int       `json:"nextMaterialIndex,omitempty"`
	Room              *Room      `json:"room,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// NormalizeRoomCode upper-cases and trims a user supplied code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateRoomCode rejects codes that could never exist, before any network
// call is made.
func ValidateRoomCode(code string) error {
	if len(code) != RoomCodeLength {
		return fmt.Errorf("%w: room code must be %d characters", ErrValidation, RoomCodeLength)
	}
	if !lo.EveryBy([]rune(code), func(r rune) bool { return strings.ContainsRune(RoomCodeAlphabet, r) }) {
		return fmt.Errorf("%w: room code must be letters and digits only", ErrValidation)
	}
	return nil
}

func removeAt(names []string, i int) []string {
	return lo.Filter(names, func(_ string, j int) bool { return j != i })
}
