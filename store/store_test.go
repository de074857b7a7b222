/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/stretchr/testify/require"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "spinnerly.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func createTestRoom(t *testing.T, s *Store) spinner.Room {
	t.Helper()

	room, err := s.CreateRoom(context.Background(), NewRoom{
		RoomCode:  "AB12CD",
		RoomName:  " Friday ",
		Names:     []string{"Ada", "Grace", "Ada"},
		Materials: []string{"M1", "M2", "M3"},
	})
	require.NoError(t, err)
	return room
}

func commitFor(room spinner.Room, index int) spinner.CommitRequest {
	version := room.Version
	remaining := append(append([]string{}, room.Names[:index]...), room.Names[index+1:]...)
	return spinner.CommitRequest{
		RoomID:            room.ID,
		SelectedName:      room.Names[index],
		AssignedMaterial:  room.CurrentMaterial(),
		RemainingNames:    remaining,
		NextMaterialIndex: room.CurrentMaterialIndex + 1,
		ExpectedVersion:   &version,
		CreatorSessionID:  room.CreatorSessionID,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestCreateRoom(t *testing.T) {
	req := require.New(t)
	s := openTempStore(t)
	ctx := context.Background()

	room := createTestRoom(t, s)
	req.NotEmpty(room.ID)
	req.NotEmpty(room.CreatorSessionID)
	req.Equal("Friday", room.RoomName)
	req.Zero(room.Version)

	got, err := s.RoomByCode(ctx, "AB12CD")
	req.NoError(err)
	req.Equal(room, got)

	byID, err := s.RoomByID(ctx, room.ID)
	req.NoError(err)
	req.Equal(room, byID)

	exists, err := s.CodeExists(ctx, "AB12CD")
	req.NoError(err)
	req.True(exists)

	exists, err = s.CodeExists(ctx, "ZZZZZZ")
	req.NoError(err)
	req.False(exists)

	_, err = s.RoomByCode(ctx, "ZZZZZZ")
	req.ErrorIs(err, ErrNotFound)

	_, err = s.CreateRoom(ctx, NewRoom{RoomCode: "AB12CD", RoomName: "again", Names: []string{"a"}, Materials: []string{"b"}})
	req.ErrorIs(err, ErrConflict)
}

func TestCreateRoomRejectsBadInput(t *testing.T) {
	s := openTempStore(t)

	cases := []struct {
		name string
		in   NewRoom
	}{
		{"bad code", NewRoom{RoomCode: "abc", RoomName: "x", Names: []string{"a"}, Materials: []string{"b"}}},
		{"blank name", NewRoom{RoomCode: "AB12CD", RoomName: "  ", Names: []string{"a"}, Materials: []string{"b"}}},
		{"length mismatch", NewRoom{RoomCode: "AB12CD", RoomName: "x", Names: []string{"a", "b"}, Materials: []string{"b"}}},
		{"empty", NewRoom{RoomCode: "AB12CD", RoomName: "x"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateRoom(context.Background(), tc.in)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCommitSpin(t *testing.T) {
	req := require.New(t)
	s := openTempStore(t)
	ctx := context.Background()

	room := createTestRoom(t, s)

	var (
		mu      sync.Mutex
		changes []spinner.Room
	)
	unsubscribe := s.Subscribe(room.RoomCode, func(r spinner.Room) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, r)
	})

	// Removing the second "Ada" must leave the first one in place.
	updated, err := s.CommitSpin(ctx, commitFor(room, 2))
	req.NoError(err)
	req.Equal([]string{"Ada", "Grace"}, updated.Names)
	req.Equal(1, updated.CurrentMaterialIndex)
	req.Equal(int64(1), updated.Version)

	stored, err := s.RoomByCode(ctx, room.RoomCode)
	req.NoError(err)
	req.Equal(updated.Names, stored.Names)
	req.Equal(updated.Version, stored.Version)

	mu.Lock()
	req.Len(changes, 1)
	req.Equal(int64(1), changes[0].Version)
	mu.Unlock()

	unsubscribe()

	updated, err = s.CommitSpin(ctx, commitFor(stored, 1))
	req.NoError(err)

	last, err := s.CommitSpin(ctx, commitFor(updated, 0))
	req.NoError(err)
	req.True(last.Complete())
	req.Empty(last.Names)

	mu.Lock()
	req.Len(changes, 1)
	mu.Unlock()

	history, err := s.History(ctx, room.ID)
	req.NoError(err)
	req.Len(history, 3)
	req.Equal("M3", history[0].AssignedMaterial)
	req.Equal("M2", history[1].AssignedMaterial)
	req.Equal("M1", history[2].AssignedMaterial)
	req.Equal("Ada", history[2].SelectedName)
}

func TestCommitSpinRejectsConflicts(t *testing.T) {
	s := openTempStore(t)
	room := createTestRoom(t, s)

	stale := int64(7)

	cases := []struct {
		name   string
		mutate func(*spinner.CommitRequest)
	}{
		{"wrong token", func(r *spinner.CommitRequest) { r.CreatorSessionID = "nope" }},
		{"missing token", func(r *spinner.CommitRequest) { r.CreatorSessionID = "" }},
		{"stale version", func(r *spinner.CommitRequest) { r.ExpectedVersion = &stale }},
		{"skipped material", func(r *spinner.CommitRequest) { r.NextMaterialIndex = 2 }},
		{"wrong material", func(r *spinner.CommitRequest) { r.AssignedMaterial = "M2" }},
		{"unknown name", func(r *spinner.CommitRequest) { r.SelectedName = "Linus" }},
		{"names not removed", func(r *spinner.CommitRequest) { r.RemainingNames = []string{"Ada", "Grace", "Ada"} }},
		{"wrong name removed", func(r *spinner.CommitRequest) { r.RemainingNames = []string{"Grace", "Ada"} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := commitFor(room, 1)
			tc.mutate(&r)

			_, err := s.CommitSpin(context.Background(), r)
			require.ErrorIs(t, err, ErrConflict)
		})
	}

	t.Run("unknown room", func(t *testing.T) {
		r := commitFor(room, 1)
		r.RoomID = "missing"

		_, err := s.CommitSpin(context.Background(), r)
		require.ErrorIs(t, err, ErrNotFound)
	})

	history, err := s.History(context.Background(), room.ID)
	require.NoError(t, err)
	require.Empty(t, history)

	stored, err := s.RoomByID(context.Background(), room.ID)
	require.NoError(t, err)
	require.Zero(t, stored.Version)
}

func TestCommitSpinSameVersionOnlyOnce(t *testing.T) {
	req := require.New(t)
	s := openTempStore(t)
	room := createTestRoom(t, s)

	r := commitFor(room, 0)

	_, err := s.CommitSpin(context.Background(), r)
	req.NoError(err)

	_, err = s.CommitSpin(context.Background(), r)
	req.ErrorIs(err, ErrConflict)

	history, err := s.History(context.Background(), room.ID)
	req.NoError(err)
	req.Len(history, 1)
}
