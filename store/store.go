/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package store persists rooms and their spin history in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrConflict = errors.New("room has changed")
	ErrInvalid  = errors.New("invalid room")
)

//go:embed schema.sql
var schema string

// NewRoom is what a creator submits. RoomCode must already be chosen.
type NewRoom struct {
	RoomCode  string
	RoomName  string
	Names     []string
	Materials []string
}

// Store is safe for concurrent use.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	subs   map[string]map[int]func(spinner.Room)
	nextID int
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrInvalid)
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// Commits are serialised through a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return &Store{
		db:   db,
		subs: make(map[string]map[int]func(spinner.Room)),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CodeExists reports whether a room with code exists.
func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms WHERE room_code = ?`, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check room code: %w", err)
	}
	return n > 0, nil
}

// CreateRoom inserts a room at version 0 with a fresh id and creator token.
func (s *Store) CreateRoom(ctx context.Context, in NewRoom) (spinner.Room, error) {
	in.RoomName = strings.TrimSpace(in.RoomName)
	switch {
	case spinner.ValidateRoomCode(in.RoomCode) != nil:
		return spinner.Room{}, fmt.Errorf("%w: bad room code %q", ErrInvalid, in.RoomCode)
	case in.RoomName == "":
		return spinner.Room{}, fmt.Errorf("%w: room name is required", ErrInvalid)
	case len(in.Names) == 0 || len(in.Names) != len(in.Materials):
		return spinner.Room{}, fmt.Errorf("%w: names and materials must be non-empty and the same length", ErrInvalid)
	}

	names, err := json.Marshal(in.Names)
	if err != nil {
		return spinner.Room{}, fmt.Errorf("encode names: %w", err)
	}
	materials, err := json.Marshal(in.Materials)
	if err != nil {
		return spinner.Room{}, fmt.Errorf("encode materials: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	room := spinner.Room{
		ID:               uuid.NewString(),
		RoomCode:         in.RoomCode,
		RoomName:         in.RoomName,
		Names:            slices.Clone(in.Names),
		Materials:        slices.Clone(in.Materials),
		CreatorSessionID: uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (
		   id, room_code, room_name, names, materials,
		   current_material_index, creator_session_id, version, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, 0, ?, 0, ?, ?)`,
		room.ID, room.RoomCode, room.RoomName, string(names), string(materials),
		room.CreatorSessionID, toMillis(now), toMillis(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return spinner.Room{}, fmt.Errorf("%w: room code %s is taken", ErrConflict, room.RoomCode)
		}
		return spinner.Room{}, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

const roomColumns = `id, room_code, room_name, names, materials, current_material_index,
	creator_session_id, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (spinner.Room, error) {
	var (
		room                 spinner.Room
		names, materials     string
		createdAt, updatedAt int64
	)

	err := row.Scan(&room.ID, &room.RoomCode, &room.RoomName, &names, &materials,
		&room.CurrentMaterialIndex, &room.CreatorSessionID, &room.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return spinner.Room{}, ErrNotFound
	}
	if err != nil {
		return spinner.Room{}, fmt.Errorf("scan room: %w", err)
	}

	if err := json.Unmarshal([]byte(names), &room.Names); err != nil {
		return spinner.Room{}, fmt.Errorf("decode names: %w", err)
	}
	if err := json.Unmarshal([]byte(materials), &room.Materials); err != nil {
		return spinner.Room{}, fmt.Errorf("decode materials: %w", err)
	}
	if room.Names == nil {
		room.Names = []string{}
	}

	room.CreatedAt = fromMillis(createdAt)
	room.UpdatedAt = fromMillis(updatedAt)

	return room, nil
}

// RoomByCode returns the room with code, creator token included.
func (s *Store) RoomByCode(ctx context.Context, code string) (spinner.Room, error) {
	return scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_code = ?`, code))
}

// RoomByID returns the room with id, creator token included.
func (s *Store) RoomByID(ctx context.Context, id string) (spinner.Room, error) {
	return scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id))
}

// CommitSpin applies one spin outcome: the room's names, index and version
// change and a history row is written, in one transaction, or nothing changes.
// Any mismatch with the stored room is ErrConflict.
func (s *Store) CommitSpin(ctx context.Context, req spinner.CommitRequest) (spinner.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return spinner.Room{}, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	room, err := scanRoom(tx.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, req.RoomID))
	if err != nil {
		return spinner.Room{}, err
	}

	if err := checkCommit(room, req); err != nil {
		return spinner.Room{}, err
	}

	remaining, err := json.Marshal(lo.Ternary(req.RemainingNames == nil, []string{}, req.RemainingNames))
	if err != nil {
		return spinner.Room{}, fmt.Errorf("encode names: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)

	res, err := tx.ExecContext(ctx,
		`UPDATE rooms
		    SET names = ?, current_material_index = ?, version = version + 1, updated_at = ?
		  WHERE id = ? AND version = ?`,
		string(remaining), req.NextMaterialIndex, toMillis(now), room.ID, room.Version,
	)
	if err != nil {
		return spinner.Room{}, fmt.Errorf("update room: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return spinner.Room{}, fmt.Errorf("update room: %w", err)
	} else if n != 1 {
		return spinner.Room{}, fmt.Errorf("%w: room %s was updated concurrently", ErrConflict, room.RoomCode)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO spin_history (id, room_id, selected_name, assigned_material, spun_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ulid.Make().String(), room.ID, req.SelectedName, req.AssignedMaterial, toMillis(now),
	)
	if err != nil {
		return spinner.Room{}, fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return spinner.Room{}, fmt.Errorf("commit spin: %w", err)
	}

	room.Names = slices.Clone(req.RemainingNames)
	if room.Names == nil {
		room.Names = []string{}
	}
	room.CurrentMaterialIndex = req.NextMaterialIndex
	room.Version++
	room.UpdatedAt = now

	s.notify(room)

	return room, nil
}

func checkCommit(room spinner.Room, req spinner.CommitRequest) error {
	conflict := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
	}

	switch {
	case req.CreatorSessionID == "" || req.CreatorSessionID != room.CreatorSessionID:
		return conflict("creator session does not match")
	case req.ExpectedVersion != nil && *req.ExpectedVersion != room.Version:
		return conflict("expected version %d, have %d", *req.ExpectedVersion, room.Version)
	case room.Complete():
		return conflict("every material is already assigned")
	case req.NextMaterialIndex != room.CurrentMaterialIndex+1:
		return conflict("next material index %d does not follow %d", req.NextMaterialIndex, room.CurrentMaterialIndex)
	case req.AssignedMaterial != room.CurrentMaterial():
		return conflict("material %q is not the current material", req.AssignedMaterial)
	case !removesOne(room.Names, req.SelectedName, req.RemainingNames):
		return conflict("remaining names do not match %q leaving the wheel", req.SelectedName)
	}
	return nil
}

// removesOne reports whether remaining is names with exactly one occurrence of
// name taken out.
func removesOne(names []string, name string, remaining []string) bool {
	if len(remaining) != len(names)-1 {
		return false
	}
	for i, n := range names {
		if n == name && slices.Equal(slices.Delete(slices.Clone(names), i, i+1), remaining) {
			return true
		}
	}
	return false
}

// History returns the committed spins of a room, newest first.
func (s *Store) History(ctx context.Context, roomID string) ([]spinner.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, selected_name, assigned_material, spun_at
		   FROM spin_history
		  WHERE room_id = ?
		  ORDER BY spun_at DESC, id DESC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	history := []spinner.HistoryEntry{}
	for rows.Next() {
		var (
			h      spinner.HistoryEntry
			spunAt int64
		)
		if err := rows.Scan(&h.ID, &h.RoomID, &h.SelectedName, &h.AssignedMaterial, &spunAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.SpunAt = fromMillis(spunAt)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return history, nil
}

// Subscribe registers fn to receive every committed state of the room with
// code. fn is called synchronously after the commit and must not block.
func (s *Store) Subscribe(code string, fn func(spinner.Room)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	if s.subs[code] == nil {
		s.subs[code] = make(map[int]func(spinner.Room))
	}
	s.subs[code][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.subs[code], id)
		if len(s.subs[code]) == 0 {
			delete(s.subs, code)
		}
	}
}

func (s *Store) notify(room spinner.Room) {
	s.mu.Lock()
	fns := lo.Values(s.subs[room.RoomCode])
	s.mu.Unlock()

	for _, fn := range fns {
		fn(room.Clone())
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
