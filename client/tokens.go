/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"errors"
	"fmt"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/dgraph-io/badger/v4"
)

const tokenPrefix = "creator:"

// Tokens keeps the creator tokens of the rooms created from this machine.
type Tokens struct {
	db *badger.DB
}

// OpenTokens opens the token store in dir, creating it if needed.
func OpenTokens(dir string) (*Tokens, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	return &Tokens{db: db}, nil
}

// OpenMemoryTokens returns a store that forgets everything on Close.
func OpenMemoryTokens() (*Tokens, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	return &Tokens{db: db}, nil
}

func (t *Tokens) Close() error {
	return t.db.Close()
}

func key(code string) []byte {
	return []byte(tokenPrefix + spinner.NormalizeRoomCode(code))
}

// Token returns the creator token for a room, or "" if none is stored.
func (t *Tokens) Token(roomCode string) (string, error) {
	var token string

	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(roomCode))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			token = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read creator token: %w", err)
	}

	return token, nil
}

func (t *Tokens) Save(roomCode, token string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(roomCode), []byte(token))
	})
	if err != nil {
		return fmt.Errorf("save creator token: %w", err)
	}
	return nil
}

func (t *Tokens) Forget(roomCode string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(roomCode))
	})
	if err != nil {
		return fmt.Errorf("forget creator token: %w", err)
	}
	return nil
}

// Rooms lists the codes of every room with a stored token.
func (t *Tokens) Rooms() ([]string, error) {
	var codes []string

	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(tokenPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			codes = append(codes, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list creator tokens: %w", err)
	}

	return codes, nil
}

var _ spinner.Tokens = (*Tokens)(nil)
