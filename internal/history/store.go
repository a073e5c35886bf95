// Package history persists per-user chat turns in bbolt.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

var bucketTurns = []byte("turns")

// DefaultMaxTurns bounds how many turns are kept per user.
const DefaultMaxTurns = 20

// Store keeps the most recent turns per user.
type Store struct {
	db       *bbolt.DB
	maxTurns int
}

// Open opens or creates the history database at path.
func Open(path string, maxTurns int) (*Store, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating history directory: %v", rag.ErrIO, err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening history db: %v", rag.ErrIO, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTurns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating bucket: %v", rag.ErrIO, err)
	}

	return &Store{db: db, maxTurns: maxTurns}, nil
}

// Append records a turn for user, dropping the oldest beyond the cap.
func (s *Store) Append(user string, turn rag.Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTurns)
		turns, err := decode(b.Get(userKey(user)))
		if err != nil {
			return err
		}
		turns = append(turns, turn)
		if len(turns) > s.maxTurns {
			turns = turns[len(turns)-s.maxTurns:]
		}
		data, err := json.Marshal(turns)
		if err != nil {
			return err
		}
		return b.Put(userKey(user), data)
	})
	if err != nil {
		return fmt.Errorf("%w: appending turn for %q: %v", rag.ErrIO, user, err)
	}
	return nil
}

// Recent returns up to n of user's latest turns, oldest first.
func (s *Store) Recent(user string, n int) ([]rag.Turn, error) {
	var turns []rag.Turn
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		turns, err = decode(tx.Bucket(bucketTurns).Get(userKey(user)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading turns for %q: %v", rag.ErrIO, user, err)
	}
	if n >= 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

// Clear removes every turn for user.
func (s *Store) Clear(user string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTurns).Delete(userKey(user))
	})
	if err != nil {
		return fmt.Errorf("%w: clearing turns for %q: %v", rag.ErrIO, user, err)
	}
	return nil
}

// anonymousKey stores turns of requests without a user name; bbolt rejects
// empty keys.
const anonymousKey = "\x00anonymous"

func userKey(user string) []byte {
	if user == "" {
		return []byte(anonymousKey)
	}
	return []byte(user)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func decode(data []byte) ([]rag.Turn, error) {
	if data == nil {
		return nil, nil
	}
	var turns []rag.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}
