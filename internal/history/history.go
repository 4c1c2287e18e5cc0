// Package history persists chat messages in a bbolt database and serves
// them back newest page first.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
)

var bucketMessages = []byte("messages")

// ErrInvalidCursor is returned by Page for cursors it did not issue.
var ErrInvalidCursor = errors.New("history: invalid cursor")

// DefaultPageSize is used when Page is asked for a non-positive limit.
const DefaultPageSize = 20

// Store is an append-only message log. Keys are bbolt bucket sequence
// numbers, so iteration order is insertion order.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMessages)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores msg at the end of the log.
func (s *Store) Append(msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("history: encode %s: %w", msg.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	var n int
	s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketMessages).Stats().KeyN
		return nil
	})
	return n
}

// Clear removes every stored message.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketMessages); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketMessages)
		return err
	})
}

// Page returns up to limit messages older than cursor, oldest first. An
// empty cursor starts from the newest message. The returned cursor is set
// when older messages remain.
func (s *Store) Page(cursor string, limit int) (connector.HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var before uint64
	if cursor != "" {
		n, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil || n == 0 {
			return connector.HistoryPage{}, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
		}
		before = n
	}

	var page connector.HistoryPage
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()

		var k, v []byte
		if before == 0 {
			k, v = c.Last()
		} else {
			// Seek lands on the first key >= before; step back past it.
			k, _ = c.Seek(itob(before))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		var oldest uint64
		for ; k != nil && len(page.Messages) < limit; k, v = c.Prev() {
			var m message.IncomingMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode entry %d: %w", btoi(k), err)
			}
			page.Messages = append(page.Messages, m)
			oldest = btoi(k)
		}
		if k != nil {
			page.HasMore = true
			page.Cursor = strconv.FormatUint(oldest, 10)
		}
		return nil
	})
	if err != nil {
		return connector.HistoryPage{}, fmt.Errorf("history: page: %w", err)
	}

	for i, j := 0, len(page.Messages)-1; i < j; i, j = i+1, j-1 {
		page.Messages[i], page.Messages[j] = page.Messages[j], page.Messages[i]
	}
	return page, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
