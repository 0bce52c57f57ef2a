package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketPending  = []byte("pending")
)

// BoltStorage implements Queue using BoltDB. The spool is durable so
// accepted sends survive a restart between the accept response and the
// delivery attempt.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates a new BoltDB spool
func NewBoltStorage(path string) (*BoltStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketPending} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Enqueue adds a message to the spool
func (s *BoltStorage) Enqueue(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}

		indexKey := makeIndexKey(msg.CreatedAt, msg.ID)
		if err := tx.Bucket(bucketPending).Put(indexKey, []byte(msg.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}

		return nil
	})
}

// Dequeue gets the oldest pending message and marks it sending
func (s *BoltStorage) Dequeue(ctx context.Context) (*Message, error) {
	var msg *Message

	err := s.db.Update(func(tx *bolt.Tx) error {
		pendingBucket := tx.Bucket(bucketPending)
		msgBucket := tx.Bucket(bucketMessages)

		c := pendingBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			msgData := msgBucket.Get(v)
			if msgData == nil {
				// Message was deleted, clean up index
				c.Delete()
				continue
			}

			var m Message
			if err := json.Unmarshal(msgData, &m); err != nil {
				c.Delete()
				continue
			}

			m.Status = StatusSending
			m.UpdatedAt = time.Now()

			data, err := json.Marshal(&m)
			if err != nil {
				return err
			}
			if err := msgBucket.Put(v, data); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}

			msg = &m
			return nil
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// Update stores the new state of a message
func (s *BoltStorage) Update(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return tx.Bucket(bucketMessages).Put([]byte(msg.ID), data)
	})
}

// Get retrieves a message by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Message, error) {
	var msg *Message

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(id))
		if data == nil {
			return nil
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msg = &m
		return nil
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// Stats returns spool statistics
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return nil // Skip invalid entries
			}

			stats.Total++
			switch m.Status {
			case StatusPending:
				stats.Pending++
			case StatusSending:
				stats.Sending++
			case StatusDelivered:
				stats.Delivered++
			case StatusFailed:
				stats.Failed++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Close closes the underlying database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// makeIndexKey builds a time-ordered index key so the cursor visits
// pending messages oldest first.
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", t.UnixNano(), id))
}
