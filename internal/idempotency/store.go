// Package idempotency remembers processed payment webhook deliveries so a
// redelivered event is answered with the original outcome instead of being
// applied again.
package idempotency

import (
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "webhook_deliveries"

var ErrNotFound = errors.New("delivery not found")

// Record is the stored outcome of one delivery.
type Record struct {
	EventID     string    `json:"event_id"`
	SessionID   string    `json:"session_id"`
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Store struct {
	db *bolt.DB
}

// New opens (or creates) the store file at path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(eventID string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(eventID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Remember stores rec unless a record with the same event id exists. It
// returns the stored record and whether this call wrote it.
func (s *Store) Remember(rec Record) (*Record, bool, error) {
	var result Record
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		if existing := b.Get([]byte(rec.EventID)); existing != nil {
			return json.Unmarshal(existing, &result)
		}

		if rec.ProcessedAt.IsZero() {
			rec.ProcessedAt = time.Now().UTC()
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		result = rec
		created = true
		return b.Put([]byte(rec.EventID), data)
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// Prune drops records processed before cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.ProcessedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
