// Package journal persists a history of readings taken from bench
// instruments. It records measurements, never device configuration.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"benchlab/pkg/instrument"
)

const bucket = "readings"

// Entry is one journaled measurement.
type Entry struct {
	Taken    time.Time            `json:"taken"`
	Device   string               `json:"device"`
	Channel  int                  `json:"channel"`
	Readings []instrument.Reading `json:"readings"`
}

// Store is a bbolt-backed measurement journal.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one entry. Entries are keyed by an insertion sequence
// so listing returns them in the order they were taken.
func (s *Store) Append(e Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		value, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

// List returns the journaled entries in insertion order. A non-empty
// device filters to that device identity; limit 0 means no limit.
func (s *Store) List(device string, limit int) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if device != "" && e.Device != device {
				return nil
			}
			if limit > 0 && len(entries) >= limit {
				return nil
			}
			entries = append(entries, e)
			return nil
		})
	})

	return entries, err
}
