package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"evidence/internal/domain"
)

var (
	bucketConfidence = []byte("confidence")
	bucketValidation = []byte("validation")
)

// Store is the persistent memo of verification and validation results.
// Entries survive process restarts; a recompute overwrites the entry
// wholesale (last write wins, no locking beyond bbolt's).
type Store struct {
	db *bbolt.DB
}

// ConfidenceEntry is the cached outcome of one (claim, quote) verification.
type ConfidenceEntry struct {
	Supports   bool      `json:"supports"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketConfidence, bucketValidation} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
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

// Key returns the stable cache key for a (claim, quote) pair.
func Key(claim, quote string) string {
	sum := sha256.Sum256([]byte(claim + "\x00" + quote))
	return hex.EncodeToString(sum[:16])
}

// GetConfidence looks up a cached verification for a (claim, quote) pair.
func (s *Store) GetConfidence(claim, quote string) (ConfidenceEntry, bool) {
	var entry ConfidenceEntry
	found := false
	s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConfidence).Get([]byte(Key(claim, quote)))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil // treat a corrupt entry as a miss
		}
		found = true
		return nil
	})
	return entry, found
}

// PutConfidence records the verification outcome for a (claim, quote) pair.
func (s *Store) PutConfidence(claim, quote string, entry ConfidenceEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfidence).Put([]byte(Key(claim, quote)), data)
	})
}

// GetValidation looks up a cached claim-quote validation result by claim text.
func (s *Store) GetValidation(claim string) (domain.ValidationResult, bool) {
	var result domain.ValidationResult
	found := false
	s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketValidation).Get([]byte(Key(claim, "")))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return result, found
}

// PutValidation records a claim-quote validation result.
func (s *Store) PutValidation(claim string, result domain.ValidationResult) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketValidation).Put([]byte(Key(claim, "")), data)
	})
}
