package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"crattend/internal/model"
)

const (
	scalarBucket     = "scalars"
	submissionBucket = "submissions"
)

// Bolt stores scalars and submissions in a single BoltDB file.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a BoltDB file at path.
func OpenBolt(path string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Bolt{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Bolt) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the scalar stored under key.
func (s *Bolt) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scalarBucket))
		if bucket == nil {
			return fmt.Errorf("scalar bucket is missing")
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		value = string(raw)
		return nil
	})
	return value, err
}

// Set stores value under key.
func (s *Bolt) Set(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scalarBucket))
		if bucket == nil {
			return fmt.Errorf("scalar bucket is missing")
		}
		return bucket.Put([]byte(key), []byte(value))
	})
}

// PutRecord upserts a submission by id.
func (s *Bolt) PutRecord(ctx context.Context, rec model.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("submission id is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucket))
		if bucket == nil {
			return fmt.Errorf("submission bucket is missing")
		}
		return bucket.Put([]byte(rec.ID), payload)
	})
}

// GetRecord fetches a submission by id.
func (s *Bolt) GetRecord(ctx context.Context, id string) (model.Submission, error) {
	if err := ctx.Err(); err != nil {
		return model.Submission{}, err
	}

	var rec model.Submission
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(submissionBucket))
		if bucket == nil {
			return fmt.Errorf("submission bucket is missing")
		}
		payload := bucket.Get([]byte(id))
		if payload == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("unmarshal submission: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Submission{}, err
	}
	return rec, nil
}

func (s *Bolt) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{scalarBucket, submissionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
