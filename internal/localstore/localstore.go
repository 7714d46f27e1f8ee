package localstore

import (
	"context"
	"errors"
	"fmt"

	"crattend/internal/model"
)

// ErrNotFound indicates a requested key or record is missing.
var ErrNotFound = errors.New("record not found")

// Well-known scalar keys.
const (
	KeyRosterCache = "roster_cache"
	KeyDraft       = "attendance_draft"
	KeyLocked      = "attendance_locked"
)

// Scalars is synchronous key/value storage for small string blobs.
type Scalars interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Records persists submission records keyed by their composite id.
type Records interface {
	PutRecord(ctx context.Context, rec model.Submission) error
	GetRecord(ctx context.Context, id string) (model.Submission, error)
}

// Store is the full device-local persistence contract.
type Store interface {
	Scalars
	Records
	Close() error
}

// Backend names accepted by Open.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open provisions the named backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendBolt, "":
		return OpenBolt(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
