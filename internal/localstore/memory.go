package localstore

import (
	"context"
	"sync"

	"crattend/internal/model"
)

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu      sync.Mutex
	scalars map[string]string
	records map[string]model.Submission
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		scalars: make(map[string]string),
		records: make(map[string]model.Submission),
	}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.scalars[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scalars[key] = value
	return nil
}

func (m *Memory) PutRecord(ctx context.Context, rec model.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) GetRecord(ctx context.Context, id string) (model.Submission, error) {
	if err := ctx.Err(); err != nil {
		return model.Submission{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	return rec, nil
}

// RecordCount reports how many submissions are held.
func (m *Memory) RecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Memory) Close() error { return nil }
