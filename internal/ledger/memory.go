package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crattend/internal/model"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu          sync.Mutex
	rosters     map[string]model.Roster
	submissions map[string]Entry
	marks       map[string][]model.SubmittedStudent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rosters:     make(map[string]model.Roster),
		submissions: make(map[string]Entry),
		marks:       make(map[string][]model.SubmittedStudent),
	}
}

func rosterKey(courseID int64, section string) string {
	return fmt.Sprintf("%d/%s", courseID, section)
}

func (m *MemoryStore) UpsertRoster(_ context.Context, r model.Roster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rosters[rosterKey(r.CourseID, r.Section)] = r
	return nil
}

func (m *MemoryStore) LatestRoster(_ context.Context, courseID int64, section string) (*model.Roster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Roster
	for _, r := range m.rosters {
		if courseID != 0 && r.CourseID != courseID {
			continue
		}
		if section != "" && r.Section != section {
			continue
		}
		if best == nil || r.PushedAt.After(best.PushedAt) {
			r := r
			best = &r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *MemoryStore) UpsertSubmission(_ context.Context, sub model.Submission, receiptID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := Entry{
		ID:         sub.ID,
		ReceiptID:  receiptID,
		Status:     StatusPending,
		ReceivedAt: time.Now().UTC(),
		Submission: sub,
	}
	m.submissions[sub.ID] = entry
	return entry, nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.submissions[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (m *MemoryStore) ListSubmissions(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Entry
	for _, e := range m.submissions {
		if f.CourseID != 0 && e.Submission.CourseValue != f.CourseID {
			continue
		}
		if f.Section != "" && e.Submission.Section != f.Section {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ReceivedAt.After(res[j].ReceivedAt) })
	if f.Offset >= len(res) {
		return nil, nil
	}
	res = res[f.Offset:]
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *MemoryStore) ReplaceMarks(_ context.Context, id string, students []model.SubmittedStudent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[id] = append([]model.SubmittedStudent(nil), students...)
	return nil
}

func (m *MemoryStore) UpdateSubmissionStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.submissions[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	entry.Status = status
	entry.ProcessedAt = &now
	m.submissions[id] = entry
	return nil
}

// Marks returns the materialized rows of a submission.
func (m *MemoryStore) Marks(id string) []model.SubmittedStudent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[id]
}
