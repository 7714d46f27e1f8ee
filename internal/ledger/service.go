package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"crattend/internal/metrics"
	"crattend/internal/model"
	"crattend/internal/queue"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid input")
)

// Submission processing states.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Entry is a stored submission with its receipt metadata.
type Entry struct {
	ID          string           `json:"id"`
	ReceiptID   string           `json:"receipt_id"`
	Status      string           `json:"status"`
	ReceivedAt  time.Time        `json:"received_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	Submission  model.Submission `json:"submission"`
}

// Filter narrows submission listings.
type Filter struct {
	CourseID int64
	Section  string
	Status   string
	Limit    int
	Offset   int
}

func (f Filter) normalize() Filter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store is the persistence needed by Service.
type Store interface {
	UpsertRoster(ctx context.Context, roster model.Roster) error
	LatestRoster(ctx context.Context, courseID int64, section string) (*model.Roster, error)
	UpsertSubmission(ctx context.Context, sub model.Submission, receiptID string) (Entry, error)
	GetSubmission(ctx context.Context, id string) (Entry, error)
	ListSubmissions(ctx context.Context, f Filter) ([]Entry, error)
	ReplaceMarks(ctx context.Context, id string, students []model.SubmittedStudent) error
	UpdateSubmissionStatus(ctx context.Context, id, status string) error
}

// RosterCache fronts roster lookups. Get returns nil on a miss.
type RosterCache interface {
	Get(ctx context.Context, key string) (*model.Roster, error)
	Set(ctx context.Context, key string, r model.Roster) error
	Invalidate(ctx context.Context) error
}

// Service coordinates roster distribution and submission intake.
type Service struct {
	repo    Store
	queue   queue.Queue
	cache   RosterCache
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a service. cache may be nil.
func NewService(repo Store, q queue.Queue, cache RosterCache, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{repo: repo, queue: q, cache: cache, metrics: m, now: time.Now}
}

// PushRoster validates and stores a roster, stamping pushedAt when absent.
func (s *Service) PushRoster(ctx context.Context, r model.Roster) (model.Roster, error) {
	if err := r.Validate(); err != nil {
		return model.Roster{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if r.PushedAt.IsZero() {
		r.PushedAt = s.now().UTC()
	}
	if err := s.repo.UpsertRoster(ctx, r); err != nil {
		return model.Roster{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Printf("warning: roster cache invalidate failed: %v", err)
		}
	}
	s.metrics.RostersPushed.Inc()
	return r, nil
}

// Roster returns the latest roster for the filters, consulting the cache first.
func (s *Service) Roster(ctx context.Context, courseID int64, section string) (*model.Roster, error) {
	key := fmt.Sprintf("%d:%s", courseID, section)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Printf("warning: roster cache read failed: %v", err)
		} else if cached != nil {
			s.metrics.RostersServed.WithLabelValues("cache").Inc()
			return cached, nil
		}
	}

	r, err := s.repo.LatestRoster(ctx, courseID, section)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, *r); err != nil {
			log.Printf("warning: roster cache write failed: %v", err)
		}
	}
	s.metrics.RostersServed.WithLabelValues("db").Inc()
	return r, nil
}

// Receive stores a submission and queues it for materializing. A resubmission
// with the same id replaces the earlier one.
func (s *Service) Receive(ctx context.Context, sub model.Submission) (Entry, error) {
	if err := sub.Validate(); err != nil {
		s.metrics.SubmissionsReceived.WithLabelValues("invalid").Inc()
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now().UTC()
	}

	entry, err := s.repo.UpsertSubmission(ctx, sub, uuid.NewString())
	if err != nil {
		s.metrics.SubmissionsReceived.WithLabelValues("error").Inc()
		return Entry{}, err
	}
	s.metrics.SubmissionsReceived.WithLabelValues("accepted").Inc()

	if s.queue != nil {
		if err := s.queue.Publish(ctx, queue.Message{Type: queue.TypeSubmission, Body: []byte(entry.ID)}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}
	return entry, nil
}

// Submission returns a stored submission.
func (s *Service) Submission(ctx context.Context, id string) (Entry, error) {
	return s.repo.GetSubmission(ctx, id)
}

// Submissions lists stored submissions.
func (s *Service) Submissions(ctx context.Context, f Filter) ([]Entry, error) {
	return s.repo.ListSubmissions(ctx, f.normalize())
}

// Process expands a stored submission into per-student rows.
func (s *Service) Process(ctx context.Context, id string) error {
	entry, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch submission %s: %w", id, err)
	}

	if err := s.repo.ReplaceMarks(ctx, id, entry.Submission.Students); err != nil {
		s.metrics.SubmissionsDone.WithLabelValues(StatusFailed).Inc()
		if uerr := s.repo.UpdateSubmissionStatus(ctx, id, StatusFailed); uerr != nil {
			log.Printf("mark %s failed: %v", id, uerr)
		}
		return fmt.Errorf("write marks for %s: %w", id, err)
	}
	s.metrics.MarksMaterialized.Add(float64(len(entry.Submission.Students)))

	if err := s.repo.UpdateSubmissionStatus(ctx, id, StatusProcessed); err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	s.metrics.SubmissionsDone.WithLabelValues(StatusProcessed).Inc()
	return nil
}

// Consume processes submission messages from q until ctx is done.
func (s *Service) Consume(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for msg := range messages {
		if msg.Type != queue.TypeSubmission {
			continue
		}

		id := string(msg.Body)
		if err := s.Process(ctx, id); err != nil {
			log.Printf("submission %s failed: %v", id, err)
			continue
		}
		log.Printf("submission %s processed", id)
	}
	return nil
}
