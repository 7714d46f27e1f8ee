package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"crattend/internal/metrics"
	"crattend/internal/model"
	"crattend/internal/queue"
)

type mapCache struct {
	entries     map[string]model.Roster
	invalidated int
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[string]model.Roster)} }

func (c *mapCache) Get(_ context.Context, key string) (*model.Roster, error) {
	r, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *mapCache) Set(_ context.Context, key string, r model.Roster) error {
	c.entries[key] = r
	return nil
}

func (c *mapCache) Invalidate(context.Context) error {
	c.invalidated++
	c.entries = make(map[string]model.Roster)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *queue.InMemory, *mapCache, *metrics.Metrics) {
	t.Helper()
	repo := NewMemoryStore()
	q := queue.NewInMemory(8)
	cache := newMapCache()
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(repo, q, cache, m)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC) }
	return svc, repo, q, cache, m
}

func sampleSubmission() model.Submission {
	return model.Submission{
		ID:          "1-A-2024-01-01",
		Course:      "CS-101",
		CourseValue: 1,
		Section:     "A",
		Date:        "2024-01-01",
		Students: []model.SubmittedStudent{
			{Reg: "r1", Name: "Ada", Present: true},
			{Reg: "r2", Name: "Grace"},
		},
		Source: model.SourceTag,
	}
}

func TestPushRosterStampsAndInvalidates(t *testing.T) {
	svc, _, _, cache, _ := newTestService(t)
	cache.entries["0:"] = model.Roster{Section: "stale"}

	r, err := svc.PushRoster(context.Background(), model.Roster{
		Course: "CS-101", Section: "A", CourseID: 1,
		Students: []model.Student{{Reg: "r1", Name: "Ada"}},
	})
	if err != nil {
		t.Fatalf("push roster: %v", err)
	}
	if r.PushedAt.IsZero() {
		t.Fatal("expected pushedAt stamped")
	}
	if cache.invalidated != 1 || len(cache.entries) != 0 {
		t.Fatalf("expected cache invalidated, got %+v", cache)
	}

	got, err := svc.Roster(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if got.Section != "A" {
		t.Fatalf("expected section A, got %q", got.Section)
	}
	if _, ok := cache.entries["0:"]; !ok {
		t.Fatal("expected roster cached after db read")
	}
}

func TestPushRosterRejectsInvalid(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	_, err := svc.PushRoster(context.Background(), model.Roster{Course: "CS-101"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestRosterServedFromCache(t *testing.T) {
	svc, _, _, cache, m := newTestService(t)
	cache.entries["1:A"] = model.Roster{Course: "cached", Section: "A", CourseID: 1}

	got, err := svc.Roster(context.Background(), 1, "A")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if got.Course != "cached" {
		t.Fatalf("expected cached roster, got %+v", got)
	}
	if v := testutil.ToFloat64(m.RostersServed.WithLabelValues("cache")); v != 1 {
		t.Fatalf("expected one cache hit, got %v", v)
	}
}

func TestRosterNotFound(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	if _, err := svc.Roster(context.Background(), 9, "Z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReceivePublishesAndOverwrites(t *testing.T) {
	svc, repo, q, _, m := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, _ := q.Consume(ctx)

	first, err := svc.Receive(ctx, sampleSubmission())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	msg := <-msgs
	if msg.Type != queue.TypeSubmission || string(msg.Body) != first.ID {
		t.Fatalf("unexpected message %+v", msg)
	}

	again := sampleSubmission()
	again.LectureNotes = "corrected"
	second, err := svc.Receive(ctx, again)
	if err != nil {
		t.Fatalf("receive again: %v", err)
	}
	<-msgs
	if second.ReceiptID == first.ReceiptID {
		t.Fatal("expected a fresh receipt id on resubmission")
	}

	list, err := repo.ListSubmissions(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Submission.LectureNotes != "corrected" {
		t.Fatalf("expected a single overwritten submission, got %+v", list)
	}
	if v := testutil.ToFloat64(m.SubmissionsReceived.WithLabelValues("accepted")); v != 2 {
		t.Fatalf("expected 2 accepted, got %v", v)
	}
}

func TestReceiveRejectsInvalid(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	bad := sampleSubmission()
	bad.Date = "yesterday"
	if _, err := svc.Receive(context.Background(), bad); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestProcessMaterializesMarks(t *testing.T) {
	svc, repo, _, _, m := newTestService(t)
	ctx := context.Background()
	entry, err := svc.Receive(ctx, sampleSubmission())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := svc.Process(ctx, entry.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	marks := repo.Marks(entry.ID)
	if len(marks) != 2 || !marks[0].Present || marks[1].Present {
		t.Fatalf("unexpected marks %+v", marks)
	}
	got, _ := svc.Submission(ctx, entry.ID)
	if got.Status != StatusProcessed || got.ProcessedAt == nil {
		t.Fatalf("expected processed status, got %+v", got)
	}
	if v := testutil.ToFloat64(m.MarksMaterialized); v != 2 {
		t.Fatalf("expected 2 marks materialized, got %v", v)
	}
}

func TestProcessUnknownSubmission(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	if err := svc.Process(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConsumeProcessesQueuedSubmissions(t *testing.T) {
	repo := NewMemoryStore()
	q := queue.NewInMemory(1)
	svc := NewService(repo, q, nil, metrics.New(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Consume(ctx, q) }()

	// More submissions than the queue holds must not block intake.
	var ids []string
	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04"} {
		sub := sampleSubmission()
		sub.Date = date
		sub.ID = model.SubmissionKey(1, "A", date)
		reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
		entry, err := svc.Receive(reqCtx, sub)
		reqCancel()
		if err != nil {
			t.Fatalf("receive %s: %v", date, err)
		}
		ids = append(ids, entry.ID)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, id := range ids {
		for {
			entry, err := repo.GetSubmission(context.Background(), id)
			if err != nil {
				t.Fatalf("get %s: %v", id, err)
			}
			if entry.Status == StatusProcessed {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("submission %s still %s", id, entry.Status)
			}
			time.Sleep(5 * time.Millisecond)
		}
		if len(repo.Marks(id)) != 2 {
			t.Fatalf("expected marks for %s, got %+v", id, repo.Marks(id))
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}
