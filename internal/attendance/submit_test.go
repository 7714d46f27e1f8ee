package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"crattend/internal/localstore"
	"crattend/internal/model"
	"crattend/internal/remote"
)

func TestSubmitLocksWhetherOrNotDeliverySucceeds(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		delivered bool
		notice    string
	}{
		{name: "delivered", delivered: true, notice: "success: Submitted successfully"},
		{name: "offline", err: remote.ErrOffline, notice: "info: Saved locally, will sync when online"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := localstore.NewMemory()
			d := &fakeDeliverer{err: tc.err}
			s, rec := newTestSession(t, store, d)

			out, err := s.Submit(context.Background())
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if !s.Locked() {
				t.Fatal("expected session locked")
			}
			if v, _ := store.Get(localstore.KeyLocked); v != "true" {
				t.Fatalf("expected persisted lock flag, got %q", v)
			}

			res := <-out.Delivery
			if res.Delivered() != tc.delivered {
				t.Fatalf("expected delivered=%v, got %v (%v)", tc.delivered, res.Delivered(), res.Err)
			}
			if !rec.has(tc.notice) {
				t.Fatalf("expected notice %q, got %v", tc.notice, rec.notices)
			}
			if _, ok := <-out.Delivery; ok {
				t.Fatal("expected delivery channel closed after one result")
			}
		})
	}
}

type blockingDeliverer struct{ release chan struct{} }

func (b blockingDeliverer) Deliver(ctx context.Context, _ model.Submission) (*remote.Receipt, error) {
	select {
	case <-b.release:
		return &remote.Receipt{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSubmitDoesNotWaitForDelivery(t *testing.T) {
	release := make(chan struct{})
	s, _ := newTestSession(t, localstore.NewMemory(), blockingDeliverer{release: release})

	out, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !s.Locked() {
		t.Fatal("expected lock before delivery completes")
	}
	select {
	case <-out.Delivery:
		t.Fatal("delivery finished before release")
	default:
	}
	close(release)
	if res := <-out.Delivery; !res.Delivered() {
		t.Fatalf("expected delivery after release, got %v", res.Err)
	}
}

func TestSubmitDeliveryTimesOut(t *testing.T) {
	rec := &recorder{}
	s := NewSession(localstore.NewMemory(), blockingDeliverer{release: make(chan struct{})}, Options{
		Notifier:        rec,
		Now:             func() time.Time { return fixedNow },
		DeliveryTimeout: 20 * time.Millisecond,
	})
	s.SetRoster(testRoster())

	out, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := <-out.Delivery
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", res.Err)
	}
	if !s.Locked() {
		t.Fatal("expected session locked")
	}
}

func TestSubmitBuildsRecord(t *testing.T) {
	store := localstore.NewMemory()
	d := &fakeDeliverer{}
	s, _ := newTestSession(t, store, d)
	_ = s.ToggleMark("r1", Present)
	_ = s.ToggleMark("r2", Absent)
	_ = s.SetNotes("intro")

	out, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-out.Delivery

	got := out.Record
	if got.ID != "1-A-2024-01-01" {
		t.Fatalf("expected id 1-A-2024-01-01, got %q", got.ID)
	}
	if got.Source != model.SourceTag || got.CourseValue != 1 || got.LectureNotes != "intro" {
		t.Fatalf("unexpected record header %+v", got)
	}
	if !got.SubmittedAt.Equal(fixedNow) {
		t.Fatalf("expected submitted_at %v, got %v", fixedNow, got.SubmittedAt)
	}
	want := []bool{true, false, false}
	if len(got.Students) != len(want) {
		t.Fatalf("expected %d students, got %d", len(want), len(got.Students))
	}
	for i, st := range got.Students {
		if st.Reg != testRoster().Students[i].Reg {
			t.Fatalf("expected roster order, got %q at %d", st.Reg, i)
		}
		if st.Present != want[i] {
			t.Fatalf("student %s: expected present=%v", st.Reg, want[i])
		}
	}

	stored, err := store.GetRecord(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("get stored record: %v", err)
	}
	if stored.LectureNotes != "intro" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	if len(d.sent) != 1 || d.sent[0].ID != got.ID {
		t.Fatalf("expected one delivery of %s, got %+v", got.ID, d.sent)
	}
}

func TestSubmitDefaultCourseValue(t *testing.T) {
	s, _ := newTestSession(t, localstore.NewMemory(), nil)
	r := testRoster()
	r.CourseID = 0
	s.SetRoster(r)

	out, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res := <-out.Delivery; res.Delivered() {
		t.Fatal("expected no delivery without a remote endpoint")
	}
	if out.Record.CourseValue != model.DefaultCourseValue {
		t.Fatalf("expected course value %d, got %d", model.DefaultCourseValue, out.Record.CourseValue)
	}
	if out.Record.ID != "0-A-2024-01-01" {
		t.Fatalf("unexpected id %q", out.Record.ID)
	}
}

func TestSameKeySubmissionsOverwrite(t *testing.T) {
	store := localstore.NewMemory()

	first, _ := newTestSession(t, store, nil)
	_ = first.SetNotes("first")
	out, err := first.Submit(context.Background())
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-out.Delivery

	// A second device state sharing the record store but not the lock.
	second := NewSession(store, nil, Options{Now: func() time.Time { return fixedNow }})
	second.SetRoster(testRoster())
	_ = second.SetNotes("second")
	out, err = second.Submit(context.Background())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	<-out.Delivery

	if n := store.RecordCount(); n != 1 {
		t.Fatalf("expected one durable record, got %d", n)
	}
	got, err := store.GetRecord(context.Background(), "1-A-2024-01-01")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.LectureNotes != "second" {
		t.Fatalf("expected second submission to win, got %q", got.LectureNotes)
	}
}

func TestSubmitPreconditions(t *testing.T) {
	s, rec := newTestSession(t, localstore.NewMemory(), nil)
	s.SetRoster(nil)
	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrNoRoster) {
		t.Fatalf("expected ErrNoRoster, got %v", err)
	}
	if s.Locked() {
		t.Fatal("expected no state change on rejected submit")
	}
	if !rec.has("error: No roster loaded") {
		t.Fatalf("expected rejection notice, got %v", rec.notices)
	}
	if _, err := s.Summary(); !errors.Is(err, ErrNoRoster) {
		t.Fatalf("expected ErrNoRoster from summary, got %v", err)
	}
}

func TestSubmitLocksEvenIfRecordStoreFails(t *testing.T) {
	store := &failingStore{Memory: localstore.NewMemory(), failPut: true}
	s, rec := newTestSession(t, store, &fakeDeliverer{})

	out, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-out.Delivery
	if !s.Locked() {
		t.Fatal("expected lock despite record store failure")
	}
	if !rec.has("warning: Could not store the submission on this device: quota exceeded") {
		t.Fatalf("expected storage warning, got %v", rec.notices)
	}
}

func TestSummary(t *testing.T) {
	s, _ := newTestSession(t, localstore.NewMemory(), nil)
	_ = s.ToggleMark("r1", Present)
	_ = s.ToggleMark("r3", Absent)
	got, err := s.Summary()
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if want := (Tally{Present: 1, Absent: 1, Unmarked: 1}); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestSubmitWithCancelledContextStillStoresRecord(t *testing.T) {
	store := localstore.NewMemory()
	s, _ := newTestSession(t, store, &fakeDeliverer{})
	_ = s.ToggleMark("r1", Present)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-out.Delivery

	if !s.Locked() {
		t.Fatal("expected session locked")
	}
	if n := store.RecordCount(); n != 1 {
		t.Fatalf("expected the record stored before locking, got %d records", n)
	}
	got, err := store.GetRecord(context.Background(), out.Record.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.PresentCount() != 1 {
		t.Fatalf("unexpected stored record %+v", got)
	}
}
