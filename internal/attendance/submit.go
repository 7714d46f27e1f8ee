package attendance

import (
	"context"
	"errors"
	"log"

	"crattend/internal/localstore"
	"crattend/internal/model"
	"crattend/internal/remote"
)

// Delivery is the outcome of the best-effort remote send.
type Delivery struct {
	Receipt *remote.Receipt
	Err     error
}

// Delivered reports whether the remote service accepted the record.
func (d Delivery) Delivered() bool { return d.Err == nil }

// Outcome is returned by a successful Submit.
type Outcome struct {
	Record model.Submission
	// Delivery yields exactly one value, then closes.
	Delivery <-chan Delivery
}

// Summary returns the tallies shown before the instructor confirms a submit.
func (s *Session) Summary() (Tally, error) {
	if s.locked {
		return Tally{}, ErrAlreadyLocked
	}
	if s.roster == nil {
		return Tally{}, ErrNoRoster
	}
	return s.Counts(), nil
}

// Submit records the session durably, starts remote delivery and locks the
// session. The lock does not wait for, or depend on, delivery.
func (s *Session) Submit(ctx context.Context) (*Outcome, error) {
	if s.locked {
		s.notify.Notify(LevelError, "Attendance already submitted and locked")
		return nil, ErrAlreadyLocked
	}
	if s.roster == nil {
		s.notify.Notify(LevelError, "No roster loaded")
		return nil, ErrNoRoster
	}

	rec := s.buildRecord()
	// The record write must land before the lock even if ctx is already done.
	if err := s.store.PutRecord(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("[DB] Error storing submission %s: %v", rec.ID, err)
		s.notify.Notify(LevelWarning, "Could not store the submission on this device: "+err.Error())
	}

	done := make(chan Delivery, 1)
	go s.deliver(context.WithoutCancel(ctx), rec, done)

	if err := s.store.Set(localstore.KeyLocked, "true"); err != nil {
		s.warnStorage("persist lock flag", err)
	}
	s.locked = true
	log.Printf("[SUBMIT] %s locked", rec.ID)

	return &Outcome{Record: rec, Delivery: done}, nil
}

func (s *Session) deliver(ctx context.Context, rec model.Submission, done chan<- Delivery) {
	defer close(done)

	var res Delivery
	if s.deliverer == nil {
		res.Err = errors.New("no remote endpoint configured")
	} else {
		ctx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
		res.Receipt, res.Err = s.deliverer.Deliver(ctx, rec)
		cancel()
	}

	if res.Err != nil {
		log.Printf("[SUBMIT] Cloud submission failed, saved locally: %v", res.Err)
		s.notify.Notify(LevelInfo, "Saved locally, will sync when online")
	} else {
		log.Printf("[SUBMIT] Sent %s to cloud successfully", rec.ID)
		s.notify.Notify(LevelSuccess, "Submitted successfully")
	}
	done <- res
}

// buildRecord snapshots draft and roster. Absent and unmarked students both
// serialize as present=false.
func (s *Session) buildRecord() model.Submission {
	r := s.roster
	courseValue := r.CourseID
	if courseValue == 0 {
		courseValue = model.DefaultCourseValue
	}

	students := make([]model.SubmittedStudent, 0, len(r.Students))
	for _, st := range r.Students {
		students = append(students, model.SubmittedStudent{
			Reg:     st.Reg,
			Name:    st.Name,
			Present: s.draft.Students[st.Reg] == Present,
		})
	}

	return model.Submission{
		ID:                        model.SubmissionKey(r.CourseID, r.Section, s.draft.Date),
		Course:                    r.Course,
		CourseValue:               courseValue,
		Section:                   r.Section,
		Date:                      s.draft.Date,
		StartTime:                 s.draft.StartTime,
		EndTime:                   s.draft.EndTime,
		ClassType:                 s.draft.ClassType,
		IsOnlineLectureAttendance: s.draft.IsOnline,
		LectureNotes:              s.draft.LectureNotes,
		Students:                  students,
		Source:                    model.SourceTag,
		SubmittedAt:               s.now().UTC(),
	}
}
