package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"crattend/internal/localstore"
	"crattend/internal/model"
	"crattend/internal/remote"
)

var (
	ErrLocked        = errors.New("attendance is locked")
	ErrAlreadyLocked = errors.New("attendance already submitted and locked")
	ErrNoRoster      = errors.New("no roster loaded")
	ErrInvalidMark   = errors.New("invalid mark")
)

// Deliverer sends a submission record to the remote service.
type Deliverer interface {
	Deliver(ctx context.Context, rec model.Submission) (*remote.Receipt, error)
}

// Options tunes a Session. Zero values select defaults.
type Options struct {
	Notifier        Notifier
	Now             func() time.Time
	DeliveryTimeout time.Duration
}

// Session owns the draft, the roster in use and the lock state of one device.
// Its methods must be called from a single goroutine.
type Session struct {
	store           localstore.Store
	deliverer       Deliverer
	notify          Notifier
	now             func() time.Time
	deliveryTimeout time.Duration

	roster *model.Roster
	draft  Draft
	locked bool
}

// NewSession creates a session over store. deliverer may be nil, in which
// case every submission stays local.
func NewSession(store localstore.Store, deliverer Deliverer, opts Options) *Session {
	s := &Session{
		store:           store,
		deliverer:       deliverer,
		notify:          opts.Notifier,
		now:             opts.Now,
		deliveryTimeout: opts.DeliveryTimeout,
	}
	if s.notify == nil {
		s.notify = discard{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.deliveryTimeout <= 0 {
		s.deliveryTimeout = 5 * time.Second
	}
	s.draft = NewDraft(s.now())
	return s
}

// SetRoster installs the roster used for bulk marking, counting and submission.
func (s *Session) SetRoster(r *model.Roster) { s.roster = r }

// Roster returns the roster in use, or nil.
func (s *Session) Roster() *model.Roster { return s.roster }

// Locked reports whether the session has been submitted.
func (s *Session) Locked() bool { return s.locked }

// Draft returns a copy of the current draft.
func (s *Session) Draft() Draft { return s.draft.clone() }

// Counts tallies marks over the roster students.
func (s *Session) Counts() Tally { return Count(s.roster, s.draft.Students) }

// LoadDraft restores lock state and the persisted draft.
func (s *Session) LoadDraft() error {
	locked, err := s.store.Get(localstore.KeyLocked)
	switch {
	case err == nil && locked == "true":
		s.locked = true
		log.Println("[DRAFT] Attendance is locked")
		return nil
	case err != nil && !errors.Is(err, localstore.ErrNotFound):
		s.warnStorage("read lock flag", err)
	}

	raw, err := s.store.Get(localstore.KeyDraft)
	if errors.Is(err, localstore.ErrNotFound) {
		s.draft = NewDraft(s.now())
		return nil
	}
	if err != nil {
		s.warnStorage("read draft", err)
		s.draft = NewDraft(s.now())
		return err
	}

	d, err := decodeDraft(raw, s.now())
	if err != nil {
		log.Printf("[DRAFT] warning: discarding unreadable draft: %v", err)
		s.draft = NewDraft(s.now())
		return nil
	}
	s.draft = d
	log.Println("[DRAFT] Loaded from local store")
	return nil
}

// SaveDraft persists the draft. It does nothing once locked.
func (s *Session) SaveDraft() error {
	if s.locked {
		return nil
	}
	payload, err := s.draft.encode()
	if err != nil {
		return err
	}
	return s.store.Set(localstore.KeyDraft, payload)
}

// ToggleMark sets reg to mark, or clears it when it already holds mark.
func (s *Session) ToggleMark(reg string, mark Mark) error {
	if err := s.guard(); err != nil {
		return err
	}
	if !mark.valid() {
		return ErrInvalidMark
	}
	if s.draft.Students[reg] == mark {
		delete(s.draft.Students, reg)
	} else {
		s.draft.Students[reg] = mark
	}
	s.persist()
	return nil
}

// MarkAll gives every roster student the same mark.
func (s *Session) MarkAll(mark Mark) error {
	if err := s.guard(); err != nil {
		return err
	}
	if s.roster == nil {
		s.notify.Notify(LevelError, "No roster loaded")
		return ErrNoRoster
	}
	if !mark.valid() {
		return ErrInvalidMark
	}
	for _, st := range s.roster.Students {
		s.draft.Students[st.Reg] = mark
	}
	s.persist()
	s.notify.Notify(LevelSuccess, "Marked all "+string(mark))
	return nil
}

// ResetAll clears every mark.
func (s *Session) ResetAll() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.draft.Students = make(map[string]Mark)
	s.persist()
	s.notify.Notify(LevelInfo, "Reset complete")
	return nil
}

// SetDate changes the session date (YYYY-MM-DD).
func (s *Session) SetDate(date string) error {
	return s.edit(func(d *Draft) { d.Date = date })
}

// SetTimes changes the session time window.
func (s *Session) SetTimes(start, end string) error {
	return s.edit(func(d *Draft) {
		d.StartTime = start
		d.EndTime = end
	})
}

// SetClassType changes the class type code.
func (s *Session) SetClassType(classType string) error {
	return s.edit(func(d *Draft) { d.ClassType = classType })
}

// SetOnline flags the session as an online lecture.
func (s *Session) SetOnline(online bool) error {
	return s.edit(func(d *Draft) { d.IsOnline = online })
}

// SetNotes replaces the lecture notes.
func (s *Session) SetNotes(notes string) error {
	return s.edit(func(d *Draft) { d.LectureNotes = notes })
}

func (s *Session) edit(fn func(d *Draft)) error {
	if err := s.guard(); err != nil {
		return err
	}
	fn(&s.draft)
	s.persist()
	return nil
}

func (s *Session) guard() error {
	if s.locked {
		s.notify.Notify(LevelError, "Attendance is locked")
		return ErrLocked
	}
	return nil
}

// persist saves the draft after an in-memory mutation; failures are reported
// but never undo the mutation.
func (s *Session) persist() {
	if err := s.SaveDraft(); err != nil {
		s.warnStorage("save draft", err)
	}
}

func (s *Session) warnStorage(op string, err error) {
	log.Printf("[STORE] warning: %s: %v", op, err)
	s.notify.Notify(LevelWarning, "Could not "+op+" on this device: "+err.Error())
}
