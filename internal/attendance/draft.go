package attendance

import (
	"encoding/json"
	"fmt"
	"time"

	"crattend/internal/model"
)

// Mark is a student's state for the current session. The zero value is unmarked.
type Mark string

const (
	Unmarked Mark = ""
	Present  Mark = "present"
	Absent   Mark = "absent"
)

// ParseMark accepts "present"/"p" and "absent"/"a".
func ParseMark(s string) (Mark, error) {
	switch s {
	case "present", "p", "P":
		return Present, nil
	case "absent", "a", "A":
		return Absent, nil
	}
	return Unmarked, fmt.Errorf("%w: %q", ErrInvalidMark, s)
}

func (m Mark) valid() bool { return m == Present || m == Absent }

// Session defaults used when no draft is persisted.
const (
	DefaultStartTime = "09:00"
	DefaultEndTime   = "10:20"
	DefaultClassType = "1"
)

// Draft is the editable, unsubmitted attendance session.
type Draft struct {
	Date         string          `json:"date"`
	StartTime    string          `json:"startTime"`
	EndTime      string          `json:"endTime"`
	ClassType    string          `json:"classType"`
	IsOnline     bool            `json:"isOnline"`
	LectureNotes string          `json:"lectureNotes"`
	Students     map[string]Mark `json:"students"`
}

// NewDraft returns a draft for the day of now with the default time window.
func NewDraft(now time.Time) Draft {
	return Draft{
		Date:      now.UTC().Format("2006-01-02"),
		StartTime: DefaultStartTime,
		EndTime:   DefaultEndTime,
		ClassType: DefaultClassType,
		Students:  make(map[string]Mark),
	}
}

// decodeDraft parses a persisted draft, filling missing fields with defaults.
func decodeDraft(raw string, now time.Time) (Draft, error) {
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Draft{}, err
	}
	def := NewDraft(now)
	if d.Date == "" {
		d.Date = def.Date
	}
	if d.StartTime == "" {
		d.StartTime = def.StartTime
	}
	if d.EndTime == "" {
		d.EndTime = def.EndTime
	}
	if d.ClassType == "" {
		d.ClassType = def.ClassType
	}
	if d.Students == nil {
		d.Students = make(map[string]Mark)
	}
	// null entries come from toggled-off marks
	for reg, m := range d.Students {
		if !m.valid() {
			delete(d.Students, reg)
		}
	}
	return d, nil
}

func (d Draft) encode() (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (d Draft) clone() Draft {
	out := d
	out.Students = make(map[string]Mark, len(d.Students))
	for reg, m := range d.Students {
		out.Students[reg] = m
	}
	return out
}

// Tally counts marks over roster students.
type Tally struct {
	Present  int
	Absent   int
	Unmarked int
}

// Count scans the roster and looks up each student's mark. Marks for regs
// not on the roster are ignored.
func Count(r *model.Roster, marks map[string]Mark) Tally {
	var t Tally
	if r == nil {
		return t
	}
	for _, st := range r.Students {
		switch marks[st.Reg] {
		case Present:
			t.Present++
		case Absent:
			t.Absent++
		default:
			t.Unmarked++
		}
	}
	return t
}
