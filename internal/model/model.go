package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SourceTag identifies records produced by the attendance client.
const SourceTag = "CR_APP"

// DefaultCourseValue is reported when a roster carries no course id.
const DefaultCourseValue = 30000

// Student is one entry of a roster.
type Student struct {
	Reg        string `json:"reg" validate:"required"`
	DisplayReg string `json:"displayReg"`
	Name       string `json:"name" validate:"required"`
}

// Roster is the list of students for a course section.
type Roster struct {
	Course   string    `json:"course"`
	Section  string    `json:"section" validate:"required"`
	CourseID int64     `json:"courseId" validate:"gte=0"`
	PushedAt time.Time `json:"pushedAt"`
	Students []Student `json:"students" validate:"dive"`
}

// UnmarshalJSON accepts pushedAt as an RFC 3339 string, epoch milliseconds,
// an empty string or null. Values it cannot read leave PushedAt zero.
func (r *Roster) UnmarshalJSON(data []byte) error {
	type plain Roster
	var aux struct {
		plain
		PushedAt json.RawMessage `json:"pushedAt"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Roster(aux.plain)
	r.PushedAt = parsePushedAt(aux.PushedAt)
	return nil
}

func parsePushedAt(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return time.Time{}
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return time.Time{}
	}
	if ms, err := strconv.ParseFloat(string(raw), 64); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

// SubmittedStudent is a single student line of a submission.
type SubmittedStudent struct {
	Reg     string `json:"reg" validate:"required"`
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

// Submission is the immutable record produced when a session is locked.
type Submission struct {
	ID                        string             `json:"id" validate:"required"`
	Course                    string             `json:"course"`
	CourseValue               int64              `json:"courseValue"`
	Section                   string             `json:"section" validate:"required"`
	Date                      string             `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime                 string             `json:"startTime"`
	EndTime                   string             `json:"endTime"`
	ClassType                 string             `json:"classType"`
	IsOnlineLectureAttendance bool               `json:"isOnlineLectureAttendance"`
	LectureNotes              string             `json:"lectureNotes"`
	Students                  []SubmittedStudent `json:"students" validate:"dive"`
	Source                    string             `json:"__source"`
	SubmittedAt               time.Time          `json:"submittedAt"`
}

// SubmissionKey builds the composite key of a submission.
func SubmissionKey(courseID int64, section, date string) string {
	return fmt.Sprintf("%d-%s-%s", courseID, section, date)
}

// PresentCount returns the number of students flagged present.
func (s Submission) PresentCount() int {
	n := 0
	for _, st := range s.Students {
		if st.Present {
			n++
		}
	}
	return n
}
