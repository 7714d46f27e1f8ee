package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubmissionKey(t *testing.T) {
	if got := SubmissionKey(1, "A", "2024-01-01"); got != "1-A-2024-01-01" {
		t.Fatalf("expected key %q, got %q", "1-A-2024-01-01", got)
	}
}

func TestRosterValidate(t *testing.T) {
	ok := Roster{
		Course:  "CS-101",
		Section: "A",
		Students: []Student{
			{Reg: "r1", Name: "Ada"},
			{Reg: "r2", Name: "Grace"},
		},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("validate roster: %v", err)
	}

	missingName := ok
	missingName.Students = []Student{{Reg: "r1"}}
	if err := missingName.Validate(); err == nil {
		t.Fatal("expected error for student without name")
	}

	dup := ok
	dup.Students = []Student{{Reg: "r1", Name: "Ada"}, {Reg: "r1", Name: "Eve"}}
	if err := dup.Validate(); err == nil {
		t.Fatal("expected error for duplicate reg")
	}
}

func TestSubmissionValidate(t *testing.T) {
	sub := Submission{ID: "1-A-2024-01-01", Section: "A", Date: "2024-01-01"}
	if err := sub.Validate(); err != nil {
		t.Fatalf("validate submission: %v", err)
	}
	sub.Date = "01/01/2024"
	if err := sub.Validate(); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestPresentCount(t *testing.T) {
	sub := Submission{Students: []SubmittedStudent{
		{Reg: "a", Present: true},
		{Reg: "b"},
		{Reg: "c", Present: true},
	}}
	if got := sub.PresentCount(); got != 2 {
		t.Fatalf("expected 2 present, got %d", got)
	}
}

func TestRosterPushedAtFormats(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "rfc3339", raw: `"2024-01-01T00:00:00Z"`, want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "epoch millis", raw: `1704067200000`, want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "epoch millis string", raw: `"1704067200000"`, want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "empty string", raw: `""`},
		{name: "null", raw: `null`},
		{name: "garbage", raw: `"last tuesday"`},
		{name: "object", raw: `{"seconds":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := `{"course":"CS-101","section":"A","courseId":3,"pushedAt":` + tc.raw +
				`,"students":[{"reg":"r1","name":"Ada"}]}`
			var r Roster
			if err := json.Unmarshal([]byte(payload), &r); err != nil {
				t.Fatalf("decode roster: %v", err)
			}
			if !r.PushedAt.Equal(tc.want) {
				t.Fatalf("expected pushedAt %v, got %v", tc.want, r.PushedAt)
			}
			if r.CourseID != 3 || r.Section != "A" || len(r.Students) != 1 {
				t.Fatalf("expected other fields decoded, got %+v", r)
			}
		})
	}
}

func TestRosterUsable(t *testing.T) {
	lax := Roster{Students: []Student{{Reg: "r1"}, {Reg: "r2", Name: "Grace"}}}
	if err := lax.Usable(); err != nil {
		t.Fatalf("expected roster without section or names to be usable: %v", err)
	}
	if err := (Roster{Students: []Student{{Name: "Ada"}}}).Usable(); err == nil {
		t.Fatal("expected error for student without reg")
	}
	if err := (Roster{Students: []Student{{Reg: "r1"}, {Reg: "r1"}}}).Usable(); err == nil {
		t.Fatal("expected error for duplicate reg")
	}
}
