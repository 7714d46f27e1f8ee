package roster

import (
	"strings"

	"golang.org/x/text/cases"

	"crattend/internal/model"
)

// Filter returns the students whose reg, display reg or name contains query,
// compared with Unicode case folding. An empty query matches everyone.
func Filter(r *model.Roster, query string) []model.Student {
	if r == nil {
		return nil
	}
	fold := cases.Fold()
	term := fold.String(strings.TrimSpace(query))
	if term == "" {
		return append([]model.Student(nil), r.Students...)
	}

	var out []model.Student
	for _, st := range r.Students {
		hay := fold.String(st.Reg + " " + st.DisplayReg + " " + st.Name)
		if strings.Contains(hay, term) {
			out = append(out, st)
		}
	}
	return out
}
