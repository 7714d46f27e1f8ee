package model

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks a roster document before it is trusted or cached.
func (r Roster) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		return fmt.Errorf("invalid roster: %w", err)
	}
	seen := make(map[string]struct{}, len(r.Students))
	for _, st := range r.Students {
		if _, dup := seen[st.Reg]; dup {
			return fmt.Errorf("invalid roster: duplicate reg %q", st.Reg)
		}
		seen[st.Reg] = struct{}{}
	}
	return nil
}

// Usable reports whether a fetched roster can drive a session: every student
// needs a reg, and regs must be unique. Unlike Validate it tolerates missing
// names and section.
func (r Roster) Usable() error {
	seen := make(map[string]struct{}, len(r.Students))
	for i, st := range r.Students {
		if st.Reg == "" {
			return fmt.Errorf("unusable roster: student %d has no reg", i)
		}
		if _, dup := seen[st.Reg]; dup {
			return fmt.Errorf("unusable roster: duplicate reg %q", st.Reg)
		}
		seen[st.Reg] = struct{}{}
	}
	return nil
}

// Validate checks a submission payload.
func (s Submission) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		return fmt.Errorf("invalid submission: %w", err)
	}
	return nil
}
