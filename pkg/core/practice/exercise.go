// Package practice implements the exercise engine: sequence
// validation, grading, and session orchestration over mapped pitch
// observations.
package practice

import (
	"fmt"

	"github.com/swaralab/riyaz/pkg/core/shruti"
)

// Exercise is one melodic drill: an ascending and a descending note
// sequence sung back to back.
type Exercise struct {
	// Name identifies the exercise, e.g. "sarali-1".
	Name string `json:"name"`

	// Arohanam is the ascending sequence of svarasthana names.
	Arohanam []string `json:"arohanam"`

	// Avarohanam is the descending sequence.
	Avarohanam []string `json:"avarohanam"`
}

// Sequence returns the full expected note order: arohanam followed by
// avarohanam.
func (e Exercise) Sequence() []string {
	seq := make([]string, 0, len(e.Arohanam)+len(e.Avarohanam))
	seq = append(seq, e.Arohanam...)
	seq = append(seq, e.Avarohanam...)
	return seq
}

// Validate checks the exercise is well formed: named, non-empty, and
// built only from known svarasthana labels.
func (e Exercise) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("exercise name is required")
	}
	if len(e.Arohanam)+len(e.Avarohanam) == 0 {
		return fmt.Errorf("exercise %q has no notes", e.Name)
	}
	for _, note := range e.Sequence() {
		if !shruti.IsValidName(note) {
			return fmt.Errorf("exercise %q contains unknown note %q", e.Name, note)
		}
	}
	return nil
}
