package practice

import (
	"fmt"

	"github.com/swaralab/riyaz/pkg/core/shruti"
)

// ValidatorState is the lifecycle of one exercise attempt.
type ValidatorState int

const (
	// StateNotStarted is the state before Start is called.
	StateNotStarted ValidatorState = iota
	// StateInProgress is while notes are being judged.
	StateInProgress
	// StateCompleted is after the final note matched.
	StateCompleted
)

// String returns a human-readable state name.
func (s ValidatorState) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// DefaultMinConfidence is the confidence gate below which observations
// are discarded without being judged.
const DefaultMinConfidence = 0.75

// Judgement is the outcome of judging one accepted observation.
type Judgement struct {
	// ExpectedNote is the note that was awaited when the observation
	// arrived.
	ExpectedNote string

	// DetectedNote is the svarasthana the observation mapped to.
	DetectedNote string

	// IsCorrect reports whether the observation matched ExpectedNote.
	IsCorrect bool

	// Position is the index of the next awaited note after this
	// judgement.
	Position int

	// TotalNotes is the sequence length.
	TotalNotes int

	// AccuracyScore is the running 0 to 100 score including this
	// judgement.
	AccuracyScore float64

	// NextNote is the note now awaited, empty once completed.
	NextNote string

	// Completed reports whether this judgement finished the sequence.
	Completed bool
}

// Progress returns completion as a fraction of the sequence.
func (j Judgement) Progress() float64 {
	if j.TotalNotes == 0 {
		return 0
	}
	return float64(j.Position) / float64(j.TotalNotes)
}

// Validator judges a stream of mapped observations against one
// expected note sequence. It is a plain state machine with no
// goroutines; the caller owns all access.
type Validator struct {
	minConfidence float64
	sequence      []string
	state         ValidatorState
	position      int
	correct       int
	incorrect     int
}

// NewValidator creates a validator. A non-positive minConfidence falls
// back to DefaultMinConfidence.
func NewValidator(minConfidence float64) *Validator {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Validator{minConfidence: minConfidence}
}

// Start loads a sequence and moves to StateInProgress, discarding any
// previous attempt.
func (v *Validator) Start(sequence []string) error {
	if len(sequence) == 0 {
		return fmt.Errorf("sequence must not be empty")
	}
	v.sequence = append([]string(nil), sequence...)
	v.reset()
	return nil
}

// Retry restarts the current sequence from position zero with all
// counters cleared.
func (v *Validator) Retry() error {
	if v.state == StateNotStarted {
		return fmt.Errorf("no sequence loaded")
	}
	v.reset()
	return nil
}

func (v *Validator) reset() {
	v.state = StateInProgress
	v.position = 0
	v.correct = 0
	v.incorrect = 0
}

// Submit judges one observation. It returns false when the observation
// was discarded: validator not in progress, or confidence below the
// gate. A correct match advances the position; a mismatch holds it.
func (v *Validator) Submit(det shruti.Detection) (Judgement, bool) {
	if v.state != StateInProgress {
		return Judgement{}, false
	}
	if det.Confidence < v.minConfidence {
		return Judgement{}, false
	}

	expected := v.sequence[v.position]
	correct := det.Name == expected
	if correct {
		v.correct++
		v.position++
	} else {
		v.incorrect++
	}

	j := Judgement{
		ExpectedNote:  expected,
		DetectedNote:  det.Name,
		IsCorrect:     correct,
		Position:      v.position,
		TotalNotes:    len(v.sequence),
		AccuracyScore: accuracyScore(v.correct, v.incorrect),
	}

	if v.position >= len(v.sequence) {
		v.state = StateCompleted
		j.Completed = true
	} else {
		j.NextNote = v.sequence[v.position]
	}
	return j, true
}

// State returns the current lifecycle state.
func (v *Validator) State() ValidatorState { return v.state }

// Position returns the index of the next awaited note.
func (v *Validator) Position() int { return v.position }

// ExpectedNote returns the awaited note, or empty when not in
// progress.
func (v *Validator) ExpectedNote() string {
	if v.state != StateInProgress {
		return ""
	}
	return v.sequence[v.position]
}

// Counts returns the judged totals so far.
func (v *Validator) Counts() (correct, incorrect int) {
	return v.correct, v.incorrect
}
