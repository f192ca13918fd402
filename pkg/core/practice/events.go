package practice

import (
	"time"

	"github.com/swaralab/riyaz/pkg/core/shruti"
)

// Event is a session lifecycle or judgement notification published by
// the controller to its registered handlers.
type Event interface {
	practiceEvent()
}

// Handler receives controller events. Handlers run synchronously on
// the caller's goroutine; they must not block.
type Handler func(Event)

// SessionStarted is emitted when a session begins.
type SessionStarted struct {
	TotalExercises int
	ExerciseName   string
	FirstNote      string
}

// NoteJudged is emitted for every observation the validator accepted.
type NoteJudged struct {
	Detection shruti.Detection
	Judgement Judgement
}

// ExerciseAdvanced is emitted when the session moves to the next
// exercise. Previous holds the finalized result of the one left
// behind.
type ExerciseAdvanced struct {
	ExerciseIndex int
	ExerciseName  string
	FirstNote     string
	Previous      ExerciseResult
}

// ExerciseRetried is emitted when the current exercise restarts.
type ExerciseRetried struct {
	ExerciseName string
	FirstNote    string
}

// SessionCompleted is emitted when the last exercise is advanced past.
type SessionCompleted struct {
	Summary Summary
}

// SessionEnded is emitted when the session is ended early.
type SessionEnded struct {
	Summary Summary
}

func (SessionStarted) practiceEvent()   {}
func (NoteJudged) practiceEvent()       {}
func (ExerciseAdvanced) practiceEvent() {}
func (ExerciseRetried) practiceEvent()  {}
func (SessionCompleted) practiceEvent() {}
func (SessionEnded) practiceEvent()     {}

// ExerciseResult is the finalized outcome of one exercise attempt.
// Retries replace earlier attempts; only the latest is reported.
type ExerciseResult struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	TotalNotes int     `json:"total_notes"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Accuracy   float64 `json:"accuracy"`
	Grade      string  `json:"grade"`
	Completed  bool    `json:"completed"`
}

// Summary aggregates a whole session.
type Summary struct {
	TotalExercises     int              `json:"total_exercises"`
	ExercisesCompleted int              `json:"exercises_completed"`
	TotalNotesPlayed   int              `json:"total_notes_played"`
	TotalCorrect       int              `json:"total_correct_notes"`
	TotalIncorrect     int              `json:"total_incorrect_notes"`
	Accuracy           float64          `json:"session_accuracy"`
	Grade              string           `json:"session_grade"`
	DurationSeconds    float64          `json:"session_duration_seconds"`
	Exercises          []ExerciseResult `json:"exercise_results"`
	StartedAt          time.Time        `json:"started_at"`
	EndedAt            time.Time        `json:"ended_at"`
}
