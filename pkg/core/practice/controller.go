package practice

import (
	"time"

	"github.com/swaralab/riyaz/pkg/core"
	"github.com/swaralab/riyaz/pkg/core/shruti"
)

// ControllerConfig tunes a session controller.
type ControllerConfig struct {
	// MinConfidence gates observations before judging. Zero falls back
	// to DefaultMinConfidence.
	MinConfidence float64

	// Grades maps accuracy scores to letters. Nil falls back to
	// DefaultGradeScale.
	Grades GradeScale

	// Now supplies the clock, for tests. Nil falls back to time.Now.
	Now func() time.Time
}

// Controller orchestrates one practice session: an ordered exercise
// list, the validator for the current exercise, and the aggregate
// summary. It is not safe for concurrent use; a single session loop
// owns it. Observations arriving from before a state change carry a
// stale epoch and are discarded.
type Controller struct {
	cfg      ControllerConfig
	handlers []Handler

	active    bool
	exercises []Exercise
	index     int
	validator *Validator
	results   []ExerciseResult
	startedAt time.Time
	epoch     uint64
}

// NewController creates an idle controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Grades == nil {
		cfg.Grades = DefaultGradeScale()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		cfg:       cfg,
		validator: NewValidator(cfg.MinConfidence),
	}
}

// OnEvent registers a handler. Register before starting a session.
func (c *Controller) OnEvent(h Handler) {
	c.handlers = append(c.handlers, h)
}

func (c *Controller) publish(ev Event) {
	for _, h := range c.handlers {
		h(ev)
	}
}

// Active reports whether a session is running.
func (c *Controller) Active() bool { return c.active }

// Epoch identifies the current validator instance. Observations
// submitted with an older epoch are discarded.
func (c *Controller) Epoch() uint64 { return c.epoch }

// CurrentExercise returns the exercise in progress.
func (c *Controller) CurrentExercise() (Exercise, bool) {
	if !c.active {
		return Exercise{}, false
	}
	return c.exercises[c.index], true
}

// StartSession begins a session over the given exercises, replacing
// any session already running.
func (c *Controller) StartSession(exercises []Exercise) error {
	if len(exercises) == 0 {
		return core.NewInvalidRequestError("at least one exercise is required")
	}
	for _, ex := range exercises {
		if err := ex.Validate(); err != nil {
			return core.NewInvalidRequestError(err.Error())
		}
	}

	c.exercises = append([]Exercise(nil), exercises...)
	c.index = 0
	c.results = make([]ExerciseResult, 0, len(exercises))
	c.startedAt = c.cfg.Now()
	c.active = true
	c.epoch++

	first := c.exercises[0]
	if err := c.validator.Start(first.Sequence()); err != nil {
		c.active = false
		return core.NewInvalidRequestError(err.Error())
	}

	c.publish(SessionStarted{
		TotalExercises: len(c.exercises),
		ExerciseName:   first.Name,
		FirstNote:      first.Sequence()[0],
	})
	return nil
}

// SubmitDetection feeds one mapped observation into the current
// exercise. Observations tagged with a stale epoch, arriving with no
// active session, or rejected by the validator's confidence gate are
// dropped without effect.
func (c *Controller) SubmitDetection(epoch uint64, det shruti.Detection) (Judgement, bool) {
	if !c.active || epoch != c.epoch {
		return Judgement{}, false
	}
	j, ok := c.validator.Submit(det)
	if !ok {
		return Judgement{}, false
	}
	c.publish(NoteJudged{Detection: det, Judgement: j})
	return j, true
}

// RetryExercise restarts the current exercise, discarding its
// progress and counters.
func (c *Controller) RetryExercise() error {
	if !c.active {
		return core.NewStateError("no active session")
	}
	if err := c.validator.Retry(); err != nil {
		return core.NewStateError(err.Error())
	}
	c.epoch++

	ex := c.exercises[c.index]
	c.publish(ExerciseRetried{
		ExerciseName: ex.Name,
		FirstNote:    ex.Sequence()[0],
	})
	return nil
}

// Advance finalizes the current exercise and moves to the next one.
// Advancing past the last exercise completes the session.
func (c *Controller) Advance() error {
	if !c.active {
		return core.NewStateError("no active session")
	}

	result := c.finalizeCurrent()
	c.results = append(c.results, result)
	c.index++
	c.epoch++

	if c.index >= len(c.exercises) {
		summary := c.buildSummary()
		c.active = false
		c.publish(SessionCompleted{Summary: summary})
		return nil
	}

	next := c.exercises[c.index]
	if err := c.validator.Start(next.Sequence()); err != nil {
		return core.NewInternalError("loading next exercise", err)
	}
	c.publish(ExerciseAdvanced{
		ExerciseIndex: c.index,
		ExerciseName:  next.Name,
		FirstNote:     next.Sequence()[0],
		Previous:      result,
	})
	return nil
}

// EndSession finishes the session early, folding the current partial
// attempt into the summary.
func (c *Controller) EndSession() error {
	if !c.active {
		return core.NewStateError("no active session")
	}

	c.results = append(c.results, c.finalizeCurrent())
	summary := c.buildSummary()
	c.active = false
	c.publish(SessionEnded{Summary: summary})
	return nil
}

func (c *Controller) finalizeCurrent() ExerciseResult {
	ex := c.exercises[c.index]
	correct, incorrect := c.validator.Counts()
	score := accuracyScore(correct, incorrect)
	return ExerciseResult{
		Index:      c.index,
		Name:       ex.Name,
		TotalNotes: len(ex.Sequence()),
		Correct:    correct,
		Incorrect:  incorrect,
		Accuracy:   score,
		Grade:      c.cfg.Grades.Grade(score),
		Completed:  c.validator.State() == StateCompleted,
	}
}

func (c *Controller) buildSummary() Summary {
	var correct, incorrect, completed int
	for _, r := range c.results {
		correct += r.Correct
		incorrect += r.Incorrect
		if r.Completed {
			completed++
		}
	}
	score := accuracyScore(correct, incorrect)
	now := c.cfg.Now()
	return Summary{
		TotalExercises:     len(c.exercises),
		ExercisesCompleted: completed,
		TotalNotesPlayed:   correct + incorrect,
		TotalCorrect:       correct,
		TotalIncorrect:     incorrect,
		Accuracy:           score,
		Grade:              c.cfg.Grades.Grade(score),
		DurationSeconds:    now.Sub(c.startedAt).Seconds(),
		Exercises:          append([]ExerciseResult(nil), c.results...),
		StartedAt:          c.startedAt,
		EndedAt:            now,
	}
}
