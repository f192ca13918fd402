// Package session runs one practice connection: it decodes inbound
// frames, drives the pitch pipeline and exercise controller, and
// streams feedback events back over the socket.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swaralab/riyaz/pkg/core"
	"github.com/swaralab/riyaz/pkg/core/dsp"
	"github.com/swaralab/riyaz/pkg/core/practice"
	"github.com/swaralab/riyaz/pkg/core/shruti"
	"github.com/swaralab/riyaz/pkg/gateway/practice/protocol"
)

var errBackpressure = errors.New("practice outbound backpressure")

const outboundPriorityQueueSize = 8

// CatalogResolver looks up named exercises referenced in
// start_session.
type CatalogResolver interface {
	Resolve(name string) (practice.Exercise, bool)
}

// HistoryRecorder persists finalized session summaries.
type HistoryRecorder interface {
	RecordSession(ctx context.Context, sessionID string, baseFrequencyHz float64, summary practice.Summary) error
}

// Metrics receives pipeline counters. Implementations must be cheap;
// calls happen on the session loop.
type Metrics interface {
	RecordAudioFrame(bytes int)
	RecordDetection()
	RecordNoteJudged(correct bool)
	RecordSessionFinished(summary practice.Summary)
}

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	MaxSessionDuration  time.Duration
	OutboundQueueSize   int
}

type Dependencies struct {
	Conn       *websocket.Conn
	Logger     *slog.Logger
	Estimator  *dsp.Estimator
	Mapper     *shruti.Mapper
	Controller *practice.Controller
	Catalog    CatalogResolver
	History    HistoryRecorder
	Metrics    Metrics
	Hello      protocol.ClientHello
	SessionID  string
	RequestID  string
	Config     Config
	StartTime  time.Time
	Now        func() time.Time
}

// PracticeSession is one live connection. All inbound frames are
// processed in order on the Run goroutine; the writer goroutine owns
// the socket for writes.
type PracticeSession struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	estimator  *dsp.Estimator
	mapper     *shruti.Mapper
	controller *practice.Controller
	catalog    CatalogResolver
	history    HistoryRecorder
	metrics    Metrics
	hello      protocol.ClientHello
	sessionID  string
	requestID  string
	cfg        Config
	startTime  time.Time
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan []byte
	outboundNormal   chan []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*PracticeSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Estimator == nil {
		return nil, fmt.Errorf("estimator is required")
	}
	if deps.Mapper == nil {
		return nil, fmt.Errorf("mapper is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PracticeSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		estimator:        deps.Estimator,
		mapper:           deps.Mapper,
		controller:       deps.Controller,
		catalog:          deps.Catalog,
		history:          deps.History,
		metrics:          deps.Metrics,
		hello:            deps.Hello,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		startTime:        deps.StartTime,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, outboundPriorityQueueSize),
		outboundNormal:   make(chan []byte, deps.Config.OutboundQueueSize),
	}
	s.controller.OnEvent(s.handleEngineEvent)
	return s, nil
}

func (s *PracticeSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	flushAndClose := func() error {
		s.cancel()
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		return nil
	}

	var sessionDeadline <-chan time.Time
	if s.cfg.MaxSessionDuration > 0 {
		timer := time.NewTimer(s.cfg.MaxSessionDuration)
		defer timer.Stop()
		sessionDeadline = timer.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return flushAndClose()

		case err := <-writerErrCh:
			return err

		case <-sessionDeadline:
			if s.controller.Active() {
				_ = s.controller.EndSession()
			}
			_ = s.sendSessionError("session_timeout", "maximum session duration reached", true, nil)
			return flushAndClose()

		case frame := <-readCh:
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return flushAndClose()
				}
				s.logger.Debug("practice read failed", "session_id", s.sessionID, "error", frame.err)
				return flushAndClose()
			}
			if err := s.handleInbound(frame); err != nil {
				return err
			}
		}
	}
}

func (s *PracticeSession) handleInbound(frame inboundFrame) error {
	if frame.messageType != websocket.TextMessage {
		return s.sendWarning("unsupported_frame", "binary frames are not supported")
	}

	msg, err := protocol.DecodeClientMessage(frame.data)
	if err != nil {
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			return s.sendProtocolError(decErr)
		}
		return s.sendSessionError("internal_error", "failed to decode message", true, nil)
	}

	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		return s.handleAudioChunk(m)
	case protocol.ClientStartSession:
		return s.handleStartSession(m)
	case protocol.ClientRetryExercise:
		return s.commandResult(s.controller.RetryExercise())
	case protocol.ClientNextExercise:
		return s.commandResult(s.controller.Advance())
	case protocol.ClientEndSession:
		return s.commandResult(s.controller.EndSession())
	case protocol.ClientSetBaseFrequency:
		if err := s.mapper.SetBaseFrequency(m.FrequencyHz); err != nil {
			return s.sendCommandError("invalid_base_frequency", err.Error())
		}
		return nil
	case protocol.ClientHello:
		return s.sendCommandError("unexpected_hello", "session is already established")
	default:
		return s.sendCommandError("unsupported", "unsupported message")
	}
}

// handleAudioChunk runs the frame pipeline: decode, gate, estimate,
// map, and either judge against the active exercise or report a raw
// detection. Malformed or empty frames are skipped without an event.
func (s *PracticeSession) handleAudioChunk(msg protocol.ClientAudioChunk) error {
	pcm, err := base64.StdEncoding.DecodeString(msg.DataB64)
	if err != nil || len(pcm) < 2 {
		return nil
	}
	if s.cfg.MaxAudioFrameBytes > 0 && len(pcm) > s.cfg.MaxAudioFrameBytes {
		return s.sendWarning("frame_too_large", "audio frame exceeds negotiated limit")
	}
	if s.metrics != nil {
		s.metrics.RecordAudioFrame(len(pcm))
	}

	samples := dsp.DecodePCM16(pcm)
	result := s.estimator.Estimate(samples, s.hello.AudioIn.SampleRateHz)
	if !result.Detected() {
		return nil
	}

	ts := s.now()
	if msg.TimestampMS != nil && *msg.TimestampMS >= 0 {
		ts = time.UnixMilli(*msg.TimestampMS)
	}
	det, ok := s.mapper.Map(result.Frequency, result.Clarity, ts)
	if !ok {
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordDetection()
	}

	if s.controller.Active() {
		// Feedback is emitted through the controller's event stream.
		s.controller.SubmitDetection(s.controller.Epoch(), det)
		return nil
	}

	return s.sendJSON(protocol.ServerShrutiDetected{
		Type:          "shruti_detected",
		Name:          det.Name,
		FrequencyHz:   det.Frequency,
		CentDeviation: det.Cents,
		Confidence:    det.Confidence,
		TimestampMS:   det.Timestamp.UnixMilli(),
	})
}

func (s *PracticeSession) handleStartSession(msg protocol.ClientStartSession) error {
	exercises := make([]practice.Exercise, 0, len(msg.Exercises))
	for _, spec := range msg.Exercises {
		if spec.Catalog != "" {
			if s.catalog == nil {
				return s.sendCommandError("catalog_unavailable", "no exercise catalog is configured")
			}
			ex, ok := s.catalog.Resolve(spec.Catalog)
			if !ok {
				return s.sendCommandError("exercise_not_found", fmt.Sprintf("unknown catalog exercise %q", spec.Catalog))
			}
			exercises = append(exercises, ex)
			continue
		}
		exercises = append(exercises, practice.Exercise{
			Name:       spec.Name,
			Arohanam:   spec.Arohanam,
			Avarohanam: spec.Avarohanam,
		})
	}
	return s.commandResult(s.controller.StartSession(exercises))
}

// commandResult converts engine command failures into non-fatal error
// frames; session state is unchanged on failure.
func (s *PracticeSession) commandResult(err error) error {
	if err == nil {
		return nil
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		code := coreErr.Code
		if code == "" {
			code = string(coreErr.Type)
		}
		return s.sendCommandError(code, coreErr.Message)
	}
	return s.sendCommandError("command_failed", err.Error())
}

// handleEngineEvent translates controller events into wire frames.
// Lifecycle frames go through the priority queue and must not be
// dropped; per-note feedback rides the normal queue and is shed under
// backpressure.
func (s *PracticeSession) handleEngineEvent(ev practice.Event) {
	switch e := ev.(type) {
	case practice.SessionStarted:
		_ = s.sendJSONPriority(protocol.ServerSessionStarted{
			Type:                "session_mode_started",
			TotalExercises:      e.TotalExercises,
			CurrentExerciseName: e.ExerciseName,
			FirstNote:           e.FirstNote,
		})

	case practice.NoteJudged:
		if s.metrics != nil {
			s.metrics.RecordNoteJudged(e.Judgement.IsCorrect)
		}
		state := protocol.ValidationState{
			ExpectedNote:  e.Judgement.ExpectedNote,
			DetectedNote:  e.Judgement.DetectedNote,
			IsCorrect:     e.Judgement.IsCorrect,
			Position:      e.Judgement.Position,
			TotalNotes:    e.Judgement.TotalNotes,
			AccuracyScore: e.Judgement.AccuracyScore,
			NextNote:      e.Judgement.NextNote,
			Completed:     e.Judgement.Completed,
			Progress:      e.Judgement.Progress(),
		}
		if e.Judgement.Completed {
			state.FinalScore = e.Judgement.AccuracyScore
		}
		_ = s.sendJSON(protocol.ServerPracticeFeedback{
			Type:          "practice_feedback",
			ShrutiName:    e.Detection.Name,
			FrequencyHz:   e.Detection.Frequency,
			CentDeviation: e.Detection.Cents,
			Confidence:    e.Detection.Confidence,
			TimestampMS:   e.Detection.Timestamp.UnixMilli(),
			Validation:    state,
		})

	case practice.ExerciseAdvanced:
		prev := exerciseResultFrame(e.Previous)
		_ = s.sendJSONPriority(protocol.ServerExerciseAdvanced{
			Type:                 "session_exercise_advanced",
			CurrentExerciseIndex: e.ExerciseIndex,
			CurrentExerciseName:  e.ExerciseName,
			FirstNote:            e.FirstNote,
			PreviousResult:       &prev,
		})

	case practice.ExerciseRetried:
		_ = s.sendJSONPriority(protocol.ServerExerciseRetried{
			Type:                "session_exercise_retried",
			CurrentExerciseName: e.ExerciseName,
			FirstNote:           e.FirstNote,
		})

	case practice.SessionCompleted:
		_ = s.sendJSONPriority(protocol.ServerSessionCompleted{
			Type:    "session_completed",
			Summary: summaryFrame(e.Summary),
		})
		s.recordSession(e.Summary)

	case practice.SessionEnded:
		_ = s.sendJSONPriority(protocol.ServerSessionEnded{
			Type:    "session_ended",
			Summary: summaryFrame(e.Summary),
		})
		s.recordSession(e.Summary)
	}
}

func (s *PracticeSession) recordSession(summary practice.Summary) {
	if s.metrics != nil {
		s.metrics.RecordSessionFinished(summary)
	}
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.RecordSession(ctx, s.sessionID, s.mapper.BaseFrequency(), summary); err != nil {
		s.logger.Warn("failed to record practice session",
			"session_id", s.sessionID,
			"error", err)
	}
}

func exerciseResultFrame(r practice.ExerciseResult) protocol.ExerciseResult {
	return protocol.ExerciseResult{
		Index:      r.Index,
		Name:       r.Name,
		TotalNotes: r.TotalNotes,
		Correct:    r.Correct,
		Incorrect:  r.Incorrect,
		Accuracy:   r.Accuracy,
		Grade:      r.Grade,
		Completed:  r.Completed,
	}
}

func summaryFrame(sum practice.Summary) protocol.SessionSummary {
	results := make([]protocol.ExerciseResult, 0, len(sum.Exercises))
	for _, r := range sum.Exercises {
		results = append(results, exerciseResultFrame(r))
	}
	return protocol.SessionSummary{
		TotalExercises:     sum.TotalExercises,
		ExercisesCompleted: sum.ExercisesCompleted,
		TotalNotesPlayed:   sum.TotalNotesPlayed,
		TotalCorrectNotes:  sum.TotalCorrect,
		TotalIncorrect:     sum.TotalIncorrect,
		SessionAccuracy:    sum.Accuracy,
		SessionGrade:       sum.Grade,
		DurationSeconds:    sum.DurationSeconds,
		ExerciseResults:    results,
	}
}

func (s *PracticeSession) sendProtocolError(decErr *protocol.DecodeError) error {
	return s.sendJSONPriority(protocol.ServerError{
		Type:    "error",
		Scope:   "protocol",
		Code:    decErr.Code,
		Message: decErr.Error(),
	})
}

func (s *PracticeSession) sendCommandError(code, message string) error {
	return s.sendJSONPriority(protocol.ServerError{
		Type:    "error",
		Scope:   "command",
		Code:    code,
		Message: message,
	})
}

func (s *PracticeSession) sendSessionError(code, message string, close bool, details map[string]any) error {
	msg := protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Close: close, Details: details}
	return s.sendJSONPriority(msg)
}

func (s *PracticeSession) sendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (s *PracticeSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.enqueueNormal(payload); err != nil {
		if errors.Is(err, errBackpressure) {
			// Per-frame events are droppable.
			return nil
		}
		return err
	}
	return nil
}

func (s *PracticeSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(payload)
}

func (s *PracticeSession) enqueueNormal(payload []byte) error {
	select {
	case s.outboundNormal <- payload:
		return nil
	default:
		return errBackpressure
	}
}

func (s *PracticeSession) enqueuePriority(payload []byte) error {
	select {
	case s.outboundPriority <- payload:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *PracticeSession) readLoop(out chan<- inboundFrame) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel aborts the session from outside the Run loop, e.g. during
// server shutdown.
func (s *PracticeSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning delivers an out-of-band warning, e.g. a drain notice.
// Safe to call from other goroutines.
func (s *PracticeSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendJSONPriority(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}
