package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swaralab/riyaz/pkg/core/dsp"
	"github.com/swaralab/riyaz/pkg/core/practice"
	"github.com/swaralab/riyaz/pkg/core/shruti"
	"github.com/swaralab/riyaz/pkg/gateway/practice/protocol"
)

const testSampleRate = 44100

type fakeResolver struct {
	exercises map[string]practice.Exercise
}

func (f *fakeResolver) Resolve(name string) (practice.Exercise, bool) {
	ex, ok := f.exercises[name]
	return ex, ok
}

type fakeRecorder struct {
	sessionID string
	base      float64
	summary   practice.Summary
	calls     int
}

func (f *fakeRecorder) RecordSession(ctx context.Context, sessionID string, baseFrequencyHz float64, summary practice.Summary) error {
	f.sessionID = sessionID
	f.base = baseFrequencyHz
	f.summary = summary
	f.calls++
	return nil
}

func newTestSession(t *testing.T, mutate func(*Dependencies)) *PracticeSession {
	t.Helper()
	deps := Dependencies{
		Conn:       &websocket.Conn{},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Estimator:  dsp.NewEstimator(dsp.DefaultEstimatorConfig()),
		Mapper:     shruti.NewMapper(220),
		Controller: practice.NewController(practice.ControllerConfig{MinConfidence: 0.75}),
		SessionID:  "s_test",
		Hello: protocol.ClientHello{
			Type:            "hello",
			ProtocolVersion: protocol.ProtocolVersion1,
			AudioIn: protocol.AudioFormat{
				Encoding:     protocol.AudioEncodingPCM16,
				SampleRateHz: testSampleRate,
				Channels:     1,
			},
		},
		Config: Config{
			MaxAudioFrameBytes:  16384,
			MaxJSONMessageBytes: 64 * 1024,
			OutboundQueueSize:   16,
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Cancel)
	return s
}

func sineChunk(frequency float64, n int) protocol.ClientAudioChunk {
	pcm := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		sample := int16(12000 * math.Sin(2*math.Pi*frequency*float64(i)/testSampleRate))
		pcm[2*i] = byte(sample)
		pcm[2*i+1] = byte(sample >> 8)
	}
	return protocol.ClientAudioChunk{
		Type:    "audio_chunk",
		DataB64: base64.StdEncoding.EncodeToString(pcm),
	}
}

func textFrame(t *testing.T, v any) inboundFrame {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return inboundFrame{messageType: websocket.TextMessage, data: data}
}

// nextQueued pops one frame from a queue without blocking.
func nextQueued(t *testing.T, ch chan []byte) map[string]any {
	t.Helper()
	select {
	case payload := <-ch:
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("unmarshal queued frame: %v", err)
		}
		return frame
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func assertEmpty(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case payload := <-ch:
		t.Fatalf("unexpected queued frame: %s", payload)
	default:
	}
}

func TestSession_AudioChunkOutsideSessionEmitsDetection(t *testing.T) {
	s := newTestSession(t, nil)

	if err := s.handleAudioChunk(sineChunk(220, 4096)); err != nil {
		t.Fatalf("handleAudioChunk() error = %v", err)
	}

	frame := nextQueued(t, s.outboundNormal)
	if frame["type"] != "shruti_detected" {
		t.Fatalf("frame type = %v", frame["type"])
	}
	if frame["name"] != "Sa" {
		t.Fatalf("detected name = %v", frame["name"])
	}
	if conf, _ := frame["confidence"].(float64); conf < 0.9 {
		t.Fatalf("confidence = %v", frame["confidence"])
	}
}

func TestSession_AudioChunkSilenceProducesNothing(t *testing.T) {
	s := newTestSession(t, nil)

	chunk := protocol.ClientAudioChunk{
		Type:    "audio_chunk",
		DataB64: base64.StdEncoding.EncodeToString(make([]byte, 8192)),
	}
	if err := s.handleAudioChunk(chunk); err != nil {
		t.Fatalf("handleAudioChunk() error = %v", err)
	}
	assertEmpty(t, s.outboundNormal)
	assertEmpty(t, s.outboundPriority)
}

func TestSession_AudioChunkOverLimitWarns(t *testing.T) {
	s := newTestSession(t, func(deps *Dependencies) {
		deps.Config.MaxAudioFrameBytes = 64
	})

	if err := s.handleAudioChunk(sineChunk(220, 2048)); err != nil {
		t.Fatalf("handleAudioChunk() error = %v", err)
	}
	frame := nextQueued(t, s.outboundNormal)
	if frame["type"] != "warning" || frame["code"] != "frame_too_large" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestSession_BinaryFrameWarns(t *testing.T) {
	s := newTestSession(t, nil)

	err := s.handleInbound(inboundFrame{messageType: websocket.BinaryMessage, data: []byte{0x01}})
	if err != nil {
		t.Fatalf("handleInbound() error = %v", err)
	}
	frame := nextQueued(t, s.outboundNormal)
	if frame["type"] != "warning" || frame["code"] != "unsupported_frame" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestSession_MalformedFrameSendsProtocolError(t *testing.T) {
	s := newTestSession(t, nil)

	err := s.handleInbound(inboundFrame{messageType: websocket.TextMessage, data: []byte(`{"type":"audio_chunk"}`)})
	if err != nil {
		t.Fatalf("handleInbound() error = %v", err)
	}
	frame := nextQueued(t, s.outboundPriority)
	if frame["type"] != "error" || frame["scope"] != "protocol" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestSession_SecondHelloRejected(t *testing.T) {
	s := newTestSession(t, nil)

	err := s.handleInbound(textFrame(t, protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		AudioIn:         protocol.AudioFormat{Encoding: protocol.AudioEncodingPCM16, SampleRateHz: testSampleRate, Channels: 1},
	}))
	if err != nil {
		t.Fatalf("handleInbound() error = %v", err)
	}
	frame := nextQueued(t, s.outboundPriority)
	if frame["type"] != "error" || frame["code"] != "unexpected_hello" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestSession_CommandWithoutActiveSessionFails(t *testing.T) {
	s := newTestSession(t, nil)

	err := s.handleInbound(textFrame(t, protocol.ClientEndSession{Type: "end_session"}))
	if err != nil {
		t.Fatalf("handleInbound() error = %v", err)
	}
	frame := nextQueued(t, s.outboundPriority)
	if frame["type"] != "error" || frame["scope"] != "command" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestSession_StartSessionUnknownCatalogExercise(t *testing.T) {
	s := newTestSession(t, func(deps *Dependencies) {
		deps.Catalog = &fakeResolver{}
	})

	err := s.handleInbound(textFrame(t, protocol.ClientStartSession{
		Type:      "start_session",
		Exercises: []protocol.ExerciseSpec{{Catalog: "missing"}},
	}))
	if err != nil {
		t.Fatalf("handleInbound() error = %v", err)
	}
	frame := nextQueued(t, s.outboundPriority)
	if frame["code"] != "exercise_not_found" {
		t.Fatalf("frame = %v", frame)
	}
	if s.controller.Active() {
		t.Fatal("controller should not be active")
	}
}

func TestSession_StartSessionWithoutCatalogConfigured(t *testing.T) {
	s := newTestSession(t, nil)

	err := s.handleInbound(textFrame(t, protocol.ClientStartSession{
		Type:      "start_session",
		Exercises: []protocol.ExerciseSpec{{Catalog: "sarali-1"}},
	}))
	if err != nil {
		t.Fatalf("handleInbound() error = %v", err)
	}
	frame := nextQueued(t, s.outboundPriority)
	if frame["code"] != "catalog_unavailable" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestSession_FullExerciseLifecycle(t *testing.T) {
	recorder := &fakeRecorder{}
	s := newTestSession(t, func(deps *Dependencies) {
		deps.History = recorder
	})

	err := s.handleInbound(textFrame(t, protocol.ClientStartSession{
		Type:      "start_session",
		Exercises: []protocol.ExerciseSpec{{Name: "tonic-drill", Arohanam: []string{"Sa"}}},
	}))
	if err != nil {
		t.Fatalf("start_session error = %v", err)
	}
	started := nextQueued(t, s.outboundPriority)
	if started["type"] != "session_mode_started" {
		t.Fatalf("frame = %v", started)
	}
	if started["first_note"] != "Sa" {
		t.Fatalf("first_note = %v", started["first_note"])
	}

	// Singing the tonic completes the single-note exercise.
	if err := s.handleAudioChunk(sineChunk(220, 4096)); err != nil {
		t.Fatalf("handleAudioChunk() error = %v", err)
	}
	feedback := nextQueued(t, s.outboundNormal)
	if feedback["type"] != "practice_feedback" {
		t.Fatalf("frame = %v", feedback)
	}
	validation, _ := feedback["validation"].(map[string]any)
	if validation == nil {
		t.Fatalf("missing validation: %v", feedback)
	}
	if validation["is_correct"] != true || validation["completed"] != true {
		t.Fatalf("validation = %v", validation)
	}
	if score, _ := validation["final_score"].(float64); score != 100 {
		t.Fatalf("final_score = %v", validation["final_score"])
	}

	// Advancing past the last exercise completes the session.
	if err := s.handleInbound(textFrame(t, protocol.ClientNextExercise{Type: "next_exercise"})); err != nil {
		t.Fatalf("next_exercise error = %v", err)
	}
	completed := nextQueued(t, s.outboundPriority)
	if completed["type"] != "session_completed" {
		t.Fatalf("frame = %v", completed)
	}
	summary, _ := completed["summary"].(map[string]any)
	if summary == nil || summary["exercises_completed"] != float64(1) {
		t.Fatalf("summary = %v", summary)
	}

	if recorder.calls != 1 {
		t.Fatalf("RecordSession calls = %d, want 1", recorder.calls)
	}
	if recorder.sessionID != "s_test" || recorder.base != 220 {
		t.Fatalf("recorded session = %q base = %v", recorder.sessionID, recorder.base)
	}
	if recorder.summary.ExercisesCompleted != 1 {
		t.Fatalf("recorded summary = %+v", recorder.summary)
	}
}

func TestSession_SetBaseFrequencyMovesTonic(t *testing.T) {
	s := newTestSession(t, nil)

	err := s.handleInbound(textFrame(t, protocol.ClientSetBaseFrequency{Type: "set_base_frequency", FrequencyHz: 440}))
	if err != nil {
		t.Fatalf("handleInbound() error = %v", err)
	}
	assertEmpty(t, s.outboundPriority)
	if got := s.mapper.BaseFrequency(); got != 440 {
		t.Fatalf("BaseFrequency() = %v", got)
	}

	// 440 is now Sa.
	if err := s.handleAudioChunk(sineChunk(440, 4096)); err != nil {
		t.Fatalf("handleAudioChunk() error = %v", err)
	}
	frame := nextQueued(t, s.outboundNormal)
	if frame["name"] != "Sa" {
		t.Fatalf("detected name = %v", frame["name"])
	}
}

func TestSession_NormalQueueShedsUnderBackpressure(t *testing.T) {
	s := newTestSession(t, func(deps *Dependencies) {
		deps.Config.OutboundQueueSize = 1
	})

	for i := 0; i < 3; i++ {
		if err := s.handleAudioChunk(sineChunk(220, 4096)); err != nil {
			t.Fatalf("handleAudioChunk() error = %v", err)
		}
	}

	nextQueued(t, s.outboundNormal)
	assertEmpty(t, s.outboundNormal)
}

func TestSession_SendWarningUsesPriorityQueue(t *testing.T) {
	s := newTestSession(t, nil)

	if err := s.SendWarning("draining", "server is shutting down"); err != nil {
		t.Fatalf("SendWarning() error = %v", err)
	}
	frame := nextQueued(t, s.outboundPriority)
	if frame["type"] != "warning" || frame["code"] != "draining" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestSession_StaleTimestampFallsBackToClock(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	s := newTestSession(t, func(deps *Dependencies) {
		deps.Now = func() time.Time { return fixed }
	})

	chunk := sineChunk(220, 4096)
	if err := s.handleAudioChunk(chunk); err != nil {
		t.Fatalf("handleAudioChunk() error = %v", err)
	}
	frame := nextQueued(t, s.outboundNormal)
	if ts, _ := frame["timestamp_ms"].(float64); int64(ts) != fixed.UnixMilli() {
		t.Fatalf("timestamp_ms = %v, want %d", frame["timestamp_ms"], fixed.UnixMilli())
	}
}
