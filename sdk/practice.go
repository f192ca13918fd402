// Package riyaz is the Go client for the practice gateway websocket
// API (/v1/practice).
package riyaz

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swaralab/riyaz/pkg/gateway/practice/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// ConnectRequest configures a practice websocket session.
type ConnectRequest struct {
	// BaseURL is the gateway root, e.g. "http://localhost:8080".
	// http(s) schemes are rewritten to ws(s).
	BaseURL string

	// SampleRateHz of the PCM audio the client will send. Required.
	SampleRateHz int

	// BaseFrequencyHz requests a tonic override. Zero uses the server
	// default.
	BaseFrequencyHz float64

	// Client identifies the application in the hello frame.
	Client protocol.HelloClient

	// Header carries extra HTTP headers for the websocket dial.
	Header http.Header
}

// ExerciseSpec names a catalog exercise or defines one inline.
type ExerciseSpec struct {
	Catalog    string
	Name       string
	Arohanam   []string
	Avarohanam []string
}

// AudioMeta carries optional metadata for outbound audio chunks.
type AudioMeta struct {
	Seq         int64
	TimestampMS *int64
}

// Event is a server frame emitted by Session.Events().
type Event interface {
	eventType() string
}

type HelloAckEvent struct{ Ack protocol.ServerHelloAck }

func (e HelloAckEvent) eventType() string { return "hello_ack" }

type ShrutiDetectedEvent struct{ Detection protocol.ServerShrutiDetected }

func (e ShrutiDetectedEvent) eventType() string { return "shruti_detected" }

type PracticeFeedbackEvent struct{ Feedback protocol.ServerPracticeFeedback }

func (e PracticeFeedbackEvent) eventType() string { return "practice_feedback" }

type SessionStartedEvent struct{ Started protocol.ServerSessionStarted }

func (e SessionStartedEvent) eventType() string { return "session_mode_started" }

type ExerciseAdvancedEvent struct{ Advanced protocol.ServerExerciseAdvanced }

func (e ExerciseAdvancedEvent) eventType() string { return "session_exercise_advanced" }

type ExerciseRetriedEvent struct{ Retried protocol.ServerExerciseRetried }

func (e ExerciseRetriedEvent) eventType() string { return "session_exercise_retried" }

type SessionCompletedEvent struct{ Completed protocol.ServerSessionCompleted }

func (e SessionCompletedEvent) eventType() string { return "session_completed" }

type SessionEndedEvent struct{ Ended protocol.ServerSessionEnded }

func (e SessionEndedEvent) eventType() string { return "session_ended" }

type WarningEvent struct{ Warning protocol.ServerWarning }

func (e WarningEvent) eventType() string { return "warning" }

type ErrorEvent struct{ Error protocol.ServerError }

func (e ErrorEvent) eventType() string { return "error" }

type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ServerError is returned when the gateway rejects the handshake or
// reports a fatal session error.
type ServerError struct {
	Scope   string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Scope != "" {
		return fmt.Sprintf("%s error %s: %s", e.Scope, e.Code, e.Message)
	}
	return fmt.Sprintf("error %s: %s", e.Code, e.Message)
}

// Session is a live practice websocket session.
type Session struct {
	conn *websocket.Conn
	ack  protocol.ServerHelloAck

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Connect dials the gateway, performs the hello handshake, and returns
// a running session.
func Connect(ctx context.Context, req ConnectRequest) (*Session, error) {
	if strings.TrimSpace(req.BaseURL) == "" {
		return nil, fmt.Errorf("base URL must not be empty")
	}
	if req.SampleRateHz <= 0 {
		return nil, fmt.Errorf("sample rate must be > 0")
	}
	if req.BaseFrequencyHz < 0 {
		return nil, fmt.Errorf("base frequency must be > 0")
	}

	wsURL, err := websocketEndpoint(req.BaseURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, req.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	hello := protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		Client:          req.Client,
		AudioIn: protocol.AudioFormat{
			Encoding:     protocol.AudioEncodingPCM16,
			SampleRateHz: req.SampleRateHz,
			Channels:     1,
		},
		BaseFrequencyHz: req.BaseFrequencyHz,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read hello_ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame type %d", messageType)
	}

	firstEvent, err := decodeServerFrame(payload)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	switch e := firstEvent.(type) {
	case HelloAckEvent:
		session := &Session{
			conn:   conn,
			ack:    e.Ack,
			events: make(chan Event, 256),
			done:   make(chan struct{}),
		}
		go session.readLoop()
		return session, nil
	case ErrorEvent:
		_ = conn.Close()
		return nil, &ServerError{
			Scope:   e.Error.Scope,
			Code:    e.Error.Code,
			Message: e.Error.Message,
		}
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", firstEvent.eventType())
	}
}

// Ack returns the handshake acknowledgement.
func (s *Session) Ack() protocol.ServerHelloAck {
	if s == nil {
		return protocol.ServerHelloAck{}
	}
	return s.ack
}

// SessionID returns the server-assigned session identifier.
func (s *Session) SessionID() string {
	if s == nil {
		return ""
	}
	return s.ack.SessionID
}

// Events yields server frames. The channel closes when the session
// ends; events are dropped rather than blocking the read loop when the
// consumer falls behind.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendAudioChunk sends one frame of PCM samples.
func (s *Session) SendAudioChunk(pcm []byte, meta AudioMeta) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	return s.sendJSON(protocol.ClientAudioChunk{
		Type:        "audio_chunk",
		Seq:         meta.Seq,
		TimestampMS: meta.TimestampMS,
		DataB64:     base64.StdEncoding.EncodeToString(pcm),
	})
}

// StartSession begins structured practice over the given exercises.
func (s *Session) StartSession(exercises ...ExerciseSpec) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if len(exercises) == 0 {
		return fmt.Errorf("at least one exercise is required")
	}
	specs := make([]protocol.ExerciseSpec, 0, len(exercises))
	for _, ex := range exercises {
		specs = append(specs, protocol.ExerciseSpec{
			Catalog:    ex.Catalog,
			Name:       ex.Name,
			Arohanam:   ex.Arohanam,
			Avarohanam: ex.Avarohanam,
		})
	}
	return s.sendJSON(protocol.ClientStartSession{Type: "start_session", Exercises: specs})
}

// RetryExercise restarts the current exercise from its first note.
func (s *Session) RetryExercise() error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	return s.sendJSON(protocol.ClientRetryExercise{Type: "retry_exercise"})
}

// NextExercise advances to the next exercise in the plan.
func (s *Session) NextExercise() error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	return s.sendJSON(protocol.ClientNextExercise{Type: "next_exercise"})
}

// EndSession ends the practice session and requests a summary.
func (s *Session) EndSession() error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	return s.sendJSON(protocol.ClientEndSession{Type: "end_session"})
}

// SetBaseFrequency moves the tonic.
func (s *Session) SetBaseFrequency(frequencyHz float64) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if frequencyHz <= 0 {
		return fmt.Errorf("frequency must be > 0")
	}
	return s.sendJSON(protocol.ClientSetBaseFrequency{Type: "set_base_frequency", FrequencyHz: frequencyHz})
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return fmt.Errorf("session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the websocket session.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error (if any).
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if !s.closed.Load() {
				s.setErr(err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := decodeServerFrame(data)
		if err != nil {
			s.setErr(err)
			return
		}
		s.emitEvent(event)
		if errEvent, ok := event.(ErrorEvent); ok && errEvent.Error.Close {
			s.setErr(&ServerError{
				Scope:   errEvent.Error.Scope,
				Code:    errEvent.Error.Code,
				Message: errEvent.Error.Message,
			})
		}
	}
}

func (s *Session) emitEvent(event Event) {
	if event == nil {
		return
	}
	select {
	case s.events <- event:
	default:
		// Avoid deadlocking the read loop if the caller stops consuming.
	}
}

func decodeServerFrame(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case "hello_ack":
		var ack protocol.ServerHelloAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return nil, fmt.Errorf("decode hello_ack: %w", err)
		}
		return HelloAckEvent{Ack: ack}, nil
	case "shruti_detected":
		var detection protocol.ServerShrutiDetected
		if err := json.Unmarshal(data, &detection); err != nil {
			return nil, fmt.Errorf("decode shruti_detected: %w", err)
		}
		return ShrutiDetectedEvent{Detection: detection}, nil
	case "practice_feedback":
		var feedback protocol.ServerPracticeFeedback
		if err := json.Unmarshal(data, &feedback); err != nil {
			return nil, fmt.Errorf("decode practice_feedback: %w", err)
		}
		return PracticeFeedbackEvent{Feedback: feedback}, nil
	case "session_mode_started":
		var started protocol.ServerSessionStarted
		if err := json.Unmarshal(data, &started); err != nil {
			return nil, fmt.Errorf("decode session_mode_started: %w", err)
		}
		return SessionStartedEvent{Started: started}, nil
	case "session_exercise_advanced":
		var advanced protocol.ServerExerciseAdvanced
		if err := json.Unmarshal(data, &advanced); err != nil {
			return nil, fmt.Errorf("decode session_exercise_advanced: %w", err)
		}
		return ExerciseAdvancedEvent{Advanced: advanced}, nil
	case "session_exercise_retried":
		var retried protocol.ServerExerciseRetried
		if err := json.Unmarshal(data, &retried); err != nil {
			return nil, fmt.Errorf("decode session_exercise_retried: %w", err)
		}
		return ExerciseRetriedEvent{Retried: retried}, nil
	case "session_completed":
		var completed protocol.ServerSessionCompleted
		if err := json.Unmarshal(data, &completed); err != nil {
			return nil, fmt.Errorf("decode session_completed: %w", err)
		}
		return SessionCompletedEvent{Completed: completed}, nil
	case "session_ended":
		var ended protocol.ServerSessionEnded
		if err := json.Unmarshal(data, &ended); err != nil {
			return nil, fmt.Errorf("decode session_ended: %w", err)
		}
		return SessionEndedEvent{Ended: ended}, nil
	case "warning":
		var warning protocol.ServerWarning
		if err := json.Unmarshal(data, &warning); err != nil {
			return nil, fmt.Errorf("decode warning: %w", err)
		}
		return WarningEvent{Warning: warning}, nil
	case "error":
		var serverErr protocol.ServerError
		if err := json.Unmarshal(data, &serverErr); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return ErrorEvent{Error: serverErr}, nil
	default:
		return UnknownEvent{
			Type: typ,
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}

func websocketEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme.
	default:
		return "", fmt.Errorf("base URL must use http(s) or ws(s)")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/practice"
	return u.String(), nil
}
