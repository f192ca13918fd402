// Package protocol defines the JSON wire frames exchanged over the
// practice websocket and their decoding rules.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	AudioEncodingPCM16 = "pcm_s16le"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes the inbound audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Client          HelloClient `json:"client,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
	BaseFrequencyHz float64     `json:"base_frequency_hz,omitempty"`
}

// ClientAudioChunk carries one frame of base64 PCM samples.
type ClientAudioChunk struct {
	Type        string `json:"type"`
	Seq         int64  `json:"seq,omitempty"`
	TimestampMS *int64 `json:"timestamp_ms,omitempty"`
	DataB64     string `json:"data_b64"`
}

// ExerciseSpec names a catalog exercise or defines one inline.
type ExerciseSpec struct {
	Catalog    string   `json:"catalog,omitempty"`
	Name       string   `json:"name,omitempty"`
	Arohanam   []string `json:"arohanam,omitempty"`
	Avarohanam []string `json:"avarohanam,omitempty"`
}

type ClientStartSession struct {
	Type      string         `json:"type"`
	Exercises []ExerciseSpec `json:"exercises"`
}

type ClientRetryExercise struct {
	Type string `json:"type"`
}

type ClientNextExercise struct {
	Type string `json:"type"`
}

type ClientEndSession struct {
	Type string `json:"type"`
}

type ClientSetBaseFrequency struct {
	Type        string  `json:"type"`
	FrequencyHz float64 `json:"frequency_hz"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_chunk.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "start_session":
		var msg ClientStartSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start_session", "")
		}
		if len(msg.Exercises) == 0 {
			return nil, badRequest("start_session.exercises is required", "exercises")
		}
		for i, spec := range msg.Exercises {
			if err := validateExerciseSpec(spec, i); err != nil {
				return nil, err
			}
		}
		return msg, nil
	case "retry_exercise":
		var msg ClientRetryExercise
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid retry_exercise", "")
		}
		return msg, nil
	case "next_exercise":
		var msg ClientNextExercise
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid next_exercise", "")
		}
		return msg, nil
	case "end_session":
		var msg ClientEndSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end_session", "")
		}
		return msg, nil
	case "set_base_frequency":
		var msg ClientSetBaseFrequency
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_base_frequency", "")
		}
		if msg.FrequencyHz <= 0 {
			return nil, badRequest("set_base_frequency.frequency_hz must be > 0", "frequency_hz")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	encoding := strings.TrimSpace(msg.AudioIn.Encoding)
	if encoding == "" {
		return badRequest("hello.audio_in.encoding is required", "audio_in.encoding")
	}
	if encoding != AudioEncodingPCM16 {
		return unsupported("unsupported audio encoding", "audio_in.encoding")
	}
	if msg.AudioIn.SampleRateHz <= 0 {
		return badRequest("hello.audio_in.sample_rate_hz must be > 0", "audio_in.sample_rate_hz")
	}
	if msg.AudioIn.Channels != 1 {
		return unsupported("only mono audio is supported", "audio_in.channels")
	}
	if msg.BaseFrequencyHz < 0 {
		return badRequest("hello.base_frequency_hz must be > 0", "base_frequency_hz")
	}
	return nil
}

func validateExerciseSpec(spec ExerciseSpec, i int) error {
	if strings.TrimSpace(spec.Catalog) != "" {
		if spec.Name != "" || len(spec.Arohanam) > 0 || len(spec.Avarohanam) > 0 {
			return badRequest("exercise may be a catalog reference or inline, not both", fmt.Sprintf("exercises[%d]", i))
		}
		return nil
	}
	if strings.TrimSpace(spec.Name) == "" {
		return badRequest("inline exercise requires a name", fmt.Sprintf("exercises[%d].name", i))
	}
	if len(spec.Arohanam)+len(spec.Avarohanam) == 0 {
		return badRequest("inline exercise requires notes", fmt.Sprintf("exercises[%d]", i))
	}
	return nil
}

type HelloAckLimits struct {
	MaxAudioFrameBytes   int `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes  int `json:"max_json_message_bytes"`
	MaxSessionDurationMS int `json:"max_session_duration_ms,omitempty"`
}

type ServerHelloAck struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	AudioIn         AudioFormat     `json:"audio_in"`
	BaseFrequencyHz float64         `json:"base_frequency_hz"`
	Limits          *HelloAckLimits `json:"limits,omitempty"`
}

type ServerError struct {
	Type    string         `json:"type"`
	Scope   string         `json:"scope,omitempty"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Close   bool           `json:"close,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerShrutiDetected reports one raw pitch observation outside of an
// active exercise.
type ServerShrutiDetected struct {
	Type          string  `json:"type"`
	Name          string  `json:"name"`
	FrequencyHz   float64 `json:"frequency_hz"`
	CentDeviation float64 `json:"cent_deviation"`
	Confidence    float64 `json:"confidence"`
	TimestampMS   int64   `json:"timestamp_ms,omitempty"`
}

// ValidationState is the judgement attached to a feedback frame.
type ValidationState struct {
	ExpectedNote  string  `json:"expected_note"`
	DetectedNote  string  `json:"detected_note"`
	IsCorrect     bool    `json:"is_correct"`
	Position      int     `json:"position"`
	TotalNotes    int     `json:"total_notes"`
	AccuracyScore float64 `json:"accuracy_score"`
	NextNote      string  `json:"next_note,omitempty"`
	Completed     bool    `json:"completed,omitempty"`
	FinalScore    float64 `json:"final_score,omitempty"`
	Progress      float64 `json:"progress"`
}

// ServerPracticeFeedback reports one judged observation during an
// active exercise.
type ServerPracticeFeedback struct {
	Type          string          `json:"type"`
	ShrutiName    string          `json:"shruti_name"`
	FrequencyHz   float64         `json:"frequency_hz"`
	CentDeviation float64         `json:"cent_deviation"`
	Confidence    float64         `json:"confidence"`
	TimestampMS   int64           `json:"timestamp_ms,omitempty"`
	Validation    ValidationState `json:"validation"`
}

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

type SessionSummary struct {
	TotalExercises     int              `json:"total_exercises"`
	ExercisesCompleted int              `json:"exercises_completed"`
	TotalNotesPlayed   int              `json:"total_notes_played"`
	TotalCorrectNotes  int              `json:"total_correct_notes"`
	TotalIncorrect     int              `json:"total_incorrect_notes"`
	SessionAccuracy    float64          `json:"session_accuracy"`
	SessionGrade       string           `json:"session_grade"`
	DurationSeconds    float64          `json:"session_duration_seconds"`
	ExerciseResults    []ExerciseResult `json:"exercise_results"`
}

type ServerSessionStarted struct {
	Type                string `json:"type"`
	TotalExercises      int    `json:"total_exercises"`
	CurrentExerciseName string `json:"current_exercise_name"`
	FirstNote           string `json:"first_note"`
}

type ServerExerciseAdvanced struct {
	Type                 string          `json:"type"`
	CurrentExerciseIndex int             `json:"current_exercise_index"`
	CurrentExerciseName  string          `json:"current_exercise_name"`
	FirstNote            string          `json:"first_note"`
	PreviousResult       *ExerciseResult `json:"previous_result,omitempty"`
}

type ServerExerciseRetried struct {
	Type                string `json:"type"`
	CurrentExerciseName string `json:"current_exercise_name"`
	FirstNote           string `json:"first_note"`
}

type ServerSessionCompleted struct {
	Type    string         `json:"type"`
	Summary SessionSummary `json:"summary"`
}

type ServerSessionEnded struct {
	Type    string         `json:"type"`
	Summary SessionSummary `json:"summary"`
}
