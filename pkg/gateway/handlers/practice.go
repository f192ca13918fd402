package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swaralab/riyaz/pkg/core"
	"github.com/swaralab/riyaz/pkg/core/dsp"
	"github.com/swaralab/riyaz/pkg/core/practice"
	"github.com/swaralab/riyaz/pkg/core/shruti"
	"github.com/swaralab/riyaz/pkg/gateway/config"
	"github.com/swaralab/riyaz/pkg/gateway/metrics"
	"github.com/swaralab/riyaz/pkg/gateway/mw"
	"github.com/swaralab/riyaz/pkg/gateway/practice/protocol"
	"github.com/swaralab/riyaz/pkg/gateway/practice/session"
	"github.com/swaralab/riyaz/pkg/gateway/practice/sessions"
)

// PracticeHandler handles /v1/practice websocket sessions.
type PracticeHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Sessions *sessions.Tracker
	Catalog  session.CatalogResolver
	History  session.HistoryRecorder
	Metrics  *metrics.Metrics
}

func (h PracticeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		reqID := requestIDFromContext(r.Context())
		writeErrorJSON(w, reqID, core.NewInvalidRequestError("method not allowed").WithCode("method_not_allowed"), http.StatusMethodNotAllowed)
		return
	}
	if h.Sessions.Draining() {
		reqID := requestIDFromContext(r.Context())
		writeErrorJSON(w, reqID, core.NewOverloadedError("gateway is draining").WithCode("draining"), 529)
		return
	}
	if !h.originAllowed(r) {
		reqID := requestIDFromContext(r.Context())
		writeErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("origin is not allowed", "Origin"), http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.WSMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.WSHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", true)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			h.writeWSError(conn, decErr.Code, decErr.Error(), true)
		} else {
			h.writeWSError(conn, "bad_request", "invalid hello frame", true)
		}
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return
	}

	baseFrequency := hello.BaseFrequencyHz
	if baseFrequency <= 0 {
		baseFrequency = h.Config.BaseFrequencyHz
	}

	mapper := shruti.NewMapper(baseFrequency)
	estimator := dsp.NewEstimator(dsp.EstimatorConfig{
		NoiseFloor:       h.Config.NoiseFloor,
		ClarityThreshold: h.Config.ClarityThreshold,
		MinFrequency:     h.Config.MinFrequencyHz,
		MaxFrequency:     h.Config.MaxFrequencyHz,
	})
	controller := practice.NewController(practice.ControllerConfig{
		MinConfidence: h.Config.MinConfidence,
	})

	sessionID := "s_" + randHex(8)
	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		AudioIn:         hello.AudioIn,
		BaseFrequencyHz: mapper.BaseFrequency(),
		Limits: &protocol.HelloAckLimits{
			MaxAudioFrameBytes:  h.Config.WSMaxAudioFrameBytes,
			MaxJSONMessageBytes: int(h.Config.WSMaxJSONMessageBytes),
		},
	}
	if h.Config.WSMaxSessionDuration > 0 {
		ack.Limits.MaxSessionDurationMS = int(h.Config.WSMaxSessionDuration / time.Millisecond)
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	startAt := time.Now()
	_ = conn.SetReadDeadline(time.Time{})

	var sessMetrics session.Metrics
	if h.Metrics != nil {
		sessMetrics = h.Metrics
		h.Metrics.ConnectionOpened()
		defer h.Metrics.ConnectionClosed()
	}

	s, err := session.New(session.Dependencies{
		Conn:       conn,
		Logger:     h.Logger,
		Estimator:  estimator,
		Mapper:     mapper,
		Controller: controller,
		Catalog:    h.Catalog,
		History:    h.History,
		Metrics:    sessMetrics,
		Hello:      hello,
		SessionID:  sessionID,
		RequestID:  requestIDFromContext(r.Context()),
		StartTime:  startAt,
		Config: session.Config{
			MaxAudioFrameBytes:  h.Config.WSMaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.WSMaxJSONMessageBytes,
			PingInterval:        h.Config.WSPingInterval,
			WriteTimeout:        h.Config.WSWriteTimeout,
			ReadTimeout:         h.Config.WSReadTimeout,
			MaxSessionDuration:  h.Config.WSMaxSessionDuration,
			OutboundQueueSize:   h.Config.WSOutboundQueueSize,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize practice session", true)
		return
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Warn:   s.SendWarning,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("practice session ended with error",
				"session_id", sessionID,
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
		}
	}
}

func (h PracticeHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h PracticeHandler) writeWSError(conn *websocket.Conn, code, message string, close bool) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Close: close})
	if close {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
	}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
