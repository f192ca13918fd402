package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/swaralab/riyaz/pkg/gateway/config"
	"github.com/swaralab/riyaz/pkg/gateway/practice/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports readiness. A draining gateway or an invalid
// configuration is not ready.
type ReadyHandler struct {
	Config   config.Config
	Sessions *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		Draining        bool     `json:"draining"`
		ActiveSessions  int      `json:"active_sessions"`
		CatalogEnabled  bool     `json:"catalog_enabled"`
		HistoryEnabled  bool     `json:"history_enabled"`
		BaseFrequencyHz float64  `json:"base_frequency_hz"`
		Issues          []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.WSMaxAudioFrameBytes <= 0 {
		issues = append(issues, "ws max audio frame bytes must be > 0")
	}
	if h.Config.WSMaxJSONMessageBytes <= 0 {
		issues = append(issues, "ws max json message bytes must be > 0")
	}
	if h.Config.WSMaxSessionDuration <= 0 {
		issues = append(issues, "ws max session duration must be > 0")
	}
	if h.Config.ClarityThreshold <= 0 || h.Config.ClarityThreshold > 1 {
		issues = append(issues, "clarity threshold must be in (0, 1]")
	}
	if h.Config.MinFrequencyHz <= 0 || h.Config.MaxFrequencyHz <= h.Config.MinFrequencyHz {
		issues = append(issues, "frequency band must satisfy 0 < min < max")
	}
	if h.Config.BaseFrequencyHz <= 0 {
		issues = append(issues, "base frequency must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Sessions.Draining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:              ok,
		Draining:        draining,
		ActiveSessions:  h.Sessions.Count(),
		CatalogEnabled:  h.Config.CatalogDir != "",
		HistoryEnabled:  h.Config.HistoryDBPath != "",
		BaseFrequencyHz: h.Config.BaseFrequencyHz,
		Issues:          issues,
	})
}
