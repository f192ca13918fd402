package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/swaralab/riyaz/pkg/core"
	"github.com/swaralab/riyaz/pkg/gateway/config"
	"github.com/swaralab/riyaz/pkg/history"
)

// HistoryStore is the read side of session persistence.
type HistoryStore interface {
	ListSessions(ctx context.Context, limit int, since time.Time) ([]history.SessionRecord, error)
	GetSession(ctx context.Context, id string) (history.SessionRecord, bool, error)
}

// HistoryHandler serves stored session summaries at /v1/history and
// /v1/history/{id}.
type HistoryHandler struct {
	Config config.Config
	Store  HistoryStore
}

func (h HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		writeErrorJSON(w, reqID, core.NewInvalidRequestError("method not allowed").WithCode("method_not_allowed"), http.StatusMethodNotAllowed)
		return
	}
	if h.Store == nil {
		writeErrorJSON(w, reqID, core.NewInvalidRequestError("session history is not enabled").WithCode("history_disabled"), http.StatusNotFound)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/history"), "/")
	if rest != "" {
		h.serveOne(w, r, reqID, rest)
		return
	}
	h.serveList(w, r, reqID)
}

func (h HistoryHandler) serveList(w http.ResponseWriter, r *http.Request, reqID string) {
	limit := h.Config.HistoryPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("limit must be a positive integer", "limit"), http.StatusBadRequest)
			return
		}
		if limit <= 0 || n < limit {
			limit = n
		}
	}

	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("since must be RFC 3339", "since"), http.StatusBadRequest)
			return
		}
		since = parsed
	}

	records, err := h.Store.ListSessions(r.Context(), limit, since)
	if err != nil {
		writeErrorJSON(w, reqID, core.NewInternalError("failed to list sessions", err), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.SessionRecord{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Sessions []history.SessionRecord `json:"sessions"`
	}{Sessions: records})
}

func (h HistoryHandler) serveOne(w http.ResponseWriter, r *http.Request, reqID, id string) {
	rec, found, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeErrorJSON(w, reqID, core.NewInternalError("failed to load session", err), http.StatusInternalServerError)
		return
	}
	if !found {
		writeErrorJSON(w, reqID, core.NewNotFoundError("session not found"), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(rec)
}
