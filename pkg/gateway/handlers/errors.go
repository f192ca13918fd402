package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/swaralab/riyaz/pkg/core"
)

type errorEnvelope struct {
	Error     *core.Error `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

func writeErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: coreErr, RequestID: reqID})
}

// NotFoundHandler answers unknown routes with a JSON error.
type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, requestIDFromContext(r.Context()), core.NewNotFoundError("unknown route"), http.StatusNotFound)
}
