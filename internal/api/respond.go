package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"signalbridge/internal/broker"
	"signalbridge/internal/engine"
	"signalbridge/internal/store"
	"signalbridge/internal/vault"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeDetail emits the uniform error body {"detail": "..."}.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps domain errors onto HTTP status codes. Not-found is never
// an error-level event; everything else surfaces its message in the detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var brokerErr *broker.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, engine.ErrValidation),
		errors.Is(err, engine.ErrState):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &brokerErr):
		writeDetail(w, http.StatusBadRequest, brokerErr.Error())
	case errors.Is(err, vault.ErrCrypto):
		s.logger.Error("crypto failure", "error", err)
		writeDetail(w, http.StatusInternalServerError, "credential operation failed")
	default:
		s.logger.Error("request failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
