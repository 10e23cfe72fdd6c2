package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/domain"
	"lrnr-quiz-service/internal/quizgen"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrUsernameTaken):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrTransientStorage):
		w.Header().Set("Retry-After", "1")
		status, msg = http.StatusServiceUnavailable, "storage temporarily unavailable, retry"
	case errors.Is(err, quizgen.ErrBadResponse):
		status, msg = http.StatusBadGateway, "quiz generator returned an unusable answer"
	}
	entry := config.WithContext(r.Context()).WithError(err).WithField("status", status)
	if status >= 500 {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
