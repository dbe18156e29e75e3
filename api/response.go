package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xraph/escrow"
)

const unexpectedMessage = "An unexpected error occurred."

// Envelope is the body of every response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Sentinels for failures the HTTP layer detects itself.
var (
	ErrUnauthenticated = errors.New("api: unauthenticated")
	ErrForbidden       = errors.New("api: forbidden")
	ErrBadRequest      = errors.New("api: bad request")
)

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func created(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

// writeError maps err to a status and writes it. Unexpected failures are
// logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		message = unexpectedMessage
	}
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

// StatusFor returns the HTTP status for an engine or API error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case escrow.IsDomain(err):
		return http.StatusUnprocessableEntity
	case escrow.IsNotFound(err):
		return http.StatusNotFound
	case escrow.IsRetryable(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// requestError is a client mistake with a message safe to show.
type requestError struct {
	kind    error
	message string
}

func (e *requestError) Error() string { return e.message }

func (e *requestError) Unwrap() error { return e.kind }

func badRequest(message string) error {
	return &requestError{kind: ErrBadRequest, message: message}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return badRequest("Body permintaan tidak valid.")
	}
	return nil
}
