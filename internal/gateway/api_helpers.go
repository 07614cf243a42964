package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/zapmcp/models"
)

// --- HTTP response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and writes {"error", "kind"}.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  string(kindFor(err)),
	})
}

func statusFor(err error) int {
	var be *models.BackendError
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrBackendUnavailable), errors.Is(err, models.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &be):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindFor(err error) models.ErrorKind {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrClosed):
		return "closed"
	default:
		return models.KindOf(err)
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return invalidRequest("invalid request body: " + err.Error())
	}
	return nil
}

func invalidRequest(msg string) error {
	return &requestError{msg: msg}
}

// requestError is a caller mistake detected by the gateway itself.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return models.ErrInvalidRequest }

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	if v := strings.TrimSpace(r.URL.Query().Get(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
