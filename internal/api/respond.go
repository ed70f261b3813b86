package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	errx "github.com/chative-support/server/internal/core/error"
	"github.com/chative-support/server/internal/session"
	logx "github.com/chative-support/server/pkg/logger"
)

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("Failed to encode response")
	}
}

// Error writes {"error": message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Fail maps err onto a status and a safe message. Session sentinels are
// translated here; everything else goes through errx.
func Fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		err = errx.Unauthorized(err, "Session expired or invalid. Please login again.")
	case errors.Is(err, session.ErrSessionLimit):
		err = errx.Invalid(err, err.Error())
	case errors.Is(err, session.ErrMissingUser):
		err = errx.Invalid(err, "Missing user identifier")
	}

	status := errx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		logx.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	Error(w, status, errx.MessageOf(err))
}

// decode reads an optional JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errx.Invalid(err, "Invalid JSON body")
	}
	return nil
}
