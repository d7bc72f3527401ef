// Package respond writes JSON API responses and maps application errors to
// HTTP status codes.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/medscribe/soapflow/internal/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status returns the HTTP status for an error kind.
func Status(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBlocked:
		return http.StatusUnprocessableEntity
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindNetwork:
		return http.StatusServiceUnavailable
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as an ErrorBody. Internal errors are logged and their
// detail is withheld from the client.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	msg := message(err)
	if kind == apperr.KindInternal {
		if logger != nil {
			logger.Error("request failed", zap.Error(err))
		}
		msg = "internal server error"
	}
	JSON(w, Status(kind), ErrorBody{
		Error:     msg,
		Kind:      string(kind),
		Retryable: apperr.IsRetryable(err),
	})
}

// Fail writes an error of kind with a client-facing message.
func Fail(w http.ResponseWriter, kind apperr.Kind, msg string) {
	JSON(w, Status(kind), ErrorBody{
		Error:     msg,
		Kind:      string(kind),
		Retryable: apperr.IsRetryable(&apperr.Error{Kind: kind}),
	})
}

// message prefers the innermost apperr cause so operation prefixes stay out
// of client messages.
func message(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
