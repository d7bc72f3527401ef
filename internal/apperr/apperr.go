// Package apperr defines the tagged error kinds shared by the HTTP API, the
// generation pipeline and the background workers.
//
// Every failure path declares its kind explicitly. Callers branch on Kind
// rather than on message text.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies an error for propagation and presentation.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNetwork      Kind = "network"
	KindUpstream     Kind = "upstream"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindBlocked      Kind = "blocked"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// Error is an error tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E tags err with kind. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a validation error with the given message.
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Err: errors.New(msg)}
}

// Upstream tags err as a failure of a hosted collaborator (the LLM).
// Transport failures found in the chain are tagged as network errors instead.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNetwork(err) {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// KindOf reports the kind of err. Untagged errors are classified from the
// error chain: transport failures are network errors, everything else is
// internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsNetwork(err) {
		return KindNetwork
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a manual retry by the user may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindUpstream, KindRateLimited:
		return true
	}
	return false
}

// IsTerminal reports whether repeating the operation cannot succeed.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindUnauthorized, KindBlocked:
		return true
	}
	return false
}

// IsNetwork reports whether the chain contains a transport-level failure.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
