package soapnote

import (
	"errors"
	"fmt"

	"github.com/medscribe/soapflow/internal/apperr"
)

// ErrSubmissionBlocked is wrapped by the error Policy.Evaluate returns.
var ErrSubmissionBlocked = errors.New("note has unresolved documentation errors")

// Policy decides whether validation issues prevent submission. The zero value
// treats every issue as advisory.
type Policy struct {
	BlockOnError bool `json:"block_on_error" yaml:"block_on_error"`
}

// Blocks reports whether issues prevent submission under p.
func (p Policy) Blocks(issues []Issue) bool {
	return p.BlockOnError && HasErrors(issues)
}

// Evaluate returns a blocked error when p forbids submitting a note with
// these issues.
func (p Policy) Evaluate(issues []Issue) error {
	if !p.Blocks(issues) {
		return nil
	}
	s := Summarize(issues)
	return apperr.E(apperr.KindBlocked, "soapnote.policy",
		fmt.Errorf("%w: %d error(s)", ErrSubmissionBlocked, s.Errors))
}
