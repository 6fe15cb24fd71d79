package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies run failures.
type ErrorKind string

const (
	KindParse          ErrorKind = "parse"
	KindResolution     ErrorKind = "resolution"
	KindValidation     ErrorKind = "validation"
	KindSkillExecution ErrorKind = "skill_execution"
	KindCancellation   ErrorKind = "cancellation"
)

var (
	ErrParse          = errors.New("parse error")
	ErrResolution     = errors.New("resolution error")
	ErrValidation     = errors.New("validation error")
	ErrSkillExecution = errors.New("skill execution error")
	ErrCancellation   = errors.New("cancelled")
)

var sentinels = map[ErrorKind]error{
	KindParse:          ErrParse,
	KindResolution:     ErrResolution,
	KindValidation:     ErrValidation,
	KindSkillExecution: ErrSkillExecution,
	KindCancellation:   ErrCancellation,
}

// Error is a run failure located at a block. Block is the index into the
// document's blocks and Line its 0-based first line; both are -1 for
// document-level errors.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Block   int       `json:"block"`
	Line    int       `json:"line"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("%s at line %d: %s", e.Kind, e.Line+1, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind ErrorKind, block, line int, err error) *Error {
	return &Error{Kind: kind, Block: block, Line: line, Message: err.Error(), Err: err}
}
