// Package codeexec runs the code blocks attached to @execute annotations.
//
// JavaScript runs in an in-process goja VM whose only host bindings are the
// ones passed in Params.Globals plus a console. Shell runs in the mvdan.cc/sh
// interpreter rooted at Params.Dir. The value of a JavaScript block is the
// value of its final expression; the value of a shell block is its stdout.
package codeexec

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrCodeExecution matches every error raised by the code itself.
	ErrCodeExecution = errors.New("code execution error")
	// ErrUnsupportedLanguage is returned for languages no runner handles.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrLimitExceeded indicates the execution timeout was reached.
	ErrLimitExceeded = errors.New("limit exceeded")
)

// CodeError is an error raised by the executed snippet. Line and Column are
// 1-based and zero when unknown.
type CodeError struct {
	Message string
	Line    int
	Column  int
	Err     error
}

func (e *CodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, col %d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

func (e *CodeError) Unwrap() error { return e.Err }

// Is makes every CodeError match ErrCodeExecution.
func (e *CodeError) Is(target error) bool {
	return target == ErrCodeExecution
}

// Params describes one execution.
type Params struct {
	Language string
	Code     string
	Timeout  time.Duration
	// Dir is the working directory for shell code.
	Dir   string
	Env   map[string]string
	Stdin io.Reader
	// Globals are bound as JavaScript globals.
	Globals map[string]any
}

// Result is the outcome of a successful execution.
type Result struct {
	Value    any           `json:"value,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes code of one language family.
type Runner interface {
	Run(ctx context.Context, params Params) (Result, error)
}

// Executor dispatches to runners by normalized language name.
type Executor struct {
	runners        map[string]Runner
	defaultTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultTimeout applies to executions that set no timeout of their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithRunner registers or replaces the runner for a language.
func WithRunner(language string, r Runner) Option {
	return func(e *Executor) { e.runners[NormalizeLanguage(language)] = r }
}

// NewExecutor returns an executor with the javascript, sh and bash runners.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		runners: map[string]Runner{
			"javascript": &JavaScript{},
			"sh":         &Shell{POSIX: true},
			"bash":       &Shell{},
		},
		defaultTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NormalizeLanguage maps fence info aliases onto runner names.
func NormalizeLanguage(language string) string {
	switch l := strings.ToLower(strings.TrimSpace(language)); l {
	case "js", "javascript", "node", "mjs":
		return "javascript"
	case "sh", "shell", "posix":
		return "sh"
	case "bash", "zsh", "console":
		return "bash"
	default:
		return l
	}
}

// Languages lists the supported runner names.
func (e *Executor) Languages() []string {
	out := make([]string, 0, len(e.runners))
	for l := range e.runners {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether language has a runner.
func (e *Executor) Supports(language string) bool {
	_, ok := e.runners[NormalizeLanguage(language)]
	return ok
}

// Execute runs params.Code with the runner for params.Language.
func (e *Executor) Execute(ctx context.Context, params Params) (Result, error) {
	if strings.TrimSpace(params.Language) == "" {
		return Result{}, errors.Wrap(ErrUnsupportedLanguage, "code block has no language")
	}
	runner, ok := e.runners[NormalizeLanguage(params.Language)]
	if !ok {
		return Result{}, errors.Wrapf(ErrUnsupportedLanguage, "%q (supported: %s)", params.Language, strings.Join(e.Languages(), ", "))
	}
	if params.Timeout <= 0 {
		params.Timeout = e.defaultTimeout
	}

	start := time.Now()
	result, err := runner.Run(ctx, params)
	result.Duration = time.Since(start)
	return result, err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// contextError distinguishes caller cancellation from the execution timeout.
func contextError(parent, execCtx context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return errors.Wrap(err, "execution cancelled")
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &CodeError{
			Message: fmt.Sprintf("execution timed out after %v", timeout),
			Err:     ErrLimitExceeded,
		}
	}
	return nil
}

func sortedEnv(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}
