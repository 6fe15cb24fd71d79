package codeexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Shell interprets sh or bash code without spawning a system shell.
// External commands still run as processes in Params.Dir.
type Shell struct {
	POSIX bool
}

func (s *Shell) variant() syntax.LangVariant {
	if s.POSIX {
		return syntax.LangPOSIX
	}
	return syntax.LangBash
}

// Parse checks src for syntax errors.
func (s *Shell) Parse(src string) (*syntax.File, error) {
	file, err := syntax.NewParser(syntax.Variant(s.variant())).Parse(strings.NewReader(src), "block.sh")
	if err == nil {
		return file, nil
	}
	var parseErr syntax.ParseError
	if errors.As(err, &parseErr) {
		return nil, &CodeError{
			Message: "syntax error: " + parseErr.Text,
			Line:    int(parseErr.Pos.Line()),
			Column:  int(parseErr.Pos.Col()),
			Err:     err,
		}
	}
	return nil, &CodeError{Message: err.Error(), Err: err}
}

func (s *Shell) Run(ctx context.Context, params Params) (Result, error) {
	file, err := s.Parse(params.Code)
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	env := append(os.Environ(), sortedEnv(params.Env)...)
	opts := []interp.RunnerOption{
		interp.StdIO(params.Stdin, &stdout, &stderr),
		interp.Env(expand.ListEnviron(env...)),
	}
	if params.Dir != "" {
		opts = append(opts, interp.Dir(params.Dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create shell interpreter")
	}

	execCtx, cancel := withTimeout(ctx, params.Timeout)
	defer cancel()

	runErr := runner.Run(execCtx, file)
	result := Result{
		Value:  strings.TrimRight(stdout.String(), "\n"),
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runErr == nil {
		return result, nil
	}
	if ctxErr := contextError(ctx, execCtx, params.Timeout); ctxErr != nil {
		return result, ctxErr
	}

	var status interp.ExitStatus
	if errors.As(runErr, &status) {
		msg := fmt.Sprintf("exit status %d", uint8(status))
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg += ": " + tail
		}
		return result, &CodeError{Message: msg, Err: runErr}
	}
	return result, &CodeError{Message: runErr.Error(), Err: runErr}
}
