package codeexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
)

// JavaScript runs ECMAScript 5.1+ in a fresh goja VM per execution.
type JavaScript struct{}

// NewVM creates a VM with a console bound to stdout and stderr and the
// given globals installed. Struct fields are exposed by their json names.
func NewVM(stdout, stderr io.Writer, globals map[string]any) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	console := vm.NewObject()
	for name, w := range map[string]io.Writer{"log": stdout, "info": stdout, "debug": stdout, "warn": stderr, "error": stderr} {
		if err := console.Set(name, printer(w)); err != nil {
			return nil, errors.Wrap(err, "failed to install console")
		}
	}
	if err := vm.Set("console", console); err != nil {
		return nil, errors.Wrap(err, "failed to install console")
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, errors.Wrapf(err, "failed to bind global %s", name)
		}
	}
	return vm, nil
}

func printer(w io.Writer) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, formatValue(arg))
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return fmt.Sprint(v)
	}
	if _, ok := v.(*goja.Object); ok {
		if b, err := json.Marshal(v.Export()); err == nil {
			return string(b)
		}
	}
	return v.String()
}

// parserPosition matches the "<file>: Line L:C <message>" form of parser errors.
var parserPosition = regexp.MustCompile(`(?s)^[^:]*: Line (\d+):(\d+) (.*)$`)

// Compile parses src, converting syntax errors into CodeErrors with positions.
func Compile(name, src string) (*goja.Program, error) {
	program, err := goja.Compile(name, src, false)
	if err == nil {
		return program, nil
	}
	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		codeErr := &CodeError{Message: "SyntaxError: " + syntaxErr.Message, Err: err}
		if syntaxErr.File != nil {
			pos := syntaxErr.File.Position(syntaxErr.Offset)
			codeErr.Line, codeErr.Column = pos.Line, pos.Column
		} else if m := parserPosition.FindStringSubmatch(syntaxErr.Message); m != nil {
			codeErr.Line, _ = strconv.Atoi(m[1])
			codeErr.Column, _ = strconv.Atoi(m[2])
			codeErr.Message = "SyntaxError: " + m[3]
		}
		return nil, codeErr
	}
	return nil, &CodeError{Message: err.Error(), Err: err}
}

// CompileBlock compiles a code block. A block that uses a top-level return
// is compiled as a function body and its returned value becomes the result.
func CompileBlock(name, src string) (*goja.Program, error) {
	program, err := Compile(name, src)
	if err == nil {
		return program, nil
	}
	var codeErr *CodeError
	if !errors.As(err, &codeErr) || !strings.Contains(codeErr.Message, "Illegal return statement") {
		return nil, err
	}

	program, err = Compile(name, "(function() {\n"+src+"\n})()")
	if err != nil {
		if errors.As(err, &codeErr) && codeErr.Line > 1 {
			codeErr.Line--
		}
		return nil, err
	}
	return program, nil
}

// RunProgram executes program on vm, interrupting it when ctx is done.
func RunProgram(ctx context.Context, vm *goja.Runtime, program *goja.Program) (goja.Value, error) {
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	v, err := vm.RunProgram(program)
	if err != nil {
		return nil, ConvertError(err)
	}
	return v, nil
}

// ConvertError maps goja failures onto CodeError, leaving interrupts as the
// context error that caused them.
func ConvertError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return errors.New("javascript interrupted")
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &CodeError{Message: exceptionMessage(exception), Err: err}
	}
	return &CodeError{Message: err.Error(), Err: err}
}

func exceptionMessage(ex *goja.Exception) string {
	v := ex.Value()
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
				return name.String() + ": " + msg.String()
			}
			return msg.String()
		}
	}
	if v == nil {
		return ex.Error()
	}
	return "Uncaught " + v.String()
}

// Export converts the completion value into a Go value, unwrapping settled promises.
func Export(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return Export(p.Result())
		case goja.PromiseStateRejected:
			return nil, &CodeError{Message: "promise rejected: " + formatValue(p.Result())}
		default:
			return nil, &CodeError{Message: "promise did not settle"}
		}
	}
	return v.Export(), nil
}

func (j *JavaScript) Run(ctx context.Context, params Params) (Result, error) {
	program, err := CompileBlock("block.js", params.Code)
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	vm, err := NewVM(&stdout, &stderr, params.Globals)
	if err != nil {
		return Result{}, err
	}

	execCtx, cancel := withTimeout(ctx, params.Timeout)
	defer cancel()

	v, runErr := RunProgram(execCtx, vm, program)
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		if ctxErr := contextError(ctx, execCtx, params.Timeout); ctxErr != nil {
			return result, ctxErr
		}
		return result, runErr
	}

	result.Value, err = Export(v)
	return result, err
}
