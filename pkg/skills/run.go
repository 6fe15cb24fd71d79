package skills

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/variables"
)

// PanicError is a recovered panic raised inside a skill.
type PanicError struct {
	Skill string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("skill %s panicked: %v", e.Skill, e.Value)
}

// Run executes s, converting panics into a PanicError. A skill that returns
// no messages gets a single agent message recording its value, so every
// executed annotation leaves a trace in the current context.
func Run(ctx context.Context, s Skill, api API, params Params) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = &PanicError{Skill: s.Name(), Value: r, Stack: debug.Stack()}
		}
	}()

	result, err = s.Execute(ctx, api, params)
	if err != nil {
		return Result{}, err
	}
	if len(result.Messages) == 0 {
		summary := "done"
		if result.Value != nil {
			summary = variables.Stringify(result.Value)
		}
		result.Messages = []contexts.Message{
			contexts.NewMessage(contexts.RoleAgent, fmt.Sprintf("[%s] %s", s.Name(), summary)),
		}
	}
	return result, nil
}
