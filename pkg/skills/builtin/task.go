package builtin

import (
	"context"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

// TaskSkill sends a prompt, after the current context history, to the model.
type TaskSkill struct{}

type TaskInput struct {
	Prompt   string `json:"prompt" jsonschema:"description=Instruction sent to the model"`
	Model    string `json:"model,omitempty" jsonschema:"description=Model for this call only"`
	System   string `json:"system,omitempty" jsonschema:"description=System prompt for this call"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the reply"`
}

func (s *TaskSkill) Name() string { return "task" }

func (s *TaskSkill) Description() string {
	return `Send a prompt to the model together with the current context history.
The prompt and the reply are recorded in the current context.`
}

func (s *TaskSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[TaskInput]()
}

func (s *TaskSkill) RegisterAsTool() bool { return true }

func (s *TaskSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in TaskInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return skills.Result{}, errors.New("--prompt must not be empty")
	}
	return skills.Ask(ctx, api, in.Model, in.System, prompt)
}
