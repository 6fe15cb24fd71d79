package builtin

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/skills"
)

// InputSkill asks the user a question and records the answer.
type InputSkill struct{}

type InputInput struct {
	Prompt   string `json:"prompt" jsonschema:"description=Question shown to the user"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the answer"`
}

func (s *InputSkill) Name() string { return "input" }

func (s *InputSkill) Description() string {
	return "Ask the user for input. The answer is added to the current context as a user message."
}

func (s *InputSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[InputInput]()
}

func (s *InputSkill) RegisterAsTool() bool { return false }

func (s *InputSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in InputInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	answer, err := api.RequestInput(ctx, in.Prompt)
	if err != nil {
		return skills.Result{}, err
	}
	return skills.Result{
		Value: answer,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleUser, fmt.Sprintf("%s\n%s", in.Prompt, answer)),
		},
	}, nil
}
