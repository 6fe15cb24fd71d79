package builtin

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

// ParamSkill declares a run variable. Its value comes from the run inputs,
// then --default, then the user.
type ParamSkill struct{}

type ParamInput struct {
	Name    string `json:"name" jsonschema:"description=Variable to declare"`
	Default string `json:"default,omitempty" jsonschema:"description=Value used when the run supplies none"`
	Prompt  string `json:"prompt,omitempty" jsonschema:"description=Question asked when there is no input and no default"`
}

func (s *ParamSkill) Name() string { return "param" }

func (s *ParamSkill) Description() string {
	return "Declare a variable from the run inputs, a default, or user input."
}

func (s *ParamSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[ParamInput]()
}

func (s *ParamSkill) RegisterAsTool() bool { return false }

// OutputVariable names the declared variable.
func (s *ParamSkill) OutputVariable(params skills.Params) string {
	return params["name"]
}

func (s *ParamSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in ParamInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}

	value, source := "", ""
	if v, ok := api.Inputs()[in.Name]; ok {
		value, source = v, "input"
	} else if _, ok := params["default"]; ok {
		value, source = in.Default, "default"
	} else {
		prompt := in.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Value for %s", in.Name)
		}
		answer, err := api.RequestInput(ctx, prompt)
		if err != nil {
			return skills.Result{}, errors.Wrapf(err, "no value for parameter %q", in.Name)
		}
		value, source = answer, "user"
	}

	api.Logger().WithField("param", in.Name).WithField("source", source).Debug("declared parameter")
	return skills.Result{
		Value: value,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleAgent, fmt.Sprintf("[param] %s = %s (%s)", in.Name, value, source)),
		},
	}, nil
}
