package builtin

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

// ModelSkill selects the model used by later model calls in the run.
type ModelSkill struct{}

type ModelInput struct {
	Name     string `json:"name" jsonschema:"description=Model to use, either provider/model or a bare model name"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the previous model"`
}

func (s *ModelSkill) Name() string { return "model" }

func (s *ModelSkill) Description() string {
	return "Switch the model used by subsequent @task calls. Fails if the model is not available."
}

func (s *ModelSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[ModelInput]()
}

func (s *ModelSkill) RegisterAsTool() bool { return false }

func (s *ModelSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in ModelInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	previous := api.Model()
	if err := api.SetModel(ctx, in.Name); err != nil {
		return skills.Result{}, errors.Wrapf(err, "cannot switch to model %q", in.Name)
	}
	api.Logger().WithField("from", previous).WithField("to", in.Name).Info("switched model")
	return skills.Result{
		Value: previous,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleAgent, fmt.Sprintf("[model] switched to %s", in.Name)),
		},
	}, nil
}
