package builtin

import (
	"context"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/codeexec"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/pkg/errors"
)

// ErrMissingCode is returned when @execute has no attached code block.
var ErrMissingCode = errors.New("@execute requires an attached code block")

// ExecuteSkill runs the code block attached to the annotation.
type ExecuteSkill struct {
	executor *codeexec.Executor
}

type ExecuteInput struct {
	Timeout  int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds,minimum=1"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the result"`
}

func (s *ExecuteSkill) Name() string { return "execute" }

func (s *ExecuteSkill) Description() string {
	return `Run the attached code block. JavaScript yields the value of its final expression
or of a top-level return statement, shell yields its standard output. Run variables are visible as JavaScript globals and as
environment variables.`
}

func (s *ExecuteSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[ExecuteInput]()
}

func (s *ExecuteSkill) RegisterAsTool() bool { return false }

func (s *ExecuteSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in ExecuteInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	code := api.Code()
	if code == nil {
		return skills.Result{}, ErrMissingCode
	}

	vars := api.Variables().Snapshot()
	env := make(map[string]string, len(vars))
	for k, v := range vars {
		env[k] = variables.Stringify(v)
	}

	res, err := s.executor.Execute(ctx, codeexec.Params{
		Language: code.Language,
		Code:     code.Content,
		Timeout:  time.Duration(in.Timeout) * time.Second,
		Dir:      api.WorkDir(),
		Env:      env,
		Globals:  vars,
	})
	if err != nil {
		return skills.Result{}, err
	}

	api.Logger().
		WithField("language", codeexec.NormalizeLanguage(code.Language)).
		WithField("duration", res.Duration).
		WithField("stderr", res.Stderr).
		Debug("executed code block")
	return skills.Result{Value: res.Value}, nil
}
