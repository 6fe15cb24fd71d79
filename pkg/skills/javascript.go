package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/codeexec"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/pkg/errors"
)

// JavaScriptSkill is a *.js file defining a global run(params, playbook)
// function plus description, and optionally parameters (a JSON schema) and
// registerAsTool. The skill name is the file name without extension.
type JavaScriptSkill struct {
	name           string
	path           string
	description    string
	registerAsTool bool
	schema         *jsonschema.Schema
	program        *goja.Program
}

// LoadJavaScriptSkill compiles path and reads its declarations. Top-level
// code runs once here, without host bindings.
func LoadJavaScriptSkill(path string) (*JavaScriptSkill, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill script")
	}
	program, err := codeexec.Compile(filepath.Base(path), string(src))
	if err != nil {
		return nil, err
	}

	var discard bytes.Buffer
	vm, err := codeexec.NewVM(&discard, &discard, nil)
	if err != nil {
		return nil, err
	}
	if _, err := vm.RunProgram(program); err != nil {
		return nil, codeexec.ConvertError(err)
	}
	if _, ok := goja.AssertFunction(vm.Get("run")); !ok {
		return nil, errors.New("script must define a run(params, playbook) function")
	}

	s := &JavaScriptSkill{
		name:           strings.TrimSuffix(filepath.Base(path), ".js"),
		path:           path,
		registerAsTool: true,
		program:        program,
	}
	if v := vm.Get("description"); v != nil && !goja.IsUndefined(v) {
		s.description = v.String()
	}
	if s.description == "" {
		return nil, errors.New("script must define a description string")
	}
	if v := vm.Get("registerAsTool"); v != nil && !goja.IsUndefined(v) {
		s.registerAsTool = v.ToBoolean()
	}
	if v := vm.Get("parameters"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		raw, err := json.Marshal(v.Export())
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode parameters")
		}
		var schema jsonschema.Schema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, errors.Wrap(err, "parameters is not a valid JSON schema")
		}
		s.schema = &schema
	}
	return s, nil
}

func (s *JavaScriptSkill) Name() string                   { return s.name }
func (s *JavaScriptSkill) Description() string            { return s.description }
func (s *JavaScriptSkill) Parameters() *jsonschema.Schema { return s.schema }
func (s *JavaScriptSkill) RegisterAsTool() bool           { return s.registerAsTool }

type jsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// host builds the playbook object handed to run. It is the only bridge
// between the script and the session.
func (s *JavaScriptSkill) host(ctx context.Context, api API) map[string]any {
	host := map[string]any{
		"workDir": api.WorkDir(),
		"variable": func(name string) any {
			v, _ := api.Variables().Lookup(name)
			return v
		},
		"context": func() ([]jsMessage, error) {
			c, err := api.Context()
			if err != nil {
				return nil, err
			}
			out := make([]jsMessage, 0, len(c.Messages))
			for _, m := range c.Messages {
				out = append(out, jsMessage{Role: string(m.Role), Content: m.Content})
			}
			return out, nil
		},
		"append": func(role, content string) error {
			return api.AppendMessage(contexts.Role(role), content)
		},
		"ask": func(prompt string) (string, error) {
			resp, err := api.InvokeModel(ctx, llm.Request{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			})
			if err != nil {
				return "", err
			}
			return resp.Content, nil
		},
		"input": func(prompt string) (string, error) {
			return api.RequestInput(ctx, prompt)
		},
		"log": func(msg string) {
			api.Logger().WithField("skill", s.name).Info(msg)
		},
	}
	if code := api.Code(); code != nil {
		host["code"] = code.Content
		host["language"] = code.Language
	}
	return host
}

func (s *JavaScriptSkill) Execute(ctx context.Context, api API, params Params) (Result, error) {
	values, err := Validate(s.schema, params)
	if err != nil {
		return Result{}, err
	}

	var stdout, stderr bytes.Buffer
	vm, err := codeexec.NewVM(&stdout, &stderr, nil)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if stdout.Len() > 0 || stderr.Len() > 0 {
			api.Logger().WithField("skill", s.name).
				WithField("stdout", stdout.String()).
				WithField("stderr", stderr.String()).
				Debug("javascript skill output")
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	if _, err := vm.RunProgram(s.program); err != nil {
		return Result{}, codeexec.ConvertError(err)
	}
	run, ok := goja.AssertFunction(vm.Get("run"))
	if !ok {
		return Result{}, errors.New("run is not a function")
	}
	v, err := run(goja.Undefined(), vm.ToValue(values), vm.ToValue(s.host(ctx, api)))
	if err != nil {
		return Result{}, codeexec.ConvertError(err)
	}
	value, err := codeexec.Export(v)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: value}, nil
}
