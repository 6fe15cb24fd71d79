package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// ExecutableDescription is the JSON printed by `<skill> description`.
type ExecutableDescription struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	InputSchema    map[string]any `json:"input_schema"`
	RegisterAsTool *bool          `json:"register_as_tool,omitempty"`
}

// ExecutableSkill is an executable answering the description/run protocol:
// `<path> description` prints an ExecutableDescription and `<path> run`
// receives the parameters as a JSON object on stdin and prints the result.
type ExecutableSkill struct {
	execPath       string
	name           string
	description    string
	registerAsTool bool
	schema         *jsonschema.Schema
	timeout        time.Duration
	maxOutput      int
}

// LoadExecutableSkill validates an executable by calling its description command.
func LoadExecutableSkill(ctx context.Context, execPath string, timeout time.Duration, maxOutput int) (*ExecutableSkill, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, execPath, "description")
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "failed to run description command: %s", stderr.String())
	}

	var desc ExecutableDescription
	if err := json.Unmarshal(stdout.Bytes(), &desc); err != nil {
		return nil, errors.Wrap(err, "failed to parse skill description")
	}
	if desc.Name == "" {
		return nil, errors.New("skill name is required")
	}
	if desc.Description == "" {
		return nil, errors.New("skill description is required")
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &ExecutableSkill{
		execPath:       execPath,
		name:           desc.Name,
		description:    desc.Description,
		registerAsTool: desc.RegisterAsTool == nil || *desc.RegisterAsTool,
		timeout:        timeout,
		maxOutput:      maxOutput,
	}
	if desc.InputSchema != nil {
		schemaBytes, err := json.Marshal(desc.InputSchema)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal input schema")
		}
		var schema jsonschema.Schema
		if err := json.Unmarshal(schemaBytes, &schema); err != nil {
			return nil, errors.Wrap(err, "failed to parse input schema")
		}
		s.schema = &schema
	}
	return s, nil
}

func (s *ExecutableSkill) Name() string                   { return s.name }
func (s *ExecutableSkill) Description() string            { return s.description }
func (s *ExecutableSkill) Parameters() *jsonschema.Schema { return s.schema }
func (s *ExecutableSkill) RegisterAsTool() bool           { return s.registerAsTool }

// Path is the executable location.
func (s *ExecutableSkill) Path() string { return s.execPath }

func (s *ExecutableSkill) Execute(ctx context.Context, api API, params Params) (Result, error) {
	values, err := Validate(s.schema, params)
	if err != nil {
		return Result{}, err
	}
	input, err := json.Marshal(values)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to encode parameters")
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, s.execPath, "run")
	configureProcess(cmd)
	cmd.Dir = api.WorkDir()
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, errors.Wrap(ctx.Err(), "skill cancelled")
		}
		if execCtx.Err() == context.DeadlineExceeded {
			return Result{}, errors.Errorf("skill execution timed out after %v", s.timeout)
		}
		errorMsg := strings.TrimSpace(stderr.String())
		if errorMsg == "" {
			errorMsg = strings.TrimSpace(stdout.String())
		}
		if errorMsg == "" {
			errorMsg = err.Error()
		}
		return Result{}, errors.New(errorMsg)
	}

	output := stdout.String()
	if s.maxOutput > 0 && len(output) > s.maxOutput {
		output = output[:s.maxOutput] + fmt.Sprintf("\n\n[TRUNCATED - output exceeded %d bytes]", s.maxOutput)
	}
	output = strings.TrimRight(output, "\n")

	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var structured any
		if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
			if obj, ok := structured.(map[string]any); ok {
				if errMsg, ok := obj["error"].(string); ok {
					return Result{}, errors.New(errMsg)
				}
			}
			return Result{Value: structured}, nil
		}
	}
	return Result{Value: output}, nil
}
