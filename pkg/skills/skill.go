// Package skills defines the contract between the playbook engine and the
// capabilities an annotation invokes. Built-in skills are registered at
// session start; project-local skills are discovered from skill directories
// as SKILL.md prompt skills, JavaScript files or executables.
package skills

import (
	"context"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// VariableParam is the flag naming the variable that receives Result.Value.
const VariableParam = parser.VariableFlag

// ErrNoInteraction is returned by RequestInput and PickFile when no
// interactive front end is attached to the run.
var ErrNoInteraction = errors.New("interactive input is not available")

// Params are the flag values of one annotation after substitution.
type Params map[string]string

// Result is what a skill hands back to the engine. Value is written to the
// declared output variable; Messages are appended to the current context.
type Result struct {
	Value    any                `json:"value,omitempty"`
	Messages []contexts.Message `json:"messages,omitempty"`
}

// Skill is a named capability invoked by an annotation.
type Skill interface {
	Name() string
	Description() string
	// Parameters describes the accepted flags. A nil schema accepts anything.
	Parameters() *jsonschema.Schema
	// RegisterAsTool reports whether the skill is offered to external tool consumers.
	RegisterAsTool() bool
	Execute(ctx context.Context, api API, params Params) (Result, error)
}

// Declarer is implemented by skills whose output variable is named by a
// flag other than --variable.
type Declarer interface {
	OutputVariable(params Params) string
}

// OutputVariable returns the variable that receives the result of s, or ""
// when none is declared. An explicit --variable always wins.
func OutputVariable(s Skill, params Params) string {
	if v := params[VariableParam]; v != "" {
		return v
	}
	if d, ok := s.(Declarer); ok {
		return d.OutputVariable(params)
	}
	return ""
}

// Interactor is the front end that answers input requests during a run.
type Interactor interface {
	RequestInput(ctx context.Context, prompt string) (string, error)
	PickFile(ctx context.Context, prompt string, candidates []string) (string, error)
}

// API is the capability surface a skill receives for one invocation. It is
// only valid for the duration of Execute.
type API interface {
	// Context returns a copy of the current context.
	Context() (*contexts.Context, error)
	Contexts() *contexts.Manager
	// Store is the persistent context store; it may be nil.
	Store() contexts.Store
	Variables() *variables.Store
	// Block is the annotation being executed.
	Block() *parser.Block
	// Code is the attached code block, nil when there is none.
	Code() *parser.Block

	Model() string
	SetModel(ctx context.Context, name string) error
	InvokeModel(ctx context.Context, req llm.Request) (*llm.Response, error)

	RequestInput(ctx context.Context, prompt string) (string, error)
	PickFile(ctx context.Context, prompt string, candidates []string) (string, error)

	// AppendMessage adds a message to the current context immediately.
	AppendMessage(role contexts.Role, content string) error
	// Inputs are the run inputs supplied at play time.
	Inputs() map[string]string
	WorkDir() string
	Logger() *logrus.Entry
}

// Provenance records where a skill came from. It is informational only.
type Provenance string

const (
	Builtin Provenance = "builtin"
	Local   Provenance = "local"
)

// Entry is a registered skill with its metadata.
type Entry struct {
	Skill      Skill
	Provenance Provenance
	// Source is the file a local skill was loaded from.
	Source string
	// Kind is prompt, javascript, executable or builtin.
	Kind string
}
