// Package skilltest provides an in-memory skills.API for testing skills.
package skilltest

import (
	"context"
	"strings"
	"sync"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// API is a skills.API backed by real managers and scripted model and user
// responses. The zero value is not usable; call New.
type API struct {
	Manager    *contexts.Manager
	Vars       *variables.Store
	Persistent contexts.Store
	Annotation *parser.Block
	Attached   *parser.Block
	RunInputs  map[string]string
	Dir        string

	// Reply produces model responses. The default echoes the last message.
	Reply func(req llm.Request) (string, error)
	// Models lists accepted model names; empty accepts everything.
	Models []string
	// Answers are returned by RequestInput in order.
	Answers []string
	// Pick chooses among PickFile candidates; the default picks the first.
	Pick func(candidates []string) (string, error)

	mu       sync.Mutex
	model    string
	Requests []llm.Request
	Prompts  []string
}

var _ skills.API = (*API)(nil)

// New creates an API with a current context named "default".
func New() *API {
	m := contexts.NewManager()
	_, _ = m.SwitchTo("default")
	return &API{
		Manager:   m,
		Vars:      variables.NewStore(),
		RunInputs: map[string]string{},
		Dir:       ".",
		model:     "anthropic/claude-sonnet-4-5",
	}
}

func (a *API) Context() (*contexts.Context, error) { return a.Manager.Current() }
func (a *API) Contexts() *contexts.Manager         { return a.Manager }
func (a *API) Store() contexts.Store               { return a.Persistent }
func (a *API) Variables() *variables.Store         { return a.Vars }
func (a *API) Block() *parser.Block                { return a.Annotation }
func (a *API) Code() *parser.Block                 { return a.Attached }
func (a *API) Inputs() map[string]string           { return a.RunInputs }
func (a *API) WorkDir() string                     { return a.Dir }
func (a *API) Logger() *logrus.Entry               { return logger.G(context.Background()) }

func (a *API) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

func (a *API) SetModel(_ context.Context, name string) error {
	if len(a.Models) > 0 {
		found := false
		for _, m := range a.Models {
			if m == name {
				found = true
			}
		}
		if !found {
			return errors.Wrapf(llm.ErrModelUnavailable, "%s", name)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = name
	return nil
}

func (a *API) InvokeModel(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = a.Model()
	}
	a.mu.Lock()
	a.Requests = append(a.Requests, req)
	a.mu.Unlock()

	reply := a.Reply
	if reply == nil {
		reply = func(req llm.Request) (string, error) {
			last := req.Messages[len(req.Messages)-1].Content
			return "echo: " + last, nil
		}
	}
	content, err := reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Model: req.Model, Content: content}, nil
}

func (a *API) RequestInput(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Prompts = append(a.Prompts, prompt)
	if len(a.Answers) == 0 {
		return "", skills.ErrNoInteraction
	}
	answer := a.Answers[0]
	a.Answers = a.Answers[1:]
	return answer, nil
}

func (a *API) PickFile(ctx context.Context, prompt string, candidates []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	a.Prompts = append(a.Prompts, prompt)
	a.mu.Unlock()
	if a.Pick != nil {
		return a.Pick(candidates)
	}
	if len(candidates) == 0 {
		return "", errors.New("no candidates")
	}
	return candidates[0], nil
}

func (a *API) AppendMessage(role contexts.Role, content string) error {
	return a.Manager.AppendCurrent(contexts.NewMessage(role, content))
}

// Messages returns role-prefixed contents of the current context, handy for assertions.
func (a *API) Messages() []string {
	c, err := a.Manager.Current()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, string(m.Role)+": "+m.Content)
	}
	return out
}

// Annotate parses a single annotation (and optional attached code) and installs it.
func (a *API) Annotate(doc string) *API {
	res := parser.Parse(strings.TrimSpace(doc) + "\n")
	for _, b := range res.Blocks {
		if b.Kind == parser.KindAnnotation {
			a.Annotation = b
			a.Attached = b.Code
			break
		}
	}
	return a
}
