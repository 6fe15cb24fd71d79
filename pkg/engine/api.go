package engine

import (
	"context"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// runAPI is the capability surface handed to one skill invocation.
type runAPI struct {
	engine *Engine
	block  *parser.Block
	code   *parser.Block
	log    *logrus.Entry
}

var _ skills.API = (*runAPI)(nil)

func (a *runAPI) Context() (*contexts.Context, error) { return a.engine.contexts.Current() }
func (a *runAPI) Contexts() *contexts.Manager         { return a.engine.contexts }
func (a *runAPI) Store() contexts.Store               { return a.engine.store }
func (a *runAPI) Variables() *variables.Store         { return a.engine.vars }
func (a *runAPI) Block() *parser.Block                { return a.block }
func (a *runAPI) Code() *parser.Block                 { return a.code }
func (a *runAPI) WorkDir() string                     { return a.engine.workDir }
func (a *runAPI) Logger() *logrus.Entry               { return a.log }

func (a *runAPI) Inputs() map[string]string {
	a.engine.mu.Lock()
	defer a.engine.mu.Unlock()
	out := make(map[string]string, len(a.engine.inputs))
	for k, v := range a.engine.inputs {
		out[k] = v
	}
	return out
}

func (a *runAPI) Model() string {
	a.engine.mu.Lock()
	defer a.engine.mu.Unlock()
	return a.engine.model
}

func (a *runAPI) SetModel(ctx context.Context, name string) error {
	if a.engine.invoker == nil {
		return errors.Wrapf(llm.ErrModelUnavailable, "no model provider configured for %s", name)
	}
	if err := a.engine.invoker.CheckModel(ctx, name); err != nil {
		return err
	}
	a.engine.mu.Lock()
	a.engine.model = name
	a.engine.mu.Unlock()
	a.log.WithField("model", name).Info("model switched")
	return nil
}

func (a *runAPI) InvokeModel(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if a.engine.invoker == nil {
		return nil, errors.Wrap(llm.ErrModelUnavailable, "no model provider configured")
	}
	if req.Model == "" {
		req.Model = a.Model()
	}
	return a.engine.invoker.Invoke(ctx, req)
}

func (a *runAPI) RequestInput(ctx context.Context, prompt string) (string, error) {
	if a.engine.interactor == nil {
		return "", skills.ErrNoInteraction
	}
	return a.engine.interactor.RequestInput(ctx, prompt)
}

func (a *runAPI) PickFile(ctx context.Context, prompt string, candidates []string) (string, error) {
	if a.engine.interactor == nil {
		return "", skills.ErrNoInteraction
	}
	return a.engine.interactor.PickFile(ctx, prompt, candidates)
}

func (a *runAPI) AppendMessage(role contexts.Role, content string) error {
	if !role.Valid() {
		return errors.Errorf("invalid message role %q", role)
	}
	return a.engine.contexts.AppendCurrent(contexts.NewMessage(role, content))
}
