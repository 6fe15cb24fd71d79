package mcpserver

import (
	"context"
	"sync"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// scratchAPI serves a single tool call. It has no annotation, no attached
// code and no interactive front end.
type scratchAPI struct {
	server   *Server
	contexts *contexts.Manager
	vars     *variables.Store
	log      *logrus.Entry

	mu    sync.Mutex
	model string
}

var _ skills.API = (*scratchAPI)(nil)

func newScratchAPI(s *Server, log *logrus.Entry) *scratchAPI {
	m := contexts.NewManager()
	_, _ = m.SwitchTo(ScratchContext)
	api := &scratchAPI{
		server:   s,
		contexts: m,
		vars:     variables.NewStore(),
		log:      log,
	}
	if s.invoker != nil {
		api.model = s.invoker.DefaultModel()
	}
	return api
}

func (a *scratchAPI) Context() (*contexts.Context, error) { return a.contexts.Current() }
func (a *scratchAPI) Contexts() *contexts.Manager         { return a.contexts }
func (a *scratchAPI) Store() contexts.Store               { return a.server.store }
func (a *scratchAPI) Variables() *variables.Store         { return a.vars }
func (a *scratchAPI) Block() *parser.Block                { return nil }
func (a *scratchAPI) Code() *parser.Block                 { return nil }
func (a *scratchAPI) Inputs() map[string]string           { return map[string]string{} }
func (a *scratchAPI) WorkDir() string                     { return a.server.workDir }
func (a *scratchAPI) Logger() *logrus.Entry               { return a.log }

func (a *scratchAPI) Model() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

func (a *scratchAPI) SetModel(ctx context.Context, name string) error {
	if a.server.invoker == nil {
		return errors.Wrapf(llm.ErrModelUnavailable, "no model provider configured for %s", name)
	}
	if err := a.server.invoker.CheckModel(ctx, name); err != nil {
		return err
	}
	a.mu.Lock()
	a.model = name
	a.mu.Unlock()
	return nil
}

func (a *scratchAPI) InvokeModel(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if a.server.invoker == nil {
		return nil, errors.Wrap(llm.ErrModelUnavailable, "no model provider configured")
	}
	if req.Model == "" {
		req.Model = a.Model()
	}
	return a.server.invoker.Invoke(ctx, req)
}

func (a *scratchAPI) RequestInput(context.Context, string) (string, error) {
	return "", skills.ErrNoInteraction
}

func (a *scratchAPI) PickFile(context.Context, string, []string) (string, error) {
	return "", skills.ErrNoInteraction
}

func (a *scratchAPI) AppendMessage(role contexts.Role, content string) error {
	if !role.Valid() {
		return errors.Errorf("invalid message role %q", role)
	}
	return a.contexts.AppendCurrent(contexts.NewMessage(role, content))
}
