// Package workspace holds the process-wide playbook session: one skill
// registry, one context store and one model invoker shared by an engine per
// open document.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/playbook/pkg/codeexec"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/engine"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/skills/builtin"
	"github.com/pkg/errors"
)

// ErrDocumentNotOpen is returned when looking up an engine that was never opened.
var ErrDocumentNotOpen = errors.New("document is not open")

// Session is created once per process.
type Session struct {
	config     Config
	registry   *skills.Registry
	discovery  *skills.Discovery
	executor   *codeexec.Executor
	invoker    llm.Invoker
	interactor skills.Interactor
	store      contexts.Store
	sizer      contexts.Sizer

	mu      sync.Mutex
	engines map[string]*engine.Engine

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// Option customises a session.
type Option func(*Session)

// WithInvoker replaces the configured model router.
func WithInvoker(inv llm.Invoker) Option {
	return func(s *Session) { s.invoker = inv }
}

// WithInteractor attaches the front end answering input requests.
func WithInteractor(i skills.Interactor) Option {
	return func(s *Session) { s.interactor = i }
}

// WithStore replaces the configured context store.
func WithStore(store contexts.Store) Option {
	return func(s *Session) { s.store = store }
}

// Open builds the registry, discovers local skills and opens the context
// store. Local skills that fail to load are logged and skipped.
func Open(ctx context.Context, config Config, opts ...Option) (*Session, error) {
	s := &Session{
		config:   config,
		registry: skills.NewRegistry(),
		engines:  make(map[string]*engine.Engine),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.executor = codeexec.NewExecutor(codeexec.WithDefaultTimeout(seconds(config.Execute.Timeout)))
	builtinOpts := []builtin.Option{builtin.WithExecutor(s.executor)}
	if config.Link.AllowedDomainsFile != "" {
		builtinOpts = append(builtinOpts, builtin.WithDomainFilter(builtin.NewDomainFilter(config.Link.AllowedDomainsFile)))
	}
	if err := builtin.Register(s.registry, builtinOpts...); err != nil {
		return nil, errors.Wrap(err, "failed to register built-in skills")
	}

	discoveryOpts := []skills.Option{
		skills.WithAllowlist(config.Skills.Allowed...),
		skills.WithExecutableTimeout(seconds(config.ExecutableSkills.Timeout)),
	}
	if len(config.Skills.Dirs) > 0 {
		discoveryOpts = append(discoveryOpts, skills.WithSkillDirs(config.Skills.Dirs...))
	}
	discovery, err := skills.NewDiscovery(discoveryOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure skill discovery")
	}
	s.discovery = discovery
	if err := skills.Refresh(ctx, s.discovery, s.registry); err != nil {
		logger.G(ctx).WithError(err).Warn("some local skills failed to load")
	}

	sizer, err := contexts.NewSizer(config.Contexts.Sizer)
	if err != nil {
		return nil, err
	}
	s.sizer = sizer

	if s.store == nil && config.Contexts.Store != "none" {
		store, err := contexts.OpenStore(ctx, config.Contexts.Store, config.Contexts.Path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open context store")
		}
		s.store = store
	}

	if s.invoker == nil {
		s.invoker = llm.NewRouter(config.LLM)
	}

	if config.Skills.Watch {
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.stopWatch = cancel
		s.watchDone = make(chan struct{})
		w := skills.NewWatcher(s.discovery, s.registry)
		go func() {
			defer close(s.watchDone)
			if err := w.Run(watchCtx); err != nil {
				logger.G(watchCtx).WithError(err).Warn("skill watcher stopped")
			}
		}()
	}

	logger.G(ctx).WithField("skills", len(s.registry.List())).Debug("playbook session opened")
	return s, nil
}

// Registry returns the session's skill registry.
func (s *Session) Registry() *skills.Registry { return s.registry }

// Store returns the persistent context store, nil when disabled.
func (s *Session) Store() contexts.Store { return s.store }

// Invoker returns the model capability.
func (s *Session) Invoker() llm.Invoker { return s.invoker }

// Executor returns the code executor used by @execute.
func (s *Session) Executor() *codeexec.Executor { return s.executor }

// Refresh re-discovers local skills and swaps them in atomically.
func (s *Session) Refresh(ctx context.Context) error {
	return skills.Refresh(ctx, s.discovery, s.registry)
}

// Engine returns the engine of the document at path, opening it on first
// use. An idle or settled engine is reloaded from disk so edits apply to
// the next play; a running one keeps the document it started with.
func (s *Session) Engine(path string) (*engine.Engine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read playbook %s", path)
	}
	return s.EngineForText(abs, string(data))
}

// EngineForText is Engine for a document whose text is already in memory,
// such as an unsaved editor buffer.
func (s *Session) EngineForText(path, text string) (*engine.Engine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	doc := parser.Parse(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[abs]; ok {
		if err := e.Load(doc); err != nil && !errors.Is(err, engine.ErrInvalidTransition) {
			return nil, err
		}
		return e, nil
	}

	manager := contexts.NewManager(
		contexts.WithSizer(s.sizer),
		contexts.WithDefaultBudget(s.config.Contexts.Budget),
	)
	e, err := engine.New(doc, s.registry,
		engine.WithInvoker(s.invoker),
		engine.WithInteractor(s.interactor),
		engine.WithContexts(manager),
		engine.WithStore(s.store),
		engine.WithWorkDir(filepath.Dir(abs)),
		engine.WithDocument(abs),
	)
	if err != nil {
		return nil, err
	}
	s.engines[abs] = e
	return e, nil
}

// Lookup returns the engine of an already open document.
func (s *Session) Lookup(path string) (*engine.Engine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[abs]
	if !ok {
		return nil, errors.Wrapf(ErrDocumentNotOpen, "%s", path)
	}
	return e, nil
}

// FindRun returns the engine whose current or last run has the given id.
func (s *Session) FindRun(runID string) (*engine.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.engines {
		if e.Status().RunID == runID {
			return e, true
		}
	}
	return nil, false
}

// Documents lists the open documents.
func (s *Session) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.engines))
	for path := range s.engines {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Close stops every engine, the skill watcher and the context store.
func (s *Session) Close() error {
	var result error

	s.mu.Lock()
	for path, e := range s.engines {
		if err := e.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to close engine for %s", path))
		}
	}
	s.engines = map[string]*engine.Engine{}
	s.mu.Unlock()

	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "failed to close context store"))
		}
	}
	return result
}
