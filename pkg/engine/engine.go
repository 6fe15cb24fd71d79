// Package engine executes a parsed playbook block by block. An Engine owns
// one run at a time: a cursor, a variable store and the current context
// pointer of the document's context manager. Control methods are safe for
// concurrent use; the run itself happens on a single goroutine that is the
// only writer of run state between skill calls.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultContext is the context selected when a document names none.
const DefaultContext = "default"

// Engine runs one document.
type Engine struct {
	mu sync.Mutex

	doc        *parser.Result
	document   string
	registry   *skills.Registry
	invoker    llm.Invoker
	interactor skills.Interactor
	contexts   *contexts.Manager
	store      contexts.Store
	vars       *variables.Store
	workDir    string
	bufSize    int

	state   RunState
	cursor  int
	failed  int
	lastErr *Error
	runID   string
	gen     uint64
	inputs  map[string]string
	model   string
	cancel  context.CancelFunc
	done    chan struct{}
	changed chan struct{}

	events *bus
}

// Option configures an Engine.
type Option func(*Engine)

// WithInvoker sets the model capability.
func WithInvoker(inv llm.Invoker) Option {
	return func(e *Engine) { e.invoker = inv }
}

// WithInteractor sets the front end answering input requests.
func WithInteractor(i skills.Interactor) Option {
	return func(e *Engine) { e.interactor = i }
}

// WithContexts shares a context manager with the engine.
func WithContexts(m *contexts.Manager) Option {
	return func(e *Engine) { e.contexts = m }
}

// WithStore sets the persistent context store.
func WithStore(s contexts.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithWorkDir sets the directory relative paths and shell code resolve against.
func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

// WithDocument labels the engine with the document path.
func WithDocument(path string) Option {
	return func(e *Engine) { e.document = path }
}

// WithEventBuffer sets the per-subscriber event buffer.
func WithEventBuffer(n int) Option {
	return func(e *Engine) { e.bufSize = n }
}

// New creates an idle engine for doc.
func New(doc *parser.Result, registry *skills.Registry, opts ...Option) (*Engine, error) {
	if doc == nil {
		return nil, errors.New("document is required")
	}
	if registry == nil {
		return nil, errors.New("skill registry is required")
	}
	e := &Engine{
		doc:      doc,
		registry: registry,
		vars:     variables.NewStore(),
		workDir:  ".",
		bufSize:  64,
		failed:   -1,
		changed:  make(chan struct{}),
		events:   newBus(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.contexts == nil {
		e.contexts = contexts.NewManager()
	}
	return e, nil
}

// Document returns the parsed document.
func (e *Engine) Document() *parser.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

// Load replaces the document. It is refused while a run is active.
func (e *Engine) Load(doc *parser.Result) error {
	if doc == nil {
		return errors.New("document is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning || e.state == StatePaused {
		return errors.Wrapf(ErrInvalidTransition, "cannot load a document while %s", e.state)
	}
	e.doc = doc
	e.cursor = 0
	return nil
}

// Contexts returns the context manager.
func (e *Engine) Contexts() *contexts.Manager { return e.contexts }

// Variables returns the run's variable store.
func (e *Engine) Variables() *variables.Store { return e.vars }

// PlayOptions configure a fresh run.
type PlayOptions struct {
	// Inputs are run inputs, read by @param and set as initial variables.
	Inputs map[string]string
	// ClearContexts drops every context before the run starts.
	ClearContexts bool
}

// Play starts a fresh run: cursor 0, variables cleared, contexts kept unless
// ClearContexts is set. A document with parse errors is refused with a
// KindParse error and the state is left unchanged.
func (e *Engine) Play(ctx context.Context, opts PlayOptions) error {
	e.mu.Lock()
	if _, err := next(e.state, actionPlay); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.doc.HasBlockingErrors() {
		first := e.doc.Errors[0]
		msg := first.Message
		if n := len(e.doc.Errors); n > 1 {
			msg = fmt.Sprintf("%s (and %d more)", msg, n-1)
		}
		e.mu.Unlock()
		return &Error{Kind: KindParse, Block: -1, Line: first.StartLine, Message: msg, Err: first}
	}
	prev := e.done
	e.mu.Unlock()

	// a stopped run may still be unwinding its last skill
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	to, err := next(e.state, actionPlay)
	if err != nil {
		return err
	}

	e.gen++
	e.runID = uuid.NewString()
	e.cursor = 0
	e.failed = -1
	e.lastErr = nil
	e.inputs = make(map[string]string, len(opts.Inputs))
	for k, v := range opts.Inputs {
		e.inputs[k] = v
	}

	e.vars.Clear()
	for k, v := range e.doc.FrontMatter.Variables {
		e.vars.Set(k, v)
	}
	for k, v := range e.inputs {
		e.vars.Set(k, v)
	}

	if opts.ClearContexts {
		e.contexts.Reset()
	}
	contextName := e.doc.FrontMatter.Context
	if contextName == "" {
		contextName = DefaultContext
	}
	if _, err := e.contexts.SwitchTo(contextName); err != nil {
		return errors.Wrap(err, "failed to select initial context")
	}

	e.model = e.doc.FrontMatter.Model
	if e.model == "" && e.invoker != nil {
		e.model = e.invoker.DefaultModel()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logger.WithFields(runCtx, logrus.Fields{"run_id": e.runID, "document": e.document})
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done

	e.setStateLocked(to)
	logger.G(runCtx).WithField("blocks", len(e.doc.Blocks)).Info("playbook run started")
	go e.run(runCtx, e.gen, done)
	return nil
}

// Pause stops the run at the next block boundary.
func (e *Engine) Pause() error {
	return e.transition(actionPause)
}

// Resume continues a paused run from its cursor.
func (e *Engine) Resume() error {
	return e.transition(actionResume)
}

// Stop ends the run and cancels the in-flight skill.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	to, err := next(e.state, actionStop)
	if err != nil {
		return err
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.setStateLocked(to)
	return nil
}

func (e *Engine) transition(a action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	to, err := next(e.state, a)
	if err != nil {
		return err
	}
	e.setStateLocked(to)
	return nil
}

// setStateLocked must be called with e.mu held.
func (e *Engine) setStateLocked(to RunState) {
	e.state = to
	close(e.changed)
	e.changed = make(chan struct{})
	e.publishLocked(Event{Type: EventStateChanged, Block: e.cursor, Line: -1, Error: e.lastErr})
}

func (e *Engine) publishLocked(ev Event) {
	ev.RunID = e.runID
	ev.State = e.state
	ev.Time = time.Now().UTC()
	e.events.publish(ev)
}

// Subscribe streams run events until cancel is called.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	id, ch := e.events.subscribe(e.bufSize)
	return ch, func() { e.events.unsubscribe(id) }
}

// Status is a snapshot of the engine.
type Status struct {
	RunID       string         `json:"run_id"`
	Document    string         `json:"document,omitempty"`
	State       RunState       `json:"state"`
	Cursor      int            `json:"cursor"`
	BlockCount  int            `json:"block_count"`
	FailedBlock int            `json:"failed_block"`
	Error       *Error         `json:"error,omitempty"`
	Context     string         `json:"context,omitempty"`
	Model       string         `json:"model,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// Status returns the current snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	return Status{
		RunID:       e.runID,
		Document:    e.document,
		State:       e.state,
		Cursor:      e.cursor,
		BlockCount:  len(e.doc.Blocks),
		FailedBlock: e.failed,
		Error:       e.lastErr,
		Context:     e.contexts.CurrentName(),
		Model:       e.model,
		Variables:   e.vars.Snapshot(),
	}
}

// Wait blocks until the engine is no longer running, or ctx is done.
func (e *Engine) Wait(ctx context.Context) (Status, error) {
	for {
		e.mu.Lock()
		if e.state.Settled() {
			st := e.statusLocked()
			e.mu.Unlock()
			return st, nil
		}
		ch := e.changed
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return e.Status(), ctx.Err()
		}
	}
}

// Close stops any active run and ends every event subscription.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		if e.cancel != nil {
			e.cancel()
		}
		e.setStateLocked(StateStopped)
	}
	e.mu.Unlock()
	e.events.close()
	return nil
}
