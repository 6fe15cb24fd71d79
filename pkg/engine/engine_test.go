package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/skills/builtin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	mu          sync.Mutex
	requests    []llm.Request
	unavailable map[string]bool
}

func (f *fakeInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	// answer the prompt, not the merged history before it
	last := req.Messages[len(req.Messages)-1].Content
	if i := strings.LastIndex(last, "\n\n"); i >= 0 {
		last = last[i+2:]
	}
	return &llm.Response{Model: req.Model, Content: "reply: " + last}, nil
}

func (f *fakeInvoker) CheckModel(_ context.Context, name string) error {
	if f.unavailable[name] {
		return errors.Wrapf(llm.ErrModelUnavailable, "%s", name)
	}
	return nil
}

func (f *fakeInvoker) DefaultModel() string { return "fake-default" }

func (f *fakeInvoker) last() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeInteractor struct {
	answers []string
}

func (f *fakeInteractor) RequestInput(ctx context.Context, prompt string) (string, error) {
	if len(f.answers) == 0 {
		return "", errors.New("no answer")
	}
	a := f.answers[0]
	f.answers = f.answers[1:]
	return a, nil
}

func (f *fakeInteractor) PickFile(ctx context.Context, prompt string, candidates []string) (string, error) {
	return candidates[0], nil
}

type gateCall struct {
	vars     map[string]any
	messages int
}

// gateSkill blocks until released or cancelled.
type gateSkill struct {
	started chan gateCall
	release chan struct{}
}

func newGate() *gateSkill {
	return &gateSkill{started: make(chan gateCall, 4), release: make(chan struct{}, 4)}
}

func (g *gateSkill) Name() string                   { return "gate" }
func (g *gateSkill) Description() string            { return "waits" }
func (g *gateSkill) Parameters() *jsonschema.Schema { return nil }
func (g *gateSkill) RegisterAsTool() bool           { return false }

func (g *gateSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	c, err := api.Context()
	if err != nil {
		return skills.Result{}, err
	}
	g.started <- gateCall{vars: api.Variables().Snapshot(), messages: len(c.Messages)}
	select {
	case <-g.release:
		return skills.Result{Value: "open"}, nil
	case <-ctx.Done():
		return skills.Result{}, ctx.Err()
	}
}

type panicSkill struct{}

func (panicSkill) Name() string                   { return "explode" }
func (panicSkill) Description() string            { return "panics" }
func (panicSkill) Parameters() *jsonschema.Schema { return nil }
func (panicSkill) RegisterAsTool() bool           { return false }
func (panicSkill) Execute(context.Context, skills.API, skills.Params) (skills.Result, error) {
	panic("boom")
}

func newRegistry(t *testing.T, extra ...skills.Skill) *skills.Registry {
	t.Helper()
	r := skills.NewRegistry()
	require.NoError(t, builtin.Register(r))
	r.MustRegister(extra...)
	return r
}

func newEngine(t *testing.T, doc string, r *skills.Registry, opts ...Option) *Engine {
	t.Helper()
	e, err := New(parser.Parse(doc), r, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func wait(t *testing.T, e *Engine) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := e.Wait(ctx)
	require.NoError(t, err)
	return st
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func messages(t *testing.T, e *Engine, name string) []string {
	t.Helper()
	c, err := e.Contexts().Get(name)
	require.NoError(t, err)
	out := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, string(m.Role)+": "+m.Content)
	}
	return out
}

const demoDoc = "---\ntitle: Demo\nmodel: fm-model\nvariables:\n  who: world\n---\n" +
	"# Intro\n\n" +
	"// the answer\n" +
	"@execute --variable x\n" +
	"```js\n1 + 1\n```\n\n" +
	"@task --prompt \"hello ${who} ${x}\" --variable reply\n"

func TestPlayRunsBlocksInOrder(t *testing.T) {
	inv := &fakeInvoker{}
	e := newEngine(t, demoDoc, newRegistry(t), WithInvoker(inv), WithDocument("demo.md"))
	events, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)

	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, len(e.Document().Blocks), st.Cursor)
	assert.Equal(t, -1, st.FailedBlock)
	assert.Nil(t, st.Error)
	assert.Equal(t, "default", st.Context)
	assert.Equal(t, "fm-model", st.Model)
	assert.Equal(t, "demo.md", st.Document)
	assert.NotEmpty(t, st.RunID)

	assert.EqualValues(t, 2, st.Variables["x"])
	assert.Equal(t, "reply: hello world 2", st.Variables["reply"])
	assert.Equal(t, "world", st.Variables["who"])
	assert.Equal(t, "fm-model", inv.last().Model)

	msgs := messages(t, e, "default")
	require.Len(t, msgs, 3)
	assert.Equal(t, "agent: [execute] 2", msgs[0])
	assert.Equal(t, "user: hello world 2", msgs[1])
	assert.Equal(t, "assistant: reply: hello world 2", msgs[2])

	var finished []string
	skipped := 0
	for _, ev := range drain(events) {
		assert.Equal(t, st.RunID, ev.RunID)
		assert.NotEmpty(t, ev.ID)
		switch ev.Type {
		case EventBlockFinished:
			finished = append(finished, ev.Skill)
		case EventBlockSkipped:
			skipped++
		}
	}
	assert.Equal(t, []string{"execute", "task"}, finished)
	assert.Equal(t, 3, skipped, "text, comment and attached code are skipped")
}

func TestOnlyDeclaredVariableChanges(t *testing.T) {
	doc := "@execute --variable x\n```js\nvar y = 5; y * 2\n```\n\n@execute\n```js\n3\n```\n"
	e := newEngine(t, doc, newRegistry(t))
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)

	require.Equal(t, StateCompleted, st.State)
	assert.Equal(t, []string{"x"}, e.Variables().Names())
	assert.EqualValues(t, 10, st.Variables["x"])
}

func TestPlayRefusesDocumentWithParseErrors(t *testing.T) {
	e := newEngine(t, "# Title\n\n@execute --variable x\n\nno code here\n", newRegistry(t))
	events, cancel := e.Subscribe()
	defer cancel()

	err := e.Play(context.Background(), PlayOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)

	var runErr *Error
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, KindParse, runErr.Kind)
	assert.Equal(t, 2, runErr.Line)
	assert.Contains(t, runErr.Message, "fenced code block")

	assert.Equal(t, StateIdle, e.Status().State)
	assert.Empty(t, drain(events))
}

func TestStopThenPlayStartsFresh(t *testing.T) {
	gate := newGate()
	doc := "@execute --variable x\n```js\n7\n```\n\n@gate\n\n@execute --variable z\n```js\n1\n```\n"
	e := newEngine(t, doc, newRegistry(t, gate))

	require.NoError(t, e.Play(context.Background(), PlayOptions{Inputs: map[string]string{"extra": "1"}}))
	first := <-gate.started
	assert.Equal(t, "1", first.vars["extra"])
	assert.EqualValues(t, 7, first.vars["x"])
	assert.Equal(t, 1, first.messages)

	require.NoError(t, e.Stop())
	st := wait(t, e)
	assert.Equal(t, StateStopped, st.State)
	assert.Nil(t, st.Error, "cancellation is not a failure")
	assert.Equal(t, -1, st.FailedBlock)
	_, hasZ := st.Variables["z"]
	assert.False(t, hasZ)

	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	second := <-gate.started
	_, hasExtra := second.vars["extra"]
	assert.False(t, hasExtra, "variables are reset on play")
	assert.Equal(t, 2, second.messages, "contexts survive across runs")

	gate.release <- struct{}{}
	st = wait(t, e)
	assert.Equal(t, StateCompleted, st.State)
	assert.EqualValues(t, 1, st.Variables["z"])
}

func TestClearContextsOnPlay(t *testing.T) {
	doc := "@execute\n```js\n1\n```\n"
	e := newEngine(t, doc, newRegistry(t))
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	wait(t, e)
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	wait(t, e)
	assert.Len(t, messages(t, e, "default"), 2)

	require.NoError(t, e.Play(context.Background(), PlayOptions{ClearContexts: true}))
	wait(t, e)
	assert.Len(t, messages(t, e, "default"), 1)
}

func TestPauseAndResume(t *testing.T) {
	gate := newGate()
	doc := "@gate --variable opened\n\n@execute --variable after\n```js\n1\n```\n"
	e := newEngine(t, doc, newRegistry(t, gate))

	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	<-gate.started
	require.NoError(t, e.Pause())
	assert.Equal(t, StatePaused, e.Status().State)
	assert.ErrorIs(t, e.Pause(), ErrInvalidTransition)

	gate.release <- struct{}{}
	require.Eventually(t, func() bool { return e.Status().Cursor == 1 }, 5*time.Second, 10*time.Millisecond)

	st := wait(t, e)
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, "open", st.Variables["opened"])
	_, ok := st.Variables["after"]
	assert.False(t, ok, "paused run does not advance")

	require.NoError(t, e.Resume())
	st = wait(t, e)
	assert.Equal(t, StateCompleted, st.State)
	assert.EqualValues(t, 1, st.Variables["after"])
}

func TestInvalidTransitionsLeaveStateUnchanged(t *testing.T) {
	e := newEngine(t, "@execute\n```js\n1\n```\n", newRegistry(t))
	assert.ErrorIs(t, e.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, e.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, e.Stop(), ErrInvalidTransition)
	assert.Equal(t, StateIdle, e.Status().State)

	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	wait(t, e)
	assert.ErrorIs(t, e.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, e.Stop(), ErrInvalidTransition)
	assert.Equal(t, StateCompleted, e.Status().State)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		kind   ErrorKind
		target error
		block  int
		line   int
	}{
		{
			name:   "unknown skill",
			doc:    "# Title\n\n@summon --what cat\n",
			kind:   KindResolution,
			target: skills.ErrSkillNotFound,
			block:  1,
			line:   2,
		},
		{
			name:   "invalid flags",
			doc:    "@task --bogus 1\n",
			kind:   KindValidation,
			target: skills.ErrInvalidParams,
			block:  0,
			line:   0,
		},
		{
			name:   "skill error",
			doc:    "@execute --variable x\n```js\n7\n```\n\n@execute\n```js\nthrow new Error('bad')\n```\n",
			kind:   KindSkillExecution,
			target: ErrSkillExecution,
			block:  2,
			line:   5,
		},
		{
			name:   "panic",
			doc:    "@explode\n",
			kind:   KindSkillExecution,
			target: ErrSkillExecution,
			block:  0,
			line:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.doc, newRegistry(t, panicSkill{}), WithInvoker(&fakeInvoker{}))
			events, cancel := e.Subscribe()
			defer cancel()

			require.NoError(t, e.Play(context.Background(), PlayOptions{}))
			st := wait(t, e)

			assert.Equal(t, StateError, st.State)
			require.NotNil(t, st.Error)
			assert.Equal(t, tt.kind, st.Error.Kind)
			assert.ErrorIs(t, st.Error, tt.target)
			assert.Equal(t, tt.block, st.FailedBlock)
			assert.Equal(t, tt.block, st.Error.Block)
			assert.Equal(t, tt.line, st.Error.Line)
			assert.Equal(t, tt.block, st.Cursor)

			evs := drain(events)
			require.NotEmpty(t, evs)
			lastEv := evs[len(evs)-1]
			assert.Equal(t, EventStateChanged, lastEv.Type)
			assert.Equal(t, StateError, lastEv.State)
			require.NotNil(t, lastEv.Error)
			assert.Equal(t, tt.kind, lastEv.Error.Kind)

			require.NoError(t, e.Play(context.Background(), PlayOptions{}), "a failed run can be replayed")
			wait(t, e)
		})
	}
}

func TestPanicIsRecovered(t *testing.T) {
	e := newEngine(t, "@explode\n", newRegistry(t, panicSkill{}))
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)
	require.NotNil(t, st.Error)
	var pe *skills.PanicError
	require.True(t, errors.As(st.Error, &pe))
	assert.Equal(t, "boom", pe.Value)
}

func TestModelSwitching(t *testing.T) {
	inv := &fakeInvoker{unavailable: map[string]bool{"missing": true}}
	doc := "@model --name other\n\n@task --prompt hi\n\n@model --name missing\n"
	e := newEngine(t, doc, newRegistry(t), WithInvoker(inv))

	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)
	assert.Equal(t, "other", inv.last().Model)
	assert.Equal(t, StateError, st.State)
	assert.ErrorIs(t, st.Error, llm.ErrModelUnavailable)
	assert.Equal(t, "other", st.Model, "a failed switch keeps the current model")
	assert.Equal(t, 2, st.FailedBlock)
}

func TestInteraction(t *testing.T) {
	doc := "@input --prompt \"Your name?\" --variable name\n\n@task --prompt \"greet ${name}\"\n"

	t.Run("answered", func(t *testing.T) {
		inv := &fakeInvoker{}
		e := newEngine(t, doc, newRegistry(t), WithInvoker(inv), WithInteractor(&fakeInteractor{answers: []string{"Ada"}}))
		require.NoError(t, e.Play(context.Background(), PlayOptions{}))
		st := wait(t, e)
		require.Equal(t, StateCompleted, st.State)
		assert.Equal(t, "Ada", st.Variables["name"])
		assert.Contains(t, inv.last().Messages[len(inv.last().Messages)-1].Content, "greet Ada")
	})

	t.Run("no front end", func(t *testing.T) {
		e := newEngine(t, doc, newRegistry(t), WithInvoker(&fakeInvoker{}))
		require.NoError(t, e.Play(context.Background(), PlayOptions{}))
		st := wait(t, e)
		require.Equal(t, StateError, st.State)
		assert.ErrorIs(t, st.Error, skills.ErrNoInteraction)
	})

	t.Run("param reads run inputs", func(t *testing.T) {
		e := newEngine(t, "@param --name topic\n", newRegistry(t))
		require.NoError(t, e.Play(context.Background(), PlayOptions{Inputs: map[string]string{"topic": "go"}}))
		st := wait(t, e)
		require.Equal(t, StateCompleted, st.State)
		assert.Equal(t, "go", st.Variables["topic"])
		assert.Equal(t, []string{"agent: [param] topic = go (input)"}, messages(t, e, "default"))
	})
}

func TestContextSwitchingAcrossBlocks(t *testing.T) {
	doc := "---\ncontext: main\n---\n" +
		"@execute\n```js\n1\n```\n\n" +
		"@context --name side\n\n" +
		"@execute\n```js\n2\n```\n\n" +
		"@context --name main\n"
	e := newEngine(t, doc, newRegistry(t))
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)

	require.Equal(t, StateCompleted, st.State)
	assert.Equal(t, "main", st.Context)
	assert.Equal(t, []string{"agent: [execute] 1", `agent: [context] switched to "main"`}, messages(t, e, "main"))
	assert.Equal(t, []string{`agent: [context] switched to "side"`, "agent: [execute] 2"}, messages(t, e, "side"))
}

func TestEveryAnnotationRecordsMessage(t *testing.T) {
	doc := "@model --name other\n\n" +
		"@execute\n```js\nvar y = 1;\n```\n\n" +
		"@context --name work\n\n" +
		"@param --name topic --default go\n"
	e := newEngine(t, doc, newRegistry(t), WithInvoker(&fakeInvoker{}))
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)
	require.Equal(t, StateCompleted, st.State)

	assert.Equal(t, []string{
		"agent: [model] switched to other",
		"agent: [execute] done",
	}, messages(t, e, "default"))
	assert.Equal(t, []string{
		`agent: [context] switched to "work"`,
		"agent: [param] topic = go (default)",
	}, messages(t, e, "work"))
}

func TestExecuteReturnStatement(t *testing.T) {
	doc := "@execute --variable x\n```js\nreturn 42\n```\n"
	e := newEngine(t, doc, newRegistry(t))
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)

	require.Equal(t, StateCompleted, st.State)
	assert.EqualValues(t, 42, st.Variables["x"])
	assert.Equal(t, []string{"agent: [execute] 42"}, messages(t, e, "default"))
}

func TestTruncationEvent(t *testing.T) {
	m := contexts.NewManager(contexts.WithDefaultBudget(20))
	doc := "@execute\n```js\n'aaaaaaaaaa'\n```\n\n@execute\n```js\n'bbbbbbbbbb'\n```\n"
	e := newEngine(t, doc, newRegistry(t), WithContexts(m))
	events, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	st := wait(t, e)
	require.Equal(t, StateCompleted, st.State)

	var reports []*contexts.TruncateReport
	for _, ev := range drain(events) {
		if ev.Type == EventContextTruncated {
			reports = append(reports, ev.Truncation)
		}
	}
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, "default", last.Context)
	assert.Equal(t, 1, last.Removed)
	assert.Equal(t, []string{"agent: [execute] bbbbbbbbbb"}, messages(t, e, "default"))
}

func TestLoadRefusedWhileRunning(t *testing.T) {
	gate := newGate()
	e := newEngine(t, "@gate\n", newRegistry(t, gate))
	require.NoError(t, e.Play(context.Background(), PlayOptions{}))
	<-gate.started

	err := e.Load(parser.Parse("@execute\n```js\n1\n```\n"))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	gate.release <- struct{}{}
	wait(t, e)
	require.NoError(t, e.Load(parser.Parse("# empty\n")))
	assert.Len(t, e.Document().Blocks, 1)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	e, err := New(parser.Parse("# nothing\n"), skills.NewRegistry())
	require.NoError(t, err)
	events, _ := e.Subscribe()
	require.NoError(t, e.Close())

	_, ok := <-events
	assert.False(t, ok)
}

func TestSubstitutionReachesCode(t *testing.T) {
	doc := "@execute --variable out\n```sh\necho \"${greeting}!\"\n```\n"
	e := newEngine(t, doc, newRegistry(t), WithWorkDir(t.TempDir()))
	require.NoError(t, e.Play(context.Background(), PlayOptions{Inputs: map[string]string{"greeting": "hi there"}}))
	st := wait(t, e)
	require.Equal(t, StateCompleted, st.State)
	assert.Equal(t, "hi there!", strings.TrimSpace(st.Variables["out"].(string)))
}
