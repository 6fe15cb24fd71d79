package skills

import (
	"context"
	"sync"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSkill struct {
	name   string
	tool   bool
	schema *jsonschema.Schema
	exec   func(ctx context.Context, api API, params Params) (Result, error)
}

func (s *stubSkill) Name() string                   { return s.name }
func (s *stubSkill) Description() string            { return "stub " + s.name }
func (s *stubSkill) Parameters() *jsonschema.Schema { return s.schema }
func (s *stubSkill) RegisterAsTool() bool           { return s.tool }
func (s *stubSkill) Execute(ctx context.Context, api API, params Params) (Result, error) {
	if s.exec != nil {
		return s.exec(ctx, api, params)
	}
	return Result{}, nil
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Skill.Name())
	}
	return out
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubSkill{name: "task", tool: true}))
	assert.ErrorIs(t, r.Register(&stubSkill{name: "task"}), ErrDuplicateSkill)
	assert.Error(t, r.Register(&stubSkill{}))

	s, err := r.Resolve("task")
	require.NoError(t, err)
	assert.Equal(t, "task", s.Name())

	_, err = r.Resolve("missing")
	assert.ErrorIs(t, err, ErrSkillNotFound)
}

func TestListExposedHonoursRegisterAsTool(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		&stubSkill{name: "zeta", tool: true},
		&stubSkill{name: "context", tool: false},
		&stubSkill{name: "alpha", tool: true},
	)
	r.ReplaceLocal(context.Background(), []Entry{
		{Skill: &stubSkill{name: "hidden", tool: false}},
		{Skill: &stubSkill{name: "beta", tool: true}},
	})

	var exposed []string
	for _, s := range r.ListExposed() {
		exposed = append(exposed, s.Name())
	}
	assert.Equal(t, []string{"alpha", "beta", "zeta"}, exposed)
	assert.Equal(t, []string{"alpha", "beta", "context", "hidden", "zeta"}, names(r.List()))
}

func TestReplaceLocalSwapsOnlyLocalEntries(t *testing.T) {
	r := NewRegistry()
	builtin := &stubSkill{name: "task"}
	r.MustRegister(builtin)

	r.ReplaceLocal(context.Background(), []Entry{
		{Skill: &stubSkill{name: "summarize"}, Source: "a/SKILL.md"},
		{Skill: &stubSkill{name: "task"}, Source: "shadow.js"},
	})
	s, err := r.Resolve("task")
	require.NoError(t, err)
	assert.Same(t, builtin, s, "built-ins win over local skills")

	e, ok := r.Lookup("summarize")
	require.True(t, ok)
	assert.Equal(t, Local, e.Provenance)

	r.ReplaceLocal(context.Background(), []Entry{{Skill: &stubSkill{name: "translate"}}})
	_, err = r.Resolve("summarize")
	assert.ErrorIs(t, err, ErrSkillNotFound)
	_, err = r.Resolve("translate")
	assert.NoError(t, err)
	e, _ = r.Lookup("task")
	assert.Equal(t, Builtin, e.Provenance)
}

func TestRegistryConcurrentReadsSeeCompleteSnapshots(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubSkill{name: "task"})
	setA := []Entry{{Skill: &stubSkill{name: "a1"}}, {Skill: &stubSkill{name: "a2"}}}
	setB := []Entry{{Skill: &stubSkill{name: "b1"}}, {Skill: &stubSkill{name: "b2"}}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				r.ReplaceLocal(context.Background(), setA)
			} else {
				r.ReplaceLocal(context.Background(), setB)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		got := names(r.List())
		switch len(got) {
		case 1:
			assert.Equal(t, []string{"task"}, got)
		case 3:
			ok := assert.ObjectsAreEqual([]string{"a1", "a2", "task"}, got) ||
				assert.ObjectsAreEqual([]string{"b1", "b2", "task"}, got)
			assert.True(t, ok, "mixed snapshot %v", got)
		default:
			t.Fatalf("unexpected snapshot %v", got)
		}
	}
	wg.Wait()
}
