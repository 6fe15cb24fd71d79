package skills

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/pkg/errors"
)

var (
	// ErrSkillNotFound is returned by Resolve for unknown names.
	ErrSkillNotFound = errors.New("skill not found")
	// ErrDuplicateSkill is returned when a built-in name is registered twice.
	ErrDuplicateSkill = errors.New("skill already registered")
)

type snapshot struct {
	entries map[string]Entry
}

// Registry maps skill names to skills. Readers always see one immutable
// snapshot; writers build a new snapshot and swap it in.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{entries: map[string]Entry{}})
	return r
}

func (r *Registry) load() *snapshot {
	return r.current.Load()
}

// Register adds a built-in skill.
func (r *Registry) Register(s Skill) error {
	if s == nil || s.Name() == "" {
		return errors.New("skill must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.load()
	if e, ok := old.entries[s.Name()]; ok && e.Provenance == Builtin {
		return errors.Wrapf(ErrDuplicateSkill, "%s", s.Name())
	}
	next := &snapshot{entries: make(map[string]Entry, len(old.entries)+1)}
	for k, v := range old.entries {
		next.entries[k] = v
	}
	next.entries[s.Name()] = Entry{Skill: s, Provenance: Builtin, Kind: "builtin"}
	r.current.Store(next)
	return nil
}

// MustRegister is Register for init-time wiring.
func (r *Registry) MustRegister(skills ...Skill) {
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// ReplaceLocal atomically swaps every local entry for the given set. Local
// entries whose name collides with a built-in are dropped.
func (r *Registry) ReplaceLocal(ctx context.Context, local []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.load()
	next := &snapshot{entries: make(map[string]Entry, len(old.entries)+len(local))}
	for k, v := range old.entries {
		if v.Provenance == Builtin {
			next.entries[k] = v
		}
	}
	for _, e := range local {
		name := e.Skill.Name()
		if existing, ok := next.entries[name]; ok {
			if existing.Provenance == Builtin {
				logger.G(ctx).WithField("skill", name).WithField("source", e.Source).Warn("local skill shadows a built-in skill and is ignored")
			}
			continue
		}
		e.Provenance = Local
		next.entries[name] = e
	}
	r.current.Store(next)
	logger.G(ctx).WithField("count", len(local)).Debug("replaced local skills")
}

// Resolve returns the skill registered under name.
func (r *Registry) Resolve(name string) (Skill, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrSkillNotFound, "@%s", name)
	}
	return e.Skill, nil
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.load().entries[name]
	return e, ok
}

// List returns every entry sorted by name.
func (r *Registry) List() []Entry {
	snap := r.load()
	out := make([]Entry, 0, len(snap.entries))
	for _, e := range snap.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Skill.Name() < out[j].Skill.Name() })
	return out
}

// ListExposed returns the skills that register as tools, sorted by name.
func (r *Registry) ListExposed() []Skill {
	var out []Skill
	for _, e := range r.List() {
		if e.Skill.RegisterAsTool() {
			out = append(out, e.Skill)
		}
	}
	return out
}
