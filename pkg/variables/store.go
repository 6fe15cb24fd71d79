// Package variables holds the run-scoped variable store and the `${name}`
// substitution applied to annotation flags and attached code.
package variables

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jingkaihe/playbook/pkg/logger"
)

var referencePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_\-]*(?:\.[A-Za-z0-9_\-]+)*)\}`)

// Store maps variable names to string or structured values.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

func (s *Store) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
}

// Clear removes every variable.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any)
}

// Snapshot returns a shallow copy of the store.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Names returns the variable names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a dotted path such as `user.address.city` or `items.0`
// against the store.
func (s *Store) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	v, ok := s.Get(parts[0])
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		v, ok = field(v, p)
		if !ok {
			return nil, false
		}
	}
	return v, true
}

func field(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		f, ok := t[key]
		return f, ok
	case map[string]string:
		f, ok := t[key]
		return f, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case []string:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return nil, false
		}
		if _, isString := decoded.(string); isString {
			return nil, false
		}
		return field(decoded, key)
	default:
		return nil, false
	}
}

// Substitute replaces every resolvable `${ref}` in text. Unresolved
// references are left verbatim and logged.
func (s *Store) Substitute(ctx context.Context, text string) string {
	if !strings.Contains(text, "${") {
		return text
	}
	return referencePattern.ReplaceAllStringFunc(text, func(m string) string {
		ref := m[2 : len(m)-1]
		v, ok := s.Lookup(ref)
		if !ok {
			logger.G(ctx).WithField("variable", ref).Warn("unresolved variable reference left as-is")
			return m
		}
		return Stringify(v)
	})
}

// References lists the distinct variable references in text, in order of
// first appearance.
func References(text string) []string {
	var (
		refs []string
		seen = map[string]bool{}
	)
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	return refs
}

// Stringify renders a variable value for substitution. Strings are used
// as-is and structured values are encoded as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool, int, int32, int64, float32, float64, uint, uint32, uint64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
