package contexts

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrContextNotFound is returned for operations on an unknown context.
	ErrContextNotFound = errors.New("context not found")
	// ErrNoCurrentContext is returned when no context has been selected.
	ErrNoCurrentContext = errors.New("no current context")
	// ErrInvalidName is returned for empty context names.
	ErrInvalidName = errors.New("invalid context name")
)

// Manager owns the contexts of one document. All getters return copies;
// mutation happens only through Manager methods.
type Manager struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	current  string
	sizer    Sizer
	budget   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithSizer sets the sizer used by Truncate and Size.
func WithSizer(s Sizer) Option {
	return func(m *Manager) {
		if s != nil {
			m.sizer = s
		}
	}
}

// WithDefaultBudget sets the budget assigned to newly created contexts.
func WithDefaultBudget(n int) Option {
	return func(m *Manager) {
		m.budget = n
	}
}

// NewManager returns an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		contexts: make(map[string]*Context),
		sizer:    ByteSizer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) create(name string) *Context {
	c := newContext(name)
	c.TokenBudget = m.budget
	m.contexts[name] = c
	return c
}

// GetOrCreate returns the named context, creating it empty if needed.
func (m *Manager) GetOrCreate(name string) (*Context, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[name]
	if !ok {
		c = m.create(name)
	}
	return c.Clone(), nil
}

// Get returns the named context.
func (m *Manager) Get(name string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[name]
	if !ok {
		return nil, errors.Wrapf(ErrContextNotFound, "context %q", name)
	}
	return c.Clone(), nil
}

// New creates a fresh, empty, auto-named context without selecting it.
func (m *Manager) New() *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		name := "context-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
		if _, exists := m.contexts[name]; !exists {
			return m.create(name).Clone()
		}
	}
}

// SwitchTo makes the named context current, creating it if needed. Its
// history is preserved across repeated switches.
func (m *Manager) SwitchTo(name string) (*Context, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[name]
	if !ok {
		c = m.create(name)
	}
	m.current = name
	return c.Clone(), nil
}

// EnsureCurrent selects name when no context is current yet.
func (m *Manager) EnsureCurrent(name string) (*Context, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != "" {
		return m.Current()
	}
	return m.SwitchTo(name)
}

// Current returns the current context.
func (m *Manager) Current() (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == "" {
		return nil, ErrNoCurrentContext
	}
	return m.contexts[m.current].Clone(), nil
}

// CurrentName returns the current context name or "".
func (m *Manager) CurrentName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Append adds msg to the named context.
func (m *Manager) Append(name string, msg Message) error {
	if !msg.Role.Valid() {
		return errors.Errorf("invalid message role %q", msg.Role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[name]
	if !ok {
		return errors.Wrapf(ErrContextNotFound, "context %q", name)
	}
	if msg.ID == "" {
		fresh := NewMessage(msg.Role, msg.Content)
		msg.ID, msg.Timestamp = fresh.ID, fresh.Timestamp
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendCurrent adds msg to the current context.
func (m *Manager) AppendCurrent(msg Message) error {
	name := m.CurrentName()
	if name == "" {
		return ErrNoCurrentContext
	}
	return m.Append(name, msg)
}

// Replace swaps the messages of the named context, used when a context is
// optimized into a summary.
func (m *Manager) Replace(name string, msgs []Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[name]
	if !ok {
		return errors.Wrapf(ErrContextNotFound, "context %q", name)
	}
	c.Messages = append([]Message{}, msgs...)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Load installs c, replacing any context with the same name, and makes it
// current.
func (m *Manager) Load(c *Context) error {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.Name] = c.Clone()
	m.current = c.Name
	return nil
}

// SetBudget sets the token budget of the named context.
func (m *Manager) SetBudget(name string, budget int) error {
	if budget < 0 {
		return errors.Errorf("budget must not be negative, got %d", budget)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[name]
	if !ok {
		return errors.Wrapf(ErrContextNotFound, "context %q", name)
	}
	c.TokenBudget = budget
	return nil
}

// Clear removes every message from the named context.
func (m *Manager) Clear(name string) error {
	return m.Replace(name, nil)
}

// Reset drops all contexts and the current selection.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts = make(map[string]*Context)
	m.current = ""
}

// Names returns all context names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.contexts))
	for name := range m.contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size measures the named context with the configured sizer.
func (m *Manager) Size(name string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[name]
	if !ok {
		return 0, errors.Wrapf(ErrContextNotFound, "context %q", name)
	}
	return m.measure(c.Messages), nil
}

func (m *Manager) measure(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		total += m.sizer.Size(msg.Content)
	}
	return total
}
