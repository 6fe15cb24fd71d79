// Package contexts manages the named conversational contexts a playbook run
// threads through its blocks: exactly one is current, messages are
// append-only, and truncation removes the oldest messages first.
package contexts

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAgent     Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleAgent:
		return true
	}
	return false
}

// Message is a single entry in a context.
type Message struct {
	ID        string    `json:"id" yaml:"id" db:"id"`
	Role      Role      `json:"role" yaml:"role" db:"role"`
	Content   string    `json:"content" yaml:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp" db:"created_at"`
}

// NewMessage returns a message stamped with a time-sortable id.
func NewMessage(role Role, content string) Message {
	now := time.Now().UTC()
	return Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
}

// Context is a named, ordered message history.
type Context struct {
	Name        string    `json:"name" yaml:"name"`
	Messages    []Message `json:"messages" yaml:"messages"`
	TokenBudget int       `json:"token_budget,omitempty" yaml:"token_budget,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

func newContext(name string) *Context {
	now := time.Now().UTC()
	return &Context{Name: name, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a deep copy of c.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// Summary is a short listing entry for a context.
type Summary struct {
	Name         string    `json:"name" db:"name"`
	MessageCount int       `json:"message_count" db:"message_count"`
	TokenBudget  int       `json:"token_budget" db:"token_budget"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Summarize returns the listing entry for c.
func (c *Context) Summarize() Summary {
	return Summary{
		Name:         c.Name,
		MessageCount: len(c.Messages),
		TokenBudget:  c.TokenBudget,
		UpdatedAt:    c.UpdatedAt,
	}
}
