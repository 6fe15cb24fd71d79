package engine

import (
	"sync"
	"time"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/oklog/ulid/v2"
)

// EventType names what happened.
type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventBlockStarted     EventType = "block_started"
	EventBlockFinished    EventType = "block_finished"
	EventBlockSkipped     EventType = "block_skipped"
	EventContextTruncated EventType = "context_truncated"
)

// Event is published for the external UI. Block and Line are -1 for
// run-level events.
type Event struct {
	ID         string                   `json:"id"`
	Type       EventType                `json:"type"`
	RunID      string                   `json:"run_id"`
	State      RunState                 `json:"state"`
	Block      int                      `json:"block"`
	Line       int                      `json:"line"`
	Skill      string                   `json:"skill,omitempty"`
	Variable   string                   `json:"variable,omitempty"`
	Error      *Error                   `json:"error,omitempty"`
	Truncation *contexts.TruncateReport `json:"truncation,omitempty"`
	Time       time.Time                `json:"time"`
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func newBus() *bus {
	return &bus{subscribers: make(map[string]chan Event)}
}

func (b *bus) subscribe(bufSize int) (string, <-chan Event) {
	id := ulid.Make().String()
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *bus) unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *bus) publish(event Event) {
	event.ID = ulid.Make().String()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
