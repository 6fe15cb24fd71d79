package control

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

// ErrPromptNotFound is returned when answering a prompt that is not pending.
var ErrPromptNotFound = errors.New("prompt not found")

// Prompt is a pending request for user input.
type Prompt struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	Candidates []string  `json:"candidates,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	answer chan string
}

// Prompts is a skills.Interactor answered over the control API. Each
// request blocks until answered or until its context is cancelled.
type Prompts struct {
	mu      sync.Mutex
	pending map[string]*Prompt
}

var _ skills.Interactor = (*Prompts)(nil)

// NewPrompts creates an empty prompt broker.
func NewPrompts() *Prompts {
	return &Prompts{pending: make(map[string]*Prompt)}
}

func (p *Prompts) RequestInput(ctx context.Context, message string) (string, error) {
	return p.ask(ctx, message, nil)
}

func (p *Prompts) PickFile(ctx context.Context, message string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no files to pick from")
	}
	answer, err := p.ask(ctx, message, candidates)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if c == answer {
			return answer, nil
		}
	}
	return "", errors.Errorf("%q is not one of the offered files", answer)
}

func (p *Prompts) ask(ctx context.Context, message string, candidates []string) (string, error) {
	prompt := &Prompt{
		ID:         uuid.NewString(),
		Message:    message,
		Candidates: candidates,
		CreatedAt:  time.Now().UTC(),
		answer:     make(chan string, 1),
	}
	p.mu.Lock()
	p.pending[prompt.ID] = prompt
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, prompt.ID)
		p.mu.Unlock()
	}()

	select {
	case a := <-prompt.answer:
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending lists unanswered prompts, oldest first.
func (p *Prompts) Pending() []Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Prompt, 0, len(p.pending))
	for _, prompt := range p.pending {
		out = append(out, *prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Answer delivers the answer to a pending prompt.
func (p *Prompts) Answer(id, answer string) error {
	p.mu.Lock()
	prompt, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrPromptNotFound, "%s", id)
	}
	prompt.answer <- answer
	return nil
}
