// Package builtin provides the skills every playbook session starts with:
// context, model, task, execute, file, input, file-picker, document, param
// and link.
package builtin

import (
	"net/http"
	"time"

	"github.com/jingkaihe/playbook/pkg/codeexec"
	"github.com/jingkaihe/playbook/pkg/skills"
)

// MaxOutputBytes bounds file and link content added to a context.
const MaxOutputBytes = 100_000

type config struct {
	executor      *codeexec.Executor
	httpClient    *http.Client
	domains       *DomainFilter
	summaryPrompt string
}

// Option configures the built-in skills.
type Option func(*config)

// WithExecutor sets the executor used by the execute skill.
func WithExecutor(e *codeexec.Executor) Option {
	return func(c *config) { c.executor = e }
}

// WithHTTPClient sets the client used by the link skill.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// WithDomainFilter restricts the hosts the link skill may fetch.
func WithDomainFilter(f *DomainFilter) Option {
	return func(c *config) { c.domains = f }
}

// WithSummaryPrompt overrides the instruction used by context --optimize.
func WithSummaryPrompt(prompt string) Option {
	return func(c *config) { c.summaryPrompt = prompt }
}

// All returns a fresh instance of every built-in skill.
func All(opts ...Option) []skills.Skill {
	cfg := &config{
		summaryPrompt: defaultSummaryPrompt,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.executor == nil {
		cfg.executor = codeexec.NewExecutor()
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return []skills.Skill{
		&ContextSkill{summaryPrompt: cfg.summaryPrompt},
		&ModelSkill{},
		&TaskSkill{},
		&ExecuteSkill{executor: cfg.executor},
		&FileSkill{},
		&InputSkill{},
		&FilePickerSkill{},
		&DocumentSkill{},
		&ParamSkill{},
		&LinkSkill{client: cfg.httpClient, domains: cfg.domains},
	}
}

// Register adds every built-in skill to r.
func Register(r *skills.Registry, opts ...Option) error {
	for _, s := range All(opts...) {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
