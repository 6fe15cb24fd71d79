// Package llm provides thin model provider adapters behind a single Invoker.
// Playbook skills only ever send a system prompt plus a flat user/assistant
// history and read back text, so the adapters stay deliberately small.
package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Message roles understood by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrModelUnavailable is returned when a model cannot be served by any configured provider.
var ErrModelUnavailable = errors.New("model unavailable")

// Message is a single turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a one-shot completion request.
type Request struct {
	Model     string    `json:"model,omitempty"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Usage reports token consumption for a single request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the text reply from a provider.
type Response struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Invoker sends requests to a model. Implementations must be safe for concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	// CheckModel returns ErrModelUnavailable when name cannot be served.
	CheckModel(ctx context.Context, name string) error
	DefaultModel() string
}

// Provider is a single model vendor.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ModelLister is implemented by providers that can enumerate the models
// available to the configured account.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// SplitModel splits "provider/model" into its parts. A bare model name
// returns an empty provider.
func SplitModel(name string) (provider, model string) {
	name = strings.TrimSpace(name)
	if i := strings.Index(name, "/"); i > 0 {
		switch p := strings.ToLower(name[:i]); p {
		case "anthropic", "openai", "google":
			return p, name[i+1:]
		}
	}
	return "", name
}

// InferProvider guesses the vendor of a bare model name.
func InferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	}
	return ""
}
