package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

// AnthropicProvider talks to the Anthropic Messages API. The API key is read
// from ANTHROPIC_API_KEY by the SDK.
type AnthropicProvider struct {
	client anthropic.Client
}

var _ ModelLister = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates the adapter.
func NewAnthropicProvider(_ Config) (Provider, error) {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithMaxRetries(0)),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// ListModels returns the IDs of the models the API key can use.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	iter := p.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		models = append(models, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "error listing Anthropic models")
	}
	return models, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		MaxTokens: int64(req.MaxTokens),
		Model:     anthropic.Model(req.Model),
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "error sending message to Anthropic")
	}

	var out strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return &Response{
		Model:   string(response.Model),
		Content: out.String(),
		Usage: Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}
