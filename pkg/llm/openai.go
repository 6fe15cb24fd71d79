package llm

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to the chat completions API of OpenAI or a compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
}

var _ ModelLister = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates the adapter. The key comes from OPENAI_API_KEY
// unless openai.api_key_env names another variable.
func NewOpenAIProvider(config Config) (Provider, error) {
	keyEnv := config.OpenAI.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" && config.OpenAI.BaseURL == "" {
		return nil, errors.Errorf("%s environment variable is required", keyEnv)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if config.OpenAI.BaseURL != "" {
		clientConfig.BaseURL = config.OpenAI.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientConfig)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// ListModels returns the IDs served by the endpoint.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error listing OpenAI models")
	}
	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	return models, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	response, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error sending message to OpenAI")
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("OpenAI returned no choices")
	}
	return &Response{
		Model:   response.Model,
		Content: response.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		},
	}, nil
}
