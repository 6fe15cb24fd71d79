package llm

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

// GoogleProvider talks to Gemini through either the Gemini API or Vertex AI.
type GoogleProvider struct {
	client *genai.Client
}

var _ ModelLister = (*GoogleProvider)(nil)

func detectBackend(config GoogleConfig) string {
	if config.Backend != "" {
		return config.Backend
	}
	if config.Project != "" || os.Getenv("GOOGLE_CLOUD_PROJECT") != "" {
		return "vertexai"
	}
	return "gemini"
}

// NewGoogleProvider creates the adapter.
func NewGoogleProvider(config Config) (Provider, error) {
	clientConfig := &genai.ClientConfig{}
	switch detectBackend(config.Google) {
	case "vertexai":
		clientConfig.Backend = genai.BackendVertexAI
		clientConfig.Project = config.Google.Project
		clientConfig.Location = config.Google.Location
	default:
		clientConfig.Backend = genai.BackendGeminiAPI
		clientConfig.APIKey = config.Google.APIKey
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google GenAI client")
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

// ListModels returns model names with their resource prefix removed, so
// "models/gemini-2.5-pro" is reported as "gemini-2.5-pro".
func (p *GoogleProvider) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, errors.Wrap(err, "error listing Google models")
		}
		name := m.Name
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		models = append(models, name)
	}
	return models, nil
}

func (p *GoogleProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleAssistant {
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		} else {
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	response, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, errors.Wrap(err, "error sending message to Google GenAI")
	}

	out := &Response{Model: req.Model, Content: response.Text()}
	if response.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(response.UsageMetadata.PromptTokenCount),
			OutputTokens: int(response.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
