package skills

import (
	"context"
	"strings"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
)

// History converts a context into model messages. Agent messages are sent
// as user turns and consecutive turns of the same role are merged so the
// result always alternates.
func History(c *contexts.Context) []llm.Message {
	if c == nil {
		return nil
	}
	var out []llm.Message
	for _, m := range c.Messages {
		role := llm.RoleUser
		content := m.Content
		switch m.Role {
		case contexts.RoleAssistant:
			role = llm.RoleAssistant
		case contexts.RoleAgent:
			content = "[agent] " + content
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out
}

// Ask sends prompt after the current context history and returns the reply
// as Value together with the user/assistant pair to record.
func Ask(ctx context.Context, api API, model, system, prompt string) (Result, error) {
	current, err := api.Context()
	if err != nil {
		return Result{}, err
	}
	resp, err := api.InvokeModel(ctx, llm.Request{
		Model:    model,
		System:   system,
		Messages: WithPrompt(History(current), prompt),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Value: resp.Content,
		Messages: []contexts.Message{
			contexts.NewMessage(contexts.RoleUser, prompt),
			contexts.NewMessage(contexts.RoleAssistant, resp.Content),
		},
	}, nil
}

// WithPrompt appends a user prompt to history, merging it into a trailing user turn.
func WithPrompt(history []llm.Message, prompt string) []llm.Message {
	out := append([]llm.Message(nil), history...)
	if n := len(out); n > 0 && out[n-1].Role == llm.RoleUser {
		out[n-1].Content = strings.TrimRight(out[n-1].Content, "\n") + "\n\n" + prompt
		return out
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: prompt})
}
