package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

const defaultSummaryPrompt = `Summarize the conversation above so it can replace the full history.
Keep every decision, fact, name, number and open question. Drop pleasantries and repetition.
Reply with the summary only.`

// ContextSkill switches, creates, persists and reshapes conversational contexts.
type ContextSkill struct {
	summaryPrompt string
}

// ContextInput are the flags of @context. Operations apply in the order
// restore, new, name, clear, budget, optimize, store.
type ContextInput struct {
	Name     string `json:"name,omitempty" jsonschema:"description=Switch to the named context, creating it when missing"`
	New      bool   `json:"new,omitempty" jsonschema:"description=Switch to a fresh, empty, auto-named context"`
	Store    string `json:"store,omitempty" jsonschema:"description=Save the current context under this key"`
	Restore  string `json:"restore,omitempty" jsonschema:"description=Load the context saved under this key and make it current"`
	Optimize bool   `json:"optimize,omitempty" jsonschema:"description=Replace the current context with a model-written summary"`
	Clear    bool   `json:"clear,omitempty" jsonschema:"description=Remove every message from the current context"`
	Budget   int    `json:"budget,omitempty" jsonschema:"description=Token budget of the current context,minimum=0"`
	Variable string `json:"variable,omitempty" jsonschema:"description=Variable that receives the current context name"`
}

func (s *ContextSkill) Name() string { return "context" }

func (s *ContextSkill) Description() string {
	return `Manage conversational contexts.

--name switches to (or creates) a named context, --new starts an empty auto-named one,
--store/--restore persist a context under a key, --optimize summarizes it with the model,
--clear empties it and --budget sets its token budget.`
}

func (s *ContextSkill) Parameters() *jsonschema.Schema {
	return skills.GenerateSchema[ContextInput]()
}

func (s *ContextSkill) RegisterAsTool() bool { return false }

func (s *ContextSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	var in ContextInput
	if err := skills.Bind(s.Parameters(), params, &in); err != nil {
		return skills.Result{}, err
	}
	if in.New && in.Name != "" {
		return skills.Result{}, errors.New("--new and --name are mutually exclusive")
	}
	if in.Restore != "" && (in.New || in.Name != "") {
		return skills.Result{}, errors.New("--restore cannot be combined with --new or --name")
	}

	m := api.Contexts()
	var actions []string

	if in.Restore != "" {
		c, err := s.restore(ctx, api, in.Restore)
		if err != nil {
			return skills.Result{}, err
		}
		actions = append(actions, fmt.Sprintf("restored %q (%d messages)", c.Name, len(c.Messages)))
	}
	if in.New {
		c := m.New()
		if _, err := m.SwitchTo(c.Name); err != nil {
			return skills.Result{}, err
		}
		actions = append(actions, fmt.Sprintf("created %q", c.Name))
	}
	if in.Name != "" {
		if _, err := m.SwitchTo(in.Name); err != nil {
			return skills.Result{}, errors.Wrapf(err, "failed to switch to context %q", in.Name)
		}
		actions = append(actions, fmt.Sprintf("switched to %q", in.Name))
	}

	current, err := api.Context()
	if err != nil {
		return skills.Result{}, err
	}

	if in.Clear {
		if err := m.Clear(current.Name); err != nil {
			return skills.Result{}, err
		}
		actions = append(actions, fmt.Sprintf("cleared %q", current.Name))
	}
	if _, ok := params["budget"]; ok {
		if err := m.SetBudget(current.Name, in.Budget); err != nil {
			return skills.Result{}, err
		}
		actions = append(actions, fmt.Sprintf("budget of %q set to %d", current.Name, in.Budget))
	}
	if in.Optimize {
		removed, err := s.optimize(ctx, api, current.Name)
		if err != nil {
			return skills.Result{}, err
		}
		actions = append(actions, fmt.Sprintf("optimized %q (%d messages summarized)", current.Name, removed))
	}
	if in.Store != "" {
		if err := s.store(ctx, api, current.Name, in.Store); err != nil {
			return skills.Result{}, err
		}
		actions = append(actions, fmt.Sprintf("stored %q as %q", current.Name, in.Store))
	}

	summary := fmt.Sprintf("current is %q", current.Name)
	if len(actions) > 0 {
		summary = strings.Join(actions, ", ")
		api.Logger().WithField("context", current.Name).Info(summary)
	}
	return skills.Result{
		Value:    current.Name,
		Messages: []contexts.Message{contexts.NewMessage(contexts.RoleAgent, "[context] "+summary)},
	}, nil
}

func (s *ContextSkill) store(ctx context.Context, api skills.API, name, key string) error {
	if err := contexts.ValidateKey(key); err != nil {
		return err
	}
	store := api.Store()
	if store == nil {
		return errors.New("no persistent context store is configured")
	}
	c, err := api.Contexts().Get(name)
	if err != nil {
		return err
	}
	c.Name = key
	return errors.Wrapf(store.Save(ctx, c), "failed to store context %q", key)
}

func (s *ContextSkill) restore(ctx context.Context, api skills.API, key string) (*contexts.Context, error) {
	if err := contexts.ValidateKey(key); err != nil {
		return nil, err
	}
	store := api.Store()
	if store == nil {
		return nil, errors.New("no persistent context store is configured")
	}
	c, err := store.Load(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to restore context %q", key)
	}
	if err := api.Contexts().Load(c); err != nil {
		return nil, err
	}
	return c, nil
}

// optimize replaces the messages of the named context with a single agent
// summary and returns how many messages were summarized.
func (s *ContextSkill) optimize(ctx context.Context, api skills.API, name string) (int, error) {
	c, err := api.Contexts().Get(name)
	if err != nil {
		return 0, err
	}
	if len(c.Messages) == 0 {
		return 0, nil
	}
	resp, err := api.InvokeModel(ctx, llm.Request{
		Messages: skills.WithPrompt(skills.History(c), s.summaryPrompt),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to summarize context")
	}
	summary := contexts.NewMessage(contexts.RoleAgent, "[context summary] "+strings.TrimSpace(resp.Content))
	if err := api.Contexts().Replace(name, []contexts.Message{summary}); err != nil {
		return 0, err
	}
	return len(c.Messages), nil
}
