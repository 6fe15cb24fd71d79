package skills_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/skills/skilltest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcSkill struct {
	name string
	fn   func(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error)
}

func (s *funcSkill) Name() string                   { return s.name }
func (s *funcSkill) Description() string            { return "test skill" }
func (s *funcSkill) Parameters() *jsonschema.Schema { return nil }
func (s *funcSkill) RegisterAsTool() bool           { return false }
func (s *funcSkill) Execute(ctx context.Context, api skills.API, params skills.Params) (skills.Result, error) {
	return s.fn(ctx, api, params)
}

func write(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	return path
}

func TestRunRecordsValueAsAgentMessage(t *testing.T) {
	api := skilltest.New()
	s := &funcSkill{name: "count", fn: func(context.Context, skills.API, skills.Params) (skills.Result, error) {
		return skills.Result{Value: map[string]any{"n": 3}}, nil
	}}

	res, err := skills.Run(context.Background(), s, api, nil)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, contexts.RoleAgent, res.Messages[0].Role)
	assert.Equal(t, `[count] {"n":3}`, res.Messages[0].Content)
}

func TestRunRecordsSkillWithoutValue(t *testing.T) {
	api := skilltest.New()
	s := &funcSkill{name: "noop", fn: func(context.Context, skills.API, skills.Params) (skills.Result, error) {
		return skills.Result{}, nil
	}}
	res, err := skills.Run(context.Background(), s, api, nil)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, contexts.RoleAgent, res.Messages[0].Role)
	assert.Equal(t, "[noop] done", res.Messages[0].Content)
}

func TestRunKeepsExplicitMessages(t *testing.T) {
	api := skilltest.New()
	s := &funcSkill{name: "switch", fn: func(context.Context, skills.API, skills.Params) (skills.Result, error) {
		return skills.Result{
			Value:    "research",
			Messages: []contexts.Message{contexts.NewMessage(contexts.RoleAgent, "[switch] now research")},
		}, nil
	}}
	res, err := skills.Run(context.Background(), s, api, nil)
	require.NoError(t, err)
	assert.Equal(t, "research", res.Value)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "[switch] now research", res.Messages[0].Content)
}

func TestRunRecoversPanics(t *testing.T) {
	api := skilltest.New()
	s := &funcSkill{name: "boom", fn: func(context.Context, skills.API, skills.Params) (skills.Result, error) {
		panic("kaboom")
	}}

	_, err := skills.Run(context.Background(), s, api, nil)
	require.Error(t, err)
	var pe *skills.PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "boom", pe.Skill)
	assert.Contains(t, err.Error(), "kaboom")
	assert.NotEmpty(t, pe.Stack)
}

func TestPromptSkillExecute(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "review/SKILL.md", `---
name: review
description: Review code
model: anthropic/claude-haiku-4-5
system: You are a careful reviewer.
parameters:
  - name: focus
    required: true
---
Review the code focusing on {{focus}}.
`, 0o644)
	skill, err := skills.LoadPromptSkill(path)
	require.NoError(t, err)

	api := skilltest.New()
	require.NoError(t, api.AppendMessage(contexts.RoleUser, "func add(a, b int) int { return a - b }"))
	require.NoError(t, api.AppendMessage(contexts.RoleAgent, "[file] loaded add.go"))

	res, err := skills.Run(context.Background(), skill, api, skills.Params{"focus": "correctness"})
	require.NoError(t, err)

	require.Len(t, api.Requests, 1)
	req := api.Requests[0]
	assert.Equal(t, "anthropic/claude-haiku-4-5", req.Model)
	assert.Equal(t, "You are a careful reviewer.", req.System)
	require.Len(t, req.Messages, 1, "user and agent turns merge into one")
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "[agent] [file] loaded add.go")
	assert.True(t, strings.HasSuffix(req.Messages[0].Content, "Review the code focusing on correctness."))

	require.Len(t, res.Messages, 2)
	assert.Equal(t, contexts.RoleUser, res.Messages[0].Role)
	assert.Equal(t, "Review the code focusing on correctness.", res.Messages[0].Content)
	assert.Equal(t, contexts.RoleAssistant, res.Messages[1].Role)
	assert.Equal(t, res.Value, res.Messages[1].Content)

	_, err = skills.Run(context.Background(), skill, api, skills.Params{})
	assert.ErrorIs(t, err, skills.ErrInvalidParams)
	assert.Len(t, api.Requests, 1, "invalid flags never reach the model")
}

func TestJavaScriptSkillExecute(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "notes.js", `
var description = "Summarize notes through the host API";
var parameters = {
  type: "object",
  properties: { topic: { type: "string" }, limit: { type: "integer" } },
  required: ["topic"],
  additionalProperties: false
};

function run(params, playbook) {
  var notes = playbook.variable("notes");
  var history = playbook.context();
  playbook.append("agent", "notes on " + params.topic);
  var reply = playbook.ask("Summarize: " + notes);
  return { topic: params.topic, limit: params.limit, turns: history.length, reply: reply, dir: playbook.workDir };
}
`, 0o644)
	skill, err := skills.LoadJavaScriptSkill(path)
	require.NoError(t, err)
	assert.Equal(t, "notes", skill.Name())

	api := skilltest.New()
	api.Dir = dir
	api.Vars.Set("notes", "buy milk")
	require.NoError(t, api.AppendMessage(contexts.RoleUser, "hello"))

	res, err := skills.Run(context.Background(), skill, api, skills.Params{"topic": "shopping", "limit": "2"})
	require.NoError(t, err)

	value, ok := res.Value.(map[string]any)
	require.True(t, ok, "got %T", res.Value)
	assert.Equal(t, "shopping", value["topic"])
	assert.EqualValues(t, 2, value["limit"])
	assert.EqualValues(t, 1, value["turns"])
	assert.Equal(t, "echo: Summarize: buy milk", value["reply"])
	assert.Equal(t, dir, value["dir"])

	assert.Equal(t, []string{"user: hello", "agent: notes on shopping"}, api.Messages())

	_, err = skills.Run(context.Background(), skill, api, skills.Params{"topic": "x", "colour": "red"})
	assert.ErrorIs(t, err, skills.ErrInvalidParams)
}

func TestJavaScriptSkillErrors(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "fail.js", `
var description = "Always fails";
function run(params, playbook) {
  if (params.mode === "input") {
    return playbook.input("name?");
  }
  throw new Error("nope");
}
`, 0o644)
	skill, err := skills.LoadJavaScriptSkill(path)
	require.NoError(t, err)

	api := skilltest.New()
	_, err = skills.Run(context.Background(), skill, api, skills.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	_, err = skills.Run(context.Background(), skill, api, skills.Params{"mode": "input"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), skills.ErrNoInteraction.Error())

	api.Answers = []string{"Ada"}
	res, err := skills.Run(context.Background(), skill, api, skills.Params{"mode": "input"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", res.Value)
	assert.Equal(t, []string{"name?", "name?"}, api.Prompts)
}

func TestJavaScriptSkillCancellation(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "spin.js", `
var description = "Spins forever";
function run() { for (;;) {} }
`, 0o644)
	skill, err := skills.LoadJavaScriptSkill(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = skills.Run(ctx, skill, skilltest.New(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutableSkillExecute(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	dir := t.TempDir()
	path := write(t, dir, "greet", `#!/bin/sh
case "$1" in
  description)
    echo '{"name": "greet", "description": "Greets", "register_as_tool": false}'
    ;;
  run)
    input=$(cat)
    case "$input" in
      *fail*) echo '{"error": "asked to fail"}' ;;
      *crash*) echo "crashed hard" >&2; exit 2 ;;
      *json*) echo '{"greeting": "hi", "cwd": "'"$(pwd)"'"}' ;;
      *) echo "hello $input" ;;
    esac
    ;;
esac
`, 0o755)

	ctx := context.Background()
	skill, err := skills.LoadExecutableSkill(ctx, path, 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, "greet", skill.Name())
	assert.False(t, skill.RegisterAsTool())
	assert.Nil(t, skill.Parameters())

	api := skilltest.New()
	api.Dir = dir

	res, err := skills.Run(ctx, skill, api, skills.Params{"who": "world"})
	require.NoError(t, err)
	assert.Equal(t, `hello {"who":"world"}`, res.Value)

	res, err = skills.Run(ctx, skill, api, skills.Params{"mode": "json"})
	require.NoError(t, err)
	value, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", value["greeting"])
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir, resolved}, value["cwd"])

	_, err = skills.Run(ctx, skill, api, skills.Params{"mode": "fail"})
	require.Error(t, err)
	assert.Equal(t, "asked to fail", err.Error())

	_, err = skills.Run(ctx, skill, api, skills.Params{"mode": "crash"})
	require.Error(t, err)
	assert.Equal(t, "crashed hard", err.Error())
}

func TestHistoryAlternatesRoles(t *testing.T) {
	c := &contexts.Context{Name: "default"}
	c.Messages = []contexts.Message{
		contexts.NewMessage(contexts.RoleUser, "a"),
		contexts.NewMessage(contexts.RoleAgent, "b"),
		contexts.NewMessage(contexts.RoleAssistant, "c"),
		contexts.NewMessage(contexts.RoleAssistant, "d"),
		contexts.NewMessage(contexts.RoleUser, "e"),
	}
	got := skills.History(c)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "a\n\n[agent] b"},
		{Role: llm.RoleAssistant, Content: "c\n\nd"},
		{Role: llm.RoleUser, Content: "e"},
	}, got)

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "a\n\n[agent] b"},
		{Role: llm.RoleAssistant, Content: "c\n\nd"},
		{Role: llm.RoleUser, Content: "e\n\nnext"},
	}, skills.WithPrompt(got, "next"))
	assert.Nil(t, skills.History(nil))
}
