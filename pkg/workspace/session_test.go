package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jingkaihe/playbook/pkg/engine"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wordCount = `
var description = "Count words in a variable";
var parameters = {
  type: "object",
  properties: { name: { type: "string" } },
  required: ["name"]
};

function run(params, playbook) {
  var text = String(playbook.variable(params.name) || "");
  return text.split(/\s+/).filter(function (w) { return w.length > 0; }).length;
}
`

type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Model: req.Model, Content: "ok"}, nil
}
func (echoInvoker) CheckModel(context.Context, string) error { return nil }
func (echoInvoker) DefaultModel() string                     { return "echo" }

func testConfig(t *testing.T) (Config, string) {
	t.Helper()
	root := t.TempDir()
	skillDir := filepath.Join(root, "skills")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))

	config := DefaultConfig()
	config.Skills.Dirs = []string{skillDir}
	config.Contexts.Store = "json"
	config.Contexts.Path = filepath.Join(root, "contexts")
	return config, root
}

func openSession(t *testing.T, config Config) *Session {
	t.Helper()
	s, err := Open(context.Background(), config, WithInvoker(echoInvoker{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeDoc(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

func TestOpenRegistersBuiltinsAndLocalSkills(t *testing.T) {
	config, _ := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(config.Skills.Dirs[0], "word-count.js"), []byte(wordCount), 0o644))

	s := openSession(t, config)
	for _, name := range []string{"context", "execute", "task", "word-count"} {
		_, ok := s.Registry().Lookup(name)
		assert.True(t, ok, name)
	}
	require.NotNil(t, s.Store())
	assert.Equal(t, "echo", s.Invoker().DefaultModel())
}

func TestEngineRunsDocumentWithLocalSkill(t *testing.T) {
	config, root := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(config.Skills.Dirs[0], "word-count.js"), []byte(wordCount), 0o644))
	s := openSession(t, config)

	path := filepath.Join(root, "count.md")
	writeDoc(t, path, "---\nvariables:\n  text: one two three\n---\n@word-count --name text --variable n\n\n@context --store counted\n")

	e, err := s.Engine(path)
	require.NoError(t, err)
	again, err := s.Engine(path)
	require.NoError(t, err)
	assert.Same(t, e, again, "one engine per document")

	require.NoError(t, e.Play(context.Background(), engine.PlayOptions{}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := e.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.StateCompleted, st.State, "%v", st.Error)
	assert.EqualValues(t, 3, st.Variables["n"])

	stored, err := s.Store().Load(context.Background(), "counted")
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, "[word-count] 3", stored.Messages[0].Content)

	found, ok := s.FindRun(st.RunID)
	require.True(t, ok)
	assert.Same(t, e, found)
	assert.Equal(t, []string{path}, s.Documents())
}

func TestEngineReloadsEditedDocument(t *testing.T) {
	config, root := testConfig(t)
	s := openSession(t, config)

	path := filepath.Join(root, "doc.md")
	writeDoc(t, path, "# one\n")
	e, err := s.Engine(path)
	require.NoError(t, err)
	assert.Len(t, e.Document().Blocks, 1)

	writeDoc(t, path, "# one\n\n# two\n")
	_, err = s.Engine(path)
	require.NoError(t, err)
	assert.Len(t, e.Document().Blocks, 2)
}

func TestLookupUnopenedDocument(t *testing.T) {
	config, root := testConfig(t)
	s := openSession(t, config)
	_, err := s.Lookup(filepath.Join(root, "missing.md"))
	assert.ErrorIs(t, err, ErrDocumentNotOpen)

	_, err = s.Engine(filepath.Join(root, "missing.md"))
	assert.Error(t, err)
}

func TestRefreshPicksUpNewSkills(t *testing.T) {
	config, _ := testConfig(t)
	s := openSession(t, config)
	_, ok := s.Registry().Lookup("word-count")
	require.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(config.Skills.Dirs[0], "word-count.js"), []byte(wordCount), 0o644))
	require.NoError(t, s.Refresh(context.Background()))
	_, ok = s.Registry().Lookup("word-count")
	assert.True(t, ok)
}

func TestOpenWithoutStore(t *testing.T) {
	config, _ := testConfig(t)
	config.Contexts.Store = "none"
	s := openSession(t, config)
	assert.Nil(t, s.Store())
}

func TestOpenRejectsUnknownSizer(t *testing.T) {
	config, _ := testConfig(t)
	config.Contexts.Sizer = "guess"
	_, err := Open(context.Background(), config, WithInvoker(echoInvoker{}))
	assert.Error(t, err)
}
