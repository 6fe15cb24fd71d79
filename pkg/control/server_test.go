package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jingkaihe/playbook/pkg/engine"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInvoker struct{}

func (stubInvoker) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Model: req.Model, Content: "done"}, nil
}
func (stubInvoker) CheckModel(context.Context, string) error { return nil }
func (stubInvoker) DefaultModel() string                     { return "stub" }

func newTestServer(t *testing.T) (*Server, *Prompts, string) {
	t.Helper()
	root := t.TempDir()
	config := workspace.DefaultConfig()
	config.Skills.Dirs = []string{filepath.Join(root, "skills")}
	config.Contexts.Store = "none"

	prompts := NewPrompts()
	session, err := workspace.Open(context.Background(), config,
		workspace.WithInvoker(stubInvoker{}),
		workspace.WithInteractor(prompts),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	s, err := NewServer(&ServerConfig{Host: "localhost", Port: 8080}, session, prompts)
	require.NoError(t, err)
	return s, prompts, root
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, payload)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func waitForPrompt(t *testing.T, p *Prompts) Prompt {
	t.Helper()
	var pending []Prompt
	require.Eventually(t, func() bool {
		pending = p.Pending()
		return len(pending) > 0
	}, 5*time.Second, 10*time.Millisecond)
	return pending[0]
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr string
	}{
		{name: "valid", config: ServerConfig{Host: "localhost", Port: 8080}},
		{name: "empty host", config: ServerConfig{Port: 8080}, wantErr: "host cannot be empty"},
		{name: "port too low", config: ServerConfig{Host: "localhost"}, wantErr: "port must be between"},
		{name: "port too high", config: ServerConfig{Host: "localhost", Port: 70000}, wantErr: "port must be between"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDiagnostics(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, "POST", "/api/diagnostics", DiagnosticsRequest{
		Text: "@task --prompt \"hi\n\n@conjure --thing x\n",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DiagnosticsResponse](t, w)

	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, 0, resp.Errors[0].StartLine)
	require.Len(t, resp.Unknown, 1)
	assert.Equal(t, 2, resp.Unknown[0].Line)
	assert.NotEmpty(t, resp.Tokens)
}

func TestPlayParseErrorIsUnprocessable(t *testing.T) {
	s, _, root := newTestServer(t)
	w := do(t, s, "POST", "/api/runs", PlayRequest{
		Path: filepath.Join(root, "broken.md"),
		Text: "@execute\n\njust prose\n",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"parse"`)
}

func TestPlayRequiresPath(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, "POST", "/api/runs", PlayRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, "POST", "/api/runs", PlayRequest{Path: "/does/not/exist.md"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunLifecycle(t *testing.T) {
	s, prompts, root := newTestServer(t)
	path := filepath.Join(root, "hello.md")
	require.NoError(t, os.WriteFile(path, []byte("@input --prompt \"Name?\" --variable name\n\n@task --prompt \"greet ${name}\" --variable greeting\n"), 0o644))

	w := do(t, s, "POST", "/api/runs", PlayRequest{Path: path})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := decode[engine.Status](t, w)
	require.NotEmpty(t, started.RunID)

	w = do(t, s, "POST", "/api/runs", PlayRequest{Path: path})
	assert.Equal(t, http.StatusConflict, w.Code, "a running document cannot be played again")

	prompt := waitForPrompt(t, prompts)
	assert.Equal(t, "Name?", prompt.Message)

	w = do(t, s, "POST", "/api/prompts/"+prompt.ID, AnswerRequest{Answer: "Ada"})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s, "POST", "/api/prompts/"+prompt.ID, AnswerRequest{Answer: "again"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var st engine.Status
	require.Eventually(t, func() bool {
		w := do(t, s, "GET", "/api/runs/"+started.RunID, nil)
		st = decode[engine.Status](t, w)
		return st.State == engine.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Ada", st.Variables["name"])
	assert.Equal(t, "done", st.Variables["greeting"])

	w = do(t, s, "POST", "/api/runs/"+started.RunID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, "GET", "/api/runs/"+started.RunID+"/contexts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ctxs := decode[ContextsResponse](t, w)
	assert.Equal(t, "default", ctxs.Current)
	require.Len(t, ctxs.Contexts, 1)
	assert.Equal(t, 3, ctxs.Contexts[0].MessageCount)

	w = do(t, s, "GET", "/api/runs/"+started.RunID+"/contexts/default", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, "GET", "/api/runs/"+started.RunID+"/contexts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopRun(t *testing.T) {
	s, prompts, root := newTestServer(t)
	w := do(t, s, "POST", "/api/runs", PlayRequest{
		Path: filepath.Join(root, "wait.md"),
		Text: "@input --prompt \"Wait\"\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[engine.Status](t, w).RunID
	waitForPrompt(t, prompts)

	w = do(t, s, "POST", "/api/runs/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, engine.StateStopped, decode[engine.Status](t, w).State)

	require.Eventually(t, func() bool { return len(prompts.Pending()) == 0 }, 5*time.Second, 10*time.Millisecond,
		"stopping cancels the pending prompt")
}

func TestUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, "GET", "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, s, "POST", "/api/runs/nope/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSkills(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s, "GET", "/api/skills", nil)
	require.Equal(t, http.StatusOK, w.Code)
	infos := decode[[]SkillInfo](t, w)

	byName := map[string]SkillInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}
	require.Contains(t, byName, "task")
	assert.True(t, byName["task"].Exposed)
	assert.Equal(t, "builtin", string(byName["task"].Provenance))
	assert.False(t, byName["context"].Exposed)

	w = do(t, s, "POST", "/api/skills/refresh", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEventStream(t *testing.T) {
	s, prompts, root := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	w := do(t, s, "POST", "/api/runs", PlayRequest{
		Path: filepath.Join(root, "stream.md"),
		Text: "@input --prompt \"Go?\" --variable ok\n",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[engine.Status](t, w).RunID

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/runs/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var names []string
	answered := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		name := strings.TrimPrefix(line, "event: ")
		names = append(names, name)
		if name == "status" && !answered {
			prompt := waitForPrompt(t, prompts)
			require.NoError(t, prompts.Answer(prompt.ID, "yes"))
			answered = true
		}
		if name == string(engine.EventBlockFinished) {
			break
		}
	}
	require.NotEmpty(t, names)
	assert.Equal(t, "status", names[0])
	assert.Contains(t, names, string(engine.EventBlockFinished))
}

func TestPromptsPickFile(t *testing.T) {
	p := NewPrompts()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.PickFile(ctx, "Pick", []string{"a.md", "b.md"})
		done <- err
	}()
	prompt := waitForPrompt(t, p)
	assert.Equal(t, []string{"a.md", "b.md"}, prompt.Candidates)
	require.NoError(t, p.Answer(prompt.ID, "c.md"))
	assert.Error(t, <-done, "answers must be one of the candidates")

	_, err := p.PickFile(ctx, "Pick", nil)
	assert.Error(t, err)
}
