// Package control provides the HTTP API an external UI uses to drive
// playbook runs: play, pause, resume and stop, a server-sent event stream
// of run progress, diagnostics for unsaved text, and answers to input
// requests raised by running skills.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/engine"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/parser"
	"github.com/jingkaihe/playbook/pkg/presenter"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/workspace"
	"github.com/pkg/errors"
)

// Server represents the control API server
type Server struct {
	router  *mux.Router
	session *workspace.Session
	prompts *Prompts
	config  *ServerConfig
	server  *http.Server
}

// ServerConfig holds the configuration for the control server
type ServerConfig struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// NewServer creates a control server over session. prompts should be the
// interactor the session was opened with; it may be nil.
func NewServer(config *ServerConfig, session *workspace.Session, prompts *Prompts) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if session == nil {
		return nil, errors.New("session is required")
	}
	if prompts == nil {
		prompts = NewPrompts()
	}
	s := &Server{
		router:  mux.NewRouter(),
		session: session,
		prompts: prompts,
		config:  config,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.handlePlay).Methods("POST")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/events", s.handleEvents).Methods("GET")
	api.HandleFunc("/runs/{id}/contexts", s.handleListContexts).Methods("GET")
	api.HandleFunc("/runs/{id}/contexts/{name}", s.handleGetContext).Methods("GET")
	api.HandleFunc("/runs/{id}/{action:pause|resume|stop}", s.handleControl).Methods("POST")
	api.HandleFunc("/diagnostics", s.handleDiagnostics).Methods("POST")
	api.HandleFunc("/skills", s.handleListSkills).Methods("GET")
	api.HandleFunc("/skills/refresh", s.handleRefreshSkills).Methods("POST")
	api.HandleFunc("/prompts", s.handleListPrompts).Methods("GET")
	api.HandleFunc("/prompts/{id}", s.handleAnswerPrompt).Methods("POST")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the wrapped writer usable for event streams.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// PlayRequest starts a fresh run of a document.
type PlayRequest struct {
	Path string `json:"path"`
	// Text, when set, is run instead of the file contents.
	Text          string            `json:"text,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	ClearContexts bool              `json:"clear_contexts,omitempty"`
}

// handlePlay handles POST /api/runs
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Path == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "path is required", nil)
		return
	}

	var (
		e   *engine.Engine
		err error
	)
	if req.Text != "" {
		e, err = s.session.EngineForText(req.Path, req.Text)
	} else {
		e, err = s.session.Engine(req.Path)
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, "failed to open playbook", err)
		return
	}

	err = e.Play(r.Context(), engine.PlayOptions{Inputs: req.Variables, ClearContexts: req.ClearContexts})
	if err != nil {
		var runErr *engine.Error
		switch {
		case errors.As(err, &runErr):
			s.writeJSONStatus(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   runErr,
				"status":  http.StatusUnprocessableEntity,
				"success": false,
			})
		case errors.Is(err, engine.ErrInvalidTransition):
			s.writeErrorResponse(w, http.StatusConflict, err.Error(), nil)
		default:
			s.writeErrorResponse(w, http.StatusInternalServerError, "failed to start run", err)
		}
		return
	}
	s.writeJSONStatus(w, http.StatusCreated, e.Status())
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	id := mux.Vars(r)["id"]
	e, ok := s.session.FindRun(id)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id), nil)
	}
	return e, ok
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.writeJSONResponse(w, e.Status())
}

// handleControl handles POST /api/runs/{id}/pause|resume|stop
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	var err error
	switch mux.Vars(r)["action"] {
	case "pause":
		err = e.Pause()
	case "resume":
		err = e.Resume()
	case "stop":
		err = e.Stop()
	}
	if err != nil {
		if errors.Is(err, engine.ErrInvalidTransition) {
			s.writeErrorResponse(w, http.StatusConflict, err.Error(), nil)
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to control run", err)
		return
	}
	s.writeJSONResponse(w, e.Status())
}

// handleEvents handles GET /api/runs/{id}/events as a server-sent event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorResponse(w, http.StatusInternalServerError, "streaming is not supported", nil)
		return
	}

	events, cancel := e.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// the current state first, so late subscribers know where the run is
	status := e.Status()
	if err := writeEvent(w, "", "status", status); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev.ID, string(ev.Type), ev); err != nil {
				logger.G(r.Context()).WithError(err).Debug("event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, id, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

// ContextsResponse lists the contexts of a run's document.
type ContextsResponse struct {
	Current  string             `json:"current"`
	Contexts []contexts.Summary `json:"contexts"`
}

// handleListContexts handles GET /api/runs/{id}/contexts
func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	m := e.Contexts()
	resp := ContextsResponse{Current: m.CurrentName(), Contexts: []contexts.Summary{}}
	for _, name := range m.Names() {
		c, err := m.Get(name)
		if err != nil {
			continue
		}
		resp.Contexts = append(resp.Contexts, c.Summarize())
	}
	s.writeJSONResponse(w, resp)
}

// handleGetContext handles GET /api/runs/{id}/contexts/{name}
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	c, err := e.Contexts().Get(mux.Vars(r)["name"])
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	s.writeJSONResponse(w, c)
}

// DiagnosticsRequest carries editor text to check.
type DiagnosticsRequest struct {
	Text string `json:"text"`
}

// DiagnosticsResponse reports parse errors and highlight tokens.
type DiagnosticsResponse struct {
	Errors []parser.ParseError `json:"errors"`
	Tokens []parser.Token      `json:"tokens"`
	Blocks int                 `json:"blocks"`
	// Unknown lists annotations that resolve to no registered skill.
	Unknown []parser.Range `json:"unknown"`
}

// handleDiagnostics handles POST /api/diagnostics
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var req DiagnosticsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	res := parser.Parse(req.Text)
	resp := DiagnosticsResponse{
		Errors:  res.Errors,
		Tokens:  res.LineTokens(),
		Blocks:  len(res.Blocks),
		Unknown: []parser.Range{},
	}
	if resp.Errors == nil {
		resp.Errors = []parser.ParseError{}
	}
	if resp.Tokens == nil {
		resp.Tokens = []parser.Token{}
	}
	for _, b := range res.Executable() {
		if _, ok := s.session.Registry().Lookup(b.Name); !ok {
			resp.Unknown = append(resp.Unknown, b.NameRange)
		}
	}
	s.writeJSONResponse(w, resp)
}

// SkillInfo describes a registered skill.
type SkillInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Provenance  skills.Provenance `json:"provenance"`
	Kind        string            `json:"kind"`
	Source      string            `json:"source,omitempty"`
	Exposed     bool              `json:"exposed"`
	Parameters  any               `json:"parameters,omitempty"`
}

// handleListSkills handles GET /api/skills
func (s *Server) handleListSkills(w http.ResponseWriter, _ *http.Request) {
	entries := s.session.Registry().List()
	out := make([]SkillInfo, 0, len(entries))
	for _, e := range entries {
		info := SkillInfo{
			Name:        e.Skill.Name(),
			Description: e.Skill.Description(),
			Provenance:  e.Provenance,
			Kind:        e.Kind,
			Source:      e.Source,
			Exposed:     e.Skill.RegisterAsTool(),
		}
		if schema := e.Skill.Parameters(); schema != nil {
			info.Parameters = schema
		}
		out = append(out, info)
	}
	s.writeJSONResponse(w, out)
}

// handleRefreshSkills handles POST /api/skills/refresh
func (s *Server) handleRefreshSkills(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"success": true}
	if err := s.session.Refresh(r.Context()); err != nil {
		resp["warnings"] = err.Error()
	}
	resp["count"] = len(s.session.Registry().List())
	s.writeJSONResponse(w, resp)
}

// handleListPrompts handles GET /api/prompts
func (s *Server) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, s.prompts.Pending())
}

// AnswerRequest answers a pending prompt.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// handleAnswerPrompt handles POST /api/prompts/{id}
func (s *Server) handleAnswerPrompt(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.prompts.Answer(mux.Vars(r)["id"], req.Answer); err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Error(message)
		message = fmt.Sprintf("%s: %s", message, err)
	}
	s.writeJSONStatus(w, statusCode, map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	})
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:    address,
		Handler: s.router,
		// event streams end with ctx instead of holding up shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	presenter.Info(fmt.Sprintf("Control API listening on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("control server error")
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return errors.Wrap(err, "control server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
