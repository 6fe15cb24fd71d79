// Package mcpserver exposes the skills that register as tools over the
// Model Context Protocol. Each tool call runs the skill once against a
// scratch context that is discarded afterwards.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/jingkaihe/playbook/pkg/contexts"
	"github.com/jingkaihe/playbook/pkg/llm"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/jingkaihe/playbook/pkg/variables"
	"github.com/jingkaihe/playbook/pkg/version"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
)

// ScratchContext is the name of the context a tool call runs in.
const ScratchContext = "mcp"

const instructions = `Tools are playbook skills. Arguments are the skill flags without the
leading dashes. Each call runs in a fresh context; the result is the skill value.`

// Server serves exposed skills as MCP tools.
type Server struct {
	registry *skills.Registry
	invoker  llm.Invoker
	store    contexts.Store
	workDir  string
	mcp      *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithInvoker sets the model invoker used by skills such as task.
func WithInvoker(invoker llm.Invoker) Option {
	return func(s *Server) { s.invoker = invoker }
}

// WithStore sets the persistent context store.
func WithStore(store contexts.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithWorkDir sets the directory relative paths resolve against.
func WithWorkDir(dir string) Option {
	return func(s *Server) { s.workDir = dir }
}

// New creates a server advertising the exposed skills of registry.
func New(registry *skills.Registry, opts ...Option) *Server {
	s := &Server{registry: registry, workDir: "."}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = server.NewMCPServer(
		"playbook",
		version.Get().Version,
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
	)
	s.Sync()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Sync replaces the advertised tools with the registry's current exposed
// skills. Call it after the registry is refreshed.
func (s *Server) Sync() {
	var tools []server.ServerTool
	for _, skill := range s.registry.ListExposed() {
		tool, err := toolFor(skill)
		if err != nil {
			logger.G(context.Background()).WithError(err).WithField("skill", skill.Name()).Warn("skipping skill with unencodable schema")
			continue
		}
		tools = append(tools, server.ServerTool{Tool: tool, Handler: s.handle})
	}
	s.mcp.SetTools(tools...)
}

func toolFor(skill skills.Skill) (mcp.Tool, error) {
	schema := json.RawMessage(`{"type":"object"}`)
	if p := skill.Parameters(); p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return mcp.Tool{}, errors.Wrap(err, "failed to marshal parameters")
		}
		schema = data
	}
	return mcp.NewToolWithRawSchema(skill.Name(), skill.Description(), schema), nil
}

// Serve speaks MCP over in and out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logger.G(ctx).Info("serving skills over MCP stdio")
	stdio := server.NewStdioServer(s.mcp)
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "MCP server failed")
	}
	return nil
}

func (s *Server) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.Params.Name
	log := logger.G(ctx).WithField("tool", name)

	skill, err := s.registry.Resolve(name)
	if err != nil || !skill.RegisterAsTool() {
		return mcp.NewToolResultErrorf("unknown tool %q", name), nil
	}

	params, err := toParams(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	if _, err := skills.Validate(skill.Parameters(), params); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}

	api := newScratchAPI(s, log)
	result, err := skills.Run(ctx, skill, api, params)
	if err != nil {
		log.WithError(err).Debug("tool call failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	log.Debug("tool call completed")
	return mcp.NewToolResultText(resultText(result)), nil
}

// toParams renders tool arguments as flag values. Strings pass through;
// everything else is JSON encoded.
func toParams(args map[string]any) (skills.Params, error) {
	params := make(skills.Params, len(args))
	for k, v := range args {
		switch v := v.(type) {
		case string:
			params[k] = v
		case nil:
			params[k] = ""
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, errors.Wrapf(err, "argument %s", k)
			}
			params[k] = string(data)
		}
	}
	return params, nil
}

func resultText(result skills.Result) string {
	if result.Value != nil {
		return variables.Stringify(result.Value)
	}
	parts := make([]string, 0, len(result.Messages))
	for _, m := range result.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}
