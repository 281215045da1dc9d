// Package mcpserver exposes the tool registry over the Model Context Protocol.
// Every standard and composite tool becomes an MCP tool; calls are executed by
// the runtime Executor with a fresh Session per call.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/wilhg/toolforge/pkg/adapters/llm"
	"github.com/wilhg/toolforge/pkg/errmodel"
	"github.com/wilhg/toolforge/pkg/runtime"
	"github.com/wilhg/toolforge/pkg/tools"
)

// Server wraps an MCP server whose tools are backed by an Executor.
type Server struct {
	srv     *mcp.Server
	exec    *runtime.Executor
	name    string
	version string
	notify  bool
	logger  *zap.Logger
}

type Option func(*Server)

// WithImplementation sets the name and version reported to clients.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		if name != "" {
			s.name = name
		}
		if version != "" {
			s.version = version
		}
	}
}

// WithLogNotifications forwards orchestration progress to the client as MCP
// log messages while a composite tool runs.
func WithLogNotifications(on bool) Option {
	return func(s *Server) { s.notify = on }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates the MCP server and registers every tool of the executor's registry.
func New(exec *runtime.Executor, opts ...Option) (*Server, error) {
	s := &Server{exec: exec, name: "toolforge", version: "dev", notify: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "mcpserver"))
	s.srv = mcp.NewServer(&mcp.Implementation{Name: s.name, Version: s.version}, nil)

	for _, d := range exec.Registry().All() {
		schema, err := tools.DecodeSchema(d.Schema())
		if err != nil {
			return nil, errmodel.Configuration("invalid_schema", "input_schema cannot be exported", map[string]any{"tool": d.ToolName()}, err)
		}
		s.srv.AddTool(&mcp.Tool{
			Name:        d.ToolName(),
			Description: d.Summary(),
			InputSchema: schema,
		}, s.handler(d.ToolName()))
	}
	s.logger.Info("mcp tools registered", zap.Int("count", len(exec.Registry().All())))
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.srv }

// Handler serves the MCP streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}

// ServeStdio serves a single client over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := llm.DecodeArguments(req.Params.Arguments)
		if err != nil {
			return errorResult(fmt.Sprintf("Error: arguments must be a JSON object: %v", err)), nil
		}

		var sink runtime.ProgressSink
		if s.notify && req.Session != nil {
			sink = func(ctx context.Context, level, msg string) {
				if err := req.Session.Log(ctx, &mcp.LoggingMessageParams{
					Level:  mcp.LoggingLevel(level),
					Logger: s.name,
					Data:   msg,
				}); err != nil {
					s.logger.Debug("progress notification dropped", zap.Error(err))
				}
			}
		}

		res, err := s.exec.Execute(ctx, runtime.NewSession(sink), name, args)
		if err != nil {
			return errorResult("Error: " + errmodel.From(err).Detail()), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Text}},
			IsError: res.IsError,
		}, nil
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}, IsError: true}
}
