// Package mcp exposes the control surface as Model Context Protocol tools.
package mcp

import (
	"context"
	"time"

	"cdpmock/internal/logger"
	"cdpmock/pkg/model"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Control is the subset of the control API the tools drive.
type Control interface {
	Status(ctx context.Context) (model.Status, error)
	SetEnabled(ctx context.Context, enabled bool) error
	RulesJSON(ctx context.Context) ([]byte, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	AddRule(ctx context.Context, payload []byte) error
	UpdateRule(ctx context.Context, index int, payload []byte) error
	DeleteRule(ctx context.Context, index int) error
	ToggleRule(ctx context.Context, index int) error
	ClearRules(ctx context.Context) error
}

// Server wraps the MCP server.
type Server struct {
	mcpServer *sdkmcp.Server
}

// NewServer creates the MCP server and registers every tool.
func NewServer(ctrl Control, version string, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	srv := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "cdpmock", Version: version}, nil)
	srv.AddReceivingMiddleware(loggingMiddleware(l))
	Register(srv, &Tools{Control: ctrl})
	return &Server{mcpServer: srv}
}

// Run serves MCP over stdio until ctx is done or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func loggingMiddleware(l logger.Logger) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)
			if err != nil {
				l.Err(err, "MCP 调用失败", "method", method, "duration", time.Since(start))
			} else {
				l.Debug("MCP 调用完成", "method", method, "duration", time.Since(start))
			}
			return result, err
		}
	}
}
