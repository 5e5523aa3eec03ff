package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
	"github.com/fyrsmithlabs/seagent/internal/secrets"
)

// Server is an MCP server that calls the run service directly.
type Server struct {
	mcp          *mcp.Server
	runs         *runtime.Service
	scrubber     *secrets.Scrubber
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "seagent")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *logging.Logger

	// Scrubber redacts secrets from text results. Optional.
	Scrubber *secrets.Scrubber
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "seagent",
		Version: "1.0.0",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a new MCP server backed by runs.
func NewServer(cfg *Config, runs *runtime.Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if runs == nil {
		return nil, errors.New("run service is required")
	}
	if cfg.Name == "" {
		cfg.Name = "seagent"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		runs:         runs,
		scrubber:     cfg.Scrubber,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session over transport. Tests use it with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

// Registry returns the metadata of every registered tool.
func (s *Server) Registry() *ToolRegistry {
	return s.toolRegistry
}

// scrub redacts secrets from text handed back to the client.
func (s *Server) scrub(text string) string {
	if s.scrubber == nil {
		return text
	}
	out, _ := s.scrubber.Scrub(text)
	return out
}
