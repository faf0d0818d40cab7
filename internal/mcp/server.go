// Package mcp provides an MCP (Model Context Protocol) server for transitsim.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/transitsim/internal/config"
	"github.com/nvandessel/transitsim/internal/logging"
	"github.com/nvandessel/transitsim/internal/ratelimit"
	"github.com/nvandessel/transitsim/internal/store"
)

// Server wraps the MCP SDK server and exposes simulation runs as tools.
type Server struct {
	server       *sdk.Server
	store        *store.SQLiteRunStore
	root         string
	cfg          *config.Config
	logger       *slog.Logger
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "transitsim")
	Version string // Server version
	Root    string // Project root directory

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// NewServer loads the project configuration under cfg.Root, opens the run
// store and registers the transitsim tools.
func NewServer(cfg *Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	simCfg, err := config.Load(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	for _, w := range simCfg.Sanitize() {
		logger.Warn("config value reset to default", "detail", w)
	}
	if !filepath.IsAbs(simCfg.Output.Dir) {
		simCfg.Output.Dir = filepath.Join(cfg.Root, simCfg.Output.Dir)
	}
	if simCfg.Data.Path != "" && !filepath.IsAbs(simCfg.Data.Path) {
		simCfg.Data.Path = filepath.Join(cfg.Root, simCfg.Data.Path)
	}

	// Runs started from tools are always stored so transitsim_runs and
	// transitsim_events can find them.
	simCfg.Output.Store = true
	runStore, err := store.NewSQLiteRunStore(simCfg.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        runStore,
		root:         cfg.Root,
		cfg:          simCfg,
		logger:       logger,
		toolLimiters: ratelimit.NewToolLimiters(ratelimit.DefaultBudgets),
		auditLogger:  NewAuditLogger(simCfg.Output.Dir),
	}

	if err := s.registerTools(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close closes the run store and the audit log.
func (s *Server) Close() error {
	err := s.store.Close()
	if aerr := s.auditLogger.Close(); aerr != nil && err == nil {
		err = aerr
	}
	return err
}
