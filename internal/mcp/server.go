// Package mcp exposes the service's tool surface over the Model
// Context Protocol. Each tool takes a JSON object and returns a JSON
// object carrying at least {status: success|error}; errors surface the
// taxonomy fields, never partial content.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kbvault/kbvault/internal/backup"
	"github.com/kbvault/kbvault/internal/config"
	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/query"
	"github.com/kbvault/kbvault/internal/store"
	"github.com/kbvault/kbvault/internal/verify"
	"github.com/kbvault/kbvault/pkg/version"
)

// serverName identifies the service to MCP clients.
const serverName = "KBVault"

// Server wires the core services to the tool protocol.
type Server struct {
	mcp        *mcp.Server
	cfg        *config.Config
	store      store.Store
	controller *ingest.Controller
	query      *query.Service
	verifier   *verify.Verifier
	backups    *backup.Service
	logger     *slog.Logger
}

// Deps carries the shared resources the server serves with.
type Deps struct {
	Config     *config.Config
	Store      store.Store
	Controller *ingest.Controller
	Query      *query.Service
	Verifier   *verify.Verifier
	Backups    *backup.Service
	Logger     *slog.Logger
}

// NewServer creates the MCP server and registers the tool set.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        deps.Config,
		store:      deps.Store,
		controller: deps.Controller,
		query:      deps.Query,
		verifier:   deps.Verifier,
		backups:    deps.Backups,
		logger:     logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)

	s.registerIngestionTools()
	s.registerQueryTools()
	s.registerMutationTools()
	s.registerVerificationTools()
	s.registerTransferTools()

	return s
}

// Serve runs the server on stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", "stdio"),
		slog.String("docs_collection", s.cfg.DocsCollection()),
		slog.String("code_collection", s.cfg.CodeCollection()))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// collections returns both collection names, docs first.
func (s *Server) collections() []string {
	return []string{s.cfg.DocsCollection(), s.cfg.CodeCollection()}
}

// instrument logs one tool invocation around fn.
func (s *Server) instrument(name string, fn func() Result) {
	start := time.Now()
	requestID := newRequestID()

	s.logger.Info("tool started",
		slog.String("tool", name),
		slog.String("request_id", requestID))

	result := fn()

	if result.Status == "success" {
		s.logger.Info("tool completed",
			slog.String("tool", name),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)))
	} else {
		s.logger.Error("tool failed",
			slog.String("tool", name),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("kind", result.Kind),
			slog.String("error", result.Message))
	}
}

// newRequestID creates a short unique id for log correlation.
func newRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
