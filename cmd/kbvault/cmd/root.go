// Package cmd provides the CLI commands for KBVault.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbvault/kbvault/internal/backup"
	"github.com/kbvault/kbvault/internal/config"
	"github.com/kbvault/kbvault/internal/embed"
	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/logging"
	"github.com/kbvault/kbvault/internal/query"
	"github.com/kbvault/kbvault/internal/store"
	"github.com/kbvault/kbvault/internal/verify"
	"github.com/kbvault/kbvault/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the kbvault CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbvault",
		Short: "Vector-store knowledge base with deduplicating ingestion, served over MCP",
		Long: `KBVault indexes text and source-code documents into a Qdrant vector
store and serves them to AI agents over the Model Context Protocol.

Writes go through a deduplicating ingestion pipeline: identical
documents are skipped, changed documents deprecate their prior version,
and chunked documents re-embed only the chunks that actually changed.

Running 'kbvault' with no arguments starts the MCP server on stdio.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("kbvault version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.kbvault/logs/")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// setupLogging installs file logging; the MCP server owns stdout, so
// console output stays on stderr.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// app bundles the shared resources every command runs on.
type app struct {
	cfg        *config.Config
	store      store.Store
	embedder   embed.Embedder
	controller *ingest.Controller
	query      *query.Service
	verifier   *verify.Verifier
	backups    *backup.Service
	logger     *slog.Logger
}

// buildApp loads configuration, connects the backend, prepares the
// collections and indexes, and wires the core services. Absent
// required configuration the service fails here and never accepts
// requests.
func buildApp(ctx context.Context) (*app, func(), error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(wd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := slog.Default()

	st, err := store.NewQdrantStore(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Timeout)
	if err != nil {
		return nil, nil, err
	}

	embedder := buildEmbedder(cfg)

	dims := embedder.Dimensions()
	for _, coll := range []string{cfg.DocsCollection(), cfg.CodeCollection()} {
		if err := st.EnsureCollection(ctx, coll, dims); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		if err := st.EnsureFieldIndexes(ctx, coll); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
	}

	var opts []ingest.Option
	if cfg.Server.SimilarityWarnings {
		opts = append(opts, ingest.WithSimilarity(
			ingest.NewEmbedSimilarity(embedder, st, cfg.DocsCollection()),
			float32(cfg.Server.SimilarityThreshold),
		))
	}
	controller := ingest.NewController(st, embedder, logger, opts...)

	a := &app{
		cfg:        cfg,
		store:      st,
		embedder:   embedder,
		controller: controller,
		query:      query.NewService(st, embedder, cfg.DocsCollection(), cfg.CodeCollection(), logger),
		verifier:   verify.NewVerifier(st, cfg.Verify.MinLength, cfg.Verify.PassThreshold, logger),
		backups:    backup.NewService(st, controller, cfg.DocsCollection(), cfg.CodeCollection(), cfg.Backup.Path, logger),
		logger:     logger,
	}

	cleanup := func() {
		_ = a.embedder.Close()
		_ = a.store.Close()
	}
	return a, cleanup, nil
}

// buildEmbedder assembles the embedder stack: Ollama behind a mutex
// (its thread safety is not guaranteed) behind an LRU cache.
func buildEmbedder(cfg *config.Config) embed.Embedder {
	ollama := embed.NewOllamaEmbedder(embed.OllamaConfig{
		Host:       cfg.Embedding.Host,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	return embed.NewCachedEmbedder(embed.NewLockedEmbedder(ollama), cfg.Embedding.CacheSize)
}
