package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kbvault/kbvault/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Serve starts the tool protocol server on stdio. The backend
connection, collections and payload indexes are prepared before the
first request is accepted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	server := mcp.NewServer(mcp.Deps{
		Config:     a.cfg,
		Store:      a.store,
		Controller: a.controller,
		Query:      a.query,
		Verifier:   a.verifier,
		Backups:    a.backups,
		Logger:     a.logger,
	})
	return server.Serve(ctx)
}
