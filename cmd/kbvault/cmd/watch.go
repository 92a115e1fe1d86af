package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Watch a directory and re-ingest files as they change",
		Long: `Watch monitors a directory tree and runs every created or modified
file through the ingestion pipeline. Unchanged files classify as exact
duplicates and cost nothing; changed files deprecate their prior
version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0], debounce)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond,
		"Quiet period before a changed file is re-ingested")
	return cmd
}

func runWatch(ctx context.Context, dir string, debounce time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := func(hctx context.Context, path string) {
		report, err := a.controller.IngestFile(hctx, ingest.FileRequest{
			Path:           path,
			DocsCollection: a.cfg.DocsCollection(),
			CodeCollection: a.cfg.CodeCollection(),
		})
		if err != nil {
			a.logger.Warn("watch ingest failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return
		}
		a.logger.Info("watch ingest",
			slog.String("path", path),
			slog.String("action", string(report.Action)))
	}

	w, err := watcher.New(handler, debounce, a.logger)
	if err != nil {
		return err
	}
	return w.Watch(ctx, dir)
}
