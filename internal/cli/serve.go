package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/config"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/dedup"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/durable"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/engine"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/stage"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/store"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/transport"
)

// newServeCmd creates the serve command: connect to the backend and run
// the board until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board against the workflow backend",
		Long: `Connect to the workflow backend and keep the local board in sync.

The board is rehydrated from the durable store on startup (the
deduplication cache is always discarded), then the websocket channel is
held open with automatic reconnects until Ctrl+C.

Example:
  kanban serve
  kanban serve --config board.yaml --export board.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exportPath, _ := cmd.Flags().GetString("export")
			return runServe(cmd.Context(), exportPath)
		},
	}

	cmd.Flags().String("export", "", "write a YAML board snapshot to this path on shutdown")
	return cmd
}

func runServe(parent context.Context, exportPath string) error {
	logger := newLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	dur, err := durable.Open(ctx, cfg.Durable.Dialect, cfg.Durable.DSN, logger)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer func() { _ = dur.Close() }()

	pub := events.NewMemoryPublisher()
	defer pub.Close()

	st := store.New(pub, logger)
	if err := dur.Rehydrate(ctx, st); err != nil {
		return fmt.Errorf("rehydrate board: %w", err)
	}

	dd := dedup.New(st, dedup.Options{
		TTL:        cfg.Dedup.TTL,
		MaxEntries: cfg.Dedup.MaxEntries,
		SweepDelay: cfg.Dedup.SweepDelay,
	}, logger)
	defer dd.Close()

	eng := engine.New(st, dd, stage.NewMachine(logger), logger)

	// Write-through persistence: every published board change lands in
	// the durable store.
	changes := pub.Subscribe(events.GlobalTaskID)
	go func() {
		for ev := range changes {
			switch ev.Type {
			case events.EventTaskDeleted:
				if err := dur.DeleteTask(ctx, ev.TaskID); err != nil {
					logger.Error("failed to persist task deletion", "task_id", ev.TaskID, "error", err)
				}
			default:
				t, ok := st.Get(ev.TaskID)
				if !ok {
					continue
				}
				if err := dur.Persist(ctx, t, st.NextID()); err != nil {
					logger.Error("failed to persist task", "task_id", ev.TaskID, "error", err)
				}
			}
		}
	}()

	tc := transport.New(transport.Options{
		URL:            cfg.Transport.URL,
		InitialBackoff: cfg.Transport.InitialBackoff,
		MaxBackoff:     cfg.Transport.MaxBackoff,
	}, eng, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	fmt.Printf("Connecting to %s (Ctrl+C to stop)\n", cfg.Transport.URL)
	runErr := tc.Run(ctx)
	if runErr == context.Canceled {
		runErr = nil
	}

	// Shutdown uses a fresh context: the run context is already gone.
	shutdownCtx := context.Background()
	if err := dur.Snapshot(shutdownCtx, st); err != nil {
		logger.Error("failed to snapshot board on shutdown", "error", err)
	}
	if exportPath != "" {
		out, err := dur.ExportYAML(shutdownCtx)
		if err != nil {
			logger.Error("failed to export board", "error", err)
		} else if err := os.WriteFile(exportPath, out, 0o644); err != nil {
			logger.Error("failed to write board export", "path", exportPath, "error", err)
		} else {
			logger.Info("board exported", "path", exportPath)
		}
	}
	return runErr
}
