package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/config"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/durable"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/events"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/remote"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/store"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/syncer"
)

// newNewCmd creates the new command.
func newNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new [title]",
		Short: "Create a task on the board and the backend",
		Long: `Create a task locally and persist it to the backend.

The task is created optimistically: if the backend rejects it, the
local creation is rolled back and nothing is saved.

Example:
  kanban new "Fix login bug"
  kanban new "Add search" --description "Full-text search over tasks"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			return runNew(cmd, args[0], description)
		},
	}

	cmd.Flags().StringP("description", "d", "", "task description")
	return cmd
}

func runNew(cmd *cobra.Command, title, description string) error {
	logger := newLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	dur, err := durable.Open(ctx, cfg.Durable.Dialect, cfg.Durable.DSN, logger)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer func() { _ = dur.Close() }()

	st := store.New(events.NewNopPublisher(), logger)
	if err := dur.Rehydrate(ctx, st); err != nil {
		return fmt.Errorf("rehydrate board: %w", err)
	}

	rem := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout, logger)
	sc := syncer.New(st, rem, nil, logger)

	created, err := sc.CreateTask(ctx, title, description)
	if err != nil {
		return err
	}

	if err := dur.Persist(ctx, created, st.NextID()); err != nil {
		return fmt.Errorf("persist task: %w", err)
	}

	fmt.Printf("Created task %d: %s\n", created.ID, created.Title)
	return nil
}
