package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/config"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/durable"
)

// newExportCmd creates the export command.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export the persisted board as YAML",
		Long: `Export every persisted task as one YAML document.

With no argument the document is written to stdout.

Example:
  kanban export
  kanban export board.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			out, err := dur.ExportYAML(ctx)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				fmt.Print(string(out))
				return nil
			}
			if err := os.WriteFile(args[0], out, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Printf("Exported board to %s\n", args[0])
			return nil
		},
	}
}
