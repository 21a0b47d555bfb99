// Package main provides the entry point for the kanban CLI.
package main

import (
	"os"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
