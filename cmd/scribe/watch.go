package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace and keep the index warm",
	Long: `Runs the filesystem watcher and maintenance loop in the foreground:
dirty files are refreshed in debounced, CPU-throttled batches and the
index is persisted on a second debounce. Blocks until interrupted.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()
	logger := newLogger(formatFlag)

	m := newMaintainer(repoRoot, logger)
	if err := m.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer m.Stop()

	logger.Info("Watching workspace", map[string]interface{}{"repoRoot": repoRoot})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down watcher", nil)
	return nil
}
