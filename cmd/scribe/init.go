package main

import (
	"fmt"

	"scribe/internal/config"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a .scribe configuration for this workspace",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()

	cfg := config.DefaultConfig()
	cfg.RepoRoot = repoRoot
	if err := cfg.Save(repoRoot); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("initialized scribe config at %s\n", repoRoot)
	return nil
}
