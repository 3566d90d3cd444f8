package main

import (
	"scribe/internal/version"

	"github.com/spf13/cobra"
)

var formatFlag string

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "scribe - transactional code editing and retrieval core",
	Long: `scribe is a language-agnostic core for applying multi-file edit
transactions safely and for indexing and querying a codebase for
LLM-assisted tooling: an Apply Engine (atomic edits, checkpoint/rollback,
secret scanning, audit trail) and an Indexer (BM25/hybrid search, kept
warm by a filesystem watcher).`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("scribe version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human", "Output format: human or json")
}
