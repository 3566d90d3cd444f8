package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check workspace health and recover from a crashed transaction",
	Long: `Validates the workspace configuration, reports index status, and
scans for abandoned transaction markers left by a process that crashed
mid-apply, rolling each one back.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorResponse struct {
	ConfigValid   bool     `json:"configValid"`
	ConfigError   string   `json:"configError,omitempty"`
	IndexEntries  int      `json:"indexEntries"`
	NeedsRebuild  bool     `json:"needsRebuild"`
	Recovered     []string `json:"recovered"`
	Unrecoverable []string `json:"unrecoverable"`
}

func (r doctorResponse) FormatHuman() string {
	var b strings.Builder
	if r.ConfigValid {
		b.WriteString("config: OK\n")
	} else {
		fmt.Fprintf(&b, "config: INVALID (%s)\n", r.ConfigError)
	}
	fmt.Fprintf(&b, "index: %d entries (needs rebuild: %v)\n", r.IndexEntries, r.NeedsRebuild)
	fmt.Fprintf(&b, "recovered transactions: %d\n", len(r.Recovered))
	for _, id := range r.Recovered {
		fmt.Fprintf(&b, "  rolled back: %s\n", id)
	}
	fmt.Fprintf(&b, "unrecoverable transactions: %d\n", len(r.Unrecoverable))
	for _, id := range r.Unrecoverable {
		fmt.Fprintf(&b, "  needs manual review: %s\n", id)
	}
	return b.String()
}

func runDoctor(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()
	logger := newLogger(formatFlag)

	resp := doctorResponse{}

	cfg, err := getConfig(repoRoot, logger)
	if err != nil {
		resp.ConfigError = err.Error()
	} else if err := cfg.Validate(); err != nil {
		resp.ConfigError = err.Error()
	} else {
		resp.ConfigValid = true
	}

	store, _, _ := mustGetIndexer(repoRoot, logger)
	stats := store.Stats()
	if n, ok := stats["entries"].(int); ok {
		resp.IndexEntries = n
	}
	resp.NeedsRebuild = indexNeedsRebuild

	engine := mustGetApplyEngine(repoRoot, logger)
	recovered, unrecoverable, err := engine.RecoverAbandoned(newContext())
	if err != nil {
		return fmt.Errorf("recover abandoned transactions: %w", err)
	}
	resp.Recovered = recovered
	resp.Unrecoverable = unrecoverable

	out, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
