package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"scribe/internal/applyengine"

	"github.com/spf13/cobra"
)

var applyFileFlag string

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a multi-file edit transaction atomically",
	Long: `Reads a TransactionRequest as JSON (from --file, or stdin if --file is
not given) and applies it via the Apply Engine: base-signature
verification, URI-sorted writes, a checkpoint for rollback on failure,
post-write verification, and an audit trail entry.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyFileFlag, "file", "f", "", "path to a JSON TransactionRequest (default: stdin)")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()
	logger := newLogger(formatFlag)

	var raw []byte
	var err error
	if applyFileFlag != "" {
		raw, err = os.ReadFile(applyFileFlag)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read transaction request: %w", err)
	}

	var req applyengine.TransactionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("parse transaction request: %w", err)
	}

	engine := mustGetApplyEngine(repoRoot, logger)
	result, err := engine.Apply(newContext(), req)
	if err != nil {
		return fmt.Errorf("apply transaction: %w", err)
	}

	out, err := FormatResponse(result, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)

	if result.Status == applyengine.StatusFailed || result.Status == applyengine.StatusRolledBack {
		os.Exit(1)
	}
	return nil
}
