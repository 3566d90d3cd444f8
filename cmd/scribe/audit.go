package main

import (
	"fmt"
	"strings"

	"scribe/internal/audittrail"

	"github.com/spf13/cobra"
)

var (
	auditLimit  int
	auditStatus string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the transaction audit trail",
	Long: `Lists the most recent entries from the append-only audit log written
by every "apply" transaction: transaction ID, status, affected files, and
timing. Rotated/compressed backup segments are not read.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum number of entries to show")
	auditCmd.Flags().StringVar(&auditStatus, "status", "", "filter by status: committed, rolled-back, failed")
	rootCmd.AddCommand(auditCmd)
}

type auditResponse struct {
	Events []audittrail.Event `json:"events"`
}

func (r auditResponse) FormatHuman() string {
	var b strings.Builder
	for _, e := range r.Events {
		fmt.Fprintf(&b, "%s  %-12s  %d file(s)  %s\n", e.TransactionID, e.Status, len(e.Files), e.Description)
	}
	return b.String()
}

func runAudit(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()
	logger := newLogger(formatFlag)

	cfg, err := getConfig(repoRoot, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stateDir := cfg.ApplyEngine.StateDir
	if stateDir == "" {
		stateDir = ".scribe"
	}
	path := repoRoot + "/" + stateDir + "/audit.jsonl"

	events, err := audittrail.Events(path, 0)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	if auditStatus != "" {
		filtered := events[:0]
		for _, e := range events {
			if string(e.Status) == auditStatus {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if auditLimit > 0 && len(events) > auditLimit {
		events = events[len(events)-auditLimit:]
	}

	out, err := FormatResponse(auditResponse{Events: events}, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
