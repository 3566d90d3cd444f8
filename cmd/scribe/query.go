package main

import (
	"fmt"
	"strings"

	"scribe/internal/repoindex"
	"scribe/internal/validate"

	"github.com/spf13/cobra"
)

var (
	queryK          int
	queryPathFilter string
	queryPage       int
	queryPageSize   int
	queryMetrics    bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search the code index",
	Long: `Runs a hybrid BM25/vector query against the workspace index and prints
the top-K scored matches. With --metrics, also reports latency, candidate
count, and degraded/cache-hit state.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryK, "k", 20, "maximum number of results")
	queryCmd.Flags().StringVar(&queryPathFilter, "path", "", "restrict results to a path prefix")
	queryCmd.Flags().IntVar(&queryPage, "page", 1, "result page number")
	queryCmd.Flags().IntVar(&queryPageSize, "page-size", 20, "results per page")
	queryCmd.Flags().BoolVar(&queryMetrics, "metrics", false, "report query metrics alongside results")
	rootCmd.AddCommand(queryCmd)
}

type queryResponse struct {
	Entries []repoindex.ScoredEntry  `json:"entries"`
	Metrics *repoindex.QueryMetrics  `json:"metrics,omitempty"`
}

func (r queryResponse) FormatHuman() string {
	var b strings.Builder
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%.4f  %s\n", e.Score, e.Entry.Path)
	}
	if r.Metrics != nil {
		fmt.Fprintf(&b, "\n%d candidates, %.1fms, degraded=%v, cacheHit=%v\n",
			r.Metrics.CandidateCount, r.Metrics.LatencyMs, r.Metrics.Degraded, r.Metrics.CacheHit)
	}
	return b.String()
}

func runQuery(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()
	logger := newLogger(formatFlag)

	page, pageSize := validate.ValidatePage(queryPage, queryPageSize, 20, 100)

	_, _, engine := mustGetIndexer(repoRoot, logger)

	q := repoindex.Query{
		Text:       args[0],
		K:          pageSize * page,
		PathFilter: queryPathFilter,
	}

	if queryMetrics {
		result, err := engine.QueryWithMetrics(newContext(), q)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		entries := paginate(result.Entries, page, pageSize)
		resp := queryResponse{Entries: entries, Metrics: &result.Metrics}
		out, err := FormatResponse(resp, OutputFormat(formatFlag))
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	entries, err := engine.Query(newContext(), q)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	resp := queryResponse{Entries: paginate(entries, page, pageSize)}
	out, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func paginate(entries []repoindex.ScoredEntry, page, pageSize int) []repoindex.ScoredEntry {
	start := (page - 1) * pageSize
	if start >= len(entries) {
		return nil
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}
