package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the code index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from scratch and persist it",
	RunE:  runIndexRebuild,
}

var indexWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Load the persisted index into memory without rebuilding",
	RunE:  runIndexWarm,
}

func init() {
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexWarmCmd)
	rootCmd.AddCommand(indexCmd)
}

type indexStatsResponse struct {
	Stats map[string]interface{} `json:"stats"`
}

func (r indexStatsResponse) FormatHuman() string {
	return fmt.Sprintf("entries=%v terms=%v avgDocLen=%v\n", r.Stats["entries"], r.Stats["terms"], r.Stats["avgDocLen"])
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()
	logger := newLogger(formatFlag)

	store, build, engine := mustGetIndexer(repoRoot, logger)

	entries, err := build.BuildAll(newContext())
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	for path, e := range entries {
		store.Upsert(path, e)
	}
	if err := store.Persist(); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	engine.ResetDegraded()

	out, err := FormatResponse(indexStatsResponse{Stats: store.Stats()}, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runIndexWarm(cmd *cobra.Command, args []string) error {
	repoRoot := mustGetRepoRoot()
	logger := newLogger(formatFlag)

	store, _, _ := mustGetIndexer(repoRoot, logger)

	if indexNeedsRebuild {
		fmt.Fprintln(cmdErrWriter(cmd), "warning: persisted index is stale or missing; run `scribe index rebuild`")
	}

	out, err := FormatResponse(indexStatsResponse{Stats: store.Stats()}, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func cmdErrWriter(cmd *cobra.Command) interface {
	Write([]byte) (int, error)
} {
	return cmd.ErrOrStderr()
}
