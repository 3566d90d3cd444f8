package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"scribe/internal/history"

	"github.com/spf13/cobra"
)

var (
	compressFileFlag  string
	compressMaxTokens int
	compressLocal     bool
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress a conversation history to fit a token budget",
	Long: `Reads a JSON array of messages (from --file, or stdin) and compresses
it to fit --max-tokens: the system message and the most recent turns are
kept verbatim, the remaining prefix is summarized or, failing that,
truncated. No summarizer is wired at this layer (compress always falls
back to truncation); pipe already-summarized prefixes in if an upstream
caller has one.`,
	RunE: runCompress,
}

func init() {
	compressCmd.Flags().StringVarP(&compressFileFlag, "file", "f", "", "path to a JSON message array (default: stdin)")
	compressCmd.Flags().IntVar(&compressMaxTokens, "max-tokens", 8000, "token budget for the compressed result")
	compressCmd.Flags().BoolVar(&compressLocal, "local-model", false, "use the tighter local-model truncation margin")
	rootCmd.AddCommand(compressCmd)
}

func runCompress(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if compressFileFlag != "" {
		raw, err = os.ReadFile(compressFileFlag)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read messages: %w", err)
	}

	var messages []history.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return fmt.Errorf("parse messages: %w", err)
	}

	out := history.Compress(newContext(), messages, compressMaxTokens, compressLocal, nil, history.DefaultConfig())

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
