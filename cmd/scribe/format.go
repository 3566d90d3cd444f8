package main

import (
	"fmt"

	"scribe/internal/output"
)

// OutputFormat represents the output format type.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format. Any
// type that implements humanFormatter gets real human-readable rendering;
// everything else falls back to indented JSON even under FormatHuman, since
// it's still valid and readable.
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	if format == FormatHuman {
		if hf, ok := resp.(humanFormatter); ok {
			return hf.FormatHuman(), nil
		}
	}
	data, err := output.DeterministicEncodeIndented(resp, "  ")
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	return string(data), nil
}

// humanFormatter is implemented by response types with a dedicated
// human-readable rendering.
type humanFormatter interface {
	FormatHuman() string
}
