//go:build cgo

package symbols

import "scribe/internal/backends/scip"

// MergeSCIP folds symbol occurrences from a loaded SCIP index into a set of
// tree-sitter-extracted symbols, used as a secondary, higher-precision
// source when a SCIP index is available for the repository. SCIP symbols
// are only added for files where tree-sitter found nothing, since
// tree-sitter's extraction already carries a signature and container name
// tuned for indexing; SCIP fills gaps for languages or files tree-sitter's
// grammar set doesn't cover.
func MergeSCIP(base []Symbol, index *scip.SCIPIndex) []Symbol {
	if index == nil {
		return base
	}

	covered := make(map[string]bool, len(base))
	for _, sym := range base {
		covered[sym.Path] = true
	}

	merged := make([]Symbol, len(base))
	copy(merged, base)

	scipSymbols, err := index.ExtractSymbols()
	if err != nil {
		return merged
	}

	for _, sym := range scipSymbols {
		if sym.Location == nil || covered[sym.Location.FileId] {
			continue
		}
		merged = append(merged, Symbol{
			Name:       sym.Name,
			Kind:       string(sym.Kind),
			Path:       sym.Location.FileId,
			Line:       sym.Location.StartLine + 1,
			EndLine:    sym.Location.EndLine + 1,
			Container:  sym.ContainerName,
			Signature:  sym.SignatureNormalized,
			Source:     "scip",
			Confidence: 0.9,
		})
	}

	return merged
}
