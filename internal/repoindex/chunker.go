package repoindex

import (
	"context"
	"path/filepath"
	"strings"

	"scribe/internal/symbols"
)

// ChunkConfig bounds chunk production.
type ChunkConfig struct {
	MaxChunksPerFile int
	WindowLines      int // size of the overlapping fallback window
	OverlapLines     int
}

// DefaultChunkConfig returns the defaults used when building an index.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MaxChunksPerFile: 64, WindowLines: 60, OverlapLines: 15}
}

// ChunkFile splits one file's content into chunks. When extracted is
// non-empty, each symbol becomes one AST-aligned chunk; otherwise the file
// is split into overlapping line windows.
func ChunkFile(ctx context.Context, path string, content []byte, extracted []symbols.Symbol, cfg ChunkConfig) []IndexChunk {
	lines := strings.Split(string(content), "\n")
	ext := strings.TrimPrefix(filepath.Ext(path), ".")

	var chunks []IndexChunk
	if len(extracted) > 0 {
		chunks = chunkBySymbol(path, ext, lines, extracted)
	} else {
		chunks = chunkByWindow(path, ext, lines, cfg)
	}

	if cfg.MaxChunksPerFile > 0 && len(chunks) > cfg.MaxChunksPerFile {
		chunks = chunks[:cfg.MaxChunksPerFile]
	}
	return chunks
}

func chunkBySymbol(path, ext string, lines []string, extracted []symbols.Symbol) []IndexChunk {
	chunks := make([]IndexChunk, 0, len(extracted))
	for _, sym := range extracted {
		start := clamp(sym.Line-1, 0, len(lines))
		end := clamp(sym.EndLine, start+1, len(lines))
		text := strings.Join(lines[start:end], "\n")

		chunks = append(chunks, IndexChunk{
			Path:       path,
			Extension:  ext,
			StartLine:  start + 1,
			EndLine:    end,
			Symbol:     sym.Name,
			SymbolKind: sym.Kind,
			Container:  sym.Container,
			Text:       text,
		})
	}
	return chunks
}

func chunkByWindow(path, ext string, lines []string, cfg ChunkConfig) []IndexChunk {
	window := cfg.WindowLines
	if window <= 0 {
		window = 60
	}
	overlap := cfg.OverlapLines
	if overlap < 0 || overlap >= window {
		overlap = window / 4
	}
	stride := window - overlap
	if stride <= 0 {
		stride = window
	}

	var chunks []IndexChunk
	for start := 0; start < len(lines); start += stride {
		end := clamp(start+window, start+1, len(lines))
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, IndexChunk{
				Path:      path,
				Extension: ext,
				StartLine: start + 1,
				EndLine:   end,
				Text:      text,
			})
		}
		if end >= len(lines) {
			break
		}
	}
	return chunks
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
