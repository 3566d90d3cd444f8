package repoindex

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe/internal/logging"
	"scribe/internal/symbols"
)

// Builder walks a repository and produces IndexEntry chunks for the Store.
type Builder struct {
	repoRoot     string
	logger       *logging.Logger
	extractor    *symbols.Extractor
	excludeGlobs []string
	chunkCfg     ChunkConfig
}

// NewBuilder creates a Builder rooted at repoRoot.
func NewBuilder(repoRoot string, excludeGlobs []string, chunkCfg ChunkConfig, logger *logging.Logger) *Builder {
	return &Builder{
		repoRoot:     repoRoot,
		logger:       logger,
		extractor:    symbols.NewExtractor(),
		excludeGlobs: excludeGlobs,
		chunkCfg:     chunkCfg,
	}
}

// BuildAll walks the whole repository and produces one IndexEntry slice
// per indexable file, used for the initial build or a full rebuild.
func (b *Builder) BuildAll(ctx context.Context) (map[string][]IndexEntry, error) {
	result := make(map[string][]IndexEntry)

	err := filepath.Walk(b.repoRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(b.repoRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if b.isExcluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if b.isExcluded(rel) || !isIndexableFile(rel) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := b.BuildFile(ctx, rel)
		if err != nil {
			b.logger.Warn("failed to index file, skipping", map[string]interface{}{
				"path":  rel,
				"error": err.Error(),
			})
			return nil
		}
		if len(entries) > 0 {
			result[rel] = entries
		}
		return nil
	})

	return result, err
}

// BuildFile reads, extracts symbols from, and chunks a single repo-relative
// path into IndexEntry values.
func (b *Builder) BuildFile(ctx context.Context, relPath string) ([]IndexEntry, error) {
	abs := filepath.Join(b.repoRoot, relPath)
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	var extracted []symbols.Symbol
	if symbols.IsAvailable() {
		extracted, _ = b.extractor.ExtractFile(ctx, abs)
	}

	chunks := ChunkFile(ctx, relPath, content, extracted, b.chunkCfg)
	imports := scanImports(relPath, content)

	now := time.Now()
	entries := make([]IndexEntry, 0, len(chunks))
	for _, chunk := range chunks {
		entry := IndexEntry{
			ID:              uuid.New().String(),
			Path:            chunk.Path,
			Extension:       chunk.Extension,
			StartLine:       chunk.StartLine,
			EndLine:         chunk.EndLine,
			Symbol:          chunk.Symbol,
			SymbolKind:      chunk.SymbolKind,
			Container:       chunk.Container,
			ImportedSymbols: imports,
			Text:            chunk.Text,
			TokenCount:      len(tokenize(chunk.Text)),
			UpdatedAt:       now,
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (b *Builder) isExcluded(relPath string) bool {
	if relPath == "." {
		return false
	}
	base := filepath.Base(relPath)
	for _, pattern := range b.excludeGlobs {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.HasPrefix(relPath, pattern+"/") || relPath == pattern {
			return true
		}
	}
	return false
}

var indexableExtensions = map[string]bool{
	".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".rs": true, ".java": true, ".kt": true, ".rb": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true,
	".md": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
}

func isIndexableFile(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	return indexableExtensions[ext]
}

// scanImports does a light, language-agnostic scan for imported module or
// package names, used to populate the importedSymbol inverted index.
func scanImports(path string, content []byte) []string {
	ext := strings.ToLower(filepath.Ext(path))
	lines := strings.Split(string(content), "\n")

	var imports []string
	switch ext {
	case ".go":
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "\"") && strings.HasSuffix(line, "\"") {
				imports = append(imports, strings.Trim(line, "\""))
			}
		}
	case ".py":
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "import ") {
				imports = append(imports, strings.TrimSpace(strings.TrimPrefix(line, "import ")))
			} else if strings.HasPrefix(line, "from ") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					imports = append(imports, fields[1])
				}
			}
		}
	case ".js", ".jsx", ".ts", ".tsx":
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "import ") && strings.Contains(line, "from ") {
				parts := strings.Split(line, "from ")
				if len(parts) == 2 {
					imports = append(imports, strings.Trim(strings.TrimSpace(parts[1]), "\";'"))
				}
			}
		}
	}

	if len(imports) > 8 {
		imports = imports[:8]
	}
	return imports
}
