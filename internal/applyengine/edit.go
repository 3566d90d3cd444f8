package applyengine

import (
	"fmt"
	"strings"
)

// applyEdit computes the new content for a single file edit operation given
// its current content. For EditCreate and EditDelete the current content is
// ignored. Range positions are clamped to the bounds of the document rather
// than rejected, matching the engine's tolerant hunk-apply behavior for
// trailing-newline and end-of-file edits.
func applyEdit(op FileEditOperation, current []byte) ([]byte, error) {
	switch op.Kind {
	case EditCreate:
		return []byte(op.NewText), nil
	case EditDelete:
		return nil, nil
	case EditRename:
		if op.NewText != "" {
			return []byte(op.NewText), nil
		}
		return current, nil
	case EditReplaceRange:
		if op.Range == nil {
			return nil, fmt.Errorf("%s: replace-range edit missing range", op.URI)
		}
		return applyRange(*op.Range, op.NewText, current)
	default:
		return nil, fmt.Errorf("%s: unknown edit kind %q", op.URI, op.Kind)
	}
}

// applyRange splices newText into current between Start and End, addressing
// positions by line and a rune-based column offset within that line.
func applyRange(r Range, newText string, current []byte) ([]byte, error) {
	lines := splitKeepEnds(string(current))

	startOffset, err := lineColOffset(lines, r.Start)
	if err != nil {
		return nil, fmt.Errorf("range start: %w", err)
	}
	endOffset, err := lineColOffset(lines, r.End)
	if err != nil {
		return nil, fmt.Errorf("range end: %w", err)
	}
	if endOffset < startOffset {
		return nil, fmt.Errorf("range end precedes start")
	}

	full := string(current)
	var b strings.Builder
	b.WriteString(full[:startOffset])
	b.WriteString(newText)
	b.WriteString(full[endOffset:])
	return []byte(b.String()), nil
}

// splitKeepEnds splits s into lines, retaining the trailing newline on
// every line except possibly the last.
func splitKeepEnds(s string) []string {
	if s == "" {
		return []string{""}
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

// lineColOffset converts a 1-indexed line/column position into a byte
// offset into the concatenation of lines, clamping a position past the end
// of the document to the document's end.
func lineColOffset(lines []string, pos Position) (int, error) {
	if pos.Line < 1 {
		return 0, fmt.Errorf("line %d is not 1-indexed", pos.Line)
	}
	lineIdx := pos.Line - 1

	offset := 0
	for i := 0; i < lineIdx && i < len(lines); i++ {
		offset += len(lines[i])
	}
	if lineIdx >= len(lines) {
		// Past the end of the document: clamp to EOF.
		total := 0
		for _, l := range lines {
			total += len(l)
		}
		return total, nil
	}

	line := lines[lineIdx]
	runes := []rune(line)
	if pos.Character < 1 {
		return 0, fmt.Errorf("character %d is not 1-indexed", pos.Character)
	}
	col := pos.Character - 1
	if col > len(runes) {
		col = len(runes)
	}
	offset += len(string(runes[:col]))
	return offset, nil
}
