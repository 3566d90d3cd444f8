package secrets

import "strings"

// InlineScanner runs the builtin secret patterns directly against
// in-memory text, for callers that need to check content before it is
// written to disk rather than scanning files already on disk.
type InlineScanner struct {
	patterns []Pattern
}

// NewInlineScanner creates an InlineScanner using the builtin pattern set.
func NewInlineScanner() *InlineScanner {
	return &InlineScanner{patterns: BuiltinPatterns}
}

// ScanText reports whether text matches any builtin secret pattern, and if
// so returns a redacted copy of the first matching line for use in error
// messages.
func (s *InlineScanner) ScanText(text string) (matched bool, redacted string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if len(line) > 1000 {
			continue
		}
		for _, pattern := range s.patterns {
			match := pattern.Regex.FindStringSubmatchIndex(line)
			if match == nil {
				continue
			}
			var secret string
			if len(match) >= 4 {
				secret = line[match[2]:match[3]]
			} else {
				secret = line[match[0]:match[1]]
			}
			if pattern.MinEntropy > 0 && ShannonEntropy(secret) < pattern.MinEntropy {
				continue
			}
			if isLikelyFalsePositive(line, secret) {
				continue
			}
			return true, redactLine(line, match[0], match[1])
		}
	}
	return false, ""
}
