// Package history compresses a flat conversation message list to fit a
// token budget: the system message and the last N turns are preserved
// verbatim, and the remaining prefix is replaced with a single summary
// message (or, if summarization fails or is unavailable, truncated).
package history

import (
	"context"
	"fmt"
	"sort"
)

// CharsPerToken approximates characters per token for estimation purposes;
// this is deliberately not a real tokenizer.
const CharsPerToken = 4.0

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a flat conversation history.
type Message struct {
	Role    Role
	Content string

	// ToolCallID identifies which tool invocation this message reports the
	// result of; empty for non-tool messages.
	ToolCallID string

	// Relevance is an externally injected score in [0,1] used by the
	// "relevance" and "hybrid" eviction policies. Zero if not set.
	Relevance float64

	// Turn is the originating turn number, used for LRU/recency ordering.
	// Messages sharing a turn are evicted together.
	Turn int
}

// EstimateTokens approximates a message's token cost from its character
// count.
func EstimateTokens(s string) int {
	return int(float64(len(s)) / CharsPerToken)
}

// EvictionPolicy selects how Evict chooses which messages to drop when
// asked to free space rather than summarize a prefix.
type EvictionPolicy string

const (
	// EvictLRU drops the oldest turns first.
	EvictLRU EvictionPolicy = "lru"
	// EvictRelevance drops the lowest-Relevance messages first.
	EvictRelevance EvictionPolicy = "relevance"
	// EvictHybrid drops by Relevance weighted by a recency decay, so a
	// highly relevant but very old message can still be evicted before a
	// merely-relevant recent one.
	EvictHybrid EvictionPolicy = "hybrid"
)

// Summarizer produces a single summary string for a run of messages being
// dropped from history. It is consumed, optional: when nil or when it
// returns an error, Compress falls back to truncation.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// Config controls compression and eviction behavior.
type Config struct {
	// PreserveTurns is how many of the most recent turns survive verbatim.
	PreserveTurns int

	// MaxToolResultChars truncates an individual tool message's content
	// before it is ever considered for summarization or eviction.
	MaxToolResultChars int

	// MaxToolResults is the number of most-recent tool messages kept
	// intact; older ones are collapsed into one summary message with a
	// one-line preview per pruned call.
	MaxToolResults int

	// EvictionPolicy picks the strategy Evict uses.
	EvictionPolicy EvictionPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PreserveTurns:      4,
		MaxToolResultChars: 4000,
		MaxToolResults:     10,
		EvictionPolicy:     EvictHybrid,
	}
}

// Compress reduces messages to fit within maxTokens. The system message (if
// present as messages[0]) and the last PreserveTurns turns are always kept
// verbatim. The remaining prefix, if it doesn't fit, is replaced by a
// single summary message produced by summarizer; if summarizer is nil or
// fails, the prefix is truncated instead. isLocalModel widens the target
// budget slightly since local models typically run smaller context
// windows and benefit from a tighter margin of safety being skipped.
func Compress(ctx context.Context, messages []Message, maxTokens int, isLocalModel bool, summarizer Summarizer, cfg Config) []Message {
	if len(messages) == 0 || maxTokens <= 0 {
		return messages
	}

	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	if total <= maxTokens {
		return messages
	}

	sysIdx := -1
	if messages[0].Role == RoleSystem {
		sysIdx = 0
	}

	preserveStart := preserveFromTurn(messages, cfg.PreserveTurns)
	if sysIdx >= 0 && preserveStart <= sysIdx {
		preserveStart = sysIdx + 1
	}

	prefix := messages[boolToInt(sysIdx >= 0):preserveStart]
	preserved := messages[preserveStart:]

	if len(prefix) == 0 {
		return messages
	}

	var out []Message
	if sysIdx >= 0 {
		out = append(out, messages[sysIdx])
	}

	summary, err := summarizePrefix(ctx, prefix, summarizer)
	if err != nil || summary == "" {
		out = append(out, truncatePrefix(prefix, maxTokens, isLocalModel)...)
	} else {
		out = append(out, Message{Role: RoleAssistant, Content: summary})
	}
	out = append(out, preserved...)

	return pruneToolResults(out, cfg)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// preserveFromTurn returns the index of the first message belonging to one
// of the last n distinct turns.
func preserveFromTurn(messages []Message, n int) int {
	if n <= 0 {
		return len(messages)
	}
	turns := make(map[int]bool)
	for i := len(messages) - 1; i >= 0; i-- {
		turns[messages[i].Turn] = true
		if len(turns) > n {
			return i + 1
		}
	}
	return 0
}

func summarizePrefix(ctx context.Context, prefix []Message, summarizer Summarizer) (string, error) {
	if summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	return summarizer.Summarize(ctx, prefix)
}

// truncatePrefix is the fallback when summarization is unavailable or
// fails: keep as many of the most recent prefix messages as fit, dropping
// the oldest, and note how many were dropped.
func truncatePrefix(prefix []Message, maxTokens int, isLocalModel bool) []Message {
	budget := maxTokens / 4
	if isLocalModel {
		budget = maxTokens / 8
	}

	kept := make([]Message, 0, len(prefix))
	used := 0
	for i := len(prefix) - 1; i >= 0; i-- {
		t := EstimateTokens(prefix[i].Content)
		if used+t > budget && len(kept) > 0 {
			break
		}
		kept = append([]Message{prefix[i]}, kept...)
		used += t
	}

	dropped := len(prefix) - len(kept)
	if dropped <= 0 {
		return kept
	}
	notice := Message{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("[%d earlier messages truncated]", dropped),
	}
	return append([]Message{notice}, kept...)
}

// pruneToolResults collapses older tool messages beyond MaxToolResults into
// a single summary entry with a one-line preview per pruned call, and
// truncates any individual tool message over MaxToolResultChars.
func pruneToolResults(messages []Message, cfg Config) []Message {
	if cfg.MaxToolResultChars > 0 {
		for i := range messages {
			if messages[i].Role != RoleTool {
				continue
			}
			messages[i].Content = truncateToolContent(messages[i].Content, cfg.MaxToolResultChars)
		}
	}

	if cfg.MaxToolResults <= 0 {
		return messages
	}

	toolIdx := make([]int, 0)
	for i, m := range messages {
		if m.Role == RoleTool {
			toolIdx = append(toolIdx, i)
		}
	}
	if len(toolIdx) <= cfg.MaxToolResults {
		return messages
	}

	numToSummarize := len(toolIdx) - (cfg.MaxToolResults - 1)
	oldIdx := toolIdx[:numToSummarize]

	var preview []string
	for i, idx := range oldIdx {
		c := messages[idx].Content
		if len(c) > 100 {
			c = c[:100] + "..."
		}
		preview = append(preview, fmt.Sprintf("  %d. %s", i+1, c))
	}
	summary := Message{
		Role:    RoleTool,
		Content: fmt.Sprintf("[summary of %d previous tool calls]\n%s", numToSummarize, joinLines(preview)),
	}

	drop := make(map[int]bool, len(oldIdx))
	for _, idx := range oldIdx {
		drop[idx] = true
	}

	out := make([]Message, 0, len(messages)-numToSummarize+1)
	inserted := false
	for i, m := range messages {
		if drop[i] {
			if !inserted {
				out = append(out, summary)
				inserted = true
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func truncateToolContent(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	indicator := fmt.Sprintf("\n[...truncated %d chars]", len(content)-maxLen)
	effective := maxLen - len(indicator)
	if effective < 100 {
		return content[:maxLen-20] + "\n[...truncated]"
	}
	return content[:effective] + indicator
}

// Evict drops messages to free roughly tokensToFree tokens from messages,
// using cfg.EvictionPolicy. The system message, if present as messages[0],
// is never evicted.
func Evict(messages []Message, tokensToFree int, cfg Config) []Message {
	if tokensToFree <= 0 || len(messages) == 0 {
		return messages
	}

	start := 0
	if messages[0].Role == RoleSystem {
		start = 1
	}

	currentTurn := 0
	for _, m := range messages {
		if m.Turn > currentTurn {
			currentTurn = m.Turn
		}
	}

	type scored struct {
		index int
		score float64
		cost  int
	}
	candidates := make([]scored, 0, len(messages)-start)
	for i := start; i < len(messages); i++ {
		m := messages[i]
		cost := EstimateTokens(m.Content)
		var score float64
		switch cfg.EvictionPolicy {
		case EvictLRU:
			score = float64(m.Turn)
		case EvictRelevance:
			score = m.Relevance
		default: // hybrid
			age := currentTurn - m.Turn
			recencyBoost := 1.0 / (1.0 + float64(age)*0.1)
			score = m.Relevance * recencyBoost
		}
		candidates = append(candidates, scored{index: i, score: score, cost: cost})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})

	drop := make(map[int]bool, len(candidates))
	freed := 0
	for _, c := range candidates {
		if freed >= tokensToFree {
			break
		}
		drop[c.index] = true
		freed += c.cost
	}

	out := make([]Message, 0, len(messages)-len(drop))
	for i, m := range messages {
		if drop[i] {
			continue
		}
		out = append(out, m)
	}
	return out
}
