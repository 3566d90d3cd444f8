package repoindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"scribe/internal/logging"
)

// EngineConfig controls query ranking and self-regulation.
type EngineConfig struct {
	QueryTimeout      time.Duration
	HybridBM25Weight  float64
	HybridVectorWeight float64
	QueryCacheSize    int
	QueryCacheTTL     time.Duration
	DegradedLatency   time.Duration
	DegradedWindow    int
}

// DefaultEngineConfig returns the defaults matching internal/config's
// IndexerConfig defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QueryTimeout:       150 * time.Millisecond,
		HybridBM25Weight:   0.6,
		HybridVectorWeight: 0.4,
		QueryCacheSize:     512,
		QueryCacheTTL:      60 * time.Second,
		DegradedLatency:    300 * time.Millisecond,
		DegradedWindow:     20,
	}
}

// VectorStore is the pluggable dense-vector similarity backend, consumed
// as an interface so the query engine doesn't depend on a concrete
// implementation.
type VectorStore interface {
	TopK(ctx context.Context, vector []float32, k int) ([]string, map[string]float64, error)
	Enabled() bool
}

type cacheKey struct {
	text string
	k    int
}

// Engine serves queries against a Store, blending BM25 with an optional
// vector store and self-regulating into a degraded (BM25-only, cache-
// preferring) mode when recent query latency is sustained high.
type Engine struct {
	store  *Store
	vector VectorStore
	logger *logging.Logger
	cfg    EngineConfig

	cache *expirable.LRU[cacheKey, Result]

	mu        sync.Mutex
	latencies []time.Duration
	degraded  bool
}

// NewEngine creates a query Engine over store, optionally blending with
// vector. vector may be nil to run BM25-only.
func NewEngine(store *Store, vector VectorStore, cfg EngineConfig, logger *logging.Logger) *Engine {
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 512
	}
	if cfg.QueryCacheTTL <= 0 {
		cfg.QueryCacheTTL = 60 * time.Second
	}
	if cfg.DegradedWindow <= 0 {
		cfg.DegradedWindow = 20
	}

	return &Engine{
		store:  store,
		vector: vector,
		logger: logger,
		cfg:    cfg,
		cache:  expirable.NewLRU[cacheKey, Result](cfg.QueryCacheSize, nil, cfg.QueryCacheTTL),
	}
}

// Query runs a retrieval request and returns ranked entries only.
func (e *Engine) Query(ctx context.Context, q Query) ([]ScoredEntry, error) {
	result, err := e.QueryWithMetrics(ctx, q)
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// QueryWithMetrics runs a retrieval request, returning the metrics describing
// how it was served (cache hit, degraded mode, timeout).
func (e *Engine) QueryWithMetrics(ctx context.Context, q Query) (Result, error) {
	start := time.Now()
	if q.K <= 0 {
		q.K = 10
	}

	key := cacheKey{text: normalizeQueryText(q.Text), k: q.K}
	if cached, ok := e.cache.Get(key); ok {
		cached.Metrics.CacheHit = true
		cached.Metrics.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
		return cached, nil
	}

	degraded := e.isDegraded()
	timeout := e.cfg.QueryTimeout
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type raceResult struct {
		entries []ScoredEntry
		usedVec bool
	}
	done := make(chan raceResult, 1)

	go func() {
		entries, usedVec := e.rank(queryCtx, q, degraded)
		done <- raceResult{entries: entries, usedVec: usedVec}
	}()

	var (
		entries  []ScoredEntry
		usedVec  bool
		timedOut bool
	)
	select {
	case r := <-done:
		entries, usedVec = r.entries, r.usedVec
	case <-queryCtx.Done():
		timedOut = true
	}

	elapsed := time.Since(start)
	e.recordLatency(elapsed)

	result := Result{
		Entries: entries,
		Metrics: QueryMetrics{
			LatencyMs:      float64(elapsed.Microseconds()) / 1000,
			CandidateCount: len(entries),
			Degraded:       degraded,
			UsedVector:     usedVec,
			TimedOut:       timedOut,
		},
	}

	if !timedOut {
		e.cache.Add(key, result)
	}

	return result, nil
}

// rank computes the candidate set and scores it, blending with the vector
// store when a vector query is present. Degraded mode bypasses candidate
// scoring entirely and serves a recency-ordered fallback instead, which is
// the behavior that actually protects latency under sustained regression.
func (e *Engine) rank(ctx context.Context, q Query, degraded bool) ([]ScoredEntry, bool) {
	terms := tokenize(q.Text)

	e.store.mu.RLock()
	candidates := e.collectCandidatesLocked(terms, q.PathFilter)
	avgDocLen := e.store.avgDocLen
	docCount := e.store.docCount
	indexes := e.store.indexes
	entries := make(map[string]IndexEntry, len(candidates))
	for id := range candidates {
		entries[id] = e.store.entries[id]
	}
	e.store.mu.RUnlock()

	if degraded {
		return rankByRecency(entries, q.K), false
	}

	scored := make([]ScoredEntry, 0, len(candidates))
	for id := range candidates {
		entry := entries[id]
		score := bm25Score(terms, id, entry.TokenCount, avgDocLen, docCount, indexes)
		scored = append(scored, ScoredEntry{Entry: entry, Score: score})
	}

	usedVector := false
	if e.vector != nil && e.vector.Enabled() && len(q.Vector) > 0 {
		if vecScores, _, err := e.vector.TopK(ctx, q.Vector, q.K*4); err == nil {
			usedVector = true
			vecByID := make(map[string]float64, len(vecScores))
			for _, id := range vecScores {
				vecByID[id] = 1
			}
			bm25W := e.cfg.HybridBM25Weight
			vecW := e.cfg.HybridVectorWeight
			for i, s := range scored {
				if v, ok := vecByID[s.Entry.ID]; ok {
					scored[i].Score = bm25W*s.Score + vecW*v
				} else {
					scored[i].Score = bm25W * s.Score
				}
			}
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > q.K {
		scored = scored[:q.K]
	}

	return scored, usedVector
}

// rankByRecency serves the degraded-mode fallback: candidates ordered by
// last-updated time, with no BM25 or vector scoring performed.
func rankByRecency(entries map[string]IndexEntry, k int) []ScoredEntry {
	scored := make([]ScoredEntry, 0, len(entries))
	for _, entry := range entries {
		scored = append(scored, ScoredEntry{Entry: entry, Score: float64(entry.UpdatedAt.UnixNano())})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func (e *Engine) collectCandidatesLocked(terms []string, pathFilter string) map[string]bool {
	candidates := make(map[string]bool)
	for _, term := range terms {
		for id := range e.store.indexes.Term[term] {
			candidates[id] = true
		}
	}
	if pathFilter != "" {
		for id := range candidates {
			if !strings.HasPrefix(e.store.entries[id].Path, pathFilter) {
				delete(candidates, id)
			}
		}
	}
	return candidates
}

// recordLatency appends a latency sample to the rolling window used for
// degraded-mode self-regulation, tripping the sticky degraded flag once
// every sample in a full window exceeds the configured threshold.
func (e *Engine) recordLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latencies = append(e.latencies, d)
	if len(e.latencies) > e.cfg.DegradedWindow {
		e.latencies = e.latencies[len(e.latencies)-e.cfg.DegradedWindow:]
	}
	if e.degraded || len(e.latencies) < e.cfg.DegradedWindow {
		return
	}
	for _, s := range e.latencies {
		if s < e.cfg.DegradedLatency {
			return
		}
	}
	e.degraded = true
}

// isDegraded reports the sticky degraded flag. Unlike the latency window it
// is derived from, it does not self-heal as soon as a fast query lands in
// the window; it stays set until ResetDegraded is called from a full
// rebuild, distinct from the indexer being disabled by configuration.
func (e *Engine) isDegraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// ResetDegraded clears the sticky degraded flag and the latency window.
// Called once a full index rebuild completes, the only event the spec
// treats as sufficient evidence that query latency has actually recovered.
func (e *Engine) ResetDegraded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.degraded = false
	e.latencies = nil
}

func normalizeQueryText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
