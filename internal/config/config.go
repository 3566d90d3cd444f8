// Package config loads and validates scribe's per-workspace configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// Config is the complete scribe configuration (schema v1).
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	ApplyEngine       ApplyEngineConfig       `json:"applyEngine" mapstructure:"applyEngine"`
	Indexer           IndexerConfig           `json:"indexer" mapstructure:"indexer"`
	SecretDetection   SecretDetectionConfig   `json:"secretDetection" mapstructure:"secretDetection"`
	Privacy           PrivacyConfig           `json:"privacy" mapstructure:"privacy"`
	Logging           LoggingConfig           `json:"logging" mapstructure:"logging"`
	HistoryCompressor HistoryCompressorConfig `json:"historyCompressor" mapstructure:"historyCompressor"`
}

// ApplyEngineConfig covers spec.md §6's applyEngine.* options plus the
// additional checkpoint strategies from SPEC_FULL §4.1.
type ApplyEngineConfig struct {
	SnapshotMaxBytes   int64  `json:"snapshotMaxBytes" mapstructure:"snapshotMaxBytes"`
	GitAutoStashMode   string `json:"gitAutoStashMode" mapstructure:"gitAutoStashMode"`     // off | dirty-only | always
	CheckpointStrategy string `json:"checkpointStrategy" mapstructure:"checkpointStrategy"` // snapshot | stash | branch | worktree
	StateDir           string `json:"stateDir" mapstructure:"stateDir"`
	GitTimeoutMs       int    `json:"gitTimeoutMs" mapstructure:"gitTimeoutMs"`
	TransactionTTLMs   int    `json:"transactionTtlMs" mapstructure:"transactionTtlMs"`
	ScanForSecrets     bool   `json:"scanForSecrets" mapstructure:"scanForSecrets"`
}

// IndexerConfig covers spec.md §6's indexer.* options.
type IndexerConfig struct {
	Enabled           bool          `json:"enabled" mapstructure:"enabled"`
	CPUBudget         float64       `json:"cpuBudget" mapstructure:"cpuBudget"`
	Parallelism       int           `json:"parallelism" mapstructure:"parallelism"`
	QueryTimeoutMs    int           `json:"queryTimeoutMs" mapstructure:"queryTimeoutMs"`
	HybridWeights     HybridWeights `json:"hybridWeights" mapstructure:"hybridWeights"`
	ExcludeGlobs      []string      `json:"excludeGlobs" mapstructure:"excludeGlobs"`
	RefreshDebounceMs int           `json:"refreshDebounceMs" mapstructure:"refreshDebounceMs"`
	PersistDebounceMs int           `json:"persistDebounceMs" mapstructure:"persistDebounceMs"`
	QueryCacheSize    int           `json:"queryCacheSize" mapstructure:"queryCacheSize"`
	QueryCacheTTLMs   int           `json:"queryCacheTtlMs" mapstructure:"queryCacheTtlMs"`
	DegradedLatencyMs int           `json:"degradedLatencyMs" mapstructure:"degradedLatencyMs"`
	DegradedWindow    int           `json:"degradedWindowSize" mapstructure:"degradedWindowSize"`
	VectorStore       string        `json:"vectorStore" mapstructure:"vectorStore"` // none | memory | sqlite-vec
	MaxChunksPerFile  int           `json:"maxChunksPerFile" mapstructure:"maxChunksPerFile"`
}

// HybridWeights blends BM25 with vector cosine similarity; must sum to 1.
type HybridWeights struct {
	BM25   float64 `json:"bm25" mapstructure:"bm25"`
	Vector float64 `json:"vector" mapstructure:"vector"`
}

// SecretDetectionConfig covers spec.md §6's secretDetection.mode option.
type SecretDetectionConfig struct {
	Mode string `json:"mode" mapstructure:"mode"` // block | redact | off
}

// PrivacyConfig covers spec.md §6's privacy.offline option.
type PrivacyConfig struct {
	Offline bool `json:"offline" mapstructure:"offline"`
}

// LoggingConfig controls the ambient structured logger.
type LoggingConfig struct {
	Format string           `json:"format" mapstructure:"format"` // json | human
	Level  string           `json:"level" mapstructure:"level"`
	Remote *RemoteLogConfig `json:"remote,omitempty" mapstructure:"remote"`
}

// RemoteLogConfig configures shipping the maintenance loop's job-queue logs
// to a Grafana Loki instance, in addition to the local log file. Nil
// (the default) disables shipping entirely.
type RemoteLogConfig struct {
	Endpoint      string            `json:"endpoint" mapstructure:"endpoint"`
	Labels        map[string]string `json:"labels" mapstructure:"labels"`
	BatchSize     int               `json:"batchSize" mapstructure:"batchSize"`
	FlushInterval string            `json:"flushInterval" mapstructure:"flushInterval"` // Go duration string, e.g. "5s"
}

// HistoryCompressorConfig controls spec.md §4.9 behavior.
type HistoryCompressorConfig struct {
	PreserveLastTurns int     `json:"preserveLastTurns" mapstructure:"preserveLastTurns"`
	CharsPerToken     float64 `json:"charsPerToken" mapstructure:"charsPerToken"`
	EvictionPolicy    string  `json:"evictionPolicy" mapstructure:"evictionPolicy"` // lru | relevance | hybrid
	MaxToolResults    int     `json:"maxToolResults" mapstructure:"maxToolResults"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RepoRoot: ".",
		ApplyEngine: ApplyEngineConfig{
			SnapshotMaxBytes:   50 * 1024 * 1024,
			GitAutoStashMode:   "dirty-only",
			CheckpointStrategy: "snapshot",
			StateDir:           ".scribe/transactions",
			GitTimeoutMs:       30000,
			TransactionTTLMs:   30 * 60 * 1000,
			ScanForSecrets:     true,
		},
		Indexer: IndexerConfig{
			Enabled:           true,
			CPUBudget:         0.2,
			Parallelism:       2,
			QueryTimeoutMs:    150,
			HybridWeights:     HybridWeights{BM25: 0.6, Vector: 0.4},
			ExcludeGlobs:      []string{"node_modules", ".git", "vendor", "dist", "build", "__pycache__", ".scribe"},
			RefreshDebounceMs: 3000,
			PersistDebounceMs: 5000,
			QueryCacheSize:    512,
			QueryCacheTTLMs:   60000,
			DegradedLatencyMs: 300,
			DegradedWindow:    20,
			VectorStore:       "memory",
			MaxChunksPerFile:  64,
		},
		SecretDetection: SecretDetectionConfig{
			Mode: "redact",
		},
		Privacy: PrivacyConfig{
			Offline: false,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
		HistoryCompressor: HistoryCompressorConfig{
			PreserveLastTurns: 6,
			CharsPerToken:     4.0,
			EvictionPolicy:    "hybrid",
			MaxToolResults:    20,
		},
	}
}

// Load reads configuration from <repoRoot>/.scribe/config.toml, falling
// back to DefaultConfig when no file is present. Environment variables
// prefixed SCRIBE_ override file values.
func Load(repoRoot string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRIBE")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(repoRoot, ".scribe"))

	def := DefaultConfig()
	setDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, err
	}

	cfg := *def
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	data, _ := json.Marshal(def)
	var asMap map[string]interface{}
	_ = json.Unmarshal(data, &asMap)
	for k, val := range asMap {
		v.SetDefault(k, val)
	}
}

// Save writes the configuration to <repoRoot>/.scribe/config.toml.
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".scribe")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.toml"), data, 0644)
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	switch c.ApplyEngine.GitAutoStashMode {
	case "off", "dirty-only", "always":
	default:
		return &ConfigError{Field: "applyEngine.gitAutoStashMode", Message: "must be off, dirty-only, or always"}
	}
	switch c.ApplyEngine.CheckpointStrategy {
	case "snapshot", "stash", "branch", "worktree":
	default:
		return &ConfigError{Field: "applyEngine.checkpointStrategy", Message: "must be snapshot, stash, branch, or worktree"}
	}
	sum := c.Indexer.HybridWeights.BM25 + c.Indexer.HybridWeights.Vector
	if sum < 0.999 || sum > 1.001 {
		return &ConfigError{Field: "indexer.hybridWeights", Message: "bm25+vector must sum to 1"}
	}
	switch c.SecretDetection.Mode {
	case "block", "redact", "off":
	default:
		return &ConfigError{Field: "secretDetection.mode", Message: "must be block, redact, or off"}
	}
	if c.Logging.Remote != nil && c.Logging.Remote.Endpoint == "" {
		return &ConfigError{Field: "logging.remote.endpoint", Message: "required when logging.remote is set"}
	}
	return nil
}

// ConfigError reports a single invalid field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
