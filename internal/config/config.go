package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the persistent application configuration
type Config struct {
	Detection DetectionConfig `json:"detection"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reveal    RevealConfig    `json:"reveal"`
	Embedding EmbeddingConfig `json:"embedding"`
	Server    ServerConfig    `json:"server"`

	// TitlesFile is the YAML/JSON registry file loaded at startup
	TitlesFile string `json:"titles_file"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"log_level"`
}

// DetectionConfig holds the tunable thresholds of the classifier and scanner.
// The node-length and narrative heuristics are trade-offs, not facts, so
// every number lives here instead of in code.
type DetectionConfig struct {
	Mode                string   `json:"mode"`                  // "basic" or "semantic"
	MinNodeText         int      `json:"min_node_text"`         // trimmed text-node length to consider
	MinSentenceLength   int      `json:"min_sentence_length"`   // runes
	ProximitySteps      int      `json:"proximity_steps"`       // sibling/parent steps
	ProximityMention    bool     `json:"proximity_mention"`     // proximity hit counts as a title mention
	RequireMention      bool     `json:"require_mention"`       // lexical gate
	SimilarityThreshold float64  `json:"similarity_threshold"`  // 0 = derive from sensitivity
	HighlightTags       []string `json:"highlight_tags"`        // inline children merged into a unit
	SemanticTimeoutMs   int      `json:"semantic_timeout_ms"`   // per embedding batch
}

// SchedulerConfig controls the mutation scheduler.
type SchedulerConfig struct {
	DebounceMs int `json:"debounce_ms"`
	MaxWaitMs  int `json:"max_wait_ms"`
	BatchSize  int `json:"batch_size"`
	EmptyScans int `json:"empty_scans"` // consecutive empty scans before pausing
}

// RevealConfig selects the reveal interaction for mask elements.
type RevealConfig struct {
	Mode string `json:"mode"` // "hover" or "click"
}

// EmbeddingConfig selects the embedding backend for the semantic layer.
type EmbeddingConfig struct {
	Provider string `json:"provider"` // "ollama", "jina" or "" (disabled)
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// ServerConfig holds the HTTP masking service settings.
type ServerConfig struct {
	Addr   string `json:"addr"`
	DBPath string `json:"db_path,omitempty"` // stats database, defaults under the data dir
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Detection: DetectionConfig{
			Mode:              "basic",
			MinNodeText:       20,
			MinSentenceLength: 40,
			ProximitySteps:    12,
			RequireMention:    true,
			HighlightTags:     []string{"mark"},
			SemanticTimeoutMs: 10000,
		},
		Scheduler: SchedulerConfig{
			DebounceMs: 300,
			MaxWaitMs:  1200,
			BatchSize:  20,
			EmptyScans: 2,
		},
		Reveal: RevealConfig{
			Mode: "hover",
		},
		Embedding: EmbeddingConfig{
			Provider: "",
			Endpoint: "http://localhost:11434",
			Model:    "mxbai-embed-large",
		},
		Server: ServerConfig{
			Addr: ":8087",
		},
		LogLevel: "info",
	}
}

// SimilarityThreshold maps the user-facing sensitivity (0..1) onto a cosine
// threshold. Higher sensitivity means a lower threshold.
func SimilarityThreshold(sensitivity float64) float64 {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	return 0.52 + (1-sensitivity)*0.28
}

// Debounce returns the scheduler debounce window.
func (s SchedulerConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// MaxWait returns the longest a scan may be deferred by re-armed debouncing.
func (s SchedulerConfig) MaxWait() time.Duration {
	return time.Duration(s.MaxWaitMs) * time.Millisecond
}

// SemanticTimeout returns the per-batch embedding budget.
func (d DetectionConfig) SemanticTimeout() time.Duration {
	return time.Duration(d.SemanticTimeoutMs) * time.Millisecond
}

// DataDir returns ~/.spoilerguard
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".spoilerguard")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// Load reads config from disk, or returns defaults. A .env file in the
// working directory is loaded first, then environment overrides are applied.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom is Load with an explicit path.
func LoadFrom(path string) (*Config, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		cfg = DefaultConfig()
	}

	cfg.AutoPopulateFromEnv()
	cfg.normalize()
	return cfg, nil
}

// Save writes config to disk
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for API keys
}

// AutoPopulateFromEnv fills in keys and overrides from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if key := strings.TrimSpace(os.Getenv("JINA_API_KEY")); key != "" {
		c.Embedding.APIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "jina"
			c.Embedding.Model = envOrDefault("JINA_EMBED_MODEL", "jina-embeddings-v3")
		}
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_EMBED_PROVIDER")); v != "" {
		c.Embedding.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_EMBED_ENDPOINT")); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_EMBED_MODEL")); v != "" {
		c.Embedding.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_MODE")); v != "" {
		c.Detection.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_REVEAL")); v != "" {
		c.Reveal.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_TITLES")); v != "" {
		c.TitlesFile = v
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("SPOILERGUARD_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if n, ok := envInt("SPOILERGUARD_DEBOUNCE_MS"); ok {
		c.Scheduler.DebounceMs = n
	}
	if n, ok := envInt("SPOILERGUARD_MIN_NODE_TEXT"); ok {
		c.Detection.MinNodeText = n
	}
	if raw := strings.TrimSpace(os.Getenv("SPOILERGUARD_THRESHOLD")); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Detection.SimilarityThreshold = f
		}
	}
}

// normalize replaces zero or invalid values with defaults so a partial
// config file still yields a working engine.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Detection.Mode != "basic" && c.Detection.Mode != "semantic" {
		c.Detection.Mode = d.Detection.Mode
	}
	if c.Detection.MinNodeText <= 0 {
		c.Detection.MinNodeText = d.Detection.MinNodeText
	}
	if c.Detection.MinSentenceLength <= 0 {
		c.Detection.MinSentenceLength = d.Detection.MinSentenceLength
	}
	if c.Detection.ProximitySteps <= 0 {
		c.Detection.ProximitySteps = d.Detection.ProximitySteps
	}
	if len(c.Detection.HighlightTags) == 0 {
		c.Detection.HighlightTags = d.Detection.HighlightTags
	}
	if c.Detection.SemanticTimeoutMs <= 0 {
		c.Detection.SemanticTimeoutMs = d.Detection.SemanticTimeoutMs
	}
	if c.Scheduler.DebounceMs <= 0 {
		c.Scheduler.DebounceMs = d.Scheduler.DebounceMs
	}
	if c.Scheduler.MaxWaitMs < c.Scheduler.DebounceMs {
		c.Scheduler.MaxWaitMs = 4 * c.Scheduler.DebounceMs
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = d.Scheduler.BatchSize
	}
	if c.Scheduler.EmptyScans <= 0 {
		c.Scheduler.EmptyScans = d.Scheduler.EmptyScans
	}
	if c.Reveal.Mode != "hover" && c.Reveal.Mode != "click" {
		c.Reveal.Mode = d.Reveal.Mode
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = filepath.Join(DataDir(), "stats.db")
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
