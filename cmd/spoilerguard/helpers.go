package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abelbrown/spoilerguard/internal/config"
	"github.com/abelbrown/spoilerguard/internal/embed"
	"github.com/abelbrown/spoilerguard/internal/logging"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/stats"
)

// fatalf prints to stderr and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// dataDir returns ~/.spoilerguard/, creating it if needed.
func dataDir() string {
	dir := config.DataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		fatalf("create data directory: %v", err)
	}
	return dir
}

// loadConfig reads the config file and points logging at stderr.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}
	logging.InitWriter(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	return cfg
}

// loadRegistry builds the registry from path, falling back to the config's
// titles file.
func loadRegistry(cfg *config.Config, path string) *registry.Registry {
	if path == "" {
		path = cfg.TitlesFile
	}
	if path == "" {
		fatalf("no titles file: pass -titles or set SPOILERGUARD_TITLES")
	}
	titles, settings, err := registry.LoadFile(path)
	if err != nil {
		fatalf("%v", err)
	}
	reg, err := registry.New(titles, settings)
	if err != nil {
		fatalf("%v", err)
	}
	logging.Debug("registry loaded", "path", path, "titles", len(titles))
	return reg
}

// newEmbedder returns the configured embedder, or nil when the semantic
// layer is off or the backend is unreachable.
func newEmbedder(cfg *config.Config) embed.Embedder {
	if cfg.Detection.Mode != "semantic" {
		return nil
	}
	e, err := embed.New(embed.Config{
		Provider: cfg.Embedding.Provider,
		Endpoint: cfg.Embedding.Endpoint,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		logging.Warn("embedder disabled", "error", err)
		return nil
	}
	if e == nil || !e.Available() {
		logging.Warn("embedder unavailable, using heuristic layers only", "provider", cfg.Embedding.Provider)
		return nil
	}
	return e
}

// openEvents opens today's event log, or a null logger on failure.
func openEvents() *otel.Logger {
	l, err := otel.OpenLogger(dataDir())
	if err != nil {
		logging.Warn("event log disabled", "error", err)
		return otel.NewNullLogger()
	}
	return l
}

// statsPath returns the stats database path.
func statsPath(cfg *config.Config) string {
	if cfg.Server.DBPath != "" {
		return cfg.Server.DBPath
	}
	return filepath.Join(dataDir(), "stats.db")
}

// openStats opens the stats database or fatals.
func openStats(cfg *config.Config) *stats.Store {
	st, err := stats.Open(statsPath(cfg))
	if err != nil {
		fatalf("%v", err)
	}
	return st
}
