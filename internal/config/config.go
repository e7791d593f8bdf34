// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. API keys are not
// part of the file; they come from the environment.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Resolver  ResolverConfig  `yaml:"resolver"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the session database, the intent catalog,
// and the persisted indexes.
type StorageConfig struct {
	SessionDBPath         string `yaml:"session_db_path"`
	IntentsPath           string `yaml:"intents_path"`
	IntentIndexPath       string `yaml:"intent_index_path"`
	KnowledgeIndexPath    string `yaml:"knowledge_index_path"`
	KnowledgeMetadataPath string `yaml:"knowledge_metadata_path"`
}

// EmbeddingConfig holds remote embedding service settings.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	CacheSize      int    `yaml:"cache_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the request timeout as a duration.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// LLMConfig holds remote chat-completion service settings.
type LLMConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the request timeout as a duration.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ResolverConfig holds resolution pipeline settings.
type ResolverConfig struct {
	Threshold     float64 `yaml:"threshold"`
	HistoryWindow int     `yaml:"history_window"`
	WatchIntents  bool    `yaml:"watch_intents"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.SessionDBPath = expandPath(cfg.Storage.SessionDBPath, configDir)
	cfg.Storage.IntentsPath = expandPath(cfg.Storage.IntentsPath, configDir)
	cfg.Storage.IntentIndexPath = expandPath(cfg.Storage.IntentIndexPath, configDir)
	cfg.Storage.KnowledgeIndexPath = expandPath(cfg.Storage.KnowledgeIndexPath, configDir)
	cfg.Storage.KnowledgeMetadataPath = expandPath(cfg.Storage.KnowledgeMetadataPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
