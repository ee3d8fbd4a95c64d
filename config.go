package nexus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/nexus/llm"
)

// Config holds all configuration for the Nexus engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.nexus/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "nexus".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. "home" (default) uses ~/.nexus/, "local" the cwd.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Chat is the generation endpoint used for planning, extraction,
	// keyword derivation, and the final explanation.
	Chat llm.Config `json:"chat" yaml:"chat"`

	// Judge is the generation endpoint used by the evaluation scorer.
	// Defaults to Chat when unset.
	Judge llm.Config `json:"judge" yaml:"judge"`

	// Search configures the web research capability.
	Search SearchConfig `json:"search" yaml:"search"`

	// ChunkSize is the fixed segment size (characters) for extraction input.
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// ContextBudget caps the rendered retrieval context in characters.
	ContextBudget int `json:"context_budget" yaml:"context_budget"`

	// MaxAnchors caps how many anchor entities retrieval keeps.
	MaxAnchors int `json:"max_anchors" yaml:"max_anchors"`

	// StageTimeout bounds every pipeline stage. A stage timing out is
	// handled exactly like a capability failure.
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
}

// SearchConfig configures the web search capability endpoint.
type SearchConfig struct {
	APIKey     string `json:"api_key" yaml:"api_key"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
}

// DefaultConfig returns a Config with sensible defaults.
// Database is stored in ~/.nexus/nexus.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "nexus",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "groq",
			Model:    "llama-3.3-70b-versatile",
		},
		Search: SearchConfig{
			MaxResults: 5,
		},
		ChunkSize:     4000,
		ContextBudget: 4000,
		MaxAnchors:    5,
		StageTimeout:  60 * time.Second,
	}
}

// LoadConfig reads a YAML config file and overlays it on the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "nexus"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".nexus", name+".db")
	}
}
