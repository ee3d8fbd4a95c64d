package nexus

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Chat.Provider != "groq" {
		t.Errorf("chat provider = %q", cfg.Chat.Provider)
	}
	if cfg.ChunkSize != 4000 || cfg.ContextBudget != 4000 || cfg.MaxAnchors != 5 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.StageTimeout != 60*time.Second {
		t.Errorf("stage timeout = %v", cfg.StageTimeout)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	content := `
chat:
  provider: ollama
  model: llama3:latest
context_budget: 2000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Chat.Provider != "ollama" || cfg.Chat.Model != "llama3:latest" {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.ContextBudget != 2000 {
		t.Errorf("context budget = %d", cfg.ContextBudget)
	}
	// Untouched fields keep their defaults.
	if cfg.ChunkSize != 4000 {
		t.Errorf("chunk size = %d, want default preserved", cfg.ChunkSize)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("chat: [not a mapping"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{DBPath: "/tmp/custom.db"}
	if got := cfg.resolveDBPath(); got != "/tmp/custom.db" {
		t.Errorf("explicit path = %q", got)
	}

	cfg = Config{DBName: "study", StorageDir: "local"}
	if got := cfg.resolveDBPath(); got != "study.db" {
		t.Errorf("local path = %q", got)
	}

	cfg = Config{DBName: "study", StorageDir: "home"}
	got := cfg.resolveDBPath()
	if !strings.HasSuffix(got, filepath.Join(".nexus", "study.db")) {
		t.Errorf("home path = %q", got)
	}
}
