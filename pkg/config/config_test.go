package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Engine.PersistEnabled() {
		t.Error("persist should default to true")
	}
	if cfg.Validation.ResultFormat != "BASIC" || cfg.Validation.PartialUnexpectedCount != 20 {
		t.Errorf("unexpected validation defaults: %+v", cfg.Validation)
	}
}

func TestLoadFromMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.yaml", `
engine:
  threads: 2
  persist: false
validation:
  result_format: SUMMARY
cache:
  max_age: 5m
`)
	second := writeFile(t, dir, "b.yaml", `
engine:
  threads: 8
`)

	m := NewManager()
	if err := m.LoadFrom(first, second, filepath.Join(dir, "missing.yaml")); err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	cfg := m.Get()
	if cfg.Engine.Threads != 8 {
		t.Errorf("Threads = %d, want 8", cfg.Engine.Threads)
	}
	if cfg.Engine.PersistEnabled() {
		t.Error("persist should be disabled by the first file")
	}
	if cfg.Validation.ResultFormat != "SUMMARY" {
		t.Errorf("ResultFormat = %q", cfg.Validation.ResultFormat)
	}
	if cfg.Cache.MaxAge != 5*time.Minute {
		t.Errorf("MaxAge = %v", cfg.Cache.MaxAge)
	}
	if got := m.GetPaths(); len(got) != 2 {
		t.Errorf("GetPaths() = %v, want 2 paths", got)
	}
}

func TestEnvOverridesFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", "logging:\n  level: debug\n")
	t.Setenv("DQENGINE_LOG_LEVEL", "error")
	t.Setenv("DQENGINE_THREADS", "3")

	m := NewManager()
	if err := m.LoadFrom(path); err != nil {
		t.Fatal(err)
	}
	if m.Get().Logging.Level != "error" {
		t.Errorf("Level = %q, want error", m.Get().Logging.Level)
	}
	if m.Get().Engine.Threads != 3 {
		t.Errorf("Threads = %d, want 3", m.Get().Engine.Threads)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad result format", "validation:\n  result_format: VERBOSE\n"},
		{"bad backend", "results:\n  backend: postgres\n"},
		{"bad sample rate", "telemetry:\n  sample_rate: 3\n"},
		{"malformed yaml", "engine: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "bad.yaml", tt.content)
			err := NewManager().LoadFrom(path)
			if !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
				t.Errorf("LoadFrom() error = %v, want configuration error", err)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	m := NewManager()
	m.Get().Engine.MemoryLimit = "1GB"
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}

	reloaded := NewManager()
	if err := reloaded.LoadFrom(path); err != nil {
		t.Fatal(err)
	}
	if reloaded.Get().Engine.MemoryLimit != "1GB" {
		t.Errorf("MemoryLimit = %q", reloaded.Get().Engine.MemoryLimit)
	}
}
