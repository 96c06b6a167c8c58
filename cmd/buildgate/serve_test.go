package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestServeRequiresConfig(t *testing.T) {
	err := runServeCommand(&ServeFlags{}, nil)
	if err == nil || !strings.Contains(err.Error(), "config file required") {
		t.Fatalf("expected config-required error, got %v", err)
	}
}

func TestServeRejectsBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(p, []byte("[bus]\nkind = \"kafka\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Kafka bus without brokers fails validation during load.
	err := runServeCommand(&ServeFlags{ConfigPath: p}, nil)
	if err == nil || !strings.Contains(err.Error(), "error loading config") {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestServeConfigFromArgs(t *testing.T) {
	err := runServeCommand(&ServeFlags{}, []string{filepath.Join(t.TempDir(), "missing.toml")})
	if err == nil || !strings.Contains(err.Error(), "error loading config") {
		t.Fatalf("expected load error for missing file, got %v", err)
	}
}
