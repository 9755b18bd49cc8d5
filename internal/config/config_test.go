package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.RSK != 6 || cfg.RSM != 4 {
		t.Fatalf("unexpected RS defaults: k=%d m=%d", cfg.RSK, cfg.RSM)
	}
	if cfg.ChunkSizeBytes != 10*1024*1024 {
		t.Fatalf("unexpected default chunk size: %d", cfg.ChunkSizeBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DECENTRALIS_RS_K", "8")
	t.Setenv("DECENTRALIS_RS_M", "2")
	t.Setenv("DECENTRALIS_CHUNK_SIZE_MB", "5")
	t.Setenv("DECENTRALIS_DEBUG", "true")

	cfg := Load()
	if cfg.RSK != 8 || cfg.RSM != 2 {
		t.Fatalf("unexpected RS overrides: k=%d m=%d", cfg.RSK, cfg.RSM)
	}
	if cfg.ChunkSizeBytes != 5*1024*1024 {
		t.Fatalf("unexpected overridden chunk size: %d", cfg.ChunkSizeBytes)
	}
	if !cfg.Debug {
		t.Fatal("expected debug to be true")
	}
}

func TestValidateRejectsOverLimit(t *testing.T) {
	cfg := Default()
	cfg.RSK = 200
	cfg.RSM = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for k+m > 255")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
