package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RETRIEVAL_MAX_TOP_K", "")
	t.Setenv("RETRIEVAL_FUSION_RRF_K", "")
	t.Setenv("RETRIEVAL_TOP_K_POLICY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetrievalMaxTopK != 100 {
		t.Fatalf("expected default max top k 100, got %d", cfg.RetrievalMaxTopK)
	}
	if cfg.RetrievalFusionRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.RetrievalFusionRRFK)
	}
	if cfg.RetrievalTopKPolicy != "clamp" {
		t.Fatalf("expected default policy clamp, got %q", cfg.RetrievalTopKPolicy)
	}
	if cfg.CacheEmbeddingTTLMinutes != 24*60 {
		t.Fatalf("expected embedding ttl 1440, got %d", cfg.CacheEmbeddingTTLMinutes)
	}
}

func TestLoadAppliesYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("retrieval_fusion_rrf_k: 75\nretrieval_top_k_policy: reject\nredis_addr: redis.internal:6379\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RETRIEVAL_TOP_K_POLICY", "clamp")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetrievalFusionRRFK != 75 {
		t.Fatalf("expected rrf k 75 from file, got %d", cfg.RetrievalFusionRRFK)
	}
	if cfg.RedisAddr != "redis.internal:6379" {
		t.Fatalf("expected redis addr from file, got %q", cfg.RedisAddr)
	}
	if cfg.RetrievalTopKPolicy != "clamp" {
		t.Fatalf("expected env to win over file, got %q", cfg.RetrievalTopKPolicy)
	}
}

func TestLoadRejectsMalformedConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("retrieval_fusion_rrf_k: [not an int"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed file")
	}
}

func TestAllowedFilterKeysSplitsAndTrims(t *testing.T) {
	cfg := Config{RetrievalAllowedFilterKeys: "category, source ,, language"}
	got := cfg.AllowedFilterKeys()
	want := []string{"category", "source", "language"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AllowedFilterKeys() = %v, want %v", got, want)
	}
}
