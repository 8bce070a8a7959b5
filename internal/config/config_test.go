package config

import (
	"os"
	"testing"
)

func TestMemoryConfigFromEnvDefaults(t *testing.T) {
	os.Unsetenv("MEMORY_MAX_EPISODES")
	os.Unsetenv("MEMORY_EVICTION_POLICY")
	os.Unsetenv("MEMORY_ENABLE_SUMMARIZATION")

	cfg := MemoryConfigFromEnv()

	if cfg.MaxEpisodes != nil {
		t.Errorf("expected unlimited MaxEpisodes, got %v", *cfg.MaxEpisodes)
	}
	if cfg.EvictionPolicy != EvictionRelevanceWeighted {
		t.Errorf("expected default eviction policy relevance_weighted, got %s", cfg.EvictionPolicy)
	}
}

func TestMemoryConfigFromEnvEvictionPolicyVariants(t *testing.T) {
	cases := map[string]EvictionPolicy{
		"lru":                EvictionLRU,
		"LRU":                EvictionLRU,
		"relevance_weighted": EvictionRelevanceWeighted,
		"relevance-weighted": EvictionRelevanceWeighted,
		"RelevanceWeighted":  EvictionRelevanceWeighted,
		"garbage":            EvictionRelevanceWeighted,
	}

	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("MEMORY_EVICTION_POLICY", raw)
			cfg := MemoryConfigFromEnv()
			if cfg.EvictionPolicy != want {
				t.Errorf("parseEvictionPolicy(%q) = %s, want %s", raw, cfg.EvictionPolicy, want)
			}
		})
	}
}

func TestMemoryConfigFromEnvMalformedMaxEpisodes(t *testing.T) {
	t.Setenv("MEMORY_MAX_EPISODES", "not-a-number")
	cfg := MemoryConfigFromEnv()
	if cfg.MaxEpisodes != nil {
		t.Errorf("expected fallback to unlimited on malformed input, got %v", *cfg.MaxEpisodes)
	}
}

func TestAuditConfigFromEnvRedactFields(t *testing.T) {
	t.Setenv("AUDIT_LOG_REDACT_FIELDS", "password, custom_secret ,token")
	cfg := AuditConfigFromEnv()

	want := []string{"password", "custom_secret", "token"}
	if len(cfg.RedactFields) != len(want) {
		t.Fatalf("expected %d redact fields, got %d", len(want), len(cfg.RedactFields))
	}
	for i, f := range want {
		if cfg.RedactFields[i] != f {
			t.Errorf("redact field %d = %q, want %q", i, cfg.RedactFields[i], f)
		}
	}
}
