package errors

import "testing"

func TestIsRecoverable(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want bool
	}{
		{"storage", New(KindStorage, "disk full"), true},
		{"io", New(KindIO, "broken pipe"), true},
		{"execution_timeout", New(KindExecutionTimeout, "timed out"), true},
		{"circuit_breaker_open", New(KindCircuitBreakerOpen, "open"), true},
		{"rate_limit", New(KindRateLimitExceeded, "too many"), true},
		{"embedding", New(KindEmbedding, "provider down"), true},
		{"not_found", NotFound("episode", "e1"), false},
		{"invalid_input", New(KindInvalidInput, "bad"), false},
		{"invalid_state", New(KindInvalidState, "bad state"), false},
		{"security", New(KindSecurity, "no token"), false},
		{"validation_failed", New(KindValidationFailed, "bad"), false},
		{"quota_exceeded", New(KindQuotaExceeded, "over"), false},
		{"configuration", New(KindConfiguration, "bad config"), false},
		{"serialization", New(KindSerialization, "bad json"), false},
		{"relationship_validation", NewRelationshipValidationFailed("bad"), true},
		{"relationship_self_ref", NewSelfReferenceError("e1"), false},
		{"cache_eviction", NewCacheEvictionFailed("k", "full"), true},
		{"cache_config", NewCacheConfigInvalid("bad max_size"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.IsRecoverable(); got != c.want {
				t.Errorf("IsRecoverable() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestErrorWithID(t *testing.T) {
	err := NotFound("episode", "e1").WithID("e1")
	if err.ID != "e1" {
		t.Errorf("expected ID e1, got %s", err.ID)
	}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}
