package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 4*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 5, cfg.StatementWindow)
	assert.InDelta(t, 0.7, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, "pattern", cfg.TopicExtractor)
	assert.False(t, cfg.EventsEnabled)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PROVIDER_TIMEOUT", "1500ms")
	t.Setenv("SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("REPETITION_CACHE_CONVERSATIONS", "12")
	t.Setenv("EVENTS_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.ProviderTimeout)
	assert.InDelta(t, 0.8, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, 12, cfg.RepetitionCacheConversations)
	assert.True(t, cfg.EventsEnabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RECOVERY_CONCURRENCY", "lots")
	t.Setenv("RECOVERY_WINDOW", "yesterday")
	t.Setenv("TRACING_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 4, cfg.RecoveryConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.RecoveryWindow)
	assert.False(t, cfg.TracingEnabled)
}
