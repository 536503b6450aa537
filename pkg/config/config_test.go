package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 0.75, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Pipeline.MaxExpansions)
	assert.Equal(t, 600*time.Millisecond, cfg.Pipeline.LatencyBudget)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, 0.3, cfg.Retrieval.MinSimilarity)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2048, cfg.Cache.MemoryItems)
	assert.Equal(t, 8192, cfg.Cache.EmbeddingItems)
	assert.True(t, cfg.Pipeline.ClassifierFallback)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QUERYLIFT_PIPELINE_CONFIDENCETHRESHOLD", "0.6")
	t.Setenv("QUERYLIFT_PIPELINE_MAXEXPANSIONS", "2")
	t.Setenv("QUERYLIFT_PIPELINE_LATENCYBUDGET", "250ms")
	t.Setenv("QUERYLIFT_REDIS_ENABLED", "false")
	t.Setenv("QUERYLIFT_LLM_MODEL", "local-model")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Pipeline.MaxExpansions)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.LatencyBudget)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "local-model", cfg.LLM.Model)
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	t.Setenv("QUERYLIFT_PIPELINE_CONFIDENCETHRESHOLD", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidenceThreshold")
}

func TestValidate(t *testing.T) {
	cfg := Config{Server: ServerConfig{Port: 8080}}
	cfg.Pipeline.ConfidenceThreshold = 0.75
	require.NoError(t, cfg.Validate())

	cfg.Pipeline.MaxExpansions = -1
	require.Error(t, cfg.Validate())

	cfg.Pipeline.MaxExpansions = 3
	cfg.Retrieval.MinSimilarity = -0.1
	require.Error(t, cfg.Validate())

	cfg.Retrieval.MinSimilarity = 0.3
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())
}
