package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 0.85, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, 1536, cfg.Cache.EmbeddingDimension)
	assert.Equal(t, 10000, cfg.Cache.CoalesceWaitTimeoutMs)
	assert.Equal(t, 3000, cfg.Generation.ModelTimeoutMs)
	assert.Equal(t, 10, cfg.Generation.OrgConcurrencyCap)
	assert.Equal(t, 2, cfg.Generation.QueueDepthMultiplier)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semreview.toml")
	content := `
[server]
port = 9999
jwt_secret = "s3cret"

[cache]
similarity_threshold = 0.9

[generation]
models = ["gpt-4o-mini"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, 0.9, cfg.Cache.SimilarityThreshold)
	assert.Equal(t, []string{"gpt-4o-mini"}, cfg.Generation.Models)
	// File overrides leave other defaults intact
	assert.Equal(t, 1536, cfg.Cache.EmbeddingDimension)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semreview.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9999\n"), 0644))

	t.Setenv("SEMREVIEW_SERVER_PORT", "7777")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Cache.SimilarityThreshold = 0.85
		cfg.Cache.EmbeddingDimension = 1536
		cfg.Generation.OrgConcurrencyCap = 10
		cfg.Generation.QueueDepthMultiplier = 2
		cfg.Generation.ModelTimeoutMs = 3000
		cfg.Generation.Models = []string{"gpt-4o"}
		cfg.Embedding.Provider = "openai"
		return cfg
	}

	require.NoError(t, Validate(valid()))

	cfg := valid()
	cfg.Cache.SimilarityThreshold = 1.5
	assert.Error(t, Validate(cfg))

	cfg = valid()
	cfg.Generation.Models = nil
	assert.Error(t, Validate(cfg))

	cfg = valid()
	cfg.Embedding.Provider = "word2vec"
	assert.Error(t, Validate(cfg))

	cfg = valid()
	cfg.Generation.OrgConcurrencyCap = 0
	assert.Error(t, Validate(cfg))
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semreview.toml")
	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.Error(t, InitConfig(path))
}
