package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotate-cli/internal/provider"
)

func TestExtractOptions_FromConfig(t *testing.T) {
	c := useTestConfig(t)
	c.Extract.MaxChunkChars = 1200
	c.Extract.ChunkTimeoutSecs = 30
	c.Extract.DocumentBudgetSecs = 600
	c.Extract.RetryBackoffMs = 250
	c.Align.FoldWidth = true
	c.LLM.Reasoning = true

	opts := extractOptions(c)
	assert.Equal(t, 1200, opts.MaxChunkChars)
	assert.Equal(t, 30*time.Second, opts.ChunkTimeout)
	assert.Equal(t, 10*time.Minute, opts.DocumentBudget)
	assert.Equal(t, 250*time.Millisecond, opts.RetryBackoff)
	assert.Equal(t, c.Extract.RetryCount, opts.RetryCount)
	assert.True(t, opts.ContinueOnError)
	assert.True(t, opts.FoldWidth)
	assert.Equal(t, c.LLM.Model, opts.Prompt.Model)
	assert.Equal(t, c.Extract.MaxEntitiesPerChunk, opts.Prompt.MaxEntities)
	assert.True(t, opts.Prompt.Reasoning)
	assert.True(t, opts.Prompt.CacheSystem)
	assert.InDelta(t, c.Synth.Boost, opts.Synth.Boost, 1e-9)
}

func TestExtractOptions_NoSystemCacheForOllama(t *testing.T) {
	c := useTestConfig(t)
	c.LLM.Provider = provider.NameOllama
	assert.False(t, extractOptions(c).Prompt.CacheSystem)
}

func TestNewProvider(t *testing.T) {
	c := useTestConfig(t)

	c.LLM.Provider = provider.NameAnthropic
	c.Anthropic.Key = "sk-test"
	p, breaker, err := newProvider(c)
	require.NoError(t, err)
	assert.Equal(t, provider.NameAnthropic, p.Name())
	require.NotNil(t, breaker)

	c.LLM.Provider = provider.NameOllama
	c.Ollama.Host = "http://127.0.0.1:11434"
	p, _, err = newProvider(c)
	require.NoError(t, err)
	assert.Equal(t, provider.NameOllama, p.Name())

	c.LLM.Provider = "openai"
	_, _, err = newProvider(c)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestNewOllamaClient_BadHost(t *testing.T) {
	_, err := newOllamaClient("http://[::1")
	assert.Error(t, err)
}

func TestInitEnv_ValidatesConfig(t *testing.T) {
	c := useTestConfig(t)
	c.Anthropic.Key = ""

	_, err := initEnv(context.Background(), "extract", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestInitEnv_WithStore(t *testing.T) {
	c := useTestConfig(t)
	c.Anthropic.Key = "sk-test"
	c.Store.DatabaseURL = "annotate-test.db"

	env, err := initEnv(context.Background(), "batch", true)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Extractor)
	assert.Contains(t, env.Catalog.Names(), "flood")
	assert.NotNil(t, env.Runner())
}

func TestInitEnv_UnknownDefaultTaxonomy(t *testing.T) {
	c := useTestConfig(t)
	c.Anthropic.Key = "sk-test"
	c.Taxonomy.Name = "nope"

	_, err := initEnv(context.Background(), "extract", false)
	assert.Error(t, err)
}
