package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `routing:
  classifier_model: Llama-Tiny
  simple_no_research_model: GPT-4o-mini
  simple_research_model: Perplexity-Small
  hard_no_research_model: Claude-Sonnet
  hard_research_model: Perplexity-Large
  escalation_model: Gemini-Pro
  fallback_model: GPT-4o-mini
context_detection:
  token_usage_threshold: 6000
conversations:
  max_tracked: 500
  retention_hours: 12
listen:
  address: 127.0.0.1
  port: 9100
logging:
  level: debug
`

const sampleModels = `{
  "models": {
    "GPT-4o-mini": {
      "provider": "openai",
      "model_id": "gpt-4o-mini",
      "type": "chat",
      "parameters": {"max_tokens": 1024}
    },
    "Gemini-Pro": {
      "provider": "gemini",
      "model_id": "gemini-1.5-pro",
      "type": "chat",
      "system_prompt_file": "prompts/vision.txt"
    }
  }
}`

func writeConfig(t *testing.T, yaml, models string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	if models != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "models.json"), []byte(models), 0o644))
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleYAML, sampleModels)

	cfg, err := Load(path)
	require.NoError(t, err)

	r := cfg.Routing()
	assert.Equal(t, "Llama-Tiny", r.ClassifierModel)
	assert.Equal(t, "Claude-Sonnet", r.HardNoResearchModel)
	assert.Equal(t, "GPT-4o-mini", r.FallbackModel)
	assert.Equal(t, 6000, r.TokenThreshold)
	assert.Equal(t, DefaultResearchModel, r.ResearchModel, "unset research model falls back to default")
	assert.Equal(t, DefaultVisionProvider, r.VisionProvider)

	assert.Equal(t, 500, cfg.MaxConversations())
	assert.Equal(t, 12, cfg.RetentionHours())

	addr, port := cfg.ListenAddr()
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, 9100, port)
	assert.Equal(t, "debug", cfg.LogLevel())

	mc, ok := cfg.Model("GPT-4o-mini")
	require.True(t, ok)
	assert.Equal(t, "openai", mc.Provider)
	assert.Equal(t, "gpt-4o-mini", mc.ModelID)
	assert.Equal(t, float64(1024), mc.Parameters["max_tokens"])

	_, ok = cfg.Model("Nonexistent")
	assert.False(t, ok)
}

func TestLoadDefaults(t *testing.T) {
	minimal := `routing:
  classifier_model: a
  simple_no_research_model: b
  simple_research_model: c
  hard_no_research_model: d
  hard_research_model: e
  escalation_model: f
  fallback_model: g
`
	cfg, err := Load(writeConfig(t, minimal, ""))
	require.NoError(t, err)

	assert.Equal(t, DefaultTokenThreshold, cfg.Routing().TokenThreshold)
	assert.Equal(t, DefaultMaxConversations, cfg.MaxConversations())
	assert.Equal(t, DefaultRetentionHours, cfg.RetentionHours())

	addr, port := cfg.ListenAddr()
	assert.Equal(t, DefaultListenAddress, addr)
	assert.Equal(t, DefaultListenPort, port)

	// Missing models.json is not fatal; the catalog is just empty.
	_, ok := cfg.Model("a")
	assert.False(t, ok)
}

func TestLoadMissingModelNames(t *testing.T) {
	incomplete := `routing:
  classifier_model: a
  fallback_model: g
`
	_, err := Load(writeConfig(t, incomplete, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simple_no_research_model")
	assert.Contains(t, err.Error(), "escalation_model")
}

func TestModelNamesFromEnvironment(t *testing.T) {
	t.Setenv("SIMPLE_NO_RESEARCH_MODEL", "Env-Model")

	partial := `routing:
  classifier_model: a
  simple_research_model: c
  hard_no_research_model: d
  hard_research_model: e
  escalation_model: f
  fallback_model: g
`
	cfg, err := Load(writeConfig(t, partial, ""))
	require.NoError(t, err)
	assert.Equal(t, "Env-Model", cfg.Routing().SimpleNoResearchModel)
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeConfig(t, sampleYAML, sampleModels)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6000, cfg.Routing().TokenThreshold)

	updated := strings.Replace(sampleYAML, "token_usage_threshold: 6000", "token_usage_threshold: 2000", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.NoError(t, cfg.Reload())
	assert.Equal(t, 2000, cfg.Routing().TokenThreshold)
}

func TestReloadKeepsStateOnBadYAML(t *testing.T) {
	path := writeConfig(t, sampleYAML, sampleModels)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("routing: ["), 0o644))
	require.Error(t, cfg.Reload())
	assert.Equal(t, "Llama-Tiny", cfg.Routing().ClassifierModel, "failed reload keeps previous state")
}

func TestReadPromptFile(t *testing.T) {
	path := writeConfig(t, sampleYAML, sampleModels)
	dir := filepath.Dir(path)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", "vision.txt"),
		[]byte("  You are a careful image analyst.\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	prompt, err := cfg.ReadPromptFile("prompts/vision.txt")
	require.NoError(t, err)
	assert.Equal(t, "You are a careful image analyst.", prompt)

	_, err = cfg.ReadPromptFile("prompts/missing.txt")
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"", "info", "DEBUG", " warn ", "error", "trace"} {
		_, err := ParseLogLevel(s)
		assert.NoError(t, err, "level %q", s)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}
