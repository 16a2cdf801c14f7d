// Package registry resolves logical model names from the catalog to
// concrete provider clients. Clients are constructed lazily and cached
// per provider; a catalog miss or an unusable client is a recoverable
// error the routing layer answers with its fallback model.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/llm"
)

// DefaultSystemPrompt is used when a catalog entry configures neither
// an inline prompt nor a prompt file.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// Resolution is the result of resolving one logical model name.
type Resolution struct {
	Name         string
	Client       llm.Client
	Provider     string
	ModelID      string
	Type         string
	Params       map[string]any
	SystemPrompt string
}

// IsVision reports whether the resolved model runs on the given
// vision-capable provider.
func (r *Resolution) IsVision(visionProvider string) bool {
	return r.Provider == visionProvider
}

// Registry resolves model names against the live configuration.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]llm.Client
}

// New creates a registry backed by cfg.
func New(cfg *config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger.With("component", "registry"),
		clients: make(map[string]llm.Client),
	}
}

// Resolve maps a logical model name to a ready provider client plus the
// catalog entry's generation settings. Errors are recoverable: the
// caller may retry with a different name.
func (r *Registry) Resolve(name string) (*Resolution, error) {
	mc, ok := r.cfg.Model(name)
	if !ok {
		return nil, fmt.Errorf("model %q not found in catalog", name)
	}

	client, err := r.client(mc.Provider)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", name, err)
	}

	prompt := mc.SystemPrompt
	if prompt == "" && mc.SystemPromptFile != "" {
		prompt, err = r.cfg.ReadPromptFile(mc.SystemPromptFile)
		if err != nil {
			r.logger.Warn("system prompt file unreadable, using default",
				"model", name, "file", mc.SystemPromptFile, "error", err)
			prompt = ""
		}
	}
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	return &Resolution{
		Name:         name,
		Client:       client,
		Provider:     mc.Provider,
		ModelID:      mc.ModelID,
		Type:         mc.Type,
		Params:       mc.Parameters,
		SystemPrompt: prompt,
	}, nil
}

// client returns the cached client for a provider, constructing and
// initializing it on first use. Credentials come from the environment
// and never hot-reload, so caching per provider is safe.
func (r *Registry) client(provider string) (llm.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[provider]; ok {
		return c, nil
	}

	secrets := r.cfg.Secrets()
	var client llm.Client
	switch provider {
	case "openai":
		client = llm.NewOpenAIClient(secrets.OpenAIAPIKey, r.logger)
	case "anthropic":
		client = llm.NewAnthropicClient(secrets.AnthropicAPIKey, r.logger)
	case "gemini":
		client = llm.NewGeminiClient(secrets.GeminiAPIKey, r.logger)
	case "gemini_image":
		client = llm.NewGeminiImageClient(secrets.GeminiAPIKey, r.logger)
	case "ollama":
		client = llm.NewOllamaClient(secrets.OllamaHost, r.logger)
	case "perplexity":
		client = llm.NewPerplexityClient(secrets.PerplexityAPIKey, r.logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	if err := client.Init(); err != nil {
		return nil, fmt.Errorf("provider %s unavailable: %w", provider, err)
	}

	r.clients[provider] = client
	r.logger.Debug("provider client initialized", "provider", provider)
	return client, nil
}
