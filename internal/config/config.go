// Package config handles Switchboard configuration loading and hot
// reload. Routing knobs live in a YAML file, the model catalog in a
// models.json next to it, and credentials come from the environment.
// All reads go through snapshot accessors; nothing may cache values
// past a single request (the files can be rewritten at any time).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the YAML file leaves a knob unset.
const (
	DefaultTokenThreshold   = 4000
	DefaultMaxConversations = 1000
	DefaultRetentionHours   = 24
	DefaultListenAddress    = "0.0.0.0"
	DefaultListenPort       = 8000
	DefaultVisionProvider   = "gemini"
	DefaultResearchModel    = "Perplexity-Research"
)

// Secrets holds credentials read from the environment.
type Secrets struct {
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	PerplexityAPIKey string `env:"PERPLEXITY_API_KEY"`
	OllamaHost       string `env:"OLLAMA_API_HOST"`
}

// modelNameEnv supplies logical model names from the environment when
// the YAML routing section leaves them blank.
type modelNameEnv struct {
	Classifier       string `env:"CLASSIFIER_MODEL"`
	SimpleNoResearch string `env:"SIMPLE_NO_RESEARCH_MODEL"`
	SimpleResearch   string `env:"SIMPLE_RESEARCH_MODEL"`
	HardNoResearch   string `env:"HARD_NO_RESEARCH_MODEL"`
	HardResearch     string `env:"HARD_RESEARCH_MODEL"`
	Escalation       string `env:"ESCALATION_MODEL"`
	Fallback         string `env:"FALLBACK_MODEL"`
}

// Routing is the snapshot of routing-relevant settings handed to the
// decision engine. It is a value type: holding one never observes a
// later reload.
type Routing struct {
	ClassifierModel       string
	SimpleNoResearchModel string
	SimpleResearchModel   string
	HardNoResearchModel   string
	HardResearchModel     string
	EscalationModel       string
	FallbackModel         string
	ResearchModel         string
	VisionProvider        string
	TokenThreshold        int
}

// ModelConfig describes one logical model in the models.json catalog.
type ModelConfig struct {
	Provider         string         `json:"provider"`
	ModelID          string         `json:"model_id"`
	Type             string         `json:"type"`
	Parameters       map[string]any `json:"parameters"`
	SystemPrompt     string         `json:"system_prompt"`
	SystemPromptFile string         `json:"system_prompt_file"`
}

// fileConfig mirrors the YAML file layout.
type fileConfig struct {
	Routing struct {
		ClassifierModel       string `yaml:"classifier_model"`
		SimpleNoResearchModel string `yaml:"simple_no_research_model"`
		SimpleResearchModel   string `yaml:"simple_research_model"`
		HardNoResearchModel   string `yaml:"hard_no_research_model"`
		HardResearchModel     string `yaml:"hard_research_model"`
		EscalationModel       string `yaml:"escalation_model"`
		FallbackModel         string `yaml:"fallback_model"`
		ResearchModel         string `yaml:"research_model"`
		VisionProvider        string `yaml:"vision_provider"`
	} `yaml:"routing"`
	ContextDetection struct {
		TokenUsageThreshold int `yaml:"token_usage_threshold"`
	} `yaml:"context_detection"`
	Conversations struct {
		MaxTracked     int `yaml:"max_tracked"`
		RetentionHours int `yaml:"retention_hours"`
	} `yaml:"conversations"`
	Listen struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"listen"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Config is the live configuration service. It is safe for concurrent
// use; Reload swaps the parsed state atomically under the write lock.
type Config struct {
	path       string
	modelsPath string
	configDir  string

	mu       sync.RWMutex
	secrets  Secrets
	routing  Routing
	models   map[string]ModelConfig
	file     fileConfig
	logLevel string
}

// Load reads the YAML config at path plus the models.json in the same
// directory, and parses credentials from the environment. The seven
// logical model names are required; missing ones are an error so that
// misconfiguration fails at startup rather than on the first request.
func Load(path string) (*Config, error) {
	dir := filepath.Dir(path)
	c := &Config{
		path:       path,
		modelsPath: filepath.Join(dir, "models.json"),
		configDir:  dir,
	}
	if err := env.Parse(&c.secrets); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	if missing := c.missingModelNames(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required model configuration: %s "+
			"(set them in %s or via environment variables)",
			strings.Join(missing, ", "), path)
	}
	return c, nil
}

// Reload re-reads both configuration files. Called at startup and by
// the file watcher; safe to call at any time.
func (c *Config) Reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	models, err := loadModelCatalog(c.modelsPath)
	if err != nil {
		return err
	}

	var names modelNameEnv
	if err := env.Parse(&names); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	routing := Routing{
		ClassifierModel:       firstNonEmpty(fc.Routing.ClassifierModel, names.Classifier),
		SimpleNoResearchModel: firstNonEmpty(fc.Routing.SimpleNoResearchModel, names.SimpleNoResearch),
		SimpleResearchModel:   firstNonEmpty(fc.Routing.SimpleResearchModel, names.SimpleResearch),
		HardNoResearchModel:   firstNonEmpty(fc.Routing.HardNoResearchModel, names.HardNoResearch),
		HardResearchModel:     firstNonEmpty(fc.Routing.HardResearchModel, names.HardResearch),
		EscalationModel:       firstNonEmpty(fc.Routing.EscalationModel, names.Escalation),
		FallbackModel:         firstNonEmpty(fc.Routing.FallbackModel, names.Fallback),
		ResearchModel:         firstNonEmpty(fc.Routing.ResearchModel, DefaultResearchModel),
		VisionProvider:        firstNonEmpty(fc.Routing.VisionProvider, DefaultVisionProvider),
		TokenThreshold:        fc.ContextDetection.TokenUsageThreshold,
	}
	if routing.TokenThreshold <= 0 {
		routing.TokenThreshold = DefaultTokenThreshold
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.file = fc
	c.routing = routing
	c.models = models
	c.logLevel = fc.Logging.Level
	return nil
}

func loadModelCatalog(path string) (map[string]ModelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing catalog means every resolution is a miss,
			// which the router already tolerates.
			return map[string]ModelConfig{}, nil
		}
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	var parsed struct {
		Models map[string]ModelConfig `json:"models"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if parsed.Models == nil {
		parsed.Models = map[string]ModelConfig{}
	}
	return parsed.Models, nil
}

// Routing returns the current routing snapshot.
func (c *Config) Routing() Routing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.routing
}

// Secrets returns the environment-sourced credentials.
func (c *Config) Secrets() Secrets {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secrets
}

// Model looks up one logical model in the catalog.
func (c *Config) Model(name string) (ModelConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return m, ok
}

// MaxConversations returns the conversation-store capacity limit.
func (c *Config) MaxConversations() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.file.Conversations.MaxTracked > 0 {
		return c.file.Conversations.MaxTracked
	}
	return DefaultMaxConversations
}

// RetentionHours returns the conversation-store retention window.
func (c *Config) RetentionHours() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.file.Conversations.RetentionHours > 0 {
		return c.file.Conversations.RetentionHours
	}
	return DefaultRetentionHours
}

// ListenAddr returns the address:port the API server binds.
func (c *Config) ListenAddr() (string, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr := firstNonEmpty(c.file.Listen.Address, DefaultListenAddress)
	port := c.file.Listen.Port
	if port == 0 {
		port = DefaultListenPort
	}
	return addr, port
}

// LogLevel returns the configured log level string ("" means info).
func (c *Config) LogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel
}

// ReadPromptFile reads a system prompt file relative to the config
// directory, trimming surrounding whitespace.
func (c *Config) ReadPromptFile(rel string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(c.configDir, rel))
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *Config) missingModelNames() []string {
	r := c.Routing()
	var missing []string
	for _, nv := range []struct{ name, value string }{
		{"classifier_model", r.ClassifierModel},
		{"simple_no_research_model", r.SimpleNoResearchModel},
		{"simple_research_model", r.SimpleResearchModel},
		{"hard_no_research_model", r.HardNoResearchModel},
		{"hard_research_model", r.HardResearchModel},
		{"escalation_model", r.EscalationModel},
		{"fallback_model", r.FallbackModel},
	} {
		if nv.value == "" {
			missing = append(missing, nv.name)
		}
	}
	return missing
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
