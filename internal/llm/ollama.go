package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nugget/switchboard/internal/httpkit"
)

// OllamaClient is a client for a local or remote Ollama server.
type OllamaClient struct {
	host       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client for the given host URL.
func NewOllamaClient(host string, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		host: host,
		// Local models can take minutes to load before replying.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:     logger.With("provider", "ollama"),
	}
}

// SetHost overrides the server address. Used by tests.
func (c *OllamaClient) SetHost(host string) { c.host = host }

// Name returns the provider identity.
func (c *OllamaClient) Name() string { return "ollama" }

// Init checks that a host is configured.
func (c *OllamaClient) Init() error {
	if c.host == "" {
		return fmt.Errorf("OLLAMA_API_HOST not set")
	}
	return nil
}

type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate sends one non-streaming chat request. Temperature rides in
// the options object; other registry parameters merge at top level.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}
		messages = append(messages, map[string]any{"role": msg.Role, "content": msg.Content.Text()})
	}

	options := map[string]any{}
	if opts, ok := req.Params["options"].(map[string]any); ok {
		for k, v := range opts {
			options[k] = v
		}
	}
	if !ExcludeTemperature(req.Params) {
		options["temperature"] = req.Temperature
	}

	body := map[string]any{
		"model":    req.ModelID,
		"messages": messages,
		"stream":   false,
	}
	if len(options) > 0 {
		body["options"] = options
	}
	for k, v := range req.Params {
		if k == "exclude_temperature" || k == "options" {
			continue
		}
		body[k] = v
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	finish := parsed.DoneReason
	if finish == "" {
		finish = "stop"
	}

	c.logger.Debug("completion received", "model", req.ModelID,
		"prompt_eval_count", parsed.PromptEvalCount, "eval_count", parsed.EvalCount)

	return &Reply{
		Content:      parsed.Message.Content,
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}
