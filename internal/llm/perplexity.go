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

const defaultPerplexityBaseURL = "https://api.perplexity.ai"

// perplexityParams is the subset of registry parameters the Perplexity
// API accepts, including its search-specific knobs.
var perplexityParams = []string{
	"max_tokens", "top_p", "presence_penalty",
	"search_domain_filter", "search_recency_filter",
}

// PerplexityClient is a client for the Perplexity chat completions
// API, used for research-tier requests. The API is text-only, so
// multimodal content is flattened to its text parts.
type PerplexityClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPerplexityClient creates a new Perplexity client.
func NewPerplexityClient(apiKey string, logger *slog.Logger) *PerplexityClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerplexityClient{
		apiKey:     apiKey,
		baseURL:    defaultPerplexityBaseURL,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", "perplexity"),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *PerplexityClient) SetBaseURL(url string) { c.baseURL = url }

// Name returns the provider identity.
func (c *PerplexityClient) Name() string { return "perplexity" }

// Init checks that an API key is configured.
func (c *PerplexityClient) Init() error {
	if c.apiKey == "" {
		return fmt.Errorf("PERPLEXITY_API_KEY not set")
	}
	return nil
}

// Generate sends one chat completion request.
func (c *PerplexityClient) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
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

	body := map[string]any{
		"model":    req.ModelID,
		"messages": messages,
	}
	if !ExcludeTemperature(req.Params) {
		body["temperature"] = req.Temperature
	}
	for _, name := range perplexityParams {
		if v, ok := req.Params[name]; ok {
			body[name] = v
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("perplexity API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	reply := &Reply{Usage: parsed.Usage}
	if len(parsed.Choices) > 0 {
		reply.Content = parsed.Choices[0].Message.Content
		reply.FinishReason = parsed.Choices[0].FinishReason
	}
	c.logger.Debug("completion received", "model", req.ModelID, "total_tokens", parsed.Usage.TotalTokens)
	return reply, nil
}
