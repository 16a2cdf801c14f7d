package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/switchboard/internal/httpkit"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"

	// The Messages API requires max_tokens; applied when the registry
	// parameters don't specify one.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    defaultAnthropicBaseURL,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", "anthropic"),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *AnthropicClient) SetBaseURL(url string) { c.baseURL = url }

// Name returns the provider identity.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Init checks that an API key is configured.
func (c *AnthropicClient) Init() error {
	if c.apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	return nil
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends one Messages API request. System prompts go in the
// top-level system field; system-role messages are dropped from the
// message list per the API contract.
func (c *AnthropicClient) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}
		messages = append(messages, map[string]any{
			"role":    msg.Role,
			"content": anthropicContent(msg.Content),
		})
	}

	body := map[string]any{
		"model":    req.ModelID,
		"messages": messages,
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}
	if !ExcludeTemperature(req.Params) {
		body["temperature"] = req.Temperature
	}
	mergeParams(body, req.Params)
	if _, ok := body["max_tokens"]; !ok {
		body["max_tokens"] = anthropicDefaultMaxTokens
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var texts []string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}

	c.logger.Debug("completion received", "model", req.ModelID,
		"input_tokens", parsed.Usage.InputTokens, "output_tokens", parsed.Usage.OutputTokens)

	return &Reply{
		Content:      strings.Join(texts, ""),
		FinishReason: parsed.StopReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

// anthropicContent converts content to the Messages API block form.
// Plain strings pass through; data: URL images become base64 source
// blocks so vision requests survive the translation.
func anthropicContent(content Content) any {
	if content.Parts == nil {
		return content.Plain
	}
	blocks := make([]map[string]any, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			mediaType, data, ok := parseDataURL(part.ImageURL.URL)
			if !ok {
				// External URLs are not fetched on the caller's behalf.
				blocks = append(blocks, map[string]any{"type": "text", "text": "(external image URL not supported)"})
				continue
			}
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": mediaType,
					"data":       data,
				},
			})
		}
	}
	return blocks
}

// parseDataURL splits a data:image/...;base64,... URL into its media
// type and base64 payload.
func parseDataURL(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	header, payload, found := strings.Cut(url, ",")
	if !found {
		return "", "", false
	}
	meta := strings.TrimPrefix(header, "data:")
	meta = strings.TrimSuffix(meta, ";base64")
	if meta == "" {
		return "", "", false
	}
	return meta, payload, true
}
