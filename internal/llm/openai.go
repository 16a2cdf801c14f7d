package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nugget/switchboard/internal/httpkit"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIClient is a client for the OpenAI chat completions API.
// Multimodal content passes through in its original wire form.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    defaultOpenAIBaseURL,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", "openai"),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *OpenAIClient) SetBaseURL(url string) { c.baseURL = url }

// Name returns the provider identity.
func (c *OpenAIClient) Name() string { return "openai" }

// Init checks that an API key is configured.
func (c *OpenAIClient) Init() error {
	if c.apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}
	return nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Generate sends one chat completion request.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: TextContent(req.SystemPrompt)})
	}
	messages = append(messages, req.Messages...)

	body := map[string]any{
		"model":    req.ModelID,
		"messages": messages,
	}
	if !ExcludeTemperature(req.Params) {
		body["temperature"] = req.Temperature
	}
	mergeParams(body, req.Params)

	raw, err := c.post(ctx, c.baseURL+"/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	// Some gateway deployments answer 200 with an error-shaped body.
	// Pass those through so the caller sees the provider's own error.
	var errShape struct {
		Error map[string]any `json:"error"`
	}
	if json.Unmarshal(raw, &errShape) == nil && errShape.Error != nil {
		c.logger.Warn("error-shaped body from backend", "model", req.ModelID)
		return &Reply{ErrorPayload: map[string]any{"error": errShape.Error}}, nil
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
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

func (c *OpenAIClient) post(ctx context.Context, url string, body any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
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
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}

// mergeParams copies registry-resolved parameters into the request
// body, skipping flags that are interpreted by the client itself.
func mergeParams(body map[string]any, params map[string]any) {
	for k, v := range params {
		if k == "exclude_temperature" {
			continue
		}
		body[k] = v
	}
}
