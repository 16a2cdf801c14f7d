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

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiClient is a client for the Gemini generateContent API. It is
// the vision-capable provider: data: URL images are converted to
// inline_data parts, and images from the whole conversation are
// preserved so follow-up questions about an earlier picture work.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey string, logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", "gemini"),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *GeminiClient) SetBaseURL(url string) { c.baseURL = url }

// Name returns the provider identity.
func (c *GeminiClient) Name() string { return "gemini" }

// Init checks that an API key is configured.
func (c *GeminiClient) Init() error {
	if c.apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate sends one generateContent request.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		parts := geminiParts(msg.Content)
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}

	genConfig := map[string]any{}
	if !ExcludeTemperature(req.Params) {
		genConfig["temperature"] = req.Temperature
	}
	if maxTokens, ok := req.Params["max_tokens"]; ok {
		genConfig["maxOutputTokens"] = maxTokens
	}

	body := map[string]any{"contents": contents}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}
	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, req.ModelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	reply := &Reply{
		Usage: Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}
	if len(parsed.Candidates) > 0 {
		cand := parsed.Candidates[0]
		var texts []string
		for _, p := range cand.Content.Parts {
			texts = append(texts, p.Text)
		}
		reply.Content = strings.Join(texts, "")
		reply.FinishReason = strings.ToLower(cand.FinishReason)
	}

	c.logger.Debug("completion received", "model", req.ModelID,
		"total_tokens", parsed.UsageMetadata.TotalTokenCount)
	return reply, nil
}

// geminiParts converts content to generateContent parts. Images must
// arrive as data: URLs; external URLs are acknowledged but not fetched.
func geminiParts(content Content) []map[string]any {
	if content.Parts == nil {
		if content.Plain == "" {
			return nil
		}
		return []map[string]any{{"text": content.Plain}}
	}
	parts := make([]map[string]any, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Type {
		case "text":
			parts = append(parts, map[string]any{"text": part.Text})
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			mimeType, data, ok := parseDataURL(part.ImageURL.URL)
			if !ok {
				parts = append(parts, map[string]any{"text": "(external image URL not supported)"})
				continue
			}
			parts = append(parts, map[string]any{
				"inline_data": map[string]any{
					"mime_type": mimeType,
					"data":      data,
				},
			})
		}
	}
	return parts
}
