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

// GeminiImageClient is a client for the Imagen predict API. It returns
// image-batch replies: the routing layer turns those into a chat
// acknowledgment with the raw image payload attached.
type GeminiImageClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiImageClient creates a new Imagen client.
func NewGeminiImageClient(apiKey string, logger *slog.Logger) *GeminiImageClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiImageClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", "gemini_image"),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *GeminiImageClient) SetBaseURL(url string) { c.baseURL = url }

// Name returns the provider identity.
func (c *GeminiImageClient) Name() string { return "gemini_image" }

// Init checks that an API key is configured.
func (c *GeminiImageClient) Init() error {
	if c.apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}

type imagenResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
}

// Generate renders the last user turn's text as an image prompt.
func (c *GeminiImageClient) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	prompt := ""
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			prompt = msg.Content.Text()
		}
	}
	if prompt == "" {
		return nil, fmt.Errorf("no user prompt for image generation")
	}

	sampleCount := 1
	if v, ok := req.Params["sample_count"].(float64); ok && v > 0 {
		sampleCount = int(v)
	}

	body := map[string]any{
		"instances":  []map[string]any{{"prompt": prompt}},
		"parameters": map[string]any{"sampleCount": sampleCount},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:predict", c.baseURL, req.ModelID)
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
		return nil, fmt.Errorf("imagen API error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var parsed imagenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("image batch received", "model", req.ModelID, "count", len(parsed.Predictions))
	return &Reply{Images: parsed.Predictions}, nil
}
