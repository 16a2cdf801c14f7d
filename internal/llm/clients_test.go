package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// capture decodes the request body into a map and remembers the headers.
type capture struct {
	body    map[string]any
	headers http.Header
	path    string
}

func captureServer(t *testing.T, rec *capture, respond string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.headers = r.Header.Clone()
		rec.path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&rec.body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(respond))
	}))
}

func TestOpenAIGenerate(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{
		"choices": [{"message": {"role": "assistant", "content": "Paris."}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
	}`)
	defer ts.Close()

	c := NewOpenAIClient("sk-test", discard())
	c.SetBaseURL(ts.URL)

	reply, err := c.Generate(context.Background(), GenerateRequest{
		ModelID:      "gpt-4o-mini",
		Messages:     []Message{{Role: "user", Content: TextContent("capital of France?")}},
		Temperature:  0.7,
		Params:       map[string]any{"max_tokens": 100},
		SystemPrompt: "Be brief.",
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.path != "/v1/chat/completions" {
		t.Errorf("path = %q", rec.path)
	}
	if got := rec.headers.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("auth header = %q", got)
	}
	if rec.body["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", rec.body["model"])
	}
	if rec.body["temperature"] != 0.7 {
		t.Errorf("temperature = %v", rec.body["temperature"])
	}
	if rec.body["max_tokens"] != float64(100) {
		t.Errorf("max_tokens = %v", rec.body["max_tokens"])
	}
	msgs := rec.body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want system + user", len(msgs))
	}
	if msgs[0].(map[string]any)["role"] != "system" {
		t.Error("system prompt should be prepended as a system message")
	}

	if reply.Content != "Paris." || reply.FinishReason != "stop" || reply.Usage.TotalTokens != 15 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestOpenAIExcludeTemperature(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{"choices": []}`)
	defer ts.Close()

	c := NewOpenAIClient("sk-test", discard())
	c.SetBaseURL(ts.URL)

	_, err := c.Generate(context.Background(), GenerateRequest{
		ModelID:     "o1-mini",
		Messages:    []Message{{Role: "user", Content: TextContent("hi")}},
		Temperature: 0.7,
		Params:      map[string]any{"exclude_temperature": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rec.body["temperature"]; ok {
		t.Error("temperature should be omitted when excluded")
	}
	if _, ok := rec.body["exclude_temperature"]; ok {
		t.Error("exclude_temperature is a client flag, not an API parameter")
	}
}

func TestOpenAIErrorShapedBodyPassesThrough(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{"error": {"message": "quota exceeded", "type": "insufficient_quota"}}`)
	defer ts.Close()

	c := NewOpenAIClient("sk-test", discard())
	c.SetBaseURL(ts.URL)

	reply, err := c.Generate(context.Background(), GenerateRequest{
		ModelID:  "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: TextContent("hi")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.ErrorPayload == nil {
		t.Fatal("error-shaped body should surface as ErrorPayload")
	}
	inner := reply.ErrorPayload["error"].(map[string]any)
	if inner["message"] != "quota exceeded" {
		t.Errorf("error payload = %v", reply.ErrorPayload)
	}
}

func TestOpenAIHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewOpenAIClient("sk-test", discard())
	c.SetBaseURL(ts.URL)

	_, err := c.Generate(context.Background(), GenerateRequest{
		ModelID:  "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: TextContent("hi")}},
	})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestAnthropicGenerate(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{
		"content": [{"type": "text", "text": "Hello!"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 9, "output_tokens": 4}
	}`)
	defer ts.Close()

	c := NewAnthropicClient("ak-test", discard())
	c.SetBaseURL(ts.URL)

	reply, err := c.Generate(context.Background(), GenerateRequest{
		ModelID: "claude-sonnet",
		Messages: []Message{
			{Role: "system", Content: TextContent("ignored")},
			{Role: "user", Content: TextContent("hi")},
		},
		Temperature:  0.5,
		SystemPrompt: "Be nice.",
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.path != "/v1/messages" {
		t.Errorf("path = %q", rec.path)
	}
	if got := rec.headers.Get("x-api-key"); got != "ak-test" {
		t.Errorf("x-api-key = %q", got)
	}
	if got := rec.headers.Get("anthropic-version"); got != anthropicAPIVersion {
		t.Errorf("anthropic-version = %q", got)
	}
	if rec.body["system"] != "Be nice." {
		t.Errorf("system = %v", rec.body["system"])
	}
	if rec.body["max_tokens"] != float64(anthropicDefaultMaxTokens) {
		t.Errorf("max_tokens = %v, want default %d", rec.body["max_tokens"], anthropicDefaultMaxTokens)
	}
	msgs := rec.body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, system-role messages must be dropped", len(msgs))
	}

	if reply.Content != "Hello!" || reply.FinishReason != "end_turn" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Usage.TotalTokens != 13 {
		t.Errorf("total tokens = %d, want input+output", reply.Usage.TotalTokens)
	}
}

func TestAnthropicImageConversion(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{"content": [], "usage": {}}`)
	defer ts.Close()

	c := NewAnthropicClient("ak-test", discard())
	c.SetBaseURL(ts.URL)

	_, err := c.Generate(context.Background(), GenerateRequest{
		ModelID: "claude-sonnet",
		Messages: []Message{{Role: "user", Content: Content{Parts: []Part{
			{Type: "text", Text: "what is this?"},
			{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,QUJD"}},
		}}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs := rec.body["messages"].([]any)
	blocks := msgs[0].(map[string]any)["content"].([]any)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	img := blocks[1].(map[string]any)
	if img["type"] != "image" {
		t.Fatalf("block type = %v", img["type"])
	}
	source := img["source"].(map[string]any)
	if source["media_type"] != "image/png" || source["data"] != "QUJD" {
		t.Errorf("source = %v", source)
	}
}

func TestGeminiGenerate(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{
		"candidates": [{
			"content": {"parts": [{"text": "A tomato plant."}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 20, "candidatesTokenCount": 5, "totalTokenCount": 25}
	}`)
	defer ts.Close()

	c := NewGeminiClient("gm-test", discard())
	c.SetBaseURL(ts.URL)

	reply, err := c.Generate(context.Background(), GenerateRequest{
		ModelID: "gemini-1.5-pro",
		Messages: []Message{
			{Role: "user", Content: Content{Parts: []Part{
				{Type: "text", Text: "what plant is this?"},
				{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/jpeg;base64,QUJD"}},
			}}},
			{Role: "assistant", Content: TextContent("Looking...")},
		},
		Temperature:  0.4,
		Params:       map[string]any{"max_tokens": 2048},
		SystemPrompt: "You are a botanist.",
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.path != "/v1beta/models/gemini-1.5-pro:generateContent" {
		t.Errorf("path = %q", rec.path)
	}
	if got := rec.headers.Get("x-goog-api-key"); got != "gm-test" {
		t.Errorf("x-goog-api-key = %q", got)
	}

	contents := rec.body["contents"].([]any)
	if len(contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(contents))
	}
	if contents[1].(map[string]any)["role"] != "model" {
		t.Error("assistant role should map to model")
	}
	parts := contents[0].(map[string]any)["parts"].([]any)
	inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
	if inline["mime_type"] != "image/jpeg" || inline["data"] != "QUJD" {
		t.Errorf("inline_data = %v", inline)
	}

	genCfg := rec.body["generationConfig"].(map[string]any)
	if genCfg["maxOutputTokens"] != float64(2048) {
		t.Errorf("maxOutputTokens = %v", genCfg["maxOutputTokens"])
	}
	if _, ok := rec.body["systemInstruction"]; !ok {
		t.Error("systemInstruction missing")
	}

	if reply.Content != "A tomato plant." {
		t.Errorf("content = %q", reply.Content)
	}
	if reply.FinishReason != "stop" {
		t.Errorf("finish reason = %q, want lowercased stop", reply.FinishReason)
	}
	if reply.Usage.TotalTokens != 25 {
		t.Errorf("usage = %+v", reply.Usage)
	}
}

func TestOllamaGenerate(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{
		"model": "llama3.2:1b",
		"message": {"role": "assistant", "content": "simple_no_research"},
		"done": true,
		"done_reason": "stop",
		"prompt_eval_count": 30,
		"eval_count": 6
	}`)
	defer ts.Close()

	c := NewOllamaClient(ts.URL, discard())

	reply, err := c.Generate(context.Background(), GenerateRequest{
		ModelID:      "llama3.2:1b",
		Messages:     []Message{{Role: "user", Content: TextContent("classify this")}},
		Temperature:  0.0,
		Params:       map[string]any{"max_tokens": 25},
		SystemPrompt: "Classify.",
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.path != "/api/chat" {
		t.Errorf("path = %q", rec.path)
	}
	if rec.body["stream"] != false {
		t.Error("stream must be false")
	}
	opts := rec.body["options"].(map[string]any)
	if opts["temperature"] != 0.0 {
		t.Errorf("options.temperature = %v", opts["temperature"])
	}

	if reply.Content != "simple_no_research" || reply.FinishReason != "stop" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Usage.PromptTokens != 30 || reply.Usage.CompletionTokens != 6 || reply.Usage.TotalTokens != 36 {
		t.Errorf("usage = %+v", reply.Usage)
	}
}

func TestPerplexityParamWhitelist(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{
		"choices": [{"message": {"role": "assistant", "content": "Findings..."}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 40, "completion_tokens": 200, "total_tokens": 240}
	}`)
	defer ts.Close()

	c := NewPerplexityClient("px-test", discard())
	c.SetBaseURL(ts.URL)

	reply, err := c.Generate(context.Background(), GenerateRequest{
		ModelID:     "sonar-pro",
		Messages:    []Message{{Role: "user", Content: TextContent("research fusion reactors")}},
		Temperature: 0.7,
		Params: map[string]any{
			"max_tokens":            1024,
			"search_recency_filter": "week",
			"frequency_penalty":     0.5, // not whitelisted
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.path != "/chat/completions" {
		t.Errorf("path = %q", rec.path)
	}
	if rec.body["max_tokens"] != float64(1024) {
		t.Errorf("max_tokens = %v", rec.body["max_tokens"])
	}
	if rec.body["search_recency_filter"] != "week" {
		t.Errorf("search_recency_filter = %v", rec.body["search_recency_filter"])
	}
	if _, ok := rec.body["frequency_penalty"]; ok {
		t.Error("non-whitelisted parameter must not be forwarded")
	}

	if reply.Content != "Findings..." || reply.Usage.TotalTokens != 240 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestGeminiImagePredict(t *testing.T) {
	var rec capture
	ts := captureServer(t, &rec, `{
		"predictions": [{"bytesBase64Encoded": "QUJD", "mimeType": "image/png"}]
	}`)
	defer ts.Close()

	c := NewGeminiImageClient("gm-test", discard())
	c.SetBaseURL(ts.URL)

	reply, err := c.Generate(context.Background(), GenerateRequest{
		ModelID: "imagen-3.0",
		Messages: []Message{
			{Role: "user", Content: TextContent("a lighthouse at dusk")},
		},
		Params: map[string]any{"sample_count": float64(2)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.path != "/v1beta/models/imagen-3.0:predict" {
		t.Errorf("path = %q", rec.path)
	}
	instances := rec.body["instances"].([]any)
	if instances[0].(map[string]any)["prompt"] != "a lighthouse at dusk" {
		t.Errorf("instances = %v", instances)
	}
	params := rec.body["parameters"].(map[string]any)
	if params["sampleCount"] != float64(2) {
		t.Errorf("sampleCount = %v", params["sampleCount"])
	}

	if len(reply.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(reply.Images))
	}
	var pred map[string]any
	if err := json.Unmarshal(reply.Images[0], &pred); err != nil {
		t.Fatal(err)
	}
	if pred["mimeType"] != "image/png" {
		t.Errorf("prediction = %v", pred)
	}
}

func TestInitRequiresCredentials(t *testing.T) {
	tests := []struct {
		name   string
		client Client
		wantOK bool
	}{
		{"openai with key", NewOpenAIClient("sk", discard()), true},
		{"openai without key", NewOpenAIClient("", discard()), false},
		{"anthropic without key", NewAnthropicClient("", discard()), false},
		{"gemini without key", NewGeminiClient("", discard()), false},
		{"perplexity without key", NewPerplexityClient("", discard()), false},
		{"ollama without host", NewOllamaClient("", discard()), false},
		{"ollama with host", NewOllamaClient("http://localhost:11434", discard()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.client.Init()
			if (err == nil) != tt.wantOK {
				t.Errorf("Init() err = %v, wantOK %v", err, tt.wantOK)
			}
		})
	}
}
