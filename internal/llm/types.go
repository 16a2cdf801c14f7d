// Package llm defines the provider-neutral message model and the
// client interface implemented by each backend vendor.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part is one element of multimodal message content, following the
// OpenAI wire convention ("text" and "image_url" part types).
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a data: URL with
// inline base64 content.
type ImageURL struct {
	URL string `json:"url"`
}

// Content is message content that arrives either as a plain string or
// as a list of typed parts. The original wire form is preserved so
// providers that accept the OpenAI shape can pass it through verbatim.
type Content struct {
	// Plain holds string-form content. Only meaningful when Parts is nil.
	Plain string
	// Parts holds the multimodal form. Nil for string-form content.
	Parts []Part
}

// Text returns the textual portion of the content: the plain string,
// or all "text" parts joined with spaces.
func (c Content) Text() string {
	if c.Parts == nil {
		return c.Plain
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// HasImage reports whether any part carries image content.
func (c Content) HasImage() bool {
	for _, p := range c.Parts {
		if p.Type == "image_url" {
			return true
		}
	}
	return false
}

// TextContent builds string-form content. Convenience for tests and
// internal calls (classifier, title probes).
func TextContent(s string) Content {
	return Content{Plain: s}
}

// UnmarshalJSON accepts either a JSON string or an array of parts.
func (c *Content) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		c.Plain = s
		c.Parts = nil
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("content is neither string nor part list: %w", err)
	}
	c.Plain = ""
	c.Parts = parts
	return nil
}

// MarshalJSON emits the same form the content arrived in.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Plain)
}

// Message represents a chat message in a conversation.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GenerateRequest carries everything a provider needs for one
// completion call. Params holds provider-specific knobs resolved from
// the model registry (max_tokens, top_p, search filters, …) plus the
// exclude_temperature flag honored by every client.
type GenerateRequest struct {
	ModelID      string
	Messages     []Message
	Temperature  float64
	Params       map[string]any
	SystemPrompt string
}

// Usage tracks token accounting as reported by the backend. All fields
// are zero when the backend does not report usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is the unified response from any provider. Exactly one of the
// three shapes is populated:
//
//   - chat: Content/FinishReason/Usage
//   - image batch: Images (raw provider payload, passed along untouched)
//   - error passthrough: ErrorPayload (backend already returned an
//     error-shaped body that the caller should see unchanged)
type Reply struct {
	Content      string
	FinishReason string
	Usage        Usage

	Images       []json.RawMessage
	ErrorPayload map[string]any
}

// ExcludeTemperature reports whether the resolved parameters ask the
// client to omit the temperature field (some models reject it).
func ExcludeTemperature(params map[string]any) bool {
	v, ok := params["exclude_temperature"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
