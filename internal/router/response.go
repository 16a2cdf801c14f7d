package router

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/switchboard/internal/llm"
)

// fallbackContent is returned when a backend reply carried no content
// at all rather than failing the request.
const fallbackContent = "An error occurred or no content was generated."

// imageAckContent is the chat-shaped acknowledgment for image batches,
// so streaming frontends render something while the images ride along
// in the images field.
const imageAckContent = "I've generated an image based on your request."

// ChatCompletion is the canonical response envelope. The model field
// carries the logical model name, not the provider's model ID.
type ChatCompletion struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []Choice          `json:"choices"`
	Usage   llm.Usage         `json:"usage"`
	Images  []json.RawMessage `json:"images,omitempty"`
}

// Choice is a single completion choice. The proxy always returns
// exactly one.
type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	Logprobs     any           `json:"logprobs"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message inside a choice.
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// normalizeReply converts a backend reply into the response body the
// client receives. Error-shaped backend payloads pass through
// unchanged so the frontend sees the provider's own error object.
func normalizeReply(reply *llm.Reply, modelName string, debugPrefix bool) any {
	if reply.ErrorPayload != nil {
		return reply.ErrorPayload
	}

	if len(reply.Images) > 0 {
		return &ChatCompletion{
			ID:      "chatcmpl-" + uuid.NewString(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   modelName,
			Choices: []Choice{{
				Message:      ChoiceMessage{Role: "assistant", Content: imageAckContent},
				FinishReason: "stop",
			}},
			Usage:  llm.Usage{CompletionTokens: 10, TotalTokens: 10},
			Images: reply.Images,
		}
	}

	content := reply.Content
	if content == "" {
		content = fallbackContent
	}

	// In debug mode the answering model is prefixed onto the content so
	// routing decisions are visible in the chat itself.
	prefix := fmt.Sprintf("%s - ", modelName)
	if debugPrefix && !strings.HasPrefix(content, prefix) {
		content = prefix + content
	}

	return &ChatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []Choice{{
			Message:      ChoiceMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: reply.Usage,
	}
}
