package router

import (
	"strings"

	"github.com/nugget/switchboard/internal/llm"
)

// EstimateTokens gives a rough token count for text without pulling in
// a tokenizer. It blends the ~4-characters-per-token and
// ~0.75-words-per-token approximations, which tracks real tokenizers
// closely enough for a threshold check.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := (len(text) + 3) / 4
	byWords := len(strings.Fields(text))
	return (byChars + byWords) / 2
}

// estimateConversationTokens sums the estimate over every message's
// text content. Image payloads are deliberately excluded: they do not
// consume text-context budget.
func estimateConversationTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content.Text())
	}
	return total
}
