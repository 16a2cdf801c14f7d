package router

import (
	"strings"

	"github.com/nugget/switchboard/internal/llm"
)

// imageReferenceKeywords suggest the user is talking about previously
// sent image content. Deliberately broad: when images are present in
// the conversation, erring toward the vision model is the cheaper
// mistake.
var imageReferenceKeywords = []string{
	"image", "picture", "photo", "screenshot", "device", "list", "show", "display",
	"read", "see", "view", "visible", "shown", "listed", "those", "these",
	"what's in", "what is in", "describe", "caption", "identify", "items",
	"objects", "contents", "details", "information", "from the image",
	"in the picture", "what you see", "analyze this", "tell me about",
	"third item", "first item", "second item", "last item", "bottom", "top",
	"left", "right", "corner", "center", "highlighted", "selected",
	"what's the", "which one", "how many", "count", "number of",
}

// shortFollowUpLimit: with images in play, a message this short is
// assumed to be a follow-up about them ("what is it?").
const shortFollowUpLimit = 50

// hasImageInConversation reports whether any message carries an
// image_url part.
func hasImageInConversation(messages []llm.Message) bool {
	for _, msg := range messages {
		if msg.Content.HasImage() {
			return true
		}
	}
	return false
}

// referencesImageContent reports whether the text mentions anything
// from the image-reference vocabulary.
func referencesImageContent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range imageReferenceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// needsVisionModel decides whether this turn requires a vision-capable
// model: the last message carries an image, or earlier images exist and
// the last message either references them or is short enough to be a
// follow-up about them.
func needsVisionModel(messages []llm.Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	if last.Content.HasImage() {
		return true
	}
	if !hasImageInConversation(messages) {
		return false
	}
	text := last.Content.Text()
	if referencesImageContent(text) {
		return true
	}
	return len(strings.TrimSpace(text)) < shortFollowUpLimit
}

// needsHeavyContext reports whether the conversation's estimated token
// count exceeds the configured threshold.
func needsHeavyContext(messages []llm.Message, threshold int) bool {
	return estimateConversationTokens(messages) > threshold
}
