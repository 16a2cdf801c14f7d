// Package classify decides how much model a request deserves. Cheap
// string heuristics catch title generation, explicit escalation, and
// explicit research requests; everything else goes to a small LLM that
// labels the message on complexity and research need.
package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/registry"
)

// Label is a four-way classification of a user message.
type Label string

const (
	SimpleNoResearch Label = "simple_no_research"
	SimpleResearch   Label = "simple_research"
	HardNoResearch   Label = "hard_no_research"
	HardResearch     Label = "hard_research"
)

// orderedLabels is the substring-match order for normalizing raw
// classifier output. First match wins.
var orderedLabels = []Label{SimpleNoResearch, SimpleResearch, HardNoResearch, HardResearch}

// classifyTimeout caps the classifier call so a slow small model cannot
// stall routing. On expiry the request degrades to the default label.
const classifyTimeout = 10 * time.Second

// NeedsResearch reports whether the label calls for the research tier.
func (l Label) NeedsResearch() bool {
	return l == SimpleResearch || l == HardResearch
}

// IsHard reports whether the label calls for the hard tier.
func (l Label) IsHard() bool {
	return l == HardNoResearch || l == HardResearch
}

// Resolver resolves a logical model name to a ready client. Satisfied
// by *registry.Registry.
type Resolver interface {
	Resolve(name string) (*registry.Resolution, error)
}

// Classifier combines the heuristic detectors with the LLM fallback.
type Classifier struct {
	resolver Resolver
	logger   *slog.Logger
}

// New creates a classifier that resolves its model through resolver.
func New(resolver Resolver, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		resolver: resolver,
		logger:   logger.With("component", "classifier"),
	}
}

// IsTitleRequest reports whether the last message is an automated
// title-generation prompt. Long messages never qualify: frontends send
// short templated instructions.
func IsTitleRequest(messages []llm.Message) bool {
	if len(messages) == 0 {
		return false
	}
	text := strings.ToLower(messages[len(messages)-1].Content.Text())
	if len(text) >= 200 {
		return false
	}
	for _, pattern := range titlePatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

// IsEscalationRequest reports whether the prompt is an exact escalation
// phrase after trimming and lowercasing.
func IsEscalationRequest(prompt string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(prompt))
	for _, phrase := range escalationPhrases {
		if cleaned == phrase {
			return true
		}
	}
	return false
}

// IsResearchRequest reports whether the prompt explicitly asks for
// research: a command or polite-request prefix, a freshness question in
// a short message, or "research <topic>" with a topic of at most nine
// words.
func IsResearchRequest(prompt string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(prompt))

	for _, trigger := range imperativeTriggers {
		if strings.HasPrefix(cleaned, trigger) {
			return true
		}
	}
	for _, trigger := range politeTriggers {
		if strings.HasPrefix(cleaned, trigger) {
			return true
		}
	}

	if len(cleaned) < 100 {
		for _, trigger := range freshnessTriggers {
			if strings.Contains(cleaned, trigger) {
				return true
			}
		}
	}

	words := strings.Fields(cleaned)
	if len(words) >= 2 && len(words) <= 10 && words[0] == "research" {
		return true
	}

	return false
}

// ExtractResearchTopic pulls the research subject out of the prompt,
// falling back to recent conversation context for deictic requests like
// "research this".
func ExtractResearchTopic(prompt, conversationContext string) string {
	lower := strings.ToLower(strings.TrimSpace(prompt))

	for _, trigger := range contextTriggers {
		if !strings.Contains(lower, trigger) {
			continue
		}
		// The topic is whatever was recently discussed. Prefer
		// capitalized words, which tend to be proper nouns.
		contextWords := strings.Fields(conversationContext)
		if len(contextWords) > 50 {
			contextWords = contextWords[len(contextWords)-50:]
		}
		var topics []string
		for _, word := range contextWords {
			if len(word) > 2 && startsUpper(word) {
				topics = append(topics, strings.Trim(word, ".,!?;:"))
			}
		}
		if len(topics) > 3 {
			topics = topics[len(topics)-3:]
		}
		if len(topics) > 0 {
			return strings.Join(topics, " ")
		}
		if len(conversationContext) > 200 {
			return conversationContext[len(conversationContext)-200:]
		}
		return conversationContext
	}

	for _, marker := range []string{"research about", "find information about", "what's the latest on"} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			return strings.TrimSpace(prompt[idx+len(marker):])
		}
	}

	words := strings.Fields(prompt)
	if len(words) > 1 && strings.ToLower(words[0]) == "research" {
		return strings.Join(words[1:], " ")
	}

	return prompt
}

// Classify labels the last message with the classifier model. It never
// fails: resolution errors, transport errors, and unparseable output
// all degrade to SimpleNoResearch so routing can proceed.
func (c *Classifier) Classify(ctx context.Context, messages []llm.Message, model string) Label {
	if len(messages) == 0 {
		return SimpleNoResearch
	}
	userContent := messages[len(messages)-1].Content.Text()

	res, err := c.resolver.Resolve(model)
	if err != nil {
		c.logger.Warn("classifier model unavailable, using default", "model", model, "error", err)
		return SimpleNoResearch
	}

	prompt := res.SystemPrompt
	if prompt == "" || prompt == registry.DefaultSystemPrompt {
		prompt = defaultClassifierPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	reply, err := res.Client.Generate(ctx, llm.GenerateRequest{
		ModelID:      res.ModelID,
		Messages:     []llm.Message{{Role: "user", Content: llm.TextContent(userContent)}},
		Temperature:  0.0,
		Params:       map[string]any{"max_tokens": 25},
		SystemPrompt: prompt,
	})
	if err != nil {
		c.logger.Error("classification failed, using default", "model", model, "error", err)
		return SimpleNoResearch
	}

	label := c.normalize(reply.Content)
	c.logger.Debug("message classified", "label", string(label))
	return label
}

// normalize maps raw classifier output to a Label. Models sometimes
// wrap the answer in JSON or prose, so the raw text is unwrapped and
// substring-matched against the known labels in order.
func (c *Classifier) normalize(raw string) Label {
	category := strings.ToLower(strings.TrimSpace(raw))

	if strings.HasPrefix(category, "{") {
		var parsed struct {
			Category string `json:"category"`
		}
		if err := json.Unmarshal([]byte(category), &parsed); err != nil {
			c.logger.Warn("could not decode JSON from classifier", "raw", category)
			return SimpleNoResearch
		}
		if parsed.Category == "" {
			return SimpleNoResearch
		}
		category = parsed.Category
	}

	for _, label := range orderedLabels {
		if strings.Contains(category, string(label)) {
			return label
		}
	}

	c.logger.Warn("unknown category from classifier, using default", "category", category)
	return SimpleNoResearch
}

func startsUpper(word string) bool {
	for _, r := range word {
		return unicode.IsUpper(r)
	}
	return false
}
