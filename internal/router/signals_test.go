package router

import (
	"strings"
	"testing"

	"github.com/nugget/switchboard/internal/llm"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		// 11 chars -> 3 by chars; 2 words; (3+2)/2 = 2
		{"short", "hello world", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}

	// Scale check: the estimate for ~20k chars of prose should land in
	// the same ballpark as a real tokenizer (a few thousand).
	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 500)
	got := EstimateTokens(long)
	if got < 3000 || got > 8000 {
		t.Errorf("EstimateTokens(long prose) = %d, outside plausible range", got)
	}
}

func TestNeedsHeavyContext(t *testing.T) {
	short := []llm.Message{userMsg("hello")}
	if needsHeavyContext(short, 4000) {
		t.Error("short conversation should not be heavy")
	}

	long := []llm.Message{userMsg(strings.Repeat("lorem ipsum dolor sit amet ", 1000))}
	if !needsHeavyContext(long, 4000) {
		t.Error("5k-token conversation should exceed a 4000-token threshold")
	}
}

func TestNeedsVisionModel(t *testing.T) {
	image := imageMsg("look at this")

	tests := []struct {
		name     string
		messages []llm.Message
		want     bool
	}{
		{"no messages", nil, false},
		{"plain text", []llm.Message{userMsg("how do magnets work?")}, false},
		{"image in last message", []llm.Message{image}, true},
		{
			"earlier image plus reference",
			[]llm.Message{image, userMsg("please describe the picture in exhaustive detail because I want to catalog every object you can find in there")},
			true,
		},
		{
			"earlier image plus short follow-up",
			[]llm.Message{image, userMsg("what is it?")},
			true,
		},
		{
			"earlier image plus long unrelated text",
			[]llm.Message{image, userMsg("unrelated to anything earlier, please write me a very long poem celebrating the autumn equinox in iambic pentameter")},
			false,
		},
		{
			"reference words without any image",
			[]llm.Message{userMsg("describe the picture on the museum wall")},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsVisionModel(tt.messages); got != tt.want {
				t.Errorf("needsVisionModel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReferencesImageContent(t *testing.T) {
	if !referencesImageContent("How many items are listed?") {
		t.Error("expected keyword match for counting question")
	}
	if referencesImageContent("good morning") {
		t.Error("greeting should not match image vocabulary")
	}
}
