// Package conversation tracks per-conversation routing state across
// stateless chat completion requests. The proxy never stores message
// bodies; it fingerprints each conversation and remembers only the
// routing facts (sticky vision/heavy windows, active tier, topic
// keywords) needed to keep follow-up turns on an appropriate model.
package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/switchboard/internal/llm"
)

// Tier names the model class a conversation is currently riding on.
type Tier string

const (
	TierSimple     Tier = "simple"
	TierHard       Tier = "hard"
	TierEscalation Tier = "escalation"
	TierResearch   Tier = "research"
)

// Sticky window lengths: how many subsequent turns keep their upgraded
// routing after a vision or heavy-context request.
const (
	visionStickyTurns = 3
	heavyStickyTurns  = 2
)

// driftThreshold is the Jaccard keyword overlap below which the topic
// is considered changed.
const driftThreshold = 0.3

// topicChangeMarkers explicitly signal a topic switch.
var topicChangeMarkers = []string{
	"new topic", "different question", "now let's", "switching to",
	"change subject", "moving on", "next question", "unrelated",
	"completely different", "new request", "forget about", "ignore that",
}

// stopWords are excluded from topic keyword extraction.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "can": {}, "may": {}, "might": {}, "i": {}, "you": {},
	"he": {}, "she": {}, "it": {}, "we": {}, "they": {}, "this": {},
	"that": {}, "these": {}, "those": {},
}

// State is a snapshot of one conversation's routing state. Store hands
// out copies; mutations go through UpdateAfterRouting.
type State struct {
	ConversationID           string
	ActiveTier               Tier
	LastModelUsed            string
	HasVisionContent         bool
	VisionStickyCount        int
	HeavyContextActive       bool
	HeavyContextStickyCount  int
	MessageCountSinceUpgrade int
	LastActivity             time.Time
	TopicKeywords            []string
}

// VisionSticky reports whether follow-up turns should stay on the
// vision-capable model.
func (s *State) VisionSticky() bool {
	return s.HasVisionContent && s.VisionStickyCount > 0
}

// HeavySticky reports whether follow-up turns should stay on a
// large-context model. Vision stickiness implies heavy stickiness.
func (s *State) HeavySticky() bool {
	return (s.HeavyContextActive && s.HeavyContextStickyCount > 0) || s.VisionSticky()
}

// Store tracks conversation states with bounded memory: entries expire
// after a retention window, and the oldest are evicted past a capacity
// cap. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	states     map[string]*State
	maxTracked int
	retention  time.Duration
	lastSweep  time.Time
	sweepEvery time.Duration
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewStore creates a store holding at most maxTracked conversations,
// each retained for retentionHours after its last activity.
func NewStore(maxTracked, retentionHours int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		states:     make(map[string]*State),
		maxTracked: maxTracked,
		retention:  time.Duration(retentionHours) * time.Hour,
		sweepEvery: time.Hour,
		logger:     logger.With("component", "conversations"),
		nowFunc:    time.Now,
	}
}

// Fingerprint derives a stable conversation ID from the message
// history: the first message's text (capped at 200 chars) plus the
// message count, hashed. The same history always maps to the same ID,
// so retries are idempotent; each new turn changes the count and maps
// to a fresh ID, which GetOrCreate re-seeds from scratch.
func Fingerprint(messages []llm.Message) string {
	if len(messages) == 0 {
		return "empty_conversation"
	}
	first := messages[0].Content.Text()
	if len(first) > 200 {
		first = first[:200]
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s_%d", first, len(messages)))
	return hex.EncodeToString(sum[:])[:16]
}

// GetOrCreate returns a snapshot of the state for the conversation the
// messages belong to, creating it if unseen. On a revisit it refreshes
// activity, re-extracts topic keywords, and resets the sticky windows
// if the topic has drifted.
func (st *Store) GetOrCreate(messages []llm.Message) State {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sweepLocked()

	now := st.nowFunc()
	id := Fingerprint(messages)
	keywords := extractTopicKeywords(messages)

	state, ok := st.states[id]
	if !ok {
		state = &State{
			ConversationID: id,
			ActiveTier:     TierSimple,
			LastActivity:   now,
			TopicKeywords:  keywords,
		}
		st.states[id] = state
		st.logger.Info("created conversation state", "conversation_id", id)
		return snapshot(state)
	}

	state.LastActivity = now
	if detectTopicChange(messages, state.TopicKeywords, st.logger) {
		st.logger.Info("topic change detected, resetting sticky state", "conversation_id", id)
		state.VisionStickyCount = 0
		state.HeavyContextStickyCount = 0
		state.MessageCountSinceUpgrade = 0
		state.ActiveTier = TierSimple
		// HasVisionContent decays via the sticky countdown instead of
		// being cleared here.
	}
	state.TopicKeywords = keywords
	return snapshot(state)
}

// UpdateAfterRouting records the routing outcome for a conversation:
// which model answered, which tier it belongs to, and whether this turn
// carried vision content or heavy context. Vision and heavy turns arm
// their sticky windows; quiet turns tick them down.
func (st *Store) UpdateAfterRouting(id, selectedModel string, tier Tier, hadVision, hadHeavyContext bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	state, ok := st.states[id]
	if !ok {
		return
	}

	state.LastModelUsed = selectedModel
	state.LastActivity = st.nowFunc()

	if hadVision {
		state.HasVisionContent = true
		state.VisionStickyCount = visionStickyTurns
		state.ActiveTier = TierHard
	} else if state.VisionStickyCount > 0 {
		state.VisionStickyCount--
		if state.VisionStickyCount == 0 {
			state.HasVisionContent = false
		}
	}

	if hadHeavyContext {
		state.HeavyContextActive = true
		state.HeavyContextStickyCount = heavyStickyTurns
		state.ActiveTier = TierHard
	} else if state.HeavyContextStickyCount > 0 {
		state.HeavyContextStickyCount--
		if state.HeavyContextStickyCount == 0 {
			state.HeavyContextActive = false
		}
	}

	if tier != state.ActiveTier {
		state.MessageCountSinceUpgrade = 0
		state.ActiveTier = tier
	} else {
		state.MessageCountSinceUpgrade++
	}
}

// Len returns the number of tracked conversations.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.states)
}

// Summary describes one conversation for the debug endpoint.
type Summary struct {
	ConversationID           string   `json:"conversation_id"`
	ActiveTier               string   `json:"active_model_tier"`
	LastModelUsed            string   `json:"last_model_used"`
	HasVisionContent         bool     `json:"has_vision_content"`
	VisionStickyCount        int      `json:"vision_sticky_count"`
	HeavyContextActive       bool     `json:"heavy_context_active"`
	HeavyContextStickyCount  int      `json:"heavy_context_sticky_count"`
	MessageCountSinceUpgrade int      `json:"message_count_since_upgrade"`
	TopicKeywords            []string `json:"topic_keywords"`
	LastActivity             string   `json:"last_activity"`
}

// Summaries returns a debug view of every tracked conversation, most
// recently active first.
func (st *Store) Summaries() []Summary {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Summary, 0, len(st.states))
	for _, state := range st.states {
		keywords := state.TopicKeywords
		if len(keywords) > 5 {
			keywords = keywords[:5]
		}
		out = append(out, Summary{
			ConversationID:           state.ConversationID,
			ActiveTier:               string(state.ActiveTier),
			LastModelUsed:            state.LastModelUsed,
			HasVisionContent:         state.HasVisionContent,
			VisionStickyCount:        state.VisionStickyCount,
			HeavyContextActive:       state.HeavyContextActive,
			HeavyContextStickyCount:  state.HeavyContextStickyCount,
			MessageCountSinceUpgrade: state.MessageCountSinceUpgrade,
			TopicKeywords:            keywords,
			LastActivity:             state.LastActivity.UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity > out[j].LastActivity
	})
	return out
}

// sweepLocked evicts expired conversations and enforces the capacity
// cap. Runs opportunistically, at most once per sweep interval, so a
// quiet server holds stale state until the next request arrives.
func (st *Store) sweepLocked() {
	now := st.nowFunc()
	if now.Sub(st.lastSweep) < st.sweepEvery {
		return
	}
	st.lastSweep = now

	expired := 0
	for id, state := range st.states {
		if now.Sub(state.LastActivity) > st.retention {
			delete(st.states, id)
			expired++
		}
	}

	if excess := len(st.states) - st.maxTracked; excess > 0 {
		type entry struct {
			id string
			at time.Time
		}
		byAge := make([]entry, 0, len(st.states))
		for id, state := range st.states {
			byAge = append(byAge, entry{id, state.LastActivity})
		}
		sort.Slice(byAge, func(i, j int) bool { return byAge[i].at.Before(byAge[j].at) })
		for _, e := range byAge[:excess] {
			delete(st.states, e.id)
		}
	}

	if expired > 0 {
		st.logger.Info("cleaned up expired conversations", "count", expired)
	}
}

func snapshot(s *State) State {
	out := *s
	out.TopicKeywords = append([]string(nil), s.TopicKeywords...)
	return out
}

// extractTopicKeywords pulls up to ten keywords from the user turns of
// the last three messages: lowercased, punctuation-trimmed words longer
// than three characters that are not stop words.
func extractTopicKeywords(messages []llm.Message) []string {
	if len(messages) == 0 {
		return nil
	}
	recent := messages
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}

	var texts []string
	for _, msg := range recent {
		if msg.Role == "user" {
			texts = append(texts, msg.Content.Text())
		}
	}

	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(strings.Join(texts, " "))) {
		word = strings.Trim(word, ".,!?;:()[]{}\"'")
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == 10 {
			break
		}
	}
	return keywords
}

// detectTopicChange reports whether the conversation has moved on:
// either the last message carries an explicit topic-change marker, or
// the Jaccard overlap between current and stored keywords drops below
// the drift threshold. Missing keywords on either side never count as
// drift.
func detectTopicChange(messages []llm.Message, storedKeywords []string, logger *slog.Logger) bool {
	if len(messages) == 0 {
		return false
	}
	last := strings.ToLower(messages[len(messages)-1].Content.Text())
	for _, marker := range topicChangeMarkers {
		if strings.Contains(last, marker) {
			logger.Info("detected explicit topic change indicator")
			return true
		}
	}

	current := extractTopicKeywords(messages)
	if len(storedKeywords) == 0 || len(current) == 0 {
		return false
	}

	currentSet := make(map[string]struct{}, len(current))
	for _, k := range current {
		currentSet[k] = struct{}{}
	}
	storedSet := make(map[string]struct{}, len(storedKeywords))
	for _, k := range storedKeywords {
		storedSet[k] = struct{}{}
	}

	overlap := 0
	for k := range currentSet {
		if _, ok := storedSet[k]; ok {
			overlap++
		}
	}
	union := len(storedSet)
	for k := range currentSet {
		if _, ok := storedSet[k]; !ok {
			union++
		}
	}
	if union == 0 {
		return false
	}

	ratio := float64(overlap) / float64(union)
	if ratio < driftThreshold {
		logger.Info("detected topic change via keyword analysis", "overlap_ratio", ratio)
		return true
	}
	return false
}
