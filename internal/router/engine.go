// Package router selects a backend model for each chat completion
// request and executes the call. Routing checks run in priority order:
// vision, heavy context, title generation, escalation, explicit
// research, then LLM classification. Conversation state keeps
// follow-up turns sticky to the model class they upgraded to.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/switchboard/internal/classify"
	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/registry"
)

// defaultTemperature applies when the client request omits one.
const defaultTemperature = 0.7

// Resolver resolves logical model names. Satisfied by
// *registry.Registry; tests substitute stubs.
type Resolver interface {
	Resolve(name string) (*registry.Resolution, error)
}

// Classifier labels a message when no heuristic fires. Satisfied by
// *classify.Classifier.
type Classifier interface {
	Classify(ctx context.Context, messages []llm.Message, model string) classify.Label
}

// Request is one routed chat completion request. Model is what the
// client asked for and is advisory only: the proxy decides.
type Request struct {
	Model       string
	Messages    []llm.Message
	Temperature *float64
}

// Engine makes routing decisions and executes the backend call.
type Engine struct {
	cfg        *config.Config
	resolver   Resolver
	classifier Classifier
	store      *conversation.Store
	logger     *slog.Logger
}

// New creates a routing engine.
func New(cfg *config.Config, resolver Resolver, classifier Classifier, store *conversation.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		resolver:   resolver,
		classifier: classifier,
		store:      store,
		logger:     logger.With("component", "router"),
	}
}

// Route picks a model for the request, calls it, and returns the
// normalized response body. Errors are RouteErrors carrying the HTTP
// status the API layer should answer with.
func (e *Engine) Route(ctx context.Context, req *Request) (any, error) {
	if len(req.Messages) == 0 {
		return nil, badRequest("No messages provided.")
	}

	routing := e.cfg.Routing()
	messages := req.Messages
	userPrompt := messages[len(messages)-1].Content.Text()

	state := e.store.GetOrCreate(messages)

	// Per-request signals arm the sticky windows; stored stickiness
	// keeps follow-up turns on the upgraded model class.
	visionNow := needsVisionModel(messages)
	heavyNow := needsHeavyContext(messages, routing.TokenThreshold)
	needsVision := visionNow || state.VisionSticky()
	needsHeavy := heavyNow || state.HeavySticky()

	var (
		targetModel string
		tier        conversation.Tier
	)
	switch {
	case needsVision:
		e.logger.Info("vision model required", "conversation_id", state.ConversationID)
		targetModel = routing.HardNoResearchModel
		tier = conversation.TierHard
	case needsHeavy:
		e.logger.Info("heavy context detected", "conversation_id", state.ConversationID,
			"estimated_tokens", estimateConversationTokens(messages))
		targetModel = routing.HardNoResearchModel
		tier = conversation.TierHard
	case classify.IsTitleRequest(messages):
		e.logger.Info("title generation request detected")
		targetModel = routing.SimpleNoResearchModel
		tier = conversation.TierSimple
	case classify.IsEscalationRequest(userPrompt):
		e.logger.Info("escalation request detected")
		targetModel = routing.EscalationModel
		tier = conversation.TierEscalation
	case classify.IsResearchRequest(userPrompt):
		e.logger.Info("research request detected",
			"topic", classify.ExtractResearchTopic(userPrompt, conversationText(messages)))
		targetModel = routing.ResearchModel
		tier = conversation.TierResearch
	default:
		label := e.classifier.Classify(ctx, messages, routing.ClassifierModel)
		targetModel = modelForLabel(label, routing)
		tier = conversation.TierSimple
		if label.IsHard() {
			tier = conversation.TierHard
		}
		e.logger.Info("message classified", "label", string(label), "target_model", targetModel)
	}

	res, err := e.resolver.Resolve(targetModel)
	if err != nil {
		e.logger.Warn("target model unavailable, trying fallback",
			"target_model", targetModel, "error", err)
		res, err = e.resolver.Resolve(routing.FallbackModel)
		if err != nil {
			return nil, internalError("No valid LLM client available", err)
		}
		targetModel = routing.FallbackModel
	}

	// Safety override: a vision request must land on the vision-capable
	// provider no matter what the chain or fallback chose.
	if needsVision && res.Provider != routing.VisionProvider {
		e.logger.Error("vision required but target is not vision-capable, forcing override",
			"target_model", targetModel, "provider", res.Provider)
		forced, err := e.resolver.Resolve(routing.EscalationModel)
		if err != nil || forced.Provider != routing.VisionProvider {
			return nil, internalError("Cannot find vision-capable model for vision task", err)
		}
		res = forced
		targetModel = routing.EscalationModel
	}

	e.logger.Info("routing decision",
		"conversation_id", state.ConversationID,
		"logical_model", targetModel,
		"provider", res.Provider,
		"model_id", res.ModelID,
		"tier", string(tier),
		"vision", needsVision,
		"heavy_context", needsHeavy)

	e.store.UpdateAfterRouting(state.ConversationID, targetModel, tier, visionNow, heavyNow)

	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	reply, err := res.Client.Generate(ctx, llm.GenerateRequest{
		ModelID:      res.ModelID,
		Messages:     messages,
		Temperature:  temperature,
		Params:       res.Params,
		SystemPrompt: res.SystemPrompt,
	})
	if err != nil {
		e.logger.Error("generation failed", "logical_model", targetModel, "error", err)
		return nil, internalError("Failed to generate response", err)
	}

	debugPrefix := strings.EqualFold(e.cfg.LogLevel(), "debug")
	return normalizeReply(reply, targetModel, debugPrefix), nil
}

// modelForLabel maps a classification label to its configured model.
// Unknown labels route to the fallback model.
func modelForLabel(label classify.Label, routing config.Routing) string {
	switch label {
	case classify.SimpleNoResearch:
		return routing.SimpleNoResearchModel
	case classify.SimpleResearch:
		return routing.SimpleResearchModel
	case classify.HardNoResearch:
		return routing.HardNoResearchModel
	case classify.HardResearch:
		return routing.HardResearchModel
	default:
		return routing.FallbackModel
	}
}

// conversationText flattens the conversation's text for research-topic
// extraction.
func conversationText(messages []llm.Message) string {
	var parts []string
	for _, msg := range messages {
		if text := msg.Content.Text(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
