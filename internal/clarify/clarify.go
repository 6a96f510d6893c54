// Package clarify detects low-confidence or ambiguous input and manages the
// one-shot clarification round-trip.
package clarify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/TextCartHQ/TextCart/internal/genai"
	"github.com/TextCartHQ/TextCart/internal/models"
)

const (
	// clarificationThreshold is the classifier confidence below which a
	// clarification round-trip is triggered.
	clarificationThreshold = 0.6
	// ContextKeyPending is the context-data key holding the pending
	// clarification record. At most one may be open per conversation.
	ContextKeyPending = "pending_clarification"
	// DefaultAITimeout bounds the question-generation provider call.
	DefaultAITimeout = 5 * time.Second
)

// ambiguousQuantityRe matches quantity words that need pinning down before an
// order can proceed.
var ambiguousQuantityRe = regexp.MustCompile(`(?i)\b(some|few|a few|many|several|kuch|thoda)\b`)

const questionSystemPrompt = `You write one short clarifying question for a wholesale commerce chat.
The customer's message was ambiguous. Ask exactly one question that resolves the ambiguity.
Keep it under 25 words, friendly, no emojis, no preamble. Respond with only the question text.`

// Engine detects ambiguity and builds clarification round-trips.
type Engine struct {
	genai   genai.ClientInterface
	timeout time.Duration
}

// NewEngine creates a clarification Engine. A nil genai client leaves only
// the deterministic question templates.
func NewEngine(client genai.ClientInterface) *Engine {
	return &Engine{genai: client, timeout: DefaultAITimeout}
}

// TriggerReason names why a clarification was raised.
type TriggerReason string

const (
	ReasonLowConfidence     TriggerReason = "low_confidence"
	ReasonAmbiguousQuantity TriggerReason = "ambiguous_quantity"
	ReasonMultipleProducts  TriggerReason = "multiple_products"
	ReasonMissingQuantity   TriggerReason = "missing_quantity"
)

// ShouldClarify reports whether the message needs a clarification round-trip
// and why. Single-product intents with several extracted product codes and
// orders missing a usable quantity both count as ambiguous.
func (e *Engine) ShouldClarify(result models.ClassificationResult, text string) (TriggerReason, bool) {
	if result.Confidence < clarificationThreshold {
		return ReasonLowConfidence, true
	}
	if ambiguousQuantityRe.MatchString(text) && len(result.Entities.Quantities) == 0 {
		return ReasonAmbiguousQuantity, true
	}
	if expectsSingleProduct(result.Intent) && len(result.Entities.ProductCodes) > 1 {
		return ReasonMultipleProducts, true
	}
	if result.Intent == models.IntentPlaceOrder && len(result.Entities.ProductCodes) > 0 && len(result.Entities.Quantities) == 0 {
		return ReasonMissingQuantity, true
	}
	return "", false
}

func expectsSingleProduct(intent models.Intent) bool {
	switch intent {
	case models.IntentPlaceOrder, models.IntentProductInfo, models.IntentQuantityUpdate:
		return true
	default:
		return false
	}
}

// Build generates the clarifying question and ordered suggestions for a
// triggered clarification. Question generation is AI-backed with a
// deterministic template fallback; Build itself never fails.
func (e *Engine) Build(ctx context.Context, text string, result models.ClassificationResult, reason TriggerReason) models.PendingClarification {
	pending := models.PendingClarification{
		OriginalInput: text,
		Suggestions:   e.suggestions(result, reason),
		CreatedAt:     time.Now(),
	}

	pending.Question = e.templateQuestion(result, reason)
	if e.genai != nil {
		aiCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		prompt := fmt.Sprintf("Customer message: %q\nAmbiguity: %s\nSuggested replies: %s",
			text, reason, strings.Join(pending.Suggestions, ", "))
		question, err := e.genai.GenerateWithContext(aiCtx, questionSystemPrompt, prompt)
		if err != nil {
			slog.Warn("ClarificationEngine question generation failed, using template", "error", err, "reason", reason)
		} else if q := strings.TrimSpace(question); q != "" {
			pending.Question = q
		}
	}

	slog.Debug("ClarificationEngine built clarification", "reason", reason, "suggestions", len(pending.Suggestions))
	return pending
}

// templateQuestion is the deterministic fallback question per trigger reason.
func (e *Engine) templateQuestion(result models.ClassificationResult, reason TriggerReason) string {
	switch reason {
	case ReasonAmbiguousQuantity, ReasonMissingQuantity:
		return "How many would you like? Please send an exact quantity, e.g. '5 cartons'."
	case ReasonMultipleProducts:
		return "Which product did you mean? Please pick one:"
	default:
		return "Sorry, I didn't quite catch that. Did you mean one of these?"
	}
}

// suggestions derives the ordered short-reply list for a clarification.
func (e *Engine) suggestions(result models.ClassificationResult, reason TriggerReason) []string {
	switch reason {
	case ReasonAmbiguousQuantity, ReasonMissingQuantity:
		return []string{"1 carton", "5 cartons", "10 cartons"}
	case ReasonMultipleProducts:
		return append([]string(nil), result.Entities.ProductCodes...)
	default:
		return []string{"Place an order", "Check product availability", "See the catalog"}
	}
}

// Resolve checks a follow-up message against a pending clarification.
// Exact match, numeric-index selection (1-based), or fuzzy substring match
// against a suggestion resolves to that suggestion. No match means the
// pending clarification should be discarded and the message classified fresh.
func Resolve(pending models.PendingClarification, reply string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return "", false
	}

	for _, suggestion := range pending.Suggestions {
		if strings.EqualFold(trimmed, suggestion) {
			return suggestion, true
		}
	}

	if index, err := strconv.Atoi(trimmed); err == nil {
		if index >= 1 && index <= len(pending.Suggestions) {
			return pending.Suggestions[index-1], true
		}
		return "", false
	}

	lowered := strings.ToLower(trimmed)
	for _, suggestion := range pending.Suggestions {
		if strings.Contains(strings.ToLower(suggestion), lowered) || strings.Contains(lowered, strings.ToLower(suggestion)) {
			return suggestion, true
		}
	}
	return "", false
}

// Encode serializes a pending clarification for the conversation context map.
func Encode(pending models.PendingClarification) (string, error) {
	b, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("failed to encode pending clarification: %w", err)
	}
	return string(b), nil
}

// Decode deserializes a pending clarification from the context map. The bool
// result reports whether a usable record was present.
func Decode(raw string) (models.PendingClarification, bool) {
	var pending models.PendingClarification
	if raw == "" {
		return pending, false
	}
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		slog.Warn("ClarificationEngine failed to decode pending record, discarding", "error", err)
		return models.PendingClarification{}, false
	}
	return pending, len(pending.Suggestions) > 0
}
