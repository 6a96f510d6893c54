package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/TextCartHQ/TextCart/internal/genai"
	"github.com/TextCartHQ/TextCart/internal/memory"
	"github.com/TextCartHQ/TextCart/internal/models"
)

const (
	// aiInvocationThreshold is the Tier-1 confidence below which the AI pass
	// is consulted. Above it the rule result is final (cost control).
	aiInvocationThreshold = 0.85
	// aiAuthorityThreshold is the minimum AI confidence for the AI result to
	// override the Tier-1 result during reconciliation.
	aiAuthorityThreshold = 0.7
	// DefaultAITimeout bounds the Tier-2 provider call.
	DefaultAITimeout = 5 * time.Second
)

const classificationSystemPrompt = `You are an intent classifier for a wholesale commerce chat.
Classify the customer message into exactly one of these intents:
greeting, place_order, product_info, add_product, quantity_update, address_update,
invoice_request, discount_negotiation, catalog_request, order_confirmation,
cart_view, cart_clear, checkout, channel_link, account_setup, general_query.
Respond with only a JSON object: {"intent": "...", "confidence": 0.0, "reasoning": "..."}.
Confidence is between 0 and 1.`

// aiResponse is the JSON shape Tier-2 must return.
type aiResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier combines the deterministic Tier-1 rules with the AI-assisted
// Tier-2 pass.
type Classifier struct {
	genai   genai.ClientInterface
	timeout time.Duration
}

// NewClassifier creates a Classifier. A nil genai client disables Tier-2
// entirely, leaving the deterministic rules as the only pass.
func NewClassifier(client genai.ClientInterface) *Classifier {
	return &Classifier{genai: client, timeout: DefaultAITimeout}
}

// NewClassifierWithTimeout creates a Classifier with a custom Tier-2 timeout.
func NewClassifierWithTimeout(client genai.ClientInterface, timeout time.Duration) *Classifier {
	return &Classifier{genai: client, timeout: timeout}
}

// Classify runs the two-stage pipeline over a message. Tier-2 is invoked only
// when the Tier-1 confidence is below the invocation threshold or when
// contextAware is set. Any Tier-2 failure (provider error, timeout, malformed
// or out-of-enumeration output) deterministically falls back to the Tier-1
// result; Classify never returns an error into conversation handling.
func (c *Classifier) Classify(ctx context.Context, text string, snapshot *models.MemorySnapshot, contextAware bool) models.ClassificationResult {
	tier1 := ClassifyTier1(text, snapshot)
	slog.Debug("Classifier Tier-1 result", "intent", tier1.Intent, "confidence", tier1.Confidence, "reasoning", tier1.Reasoning)

	if c.genai == nil {
		return tier1
	}
	if tier1.Confidence >= aiInvocationThreshold && !contextAware {
		return tier1
	}

	aiResult, ok := c.classifyTier2(ctx, text, snapshot)
	if !ok {
		return tier1
	}

	// The AI result is authoritative only above the authority threshold.
	if aiResult.Confidence <= aiAuthorityThreshold {
		slog.Debug("Classifier AI result below authority threshold, keeping Tier-1",
			"aiIntent", aiResult.Intent, "aiConfidence", aiResult.Confidence)
		return tier1
	}

	// Entities always come from the deterministic extraction so downstream
	// consumers never observe inconsistent unit spellings.
	aiResult.Entities = tier1.Entities
	slog.Debug("Classifier AI result adopted", "intent", aiResult.Intent, "confidence", aiResult.Confidence)
	return aiResult
}

// classifyTier2 runs the AI-assisted pass. The bool result reports whether a
// usable result was produced.
func (c *Classifier) classifyTier2(ctx context.Context, text string, snapshot *models.MemorySnapshot) (models.ClassificationResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPrompt := "Context:\n" + memory.FormatForAI(snapshot) + "\n\nMessage: " + text
	raw, err := c.genai.GenerateWithContext(ctx, classificationSystemPrompt, userPrompt)
	if err != nil {
		slog.Warn("Classifier Tier-2 call failed, falling back to rules", "error", err)
		return models.ClassificationResult{}, false
	}

	var parsed aiResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		slog.Warn("Classifier Tier-2 returned malformed JSON, falling back to rules", "error", err, "response", raw)
		return models.ClassificationResult{}, false
	}

	// Validate against the closed intent enumeration.
	intent := models.Intent(strings.ToLower(strings.TrimSpace(parsed.Intent)))
	if !models.IsValidIntent(intent) {
		slog.Warn("Classifier Tier-2 returned unknown intent, falling back to rules", "intent", parsed.Intent)
		return models.ClassificationResult{}, false
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return models.ClassificationResult{
		Intent:     intent,
		Confidence: confidence,
		Method:     models.MethodAI,
		Reasoning:  parsed.Reasoning,
	}, true
}

// extractJSON strips prose and code fences around a JSON object, returning
// the first top-level object found.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}
