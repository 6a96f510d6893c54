// Package flow implements the conversation orchestrator: the single entry
// point that routes every inbound message through a strict precedence
// pipeline to exactly one terminal action.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/TextCartHQ/TextCart/internal/catalog"
	"github.com/TextCartHQ/TextCart/internal/clarify"
	"github.com/TextCartHQ/TextCart/internal/classify"
	"github.com/TextCartHQ/TextCart/internal/genai"
	"github.com/TextCartHQ/TextCart/internal/memory"
	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/TextCartHQ/TextCart/internal/recovery"
	"github.com/TextCartHQ/TextCart/internal/state"
	"github.com/TextCartHQ/TextCart/internal/store"
)

// Sender is the minimal message-delivery surface the orchestrator needs.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Result reports the terminal action taken for one inbound message.
type Result struct {
	Handled   bool   `json:"handled"`
	ResultTag string `json:"result_tag"`
}

// Result tags name the terminal action per inbound message.
const (
	TagDuplicate     = "duplicate"
	TagReset         = "reset"
	TagAccountSetup  = "account_setup"
	TagGSTSlot       = "gst_slot"
	TagShippingSlot  = "shipping_slot"
	TagAddressSlot   = "address_slot"
	TagClarification = "clarification_asked"
	TagCartCleared   = "cart_cleared"
	TagCartViewed    = "cart_viewed"
	TagCheckout      = "checkout_started"
	TagOrderPlaced   = "order_placed"
	TagChannelLinked = "channel_linked"
	TagSmartResponse = "smart_response"
	TagRecovered     = "recovered"
)

// Deterministic command patterns recognized ahead of classification.
var (
	cartClearCmdRe = regexp.MustCompile(`(?i)^(clear|empty)\s+(my\s+)?cart$`)
	cartViewCmdRe  = regexp.MustCompile(`(?i)^((view|show)\s+(my\s+)?cart|cart)$`)
	checkoutCmdRe  = regexp.MustCompile(`(?i)^(check\s?out|place\s+(my\s+)?order)$`)
	accountSetupRe = regexp.MustCompile(`(?i)\b(create|set\s?up|register|open)\b.{0,20}\b(account|business|store|shop)\b`)
	confirmationRe = regexp.MustCompile(`(?i)^(yes|yeah|yep|ok|okay|confirm|confirmed|done|haan|ha|theek hai)\b`)
)

// conversationLocks serializes inbound handling per (tenant, identifier)
// pair. Different conversations proceed in parallel.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the per-conversation mutex and returns its release func.
func (l *conversationLocks) lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Deps collects the orchestrator's collaborators. Catalog and Cart are
// optional; nil values are resolved to null objects at composition time.
type Deps struct {
	Store      store.Store
	Dedup      store.DedupRepo
	States     *state.Manager
	Memory     *memory.Store
	Classifier *classify.Classifier
	Clarifier  *clarify.Engine
	Catalog    catalog.Catalog
	Cart       catalog.Cart
	Sender     Sender
	GenAI      genai.ClientInterface
}

// Orchestrator routes inbound messages to workflow handlers.
type Orchestrator struct {
	store      store.Store
	dedup      store.DedupRepo
	states     *state.Manager
	memory     *memory.Store
	classifier *classify.Classifier
	clarifier  *clarify.Engine
	catalog    catalog.Catalog
	cart       catalog.Cart
	sender     Sender
	genai      genai.ClientInterface
	recoverer  *recovery.Recoverer
	locks      *conversationLocks
	respCache  *responseCache
}

// NewOrchestrator creates an Orchestrator from its collaborators.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Catalog == nil {
		deps.Catalog = catalog.NullCatalog{}
	}
	if deps.Cart == nil {
		deps.Cart = catalog.NewInMemoryCart()
	}
	return &Orchestrator{
		store:      deps.Store,
		dedup:      deps.Dedup,
		states:     deps.States,
		memory:     deps.Memory,
		classifier: deps.Classifier,
		clarifier:  deps.Clarifier,
		catalog:    deps.Catalog,
		cart:       deps.Cart,
		sender:     deps.Sender,
		genai:      deps.GenAI,
		recoverer:  recovery.NewRecoverer(deps.Sender),
		locks:      newConversationLocks(),
		respCache:  newResponseCache(defaultCacheTTL),
	}
}

// HandleInboundMessage is the single entry point per inbound message. Every
// message produces exactly one terminal action; a replayed message id never
// re-triggers a side effect. Workflow failures are routed through the
// recovery path so the conversation is never left without a reply, and the
// underlying error is returned for upstream logging.
func (o *Orchestrator) HandleInboundMessage(ctx context.Context, tenantID, identifier, messageID, text string) (Result, error) {
	if tenantID == "" {
		return Result{}, models.ErrEmptyTenant
	}
	if identifier == "" {
		return Result{}, models.ErrEmptyIdentifier
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}, models.ErrEmptyBody
	}

	unlock := o.locks.lock(tenantID + "|" + identifier)
	defer unlock()

	conv, err := o.store.UpsertConversation(tenantID, identifier)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load conversation: %w", err)
	}

	if messageID != "" {
		fresh, err := o.dedup.RecordInbound(messageID, conv.ID)
		if err != nil {
			slog.Warn("Orchestrator dedup check failed, processing anyway", "error", err, "messageID", messageID)
		} else if !fresh {
			slog.Info("Orchestrator dropping duplicate inbound message", "messageID", messageID, "conversationID", conv.ID)
			return Result{Handled: true, ResultTag: TagDuplicate}, nil
		}
	}

	res, err := o.route(ctx, conv, trimmed)
	if messageID != "" {
		if markErr := o.dedup.MarkProcessed(messageID); markErr != nil {
			slog.Warn("Orchestrator failed to mark message processed", "error", markErr, "messageID", messageID)
		}
	}
	if err != nil {
		return Result{Handled: true, ResultTag: TagRecovered}, o.recoverer.Recover(ctx, identifier, err)
	}
	return res, nil
}

// route walks the precedence pipeline for one inbound message. Exactly one
// branch runs to completion.
func (o *Orchestrator) route(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	// Escape keywords are the highest-priority interrupt: forced reset,
	// classification bypassed entirely.
	if state.IsEscapeKeyword(text) {
		return o.handleEscape(ctx, conv, text)
	}

	// Account-creation intercepts run independent of conversation state.
	if accountSetupRe.MatchString(text) {
		return o.handleAccountSetup(ctx, conv, text)
	}

	// A modal slot-filling state suspends all other routing; the message is
	// parsed strictly as an answer to the open slot.
	if models.IsModalState(conv.State) {
		return o.handleModalSlot(ctx, conv, text)
	}

	// An open clarification claims the next message first. A resolved
	// suggestion is folded into the original input and classified fresh; no
	// match just discards the pending record. Clarifications are one-shot, so
	// a resolved message is never immediately re-clarified. The message log
	// always records the raw inbound body; the merged text exists only for
	// routing and classification.
	effective := text
	resolvedClarification := false
	if pending, ok := clarify.Decode(conv.ContextData[clarify.ContextKeyPending]); ok {
		if err := o.clearContextValue(ctx, conv, clarify.ContextKeyPending); err != nil {
			slog.Warn("Orchestrator failed to clear pending clarification", "error", err, "conversationID", conv.ID)
		}
		if resolved, matched := clarify.Resolve(pending, text); matched {
			slog.Info("Orchestrator resolved clarification", "conversationID", conv.ID, "resolved", resolved)
			effective = mergeResolution(pending.OriginalInput, resolved)
			resolvedClarification = true
		}
	}

	// Deterministic cart commands short-circuit classification.
	switch {
	case cartClearCmdRe.MatchString(effective):
		o.saveCustomerMessage(ctx, conv, text, &models.ClassificationResult{Intent: models.IntentCartClear, Confidence: 1, Method: models.MethodRule})
		return o.handleCartClear(ctx, conv)
	case cartViewCmdRe.MatchString(effective):
		o.saveCustomerMessage(ctx, conv, text, &models.ClassificationResult{Intent: models.IntentCartView, Confidence: 1, Method: models.MethodRule})
		return o.handleCartView(ctx, conv)
	case checkoutCmdRe.MatchString(effective):
		o.saveCustomerMessage(ctx, conv, text, &models.ClassificationResult{Intent: models.IntentCheckout, Confidence: 1, Method: models.MethodRule})
		return o.handleCheckout(ctx, conv)
	}

	snapshot, err := o.memory.GetMemory(ctx, conv.TenantID, conv.CustomerIdentifier)
	if err != nil {
		return Result{}, &recovery.ExternalDependencyError{Dependency: recovery.CategoryNetwork, Err: err}
	}

	result := o.classifier.Classify(ctx, effective, snapshot, false)
	o.saveCustomerMessage(ctx, conv, text, &result)
	slog.Info("Orchestrator classified message", "conversationID", conv.ID,
		"intent", result.Intent, "confidence", result.Confidence, "method", result.Method)

	// A confirmation in CHECKOUT_READY finalizes the order regardless of how
	// the classifier labeled it.
	if conv.State == models.StateCheckoutReady && (confirmationRe.MatchString(effective) || result.Intent == models.IntentOrderConfirmation) {
		return o.finalizeOrder(ctx, conv)
	}

	if !resolvedClarification {
		if reason, need := o.clarifier.ShouldClarify(result, effective); need {
			return o.askClarification(ctx, conv, effective, result, reason)
		}
	}

	return o.dispatch(ctx, conv, effective, result, snapshot)
}

// dispatch maps a classified intent to its workflow handler.
func (o *Orchestrator) dispatch(ctx context.Context, conv *models.Conversation, text string, result models.ClassificationResult, snapshot *models.MemorySnapshot) (Result, error) {
	switch result.Intent {
	case models.IntentGreeting:
		return o.handleGreeting(ctx, conv)
	case models.IntentProductInfo:
		return o.handleProductInfo(ctx, conv, result)
	case models.IntentPlaceOrder:
		return o.handlePlaceOrder(ctx, conv, result)
	case models.IntentAddProduct:
		return o.handleAddProduct(ctx, conv, result)
	case models.IntentQuantityUpdate:
		return o.handleQuantityUpdate(ctx, conv, result, snapshot)
	case models.IntentAddressUpdate:
		return o.handleAddressUpdate(ctx, conv, text)
	case models.IntentInvoiceRequest:
		return o.handleInvoiceRequest(ctx, conv)
	case models.IntentDiscountNegotiation:
		return o.handleDiscountNegotiation(ctx, conv)
	case models.IntentCatalogRequest:
		return o.handleCatalogRequest(ctx, conv)
	case models.IntentOrderConfirmation:
		return o.handleOrderConfirmation(ctx, conv, result, snapshot)
	case models.IntentCartView:
		return o.handleCartView(ctx, conv)
	case models.IntentCartClear:
		return o.handleCartClear(ctx, conv)
	case models.IntentCheckout:
		return o.handleCheckout(ctx, conv)
	case models.IntentChannelLink:
		return o.handleChannelLink(ctx, conv, text)
	case models.IntentAccountSetup:
		return o.handleAccountSetup(ctx, conv, text)
	default:
		return o.handleGeneralQuery(ctx, conv, text, snapshot)
	}
}

// handleEscape performs the forced reset: state back to INITIAL, cart
// emptied, confirmation sent. It must always succeed from the customer's
// perspective.
func (o *Orchestrator) handleEscape(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	o.saveCustomerMessage(ctx, conv, text, nil)
	o.states.ResetState(ctx, conv.TenantID, conv.CustomerIdentifier)
	conv.State = models.StateInitial
	conv.ContextData = make(map[string]string)
	conv.LastQuotedProducts = nil
	if err := o.cart.Clear(ctx, conv.TenantID, conv.CustomerIdentifier); err != nil {
		slog.Warn("Orchestrator cart clear failed during reset, ignoring", "error", err, "conversationID", conv.ID)
	}
	if err := o.reply(ctx, conv, "Okay, I've reset our conversation. How can I help you?"); err != nil {
		slog.Error("Orchestrator reset reply failed, ignoring", "error", err, "conversationID", conv.ID)
	}
	return Result{Handled: true, ResultTag: TagReset}, nil
}

// askClarification builds and sends a one-shot clarifying question, storing
// the pending record in the conversation's context data.
func (o *Orchestrator) askClarification(ctx context.Context, conv *models.Conversation, text string, result models.ClassificationResult, reason clarify.TriggerReason) (Result, error) {
	pending := o.clarifier.Build(ctx, text, result, reason)
	encoded, err := clarify.Encode(pending)
	if err != nil {
		return Result{}, err
	}
	if err := o.setContextValue(ctx, conv, clarify.ContextKeyPending, encoded); err != nil {
		return Result{}, err
	}

	body := pending.Question
	if len(pending.Suggestions) > 0 {
		var b strings.Builder
		b.WriteString(body)
		for i, s := range pending.Suggestions {
			fmt.Fprintf(&b, "\n%d. %s", i+1, s)
		}
		body = b.String()
	}
	if err := o.reply(ctx, conv, body); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagClarification}, nil
}

// reply sends a bot message and records it in the conversation log.
func (o *Orchestrator) reply(ctx context.Context, conv *models.Conversation, body string) error {
	if err := o.sender.SendMessage(ctx, conv.CustomerIdentifier, body); err != nil {
		return &recovery.ExternalDependencyError{Dependency: recovery.CategoryNetwork, Err: err}
	}
	o.memory.SaveMessage(ctx, models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderBot,
		Body:           body,
	})
	return nil
}

// saveCustomerMessage appends the inbound message to the log, tagging it with
// the classification result when available, and keeps history bounded.
func (o *Orchestrator) saveCustomerMessage(ctx context.Context, conv *models.Conversation, body string, result *models.ClassificationResult) {
	msg := models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderCustomer,
		Body:           body,
	}
	if result != nil {
		msg.Intent = result.Intent
		if !result.Entities.IsEmpty() {
			entities := result.Entities
			msg.Entities = &entities
		}
	}
	o.memory.SaveMessage(ctx, msg)
	if err := o.memory.PruneOldMessages(ctx, conv.ID); err != nil {
		slog.Warn("Orchestrator message prune failed, ignoring", "error", err, "conversationID", conv.ID)
	}
}

// setContextValue writes one key into the conversation's context data.
func (o *Orchestrator) setContextValue(ctx context.Context, conv *models.Conversation, key, value string) error {
	if conv.ContextData == nil {
		conv.ContextData = make(map[string]string)
	}
	conv.ContextData[key] = value
	return o.states.SaveContextData(ctx, conv.ID, conv.ContextData)
}

// clearContextValue removes one key from the conversation's context data.
func (o *Orchestrator) clearContextValue(ctx context.Context, conv *models.Conversation, key string) error {
	if _, ok := conv.ContextData[key]; !ok {
		return nil
	}
	delete(conv.ContextData, key)
	return o.states.SaveContextData(ctx, conv.ID, conv.ContextData)
}

// transition applies a state change through the transition table, keeping the
// in-memory conversation in sync.
func (o *Orchestrator) transition(ctx context.Context, conv *models.Conversation, to models.ConversationState) error {
	if err := o.states.SetState(ctx, conv.TenantID, conv.CustomerIdentifier, to, false); err != nil {
		return err
	}
	conv.State = to
	return nil
}

// quietTransition applies a state change, logging rejected transitions
// instead of failing the turn. The conversation remains in its current state
// when the table rejects the move.
func (o *Orchestrator) quietTransition(ctx context.Context, conv *models.Conversation, to models.ConversationState) {
	if err := o.transition(ctx, conv, to); err != nil {
		slog.Debug("Orchestrator transition rejected, staying put", "error", err, "conversationID", conv.ID, "from", conv.State, "to", to)
	}
}

// mergeResolution folds a resolved clarification suggestion back into the
// original input for fresh classification. When the suggestion is itself a
// product code, it replaces the original's ambiguous codes instead of being
// appended alongside them.
func mergeResolution(original, resolved string) string {
	if resolvedEntities := memory.ExtractEntities(resolved); len(resolvedEntities.ProductCodes) > 0 {
		return strings.TrimSpace(resolved + " " + memory.StripProductCodes(original))
	}
	return strings.TrimSpace(original + " " + resolved)
}
