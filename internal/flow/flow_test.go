package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/TextCartHQ/TextCart/internal/catalog"
	"github.com/TextCartHQ/TextCart/internal/clarify"
	"github.com/TextCartHQ/TextCart/internal/classify"
	"github.com/TextCartHQ/TextCart/internal/memory"
	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/TextCartHQ/TextCart/internal/state"
	"github.com/TextCartHQ/TextCart/internal/store"
)

// mockSender records outbound messages.
type mockSender struct {
	sent []string
	err  error
}

func (m *mockSender) SendMessage(ctx context.Context, to string, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockSender) last() string {
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

// failingGenAI always errors, simulating a broken AI provider.
type failingGenAI struct{}

func (failingGenAI) GenerateWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("provider down")
}

type fixture struct {
	orch   *Orchestrator
	store  *store.InMemoryStore
	sender *mockSender
	cart   *catalog.InMemoryCart
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &mockSender{}
	cart := catalog.NewInMemoryCart()

	cat := catalog.NewInMemoryCatalog()
	cat.AddProduct("t1", models.Product{Code: "10X140", Name: "Hex Bolt 10x140", Price: 12.5, Unit: "pieces"})
	cat.AddProduct("t1", models.Product{Code: "8X80", Name: "Hex Bolt 8x80", Price: 8, Unit: "pieces"})

	orch := NewOrchestrator(Deps{
		Store:      st,
		Dedup:      st,
		States:     state.NewManager(st),
		Memory:     memory.NewStore(st, cart),
		Classifier: classify.NewClassifier(nil),
		Clarifier:  clarify.NewEngine(nil),
		Catalog:    cat,
		Cart:       cart,
		Sender:     sender,
	})
	return &fixture{orch: orch, store: st, sender: sender, cart: cart}
}

func (f *fixture) handle(t *testing.T, text string) Result {
	t.Helper()
	res, err := f.orch.HandleInboundMessage(context.Background(), "t1", "911234567890", "", text)
	if err != nil {
		t.Fatalf("HandleInboundMessage(%q) failed: %v", text, err)
	}
	return res
}

func (f *fixture) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := f.store.GetConversation("t1", "911234567890")
	if err != nil || conv == nil {
		t.Fatalf("conversation missing: %v", err)
	}
	return conv
}

func (f *fixture) forceState(t *testing.T, s models.ConversationState) {
	t.Helper()
	conv, err := f.store.UpsertConversation("t1", "911234567890")
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := f.store.SaveConversationState(conv.ID, s); err != nil {
		t.Fatalf("save state failed: %v", err)
	}
}

func TestHandleInboundValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.HandleInboundMessage(ctx, "", "911234567890", "", "hi"); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := f.orch.HandleInboundMessage(ctx, "t1", "", "", "hi"); err == nil {
		t.Error("expected error for empty identifier")
	}
	if _, err := f.orch.HandleInboundMessage(ctx, "t1", "911234567890", "", "  "); err == nil {
		t.Error("expected error for blank text")
	}
}

func TestGreetingKeepsInitialState(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, "hi")
	if !res.Handled || res.ResultTag != string(models.IntentGreeting) {
		t.Errorf("unexpected result %+v", res)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(f.sender.sent))
	}
	if conv := f.conversation(t); conv.State != models.StateInitial {
		t.Errorf("expected state to remain INITIAL, got %s", conv.State)
	}
}

func TestEscapeKeywordResetsFromAnyState(t *testing.T) {
	for _, keyword := range []string{"cancel", "STOP", "start over", "forget it"} {
		f := newFixture(t)
		f.forceState(t, models.StateAwaitingGST)
		_ = f.cart.AddItem(context.Background(), "t1", "911234567890", models.CartItem{ProductCode: "10X140", Quantity: 5, Unit: "cartons"})

		res := f.handle(t, keyword)
		if res.ResultTag != TagReset {
			t.Errorf("%q: expected reset tag, got %s", keyword, res.ResultTag)
		}
		if conv := f.conversation(t); conv.State != models.StateInitial {
			t.Errorf("%q: expected INITIAL, got %s", keyword, conv.State)
		}
		if active, _ := f.cart.IsCartActive(context.Background(), "t1", "911234567890"); active {
			t.Errorf("%q: expected cart cleared on reset", keyword)
		}
	}
}

func TestProductInfoQuotesProduct(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, "8x80 hain aapke paas?")
	if res.ResultTag != string(models.IntentProductInfo) {
		t.Errorf("expected product_info, got %s", res.ResultTag)
	}
	if !strings.Contains(f.sender.last(), "8X80") {
		t.Errorf("expected quote for 8X80, got %q", f.sender.last())
	}
	if conv := f.conversation(t); len(conv.LastQuotedProducts) != 1 || conv.LastQuotedProducts[0] != "8X80" {
		t.Errorf("expected last quoted [8X80], got %v", conv.LastQuotedProducts)
	}
}

func TestPlaceOrderAddsToCart(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, "10x140 5 cartons")
	if res.ResultTag != string(models.IntentPlaceOrder) {
		t.Errorf("expected place_order, got %s", res.ResultTag)
	}

	items, _ := f.cart.View(context.Background(), "t1", "911234567890")
	if len(items) != 1 || items[0].ProductCode != "10X140" || items[0].Quantity != 5 {
		t.Errorf("unexpected cart %v", items)
	}
	if conv := f.conversation(t); conv.State != models.StateCartActive {
		t.Errorf("expected CART_ACTIVE, got %s", conv.State)
	}
}

func TestClearCartCommand(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "10x140 5 cartons")

	res := f.handle(t, "clear cart")
	if res.ResultTag != TagCartCleared {
		t.Errorf("expected cart_cleared, got %s", res.ResultTag)
	}
	if active, _ := f.cart.IsCartActive(context.Background(), "t1", "911234567890"); active {
		t.Error("expected empty cart")
	}
}

func TestViewCartCommand(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "10x140 5 cartons")

	res := f.handle(t, "view cart")
	if res.ResultTag != TagCartViewed {
		t.Errorf("expected cart_viewed, got %s", res.ResultTag)
	}
	if !strings.Contains(f.sender.last(), "10X140") {
		t.Errorf("expected cart contents in reply, got %q", f.sender.last())
	}
}

func TestCheckoutFlowEndToEnd(t *testing.T) {
	f := newFixture(t)

	f.handle(t, "10x140 5 cartons")

	res := f.handle(t, "checkout")
	if res.ResultTag != TagCheckout {
		t.Fatalf("expected checkout_started, got %s", res.ResultTag)
	}
	if conv := f.conversation(t); conv.State != models.StateAwaitingGST {
		t.Fatalf("expected AWAITING_GST, got %s", conv.State)
	}

	// Valid GSTIN moves to shipping collection.
	res = f.handle(t, "27ABCDE1234F1Z5")
	if res.ResultTag != TagGSTSlot {
		t.Fatalf("expected gst_slot, got %s", res.ResultTag)
	}
	if conv := f.conversation(t); conv.State != models.StateAwaitingShipping {
		t.Fatalf("expected AWAITING_SHIPPING, got %s", conv.State)
	}

	// Delivery requires an address.
	res = f.handle(t, "please deliver")
	if res.ResultTag != TagShippingSlot {
		t.Fatalf("expected shipping_slot, got %s", res.ResultTag)
	}
	if conv := f.conversation(t); conv.State != models.StateAwaitingAddress {
		t.Fatalf("expected AWAITING_ADDRESS, got %s", conv.State)
	}

	// Too-short address keeps the slot open.
	f.handle(t, "pune")
	if conv := f.conversation(t); conv.State != models.StateAwaitingAddress {
		t.Fatalf("expected slot to stay open, got %s", conv.State)
	}

	res = f.handle(t, "Plot 14, MIDC Industrial Area, Pune 411019")
	if res.ResultTag != TagAddressSlot {
		t.Fatalf("expected address_slot, got %s", res.ResultTag)
	}
	if conv := f.conversation(t); conv.State != models.StateCheckoutReady {
		t.Fatalf("expected CHECKOUT_READY, got %s", conv.State)
	}

	res = f.handle(t, "confirm")
	if res.ResultTag != TagOrderPlaced {
		t.Fatalf("expected order_placed, got %s", res.ResultTag)
	}
	conv := f.conversation(t)
	if conv.State != models.StateOrderPlaced {
		t.Errorf("expected ORDER_PLACED, got %s", conv.State)
	}
	if conv.ContextData[ctxKeyLastOrderRef] == "" {
		t.Error("expected order reference recorded")
	}
	if !strings.Contains(f.sender.last(), "ORD-t1-") {
		t.Errorf("expected order reference in reply, got %q", f.sender.last())
	}
}

func TestNoGSTSkipsToCheckoutReady(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "10x140 5 cartons")
	f.handle(t, "checkout")

	res := f.handle(t, "no gst")
	if res.ResultTag != TagGSTSlot {
		t.Fatalf("expected gst_slot, got %s", res.ResultTag)
	}
	conv := f.conversation(t)
	if conv.State != models.StateCheckoutReady {
		t.Errorf("expected CHECKOUT_READY, got %s", conv.State)
	}
	if conv.ContextData[ctxKeyGSTPreference] != "unregistered" {
		t.Errorf("expected gst preference recorded, got %v", conv.ContextData)
	}
}

func TestInvalidGSTINTriggersRecovery(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "10x140 5 cartons")
	f.handle(t, "checkout")

	res, err := f.orch.HandleInboundMessage(context.Background(), "t1", "911234567890", "", "not a gstin at all")
	if err == nil {
		t.Fatal("expected validation error surfaced for observability")
	}
	if res.ResultTag != TagRecovered {
		t.Errorf("expected recovered tag, got %s", res.ResultTag)
	}
	// The recovery reply mentions the corrective action.
	if !strings.Contains(strings.ToLower(f.sender.last()), "gst") {
		t.Errorf("expected GST guidance in recovery reply, got %q", f.sender.last())
	}
	// The slot stays open.
	if conv := f.conversation(t); conv.State != models.StateAwaitingGST {
		t.Errorf("expected AWAITING_GST preserved, got %s", conv.State)
	}
}

func TestModalStateBlocksOtherRouting(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "10x140 5 cartons")
	f.handle(t, "checkout")

	// A message that would normally be a catalog request is parsed strictly
	// as a (failed) answer to the GST slot.
	_, err := f.orch.HandleInboundMessage(context.Background(), "t1", "911234567890", "", "send catalog")
	if err == nil {
		t.Fatal("expected the message to be rejected as a GST answer")
	}
	if conv := f.conversation(t); conv.State != models.StateAwaitingGST {
		t.Errorf("expected modal state preserved, got %s", conv.State)
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, "something please")
	if res.ResultTag != TagClarification {
		t.Fatalf("expected clarification_asked, got %s", res.ResultTag)
	}
	conv := f.conversation(t)
	pending, ok := clarify.Decode(conv.ContextData[clarify.ContextKeyPending])
	if !ok || len(pending.Suggestions) < 2 {
		t.Fatalf("expected pending clarification with suggestions, got %+v", pending)
	}
	if !strings.Contains(f.sender.last(), pending.Suggestions[0]) {
		t.Errorf("expected suggestions listed in question, got %q", f.sender.last())
	}

	// "2" selects the second suggestion; the pending record is consumed.
	res = f.handle(t, "2")
	if !res.Handled {
		t.Fatal("expected follow-up to be handled")
	}
	conv = f.conversation(t)
	if _, ok := clarify.Decode(conv.ContextData[clarify.ContextKeyPending]); ok {
		t.Error("expected pending clarification cleared after resolution")
	}
}

func TestClarificationMissingQuantity(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, "order 10x140")
	if res.ResultTag != TagClarification {
		t.Fatalf("expected clarification for missing quantity, got %s", res.ResultTag)
	}

	res = f.handle(t, "5 cartons")
	if res.ResultTag != string(models.IntentPlaceOrder) {
		t.Fatalf("expected resolved order, got %s", res.ResultTag)
	}
	items, _ := f.cart.View(context.Background(), "t1", "911234567890")
	if len(items) != 1 || items[0].Quantity != 5 {
		t.Errorf("expected 5 of 10X140 in cart, got %v", items)
	}
}

func TestAIFailureStillReturnsResult(t *testing.T) {
	f := newFixture(t)
	// Swap in a classifier and clarifier whose provider always fails.
	f.orch.classifier = classify.NewClassifier(failingGenAI{})
	f.orch.clarifier = clarify.NewEngine(failingGenAI{})
	f.orch.genai = failingGenAI{}

	res := f.handle(t, "something please")
	if !res.Handled {
		t.Error("expected a handled result despite AI failures")
	}
	if len(f.sender.sent) == 0 {
		t.Error("expected a reply despite AI failures")
	}
}

func TestDuplicateMessageIDNotReprocessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.HandleInboundMessage(ctx, "t1", "911234567890", "SM1", "10x140 5 cartons")
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if res.ResultTag != string(models.IntentPlaceOrder) {
		t.Fatalf("unexpected first result %+v", res)
	}
	sends := len(f.sender.sent)

	res, err = f.orch.HandleInboundMessage(ctx, "t1", "911234567890", "SM1", "10x140 5 cartons")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if res.ResultTag != TagDuplicate {
		t.Errorf("expected duplicate tag, got %s", res.ResultTag)
	}
	if len(f.sender.sent) != sends {
		t.Error("expected no reply for replayed message")
	}
	items, _ := f.cart.View(ctx, "t1", "911234567890")
	if len(items) != 1 || items[0].Quantity != 5 {
		t.Errorf("expected cart unchanged by replay, got %v", items)
	}
}

func TestOrderConfirmationUsesLastQuoted(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "8x80 available?")

	res := f.handle(t, "yes 5 cartons")
	if res.ResultTag != string(models.IntentOrderConfirmation) && res.ResultTag != string(models.IntentPlaceOrder) {
		t.Fatalf("unexpected result %+v", res)
	}
	items, _ := f.cart.View(context.Background(), "t1", "911234567890")
	if len(items) != 1 || items[0].ProductCode != "8X80" {
		t.Errorf("expected 8X80 in cart, got %v", items)
	}
}

func TestOrderConfirmationRecoversQuoteFromBotMessage(t *testing.T) {
	f := newFixture(t)

	// Simulate a quote whose lastQuotedProducts persistence was lost: only
	// the bot message survives.
	conv, _ := f.store.UpsertConversation("t1", "911234567890")
	_ = f.store.SaveMessage(models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderBot,
		Body:           "10X140 is available at ₹12.50 per piece. Reply yes to order.",
	})

	res := f.handle(t, "yes")
	if res.ResultTag != string(models.IntentOrderConfirmation) {
		t.Fatalf("expected order_confirmation, got %s", res.ResultTag)
	}
	items, _ := f.cart.View(context.Background(), "t1", "911234567890")
	if len(items) != 1 || items[0].ProductCode != "10X140" {
		t.Errorf("expected recovered cart addition, got %v", items)
	}
}

func TestAddressUpdateRequestOpensSlot(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "hi")

	res := f.handle(t, "I want to change my delivery address")
	if res.ResultTag != string(models.IntentAddressUpdate) {
		t.Fatalf("expected address_update, got %s", res.ResultTag)
	}
	conv := f.conversation(t)
	if conv.State != models.StateAwaitingAddress {
		t.Fatalf("expected AWAITING_ADDRESS slot opened, got %s", conv.State)
	}
	// The request phrase itself must not be stored as the address.
	if got := conv.ContextData[ctxKeyShippingAddress]; got != "" {
		t.Fatalf("expected no address stored yet, got %q", got)
	}

	res = f.handle(t, "Plot 14, MIDC Industrial Area, Pune 411019")
	if res.ResultTag != TagAddressSlot {
		t.Fatalf("expected address_slot, got %s", res.ResultTag)
	}
	conv = f.conversation(t)
	if conv.ContextData[ctxKeyShippingAddress] != "Plot 14, MIDC Industrial Area, Pune 411019" {
		t.Errorf("expected address stored, got %q", conv.ContextData[ctxKeyShippingAddress])
	}
	// The detour returns to the interrupted state, not to checkout.
	if conv.State == models.StateCheckoutReady {
		t.Errorf("expected return to pre-detour state, got %s", conv.State)
	}
	if _, ok := conv.ContextData[ctxKeyAddressReturn]; ok {
		t.Error("expected return-state marker cleared")
	}
}

func TestAddressUpdateWithInlineAddress(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, "deliver to 12 MG Road, Pune 411001")
	if res.ResultTag != string(models.IntentAddressUpdate) {
		t.Fatalf("expected address_update, got %s", res.ResultTag)
	}
	conv := f.conversation(t)
	if conv.ContextData[ctxKeyShippingAddress] != "deliver to 12 MG Road, Pune 411001" {
		t.Errorf("expected inline address stored, got %q", conv.ContextData[ctxKeyShippingAddress])
	}
	if conv.State == models.StateAwaitingAddress {
		t.Error("expected no slot opened when the address is already present")
	}
}

func TestClarificationReplyLoggedVerbatim(t *testing.T) {
	f := newFixture(t)

	f.handle(t, "something please")
	f.handle(t, "2")

	conv := f.conversation(t)
	msgs, err := f.store.GetRecentMessages(conv.ID, 50)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	var lastCustomer string
	for _, msg := range msgs {
		if msg.Sender == models.SenderCustomer {
			lastCustomer = msg.Body
		}
	}
	// The log keeps what the customer actually typed; the merged routing text
	// is never persisted.
	if lastCustomer != "2" {
		t.Errorf("expected raw reply %q in the log, got %q", "2", lastCustomer)
	}
	for _, msg := range msgs {
		if msg.Sender == models.SenderCustomer && msg.Body != "2" && msg.Body != "something please" {
			t.Errorf("unexpected customer message body %q", msg.Body)
		}
	}
}

func TestChannelLink(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, "link this counter AB1234")
	if res.ResultTag != TagChannelLinked {
		t.Fatalf("expected channel_linked, got %s", res.ResultTag)
	}
	if conv := f.conversation(t); conv.ContextData[ctxKeyLinkedChannel] != "AB1234" {
		t.Errorf("expected linked channel recorded, got %v", conv.ContextData)
	}
}

func TestAccountSetupIntercept(t *testing.T) {
	f := newFixture(t)
	f.forceState(t, models.StateCartActive)

	res := f.handle(t, "I want to register my business account")
	if res.ResultTag != TagAccountSetup {
		t.Errorf("expected account_setup independent of state, got %s", res.ResultTag)
	}
}

func TestResponseCacheBoundsRepeatCost(t *testing.T) {
	cache := newResponseCache(defaultCacheTTL)
	key := cacheKey("t1", "  What ARE   your timings? ")
	if key != "t1|what are your timings?" {
		t.Errorf("unexpected cache key %q", key)
	}

	if _, ok := cache.get(key); ok {
		t.Error("expected miss on empty cache")
	}
	cache.put(key, "We're open 9 to 6.")
	if got, ok := cache.get(key); !ok || got != "We're open 9 to 6." {
		t.Errorf("expected cached reply, got %q (ok=%t)", got, ok)
	}
}

func TestConcurrentMessagesSerializedPerConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = f.orch.HandleInboundMessage(ctx, "t1", "911234567890", "", "10x140 1 cartons")
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	items, _ := f.cart.View(ctx, "t1", "911234567890")
	if len(items) != 1 || items[0].Quantity != 8 {
		t.Errorf("expected 8 merged additions, got %v", items)
	}
}
