package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/TextCartHQ/TextCart/internal/store"
)

// CartStateProvider is an optional collaborator reporting whether a customer
// currently has an active cart. Memory must degrade gracefully when it is
// absent or failing.
type CartStateProvider interface {
	IsCartActive(ctx context.Context, tenantID, identifier string) (bool, error)
}

// NullCartState is the default provider used when no cart collaborator is
// configured. It always reports an inactive cart.
type NullCartState struct{}

func (NullCartState) IsCartActive(ctx context.Context, tenantID, identifier string) (bool, error) {
	return false, nil
}

// Store derives bounded memory snapshots from the persisted message log and
// appends new messages to it.
type Store struct {
	store      store.Store
	cartState  CartStateProvider
	windowSize int
}

// NewStore creates a memory Store. A nil cartState falls back to the null
// provider, resolved once here rather than re-checked per call.
func NewStore(st store.Store, cartState CartStateProvider) *Store {
	if cartState == nil {
		cartState = NullCartState{}
	}
	return &Store{store: st, cartState: cartState, windowSize: models.MemoryWindowSize}
}

// NewStoreWithWindow creates a memory Store with a custom snapshot window.
// Non-positive sizes fall back to the default window.
func NewStoreWithWindow(st store.Store, cartState CartStateProvider, windowSize int) *Store {
	s := NewStore(st, cartState)
	if windowSize > 0 {
		s.windowSize = windowSize
	}
	return s
}

// GetMemory builds a bounded snapshot of recent conversational context for a
// (tenant, identifier) pair. A conversation with no stored row yields an
// empty snapshot, never an error.
func (s *Store) GetMemory(ctx context.Context, tenantID, identifier string) (*models.MemorySnapshot, error) {
	conv, err := s.store.GetConversation(tenantID, identifier)
	if err != nil {
		slog.Error("MemoryStore GetMemory conversation lookup failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	snapshot := &models.MemorySnapshot{}
	if conv == nil {
		return snapshot, nil
	}
	snapshot.ConversationID = conv.ID

	messages, err := s.store.GetRecentMessages(conv.ID, s.windowSize)
	if err != nil {
		slog.Error("MemoryStore GetMemory message fetch failed", "error", err, "conversationID", conv.ID)
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	for i := range messages {
		messages[i].Sender = NormalizeSender(string(messages[i].Sender))
	}
	snapshot.Messages = messages

	for _, msg := range messages {
		entities := ExtractEntities(msg.Body)
		for _, code := range entities.ProductCodes {
			snapshot.Products = appendUnique(snapshot.Products, code)
		}
		snapshot.Quantities = append(snapshot.Quantities, entities.Quantities...)
		for _, price := range entities.Prices {
			snapshot.Prices = append(snapshot.Prices, price.Amount)
		}
		if msg.Sender == models.SenderCustomer && msg.Intent != "" {
			snapshot.LastIntent = msg.Intent
		}
	}

	// Cart state is advisory; a failing collaborator must not break memory.
	active, err := s.cartState.IsCartActive(ctx, tenantID, identifier)
	if err != nil {
		slog.Warn("MemoryStore GetMemory cart state unavailable, defaulting to inactive", "error", err, "tenantID", tenantID)
		active = false
	}
	snapshot.CartActive = active
	snapshot.HasQuote = len(snapshot.Products) > 0 && len(snapshot.Prices) > 0

	slog.Debug("MemoryStore GetMemory succeeded", "conversationID", conv.ID,
		"messages", len(snapshot.Messages), "products", len(snapshot.Products), "cartActive", snapshot.CartActive)
	return snapshot, nil
}

// SaveMessage appends a message to the conversation log. Persistence failure
// is logged and swallowed: a memory write must never block a user-visible
// reply.
func (s *Store) SaveMessage(ctx context.Context, msg models.Message) {
	if err := s.store.SaveMessage(msg); err != nil {
		slog.Error("MemoryStore SaveMessage failed, continuing", "error", err, "conversationID", msg.ConversationID)
	}
}

// PruneOldMessages caps stored history for a conversation to roughly the
// configured maximum of most-recent rows.
func (s *Store) PruneOldMessages(ctx context.Context, conversationID string) error {
	count, err := s.store.CountMessages(conversationID)
	if err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}
	if count <= models.MessageHistoryCap {
		return nil
	}
	if err := s.store.PruneMessages(conversationID, models.MessageHistoryCap); err != nil {
		return fmt.Errorf("failed to prune messages: %w", err)
	}
	slog.Info("MemoryStore pruned old messages", "conversationID", conversationID, "hadRows", count)
	return nil
}

// FormatForAI renders the snapshot as a compact textual context block for
// Tier-2 classification prompts: last intent, cart flag, recently discussed
// products, and the last three turns.
func FormatForAI(snapshot *models.MemorySnapshot) string {
	if snapshot == nil {
		return "No prior context."
	}
	var b strings.Builder
	if snapshot.LastIntent != "" {
		fmt.Fprintf(&b, "Last intent: %s\n", snapshot.LastIntent)
	}
	fmt.Fprintf(&b, "Cart active: %t\n", snapshot.CartActive)
	if len(snapshot.Products) > 0 {
		fmt.Fprintf(&b, "Discussed products: %s\n", strings.Join(snapshot.Products, ", "))
	}

	turns := snapshot.Messages
	if len(turns) > 3 {
		turns = turns[len(turns)-3:]
	}
	for _, msg := range turns {
		fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Body)
	}
	if b.Len() == 0 {
		return "No prior context."
	}
	return strings.TrimRight(b.String(), "\n")
}
