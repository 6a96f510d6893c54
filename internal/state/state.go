// Package state implements conversation state management under a fixed
// transition table.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/TextCartHQ/TextCart/internal/store"
)

// transitionTable defines, per current state, the finite set of allowed next
// states. Transitions absent from the table are rejected unless forced.
var transitionTable = map[models.ConversationState][]models.ConversationState{
	models.StateInitial: {
		models.StateBrowsing, models.StateCartActive, models.StateMultiProductDiscussion,
	},
	models.StateBrowsing: {
		models.StateCartActive, models.StateMultiProductDiscussion, models.StateInitial,
	},
	models.StateCartActive: {
		models.StateMultiProductDiscussion, models.StateAwaitingGST, models.StateAwaitingShipping,
		models.StateAwaitingAddress, models.StateCheckoutReady, models.StateBrowsing, models.StateInitial,
	},
	models.StateMultiProductDiscussion: {
		models.StateCartActive, models.StateAwaitingGST, models.StateBrowsing, models.StateInitial,
	},
	models.StateAwaitingGST: {
		models.StateAwaitingShipping, models.StateCheckoutReady, models.StateCartActive, models.StateInitial,
	},
	models.StateAwaitingShipping: {
		models.StateAwaitingAddress, models.StateCheckoutReady, models.StateCartActive, models.StateInitial,
	},
	models.StateAwaitingAddress: {
		models.StateCheckoutReady, models.StateCartActive, models.StateInitial,
	},
	models.StateCheckoutReady: {
		models.StateOrderPlaced, models.StateCartActive, models.StateAwaitingAddress, models.StateInitial,
	},
	models.StateOrderPlaced: {
		models.StateInitial, models.StateBrowsing,
	},
}

// escapeKeywords force an unconditional reset when they match the whole
// message, bypassing classification entirely.
var escapeKeywords = map[string]bool{
	"cancel":     true,
	"stop":       true,
	"reset":      true,
	"start over": true,
	"clear":      true,
	"forget it":  true,
}

// IsEscapeKeyword reports whether the raw message is an escape keyword
// (case-insensitive, whole-message match).
func IsEscapeKeyword(text string) bool {
	return escapeKeywords[strings.ToLower(strings.TrimSpace(text))]
}

// IsTransitionAllowed reports whether the transition table permits moving
// from one state to another. Staying in the current state is always allowed.
func IsTransitionAllowed(from, to models.ConversationState) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a transition attempt absent from the table.
// The persisted state is left unchanged when it is returned.
type InvalidTransitionError struct {
	From models.ConversationState
	To   models.ConversationState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// Manager owns conversation state, mutating it only through the transition
// table. It is backed by a Store.
type Manager struct {
	store store.Store
}

// NewManager creates a state Manager backed by a Store.
func NewManager(st store.Store) *Manager {
	slog.Debug("Creating state Manager")
	return &Manager{store: st}
}

// GetState returns the current state and conversation id for a
// (tenant, identifier) pair. A missing row is implicitly INITIAL with an
// empty conversation id.
func (m *Manager) GetState(ctx context.Context, tenantID, identifier string) (models.ConversationState, string, error) {
	conv, err := m.store.GetConversation(tenantID, identifier)
	if err != nil {
		slog.Error("StateManager GetState failed", "error", err, "tenantID", tenantID, "identifier", identifier)
		return "", "", err
	}
	if conv == nil {
		slog.Debug("StateManager GetState no row, implicit INITIAL", "tenantID", tenantID, "identifier", identifier)
		return models.StateInitial, "", nil
	}
	return conv.State, conv.ID, nil
}

// SetState applies a state transition. The transition is validated against
// the table unless force is set; on validation failure the persisted state is
// left unchanged and an InvalidTransitionError is returned. A missing
// conversation row is created via an atomic upsert before the transition.
func (m *Manager) SetState(ctx context.Context, tenantID, identifier string, newState models.ConversationState, force bool) error {
	if !models.IsValidConversationState(newState) {
		return fmt.Errorf("unknown conversation state %q", newState)
	}

	conv, err := m.store.UpsertConversation(tenantID, identifier)
	if err != nil {
		slog.Error("StateManager SetState upsert failed", "error", err, "tenantID", tenantID, "identifier", identifier)
		return err
	}

	if !force && !IsTransitionAllowed(conv.State, newState) {
		slog.Warn("StateManager SetState rejected by transition table",
			"tenantID", tenantID, "from", conv.State, "to", newState)
		return &InvalidTransitionError{From: conv.State, To: newState}
	}

	if err := m.store.SaveConversationState(conv.ID, newState); err != nil {
		slog.Error("StateManager SetState save failed", "error", err, "conversationID", conv.ID, "state", newState)
		return err
	}
	slog.Info("StateManager SetState succeeded", "conversationID", conv.ID, "from", conv.State, "to", newState, "forced", force)
	return nil
}

// ResetState unconditionally returns the conversation to INITIAL, clearing
// context data and quoted products. Resets are an emergency escape: the call
// is best effort and never returns an error to the caller.
func (m *Manager) ResetState(ctx context.Context, tenantID, identifier string) {
	conv, err := m.store.GetConversation(tenantID, identifier)
	if err != nil {
		slog.Error("StateManager ResetState lookup failed, ignoring", "error", err, "tenantID", tenantID, "identifier", identifier)
		return
	}
	if conv == nil {
		slog.Debug("StateManager ResetState no row, nothing to reset", "tenantID", tenantID, "identifier", identifier)
		return
	}
	if err := m.store.ResetConversation(conv.ID); err != nil {
		slog.Error("StateManager ResetState failed, ignoring", "error", err, "conversationID", conv.ID)
		return
	}
	slog.Info("StateManager ResetState succeeded", "conversationID", conv.ID)
}

// SaveContextData replaces the conversation's context data map.
func (m *Manager) SaveContextData(ctx context.Context, conversationID string, data map[string]string) error {
	return m.store.SaveContextData(conversationID, data)
}

// SaveLastQuoted replaces the conversation's last quoted product list.
func (m *Manager) SaveLastQuoted(ctx context.Context, conversationID string, products []string) error {
	return m.store.SaveLastQuoted(conversationID, products)
}
