package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/TextCartHQ/TextCart/internal/recovery"
)

const minAddressLength = 10

var (
	// gstinRe validates the 15-character Indian GST identifier format.
	gstinRe = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][0-9A-Z]Z[0-9A-Z]$`)

	noGSTRe  = regexp.MustCompile(`(?i)^(no\s*gst|without\s*gst|skip|no|nahi)$`)
	pickupRe = regexp.MustCompile(`(?i)\b(pick\s?up|self|collect|counter)\b`)
)

// handleModalSlot parses the message strictly as an answer to the open
// slot-filling sub-flow. All other routing is suspended while a modal state
// is active; only the escape interrupt bypasses it.
func (o *Orchestrator) handleModalSlot(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	o.saveCustomerMessage(ctx, conv, text, nil)

	switch conv.State {
	case models.StateAwaitingGST:
		return o.fillGSTSlot(ctx, conv, text)
	case models.StateAwaitingShipping:
		return o.fillShippingSlot(ctx, conv, text)
	case models.StateAwaitingAddress:
		return o.fillAddressSlot(ctx, conv, text)
	default:
		return Result{}, fmt.Errorf("state %s is not modal", conv.State)
	}
}

// fillGSTSlot resolves the GST collection step: a valid GSTIN moves to
// shipping collection, an explicit opt-out moves straight to checkout.
func (o *Orchestrator) fillGSTSlot(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	if noGSTRe.MatchString(strings.TrimSpace(text)) {
		if err := o.setContextValue(ctx, conv, ctxKeyGSTPreference, "unregistered"); err != nil {
			return Result{}, err
		}
		if err := o.transition(ctx, conv, models.StateCheckoutReady); err != nil {
			return Result{}, err
		}
		if err := o.reply(ctx, conv, "No problem, we'll proceed without GST. Reply 'confirm' to place your order."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: TagGSTSlot}, nil
	}

	gstin := strings.ToUpper(strings.Join(strings.Fields(text), ""))
	if !gstinRe.MatchString(gstin) {
		return Result{}, &recovery.ValidationError{Field: "gstin", Reason: fmt.Sprintf("%q is not a valid 15-character GSTIN", text)}
	}

	if err := o.setContextValue(ctx, conv, ctxKeyGSTIN, gstin); err != nil {
		return Result{}, err
	}
	if err := o.transition(ctx, conv, models.StateAwaitingShipping); err != nil {
		return Result{}, err
	}
	if err := o.reply(ctx, conv, "GSTIN noted. Should we arrange delivery, or will you pick up from the counter?"); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagGSTSlot}, nil
}

// fillShippingSlot resolves the shipping preference: pickup skips address
// collection, anything else is treated as a delivery request.
func (o *Orchestrator) fillShippingSlot(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	if pickupRe.MatchString(text) {
		if err := o.setContextValue(ctx, conv, ctxKeyShippingMethod, "pickup"); err != nil {
			return Result{}, err
		}
		if err := o.transition(ctx, conv, models.StateCheckoutReady); err != nil {
			return Result{}, err
		}
		if err := o.reply(ctx, conv, "Pickup it is. Reply 'confirm' to place your order."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: TagShippingSlot}, nil
	}

	if err := o.setContextValue(ctx, conv, ctxKeyShippingMethod, "delivery"); err != nil {
		return Result{}, err
	}
	if err := o.transition(ctx, conv, models.StateAwaitingAddress); err != nil {
		return Result{}, err
	}
	if err := o.reply(ctx, conv, "We'll arrange delivery. Please send the full delivery address."); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagShippingSlot}, nil
}

// looksLikeAddress reports whether the text plausibly contains a full address
// rather than a request to change it. Real addresses carry a house or pin
// number.
func looksLikeAddress(text string) bool {
	trimmed := strings.TrimSpace(text)
	return len(trimmed) >= minAddressLength && strings.ContainsAny(trimmed, "0123456789")
}

// fillAddressSlot records the delivery address. Too-short answers get a
// corrective prompt and the slot stays open. A slot opened by an address
// update outside checkout returns to the state it interrupted; during
// checkout the conversation advances to confirmation.
func (o *Orchestrator) fillAddressSlot(ctx context.Context, conv *models.Conversation, text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minAddressLength {
		slog.Debug("Orchestrator address too short, re-prompting", "conversationID", conv.ID, "length", len(trimmed))
		if err := o.reply(ctx, conv, "That address looks incomplete. Please send the full delivery address with area and pincode."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: TagAddressSlot}, nil
	}

	if err := o.setContextValue(ctx, conv, ctxKeyShippingAddress, trimmed); err != nil {
		return Result{}, err
	}

	if returnState, ok := conv.ContextData[ctxKeyAddressReturn]; ok {
		if err := o.clearContextValue(ctx, conv, ctxKeyAddressReturn); err != nil {
			slog.Warn("Orchestrator failed to clear address return state", "error", err, "conversationID", conv.ID)
		}
		target := models.ConversationState(returnState)
		if !models.IsValidConversationState(target) {
			target = models.StateBrowsing
		}
		if err := o.states.SetState(ctx, conv.TenantID, conv.CustomerIdentifier, target, true); err != nil {
			return Result{}, err
		}
		conv.State = target
		if err := o.reply(ctx, conv, "Got it, I've updated your delivery address."); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: TagAddressSlot}, nil
	}

	if err := o.transition(ctx, conv, models.StateCheckoutReady); err != nil {
		return Result{}, err
	}
	if err := o.reply(ctx, conv, "Address saved. Reply 'confirm' to place your order."); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagAddressSlot}, nil
}
