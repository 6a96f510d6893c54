package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Sender is the minimal message-delivery surface recovery needs.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// categoryReplies are the templated, context-aware recovery replies per
// failure category. Each is short, apologetic, and action-oriented.
var categoryReplies = map[Category]string{
	CategoryTaxVerification: "We couldn't verify that GST number just now. Please re-check the 15-character GSTIN and send it again, or reply 'no gst' to continue without one.",
	CategoryCatalog:         "We're having trouble looking up that product right now. Please try again in a moment, or send the exact product code from your catalog.",
	CategoryCheckout:        "We couldn't complete your checkout just now. Your cart is safe — reply 'checkout' in a minute to try again.",
	CategoryCart:            "We couldn't update your cart just now. Reply 'view cart' to see its current contents and try again.",
	CategoryNetwork:         "We're having a temporary connection issue. Please resend your last message in a moment.",
}

// apologyPool rotates generic last-resort replies so repeated failures do not
// sound robotic.
var apologyPool = []string{
	"Sorry, something went wrong on our side. Please try that again.",
	"Apologies — we hit a snag processing that. Could you send it once more?",
	"That didn't go through. Please try again in a moment.",
	"Sorry about that! We couldn't process your message. Please resend it.",
}

// Recoverer sends categorized recovery replies for workflow failures.
type Recoverer struct {
	sender Sender

	mu           sync.Mutex
	apologyIndex int
}

// NewRecoverer creates a Recoverer that replies through the given sender.
func NewRecoverer(sender Sender) *Recoverer {
	return &Recoverer{sender: sender}
}

// nextApology returns the next apology from the rotating pool.
func (r *Recoverer) nextApology() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := apologyPool[r.apologyIndex%len(apologyPool)]
	r.apologyIndex++
	return msg
}

// Recover sends a templated recovery reply for the failure and returns the
// original error for upstream logging and alerting. If the templated reply
// cannot be sent, a rotating generic apology is attempted; the conversation
// is never left without a reply attempt.
func (r *Recoverer) Recover(ctx context.Context, recipient string, err error) error {
	category := Categorize(err)
	slog.Warn("Recoverer handling workflow failure", "category", category, "recipient", recipient, "error", err)

	reply, ok := categoryReplies[category]
	if !ok {
		reply = r.nextApology()
	}

	if sendErr := r.sender.SendMessage(ctx, recipient, reply); sendErr != nil {
		slog.Error("Recoverer templated reply failed, sending generic apology", "error", sendErr, "recipient", recipient)
		apology := r.nextApology()
		if apologyErr := r.sender.SendMessage(ctx, recipient, apology); apologyErr != nil {
			slog.Error("Recoverer apology send failed", "error", apologyErr, "recipient", recipient)
			return fmt.Errorf("recovery reply failed after %v: %w", apologyErr, err)
		}
	}

	// Re-raise the underlying error for upstream observability.
	return err
}
