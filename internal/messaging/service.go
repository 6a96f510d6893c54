// Package messaging provides the pluggable message delivery abstraction and
// the inbound dispatch loop feeding the orchestrator.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// Constants for channel management
const (
	// DefaultChannelBufferSize is the buffer size for inbound message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout is how long to wait before dropping a channel send
	DefaultChannelTimeout = 5 * time.Second
)

// ErrServiceStopped is returned when operations are attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything except digits during canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// InboundMessage is a transport-normalized inbound customer message.
type InboundMessage struct {
	TenantID  string `json:"tenant_id"`
	From      string `json:"from"`
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
}

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and provides a channel of inbound messages.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of incoming customer messages.
	Inbound() <-chan InboundMessage
}

// canonicalizePhoneNumber strips everything except digits and requires at
// least 6 of them. All Service implementations share these rules so recipient
// identity is stable across transports.
func canonicalizePhoneNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("Messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
