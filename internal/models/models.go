// Package models defines the core data structures for TextCart.
//
// It includes conversation, message, and classification types shared across modules.
package models

import (
	"errors"
	"time"
)

// Sender identifies who authored a message in a conversation.
type Sender string

const (
	// SenderCustomer marks messages authored by the customer.
	SenderCustomer Sender = "customer"
	// SenderBot marks messages authored by the bot.
	SenderBot Sender = "bot"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for a message body
	MaxMessageBodyLength = 4096
	// MemoryWindowSize is the number of recent messages in a memory snapshot
	MemoryWindowSize = 5
	// MessageHistoryCap is the approximate per-conversation cap on stored messages
	MessageHistoryCap = 2000
)

// Error variables for better error handling and testability
var (
	ErrEmptyTenant     = errors.New("tenant cannot be empty")
	ErrEmptyIdentifier = errors.New("customer identifier cannot be empty")
	ErrEmptyBody       = errors.New("message body cannot be empty")
	ErrBodyTooLong     = errors.New("message body exceeds maximum length")
)

// Conversation represents a single customer conversation within a tenant.
// It is owned exclusively by the state store and mutated only through its
// typed operations.
type Conversation struct {
	ID                 string            `json:"id"`
	TenantID           string            `json:"tenant_id"`
	CustomerIdentifier string            `json:"customer_identifier"`
	State              ConversationState `json:"state"`
	ContextData        map[string]string `json:"context_data,omitempty"`
	LastQuotedProducts []string          `json:"last_quoted_products,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Message represents a single message in the append-only conversation log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Body           string    `json:"body"`
	Intent         Intent    `json:"intent,omitempty"`
	Entities       *Entities `json:"entities,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate performs validation on a Message before persistence.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return ErrEmptyIdentifier
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	if len(m.Body) > MaxMessageBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// Quantity is a numeric amount with a canonical unit name.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// PriceMention is a price extracted from message text.
type PriceMention struct {
	Amount  float64 `json:"amount"`
	PerUnit string  `json:"per_unit,omitempty"`
}

// Entities holds structured values extracted from message text.
type Entities struct {
	ProductCodes []string       `json:"product_codes,omitempty"`
	Quantities   []Quantity     `json:"quantities,omitempty"`
	Prices       []PriceMention `json:"prices,omitempty"`
	Flags        []string       `json:"flags,omitempty"`
}

// IsEmpty reports whether no entities were extracted.
func (e *Entities) IsEmpty() bool {
	return e == nil || (len(e.ProductCodes) == 0 && len(e.Quantities) == 0 && len(e.Prices) == 0 && len(e.Flags) == 0)
}

// ClassificationMethod tags which tier produced a classification result.
type ClassificationMethod string

const (
	// MethodRule marks results produced by the deterministic Tier-1 rules.
	MethodRule ClassificationMethod = "rule"
	// MethodAI marks results produced by the AI-assisted Tier-2 pass.
	MethodAI ClassificationMethod = "ai"
)

// ClassificationResult is the outcome of classifying one inbound message.
type ClassificationResult struct {
	Intent     Intent               `json:"intent"`
	Confidence float64              `json:"confidence"`
	Entities   Entities             `json:"entities"`
	Method     ClassificationMethod `json:"method"`
	Reasoning  string               `json:"reasoning,omitempty"` // advisory only
}

// MemorySnapshot is the derived, bounded view of recent conversational
// context. It is recomputed on demand and never the source of truth for
// money-moving decisions.
type MemorySnapshot struct {
	ConversationID string     `json:"conversation_id"`
	Messages       []Message  `json:"messages"`
	LastIntent     Intent     `json:"last_intent,omitempty"`
	Products       []string   `json:"products,omitempty"`
	Quantities     []Quantity `json:"quantities,omitempty"`
	Prices         []float64  `json:"prices,omitempty"`
	CartActive     bool       `json:"cart_active"`
	HasQuote       bool       `json:"has_quote"`
}

// PendingClarification is a one-shot disambiguation round-trip attached to a
// conversation's context data. At most one may be open per conversation.
type PendingClarification struct {
	OriginalInput string    `json:"original_input"`
	Question      string    `json:"question"`
	Suggestions   []string  `json:"suggestions"`
	CreatedAt     time.Time `json:"created_at"`
}

// Product is a catalog entry as seen by the conversation core.
type Product struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Unit  string  `json:"unit"`
}

// CartItem is a single line in a customer's cart.
type CartItem struct {
	ProductCode string  `json:"product_code"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
}
