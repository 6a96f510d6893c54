// Package models defines conversation state structures for TextCart.
package models

// ConversationState is the current position of a conversation in the
// commerce flow.
type ConversationState string

const (
	// StateInitial is the implicit state of a conversation with no stored row.
	StateInitial ConversationState = "INITIAL"
	// StateBrowsing means the customer is exploring products.
	StateBrowsing ConversationState = "BROWSING"
	// StateCartActive means the customer has items in their cart.
	StateCartActive ConversationState = "CART_ACTIVE"
	// StateMultiProductDiscussion means several products are being negotiated at once.
	StateMultiProductDiscussion ConversationState = "MULTI_PRODUCT_DISCUSSION"
	// StateAwaitingGST means the flow is waiting for a GST number or opt-out.
	StateAwaitingGST ConversationState = "AWAITING_GST"
	// StateAwaitingShipping means the flow is waiting for a shipping preference.
	StateAwaitingShipping ConversationState = "AWAITING_SHIPPING"
	// StateAwaitingAddress means the flow is waiting for a delivery address.
	StateAwaitingAddress ConversationState = "AWAITING_ADDRESS"
	// StateCheckoutReady means all checkout details are collected.
	StateCheckoutReady ConversationState = "CHECKOUT_READY"
	// StateOrderPlaced means an order has been confirmed.
	StateOrderPlaced ConversationState = "ORDER_PLACED"
)

// IsValidConversationState checks if the given state is a member of the
// closed state enumeration.
func IsValidConversationState(s ConversationState) bool {
	switch s {
	case StateInitial, StateBrowsing, StateCartActive, StateMultiProductDiscussion,
		StateAwaitingGST, StateAwaitingShipping, StateAwaitingAddress,
		StateCheckoutReady, StateOrderPlaced:
		return true
	default:
		return false
	}
}

// IsModalState reports whether the state expects a specific answer and
// suspends general-purpose routing until that answer is resolved.
func IsModalState(s ConversationState) bool {
	switch s {
	case StateAwaitingGST, StateAwaitingShipping, StateAwaitingAddress:
		return true
	default:
		return false
	}
}
