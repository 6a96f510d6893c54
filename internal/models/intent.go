// Package models defines the closed intent enumeration for TextCart.
package models

import "strings"

// Intent is a member of the closed intent enumeration shared by both
// classifier tiers.
type Intent string

const (
	// IntentGreeting is a salutation with no commerce content.
	IntentGreeting Intent = "greeting"
	// IntentPlaceOrder is a request to order a product with a quantity.
	IntentPlaceOrder Intent = "place_order"
	// IntentProductInfo is an availability or detail question about a product.
	IntentProductInfo Intent = "product_info"
	// IntentAddProduct adds another product to an in-flight multi-item order.
	IntentAddProduct Intent = "add_product"
	// IntentQuantityUpdate changes the quantity of an already discussed product.
	IntentQuantityUpdate Intent = "quantity_update"
	// IntentAddressUpdate supplies or changes a delivery address.
	IntentAddressUpdate Intent = "address_update"
	// IntentInvoiceRequest asks for an invoice or order document.
	IntentInvoiceRequest Intent = "invoice_request"
	// IntentDiscountNegotiation is a price or discount negotiation.
	IntentDiscountNegotiation Intent = "discount_negotiation"
	// IntentCatalogRequest asks for the product catalog or a price list.
	IntentCatalogRequest Intent = "catalog_request"
	// IntentOrderConfirmation confirms a quoted order.
	IntentOrderConfirmation Intent = "order_confirmation"
	// IntentCartView asks to see the current cart.
	IntentCartView Intent = "cart_view"
	// IntentCartClear asks to empty the cart.
	IntentCartClear Intent = "cart_clear"
	// IntentCheckout asks to begin checkout.
	IntentCheckout Intent = "checkout"
	// IntentChannelLink links an external channel session (counter/QR).
	IntentChannelLink Intent = "channel_link"
	// IntentAccountSetup is a tenant or account creation request.
	IntentAccountSetup Intent = "account_setup"
	// IntentGeneralQuery is the default fallback intent for everything else.
	IntentGeneralQuery Intent = "general_query"
)

// allIntents enumerates every member of the closed intent set.
var allIntents = map[Intent]bool{
	IntentGreeting:            true,
	IntentPlaceOrder:          true,
	IntentProductInfo:         true,
	IntentAddProduct:          true,
	IntentQuantityUpdate:      true,
	IntentAddressUpdate:       true,
	IntentInvoiceRequest:      true,
	IntentDiscountNegotiation: true,
	IntentCatalogRequest:      true,
	IntentOrderConfirmation:   true,
	IntentCartView:            true,
	IntentCartClear:           true,
	IntentCheckout:            true,
	IntentChannelLink:         true,
	IntentAccountSetup:        true,
	IntentGeneralQuery:        true,
}

// IsValidIntent checks if the given intent is a member of the closed set.
func IsValidIntent(i Intent) bool {
	return allIntents[i]
}

// ParseIntent normalizes a raw intent label. Unrecognized labels always
// collapse to IntentGeneralQuery, never an empty value.
func ParseIntent(raw string) Intent {
	normalized := Intent(strings.ToLower(strings.TrimSpace(raw)))
	if IsValidIntent(normalized) {
		return normalized
	}
	return IntentGeneralQuery
}
