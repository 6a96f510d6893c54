// Package classify implements the two-tier hybrid intent classifier.
//
// This file holds the deterministic Tier-1 rule set. Rule order encodes
// precedence and is a correctness contract: the first matching rule wins.
package classify

import (
	"regexp"
	"strings"

	"github.com/TextCartHQ/TextCart/internal/memory"
	"github.com/TextCartHQ/TextCart/internal/models"
)

// ruleInput carries the normalized message and pre-extracted entities into
// rule predicates.
type ruleInput struct {
	raw      string
	lowered  string
	entities models.Entities
	snapshot *models.MemorySnapshot
}

// rule is a single deterministic classification rule with a fixed confidence.
type rule struct {
	name       string
	intent     models.Intent
	confidence float64
	match      func(in ruleInput) bool
}

var (
	greetingRe     = regexp.MustCompile(`(?i)^(hi+|hello|hey|namaste|namaskar|good (morning|afternoon|evening))[.!\s]*$`)
	confirmationRe = regexp.MustCompile(`(?i)^(yes|yes please|ok|okay|confirm|confirmed|done|haan|ha|thik hai|theek hai|sure|go ahead)[.!\s]*$`)
	confirmLeadRe  = regexp.MustCompile(`(?i)^(yes|yeah|yep|ok|okay|confirm|haan|ha)\b`)
	availabilityRe = regexp.MustCompile(`(?i)\b(available|availability|in stock|stock|milega|milenge|hain|hai kya|aapke paas|do you have|have you got)\b`)
	orderVerbRe    = regexp.MustCompile(`(?i)\b(order|buy|purchase|chahiye|bhej do|send me|book)\b`)
	addMoreRe      = regexp.MustCompile(`(?i)\b(also|and|add|aur|along with|as well|bhi)\b`)
	quantityEditRe = regexp.MustCompile(`(?i)\b(make it|change (the )?(qty|quantity)|instead of|update (the )?(qty|quantity)|kar do)\b`)
	addressRe      = regexp.MustCompile(`(?i)\b(address|deliver to|delivery at|ship to|shipping address|pin ?code)\b`)
	discountRe     = regexp.MustCompile(`(?i)\b(discount|best price|final price|rate kam|kam karo|kuch kam|negotiat|cheaper|less price)\b`)
	invoiceRe      = regexp.MustCompile(`(?i)\b(invoice|bill|receipt|gst bill|billing)\b`)
	catalogRe      = regexp.MustCompile(`(?i)\b(catalog|catalogue|price ?list|product list|rate list|brochure)\b`)
	accountRe      = regexp.MustCompile(`(?i)\b(create (an )?account|register (my )?(business|shop|account)|sign ?up|onboard)\b`)
	linkRe         = regexp.MustCompile(`(?i)\b(link (this|my|the) (counter|session|qr)|scan(ned)? (the )?qr|counter code)\b`)
	cartClearRe    = regexp.MustCompile(`(?i)^(clear|empty|reset) (my )?cart[.!\s]*$`)
	cartViewRe     = regexp.MustCompile(`(?i)^(show|view|see|check) (my )?cart[.!\s]*$|^cart[?.!\s]*$`)
	checkoutRe     = regexp.MustCompile(`(?i)\b(check ?out|proceed to pay|place (my|the) order|complete (my|the) order)\b`)
)

// Confidence levels assigned by Tier-1 rules.
const (
	confidenceExact    = 0.95
	confidenceStrong   = 0.9
	confidenceModerate = 0.85
	confidenceWeak     = 0.7
	confidenceFallback = 0.3
)

// tier1Rules is the ordered Tier-1 rule list. Ordering notes:
//   - add_product while a multi-item order is underway must precede the bare
//     order-verb rule, or "also add 8x80" would re-open a fresh order.
//   - availability questions must precede the product+quantity order rule, or
//     "8x80 hain aapke paas?" would be classified as a purchase.
var tier1Rules = []rule{
	{
		name:       "greeting",
		intent:     models.IntentGreeting,
		confidence: confidenceExact,
		match:      func(in ruleInput) bool { return greetingRe.MatchString(in.raw) },
	},
	{
		name:       "account_setup",
		intent:     models.IntentAccountSetup,
		confidence: confidenceStrong,
		match:      func(in ruleInput) bool { return accountRe.MatchString(in.lowered) },
	},
	{
		name:       "channel_link",
		intent:     models.IntentChannelLink,
		confidence: confidenceStrong,
		match:      func(in ruleInput) bool { return linkRe.MatchString(in.lowered) },
	},
	{
		name:       "cart_clear",
		intent:     models.IntentCartClear,
		confidence: confidenceExact,
		match:      func(in ruleInput) bool { return cartClearRe.MatchString(in.raw) },
	},
	{
		name:       "cart_view",
		intent:     models.IntentCartView,
		confidence: confidenceExact,
		match:      func(in ruleInput) bool { return cartViewRe.MatchString(in.raw) },
	},
	{
		name:       "checkout",
		intent:     models.IntentCheckout,
		confidence: confidenceStrong,
		match:      func(in ruleInput) bool { return checkoutRe.MatchString(in.lowered) },
	},
	{
		name:       "invoice_request",
		intent:     models.IntentInvoiceRequest,
		confidence: confidenceStrong,
		match:      func(in ruleInput) bool { return invoiceRe.MatchString(in.lowered) },
	},
	{
		name:       "catalog_request",
		intent:     models.IntentCatalogRequest,
		confidence: confidenceStrong,
		match:      func(in ruleInput) bool { return catalogRe.MatchString(in.lowered) },
	},
	{
		name:       "order_confirmation",
		intent:     models.IntentOrderConfirmation,
		confidence: confidenceStrong,
		match:      func(in ruleInput) bool { return confirmationRe.MatchString(in.raw) },
	},
	{
		// "yes 5 cartons" after a quote confirms the quoted product; with an
		// explicit product code it is an order, not a confirmation.
		name:       "confirmation_with_quantity",
		intent:     models.IntentOrderConfirmation,
		confidence: confidenceStrong,
		match: func(in ruleInput) bool {
			return confirmLeadRe.MatchString(in.raw) && len(in.entities.Quantities) > 0 && len(in.entities.ProductCodes) == 0
		},
	},
	{
		// Checked before the order rules so an addition to an in-flight
		// multi-item discussion is not read as a brand-new order.
		name:       "add_product_multi",
		intent:     models.IntentAddProduct,
		confidence: confidenceStrong,
		match: func(in ruleInput) bool {
			inDiscussion := in.snapshot != nil && (in.snapshot.CartActive || len(in.snapshot.Products) > 0)
			return inDiscussion && len(in.entities.ProductCodes) > 0 && addMoreRe.MatchString(in.lowered)
		},
	},
	{
		// Checked before product+quantity ordering so an availability
		// question about a product-code-like token stays a question.
		name:       "availability_question",
		intent:     models.IntentProductInfo,
		confidence: confidenceStrong,
		match: func(in ruleInput) bool {
			if len(in.entities.ProductCodes) == 0 {
				return false
			}
			return availabilityRe.MatchString(in.lowered) || strings.HasSuffix(strings.TrimSpace(in.raw), "?")
		},
	},
	{
		name:       "quantity_update",
		intent:     models.IntentQuantityUpdate,
		confidence: confidenceModerate,
		match: func(in ruleInput) bool {
			return quantityEditRe.MatchString(in.lowered) && len(in.entities.Quantities) > 0
		},
	},
	{
		name:       "address_update",
		intent:     models.IntentAddressUpdate,
		confidence: confidenceModerate,
		match:      func(in ruleInput) bool { return addressRe.MatchString(in.lowered) },
	},
	{
		name:       "discount_negotiation",
		intent:     models.IntentDiscountNegotiation,
		confidence: confidenceModerate,
		match:      func(in ruleInput) bool { return discountRe.MatchString(in.lowered) },
	},
	{
		name:       "product_quantity_order",
		intent:     models.IntentPlaceOrder,
		confidence: confidenceStrong,
		match: func(in ruleInput) bool {
			return len(in.entities.ProductCodes) > 0 && len(in.entities.Quantities) > 0
		},
	},
	{
		name:       "order_verb",
		intent:     models.IntentPlaceOrder,
		confidence: confidenceModerate,
		match: func(in ruleInput) bool {
			return orderVerbRe.MatchString(in.lowered) && len(in.entities.ProductCodes) > 0
		},
	},
	{
		name:       "bare_order_verb",
		intent:     models.IntentPlaceOrder,
		confidence: confidenceWeak,
		match:      func(in ruleInput) bool { return orderVerbRe.MatchString(in.lowered) },
	},
	{
		name:       "bare_product_code",
		intent:     models.IntentProductInfo,
		confidence: confidenceWeak,
		match:      func(in ruleInput) bool { return len(in.entities.ProductCodes) > 0 },
	},
}

// ClassifyTier1 runs the ordered deterministic rules over a message. It is
// pure synchronous work with no network dependency. When no rule matches the
// result is the low-confidence fallback intent, never empty.
func ClassifyTier1(text string, snapshot *models.MemorySnapshot) models.ClassificationResult {
	in := ruleInput{
		raw:      text,
		lowered:  strings.ToLower(text),
		entities: memory.ExtractEntities(text),
		snapshot: snapshot,
	}

	for _, r := range tier1Rules {
		if r.match(in) {
			return models.ClassificationResult{
				Intent:     r.intent,
				Confidence: r.confidence,
				Entities:   in.entities,
				Method:     models.MethodRule,
				Reasoning:  "matched rule " + r.name,
			}
		}
	}

	return models.ClassificationResult{
		Intent:     models.IntentGeneralQuery,
		Confidence: confidenceFallback,
		Entities:   in.entities,
		Method:     models.MethodRule,
		Reasoning:  "no rule matched",
	}
}
