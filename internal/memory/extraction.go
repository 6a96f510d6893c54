// Package memory derives bounded conversational context from the message log.
//
// This file implements deterministic entity extraction over message bodies.
// Extraction is intentionally over-inclusive: memory is advisory context, not
// transactional truth.
package memory

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/TextCartHQ/TextCart/internal/models"
)

var (
	// productCodeRe matches dimension-style product codes such as "10x140",
	// "M8x80" or "10-140". Letters prefix is optional.
	productCodeRe = regexp.MustCompile(`\b([A-Za-z]{0,4}\d{1,5})[xX*/-](\d{1,5})\b`)

	// quantityRe matches a number followed by a unit word from the lexicon.
	quantityRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(cartons?|ctns?|pieces?|pcs?|units?|boxes?|lakhs?)\b`)

	// priceRe matches a currency marker followed by a decimal number and an
	// optional per-unit suffix ("per piece", "/pc", "each").
	priceRe = regexp.MustCompile(`(?i)(?:₹|rs\.?|inr)\s*(\d+(?:\.\d+)?)\s*(?:(?:per|/)\s*([a-z]+)|each)?`)
)

// unitLexicon maps unit spellings to their canonical names. Both tiers of the
// classifier and the memory store must agree on these spellings.
var unitLexicon = map[string]string{
	"carton":  "cartons",
	"cartons": "cartons",
	"ctn":     "cartons",
	"ctns":    "cartons",
	"piece":   "pieces",
	"pieces":  "pieces",
	"pc":      "pieces",
	"pcs":     "pieces",
	"unit":    "units",
	"units":   "units",
	"box":     "boxes",
	"boxes":   "boxes",
	"lakh":    "lakh",
	"lakhs":   "lakh",
}

// NormalizeUnit collapses a unit spelling to its canonical name. Unknown
// spellings are returned lowercased so downstream comparisons stay stable.
func NormalizeUnit(unit string) string {
	lowered := strings.ToLower(strings.TrimSpace(unit))
	if canonical, ok := unitLexicon[lowered]; ok {
		return canonical
	}
	return lowered
}

// IsKnownUnit reports whether the spelling is in the unit lexicon.
func IsKnownUnit(unit string) bool {
	_, ok := unitLexicon[strings.ToLower(strings.TrimSpace(unit))]
	return ok
}

// ExtractEntities runs deterministic entity extraction over a message body.
func ExtractEntities(body string) models.Entities {
	var entities models.Entities

	remaining := body
	for _, match := range productCodeRe.FindAllStringSubmatch(body, -1) {
		code := strings.ToUpper(match[1]) + "X" + match[2]
		entities.ProductCodes = appendUnique(entities.ProductCodes, code)
	}
	// Strip matched codes so their digit halves are not re-read as quantities.
	remaining = productCodeRe.ReplaceAllString(remaining, " ")

	for _, match := range quantityRe.FindAllStringSubmatch(remaining, -1) {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		entities.Quantities = append(entities.Quantities, models.Quantity{
			Value: value,
			Unit:  NormalizeUnit(match[2]),
		})
	}

	for _, match := range priceRe.FindAllStringSubmatch(remaining, -1) {
		amount, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		price := models.PriceMention{Amount: amount}
		if match[2] != "" {
			price.PerUnit = NormalizeUnit(match[2])
		}
		entities.Prices = append(entities.Prices, price)
	}

	return entities
}

// StripProductCodes removes product-code tokens from a message body, leaving
// the surrounding text intact with whitespace collapsed.
func StripProductCodes(body string) string {
	return strings.Join(strings.Fields(productCodeRe.ReplaceAllString(body, " ")), " ")
}

// NormalizeSender collapses heterogeneous sender labels to the two canonical
// values. Unrecognized labels default to customer.
func NormalizeSender(raw string) models.Sender {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bot", "assistant", "system", "agent", "business":
		return models.SenderBot
	default:
		return models.SenderCustomer
	}
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
