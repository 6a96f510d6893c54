package memory

import (
	"testing"

	"github.com/TextCartHQ/TextCart/internal/models"
)

func TestExtractEntitiesProductAndQuantity(t *testing.T) {
	entities := ExtractEntities("10x140 5 cartons")

	if len(entities.ProductCodes) != 1 || entities.ProductCodes[0] != "10X140" {
		t.Errorf("expected product codes [10X140], got %v", entities.ProductCodes)
	}
	if len(entities.Quantities) != 1 {
		t.Fatalf("expected 1 quantity, got %v", entities.Quantities)
	}
	if entities.Quantities[0].Value != 5 || entities.Quantities[0].Unit != "cartons" {
		t.Errorf("expected quantity {5 cartons}, got %+v", entities.Quantities[0])
	}
}

func TestExtractEntitiesCaseAndWhitespaceInsensitive(t *testing.T) {
	for _, body := range []string{"10X140 5 CARTONS", "  10x140    5 Cartons  ", "10*140 5 ctns"} {
		entities := ExtractEntities(body)
		if len(entities.ProductCodes) != 1 || entities.ProductCodes[0] != "10X140" {
			t.Errorf("body %q: expected product codes [10X140], got %v", body, entities.ProductCodes)
		}
		if len(entities.Quantities) != 1 || entities.Quantities[0].Value != 5 || entities.Quantities[0].Unit != "cartons" {
			t.Errorf("body %q: expected quantity {5 cartons}, got %v", body, entities.Quantities)
		}
	}
}

func TestExtractEntitiesCodeDigitsNotReadAsQuantity(t *testing.T) {
	entities := ExtractEntities("8x80 pieces chahiye")
	// The 80 inside the code must not become a quantity of pieces.
	for _, q := range entities.Quantities {
		if q.Value == 80 || q.Value == 8 {
			t.Errorf("code digits leaked into quantities: %+v", entities.Quantities)
		}
	}
}

func TestExtractEntitiesLetterPrefixCode(t *testing.T) {
	entities := ExtractEntities("M8x80 2 boxes")
	if len(entities.ProductCodes) != 1 || entities.ProductCodes[0] != "M8X80" {
		t.Errorf("expected product codes [M8X80], got %v", entities.ProductCodes)
	}
	if len(entities.Quantities) != 1 || entities.Quantities[0].Unit != "boxes" {
		t.Errorf("expected boxes quantity, got %v", entities.Quantities)
	}
}

func TestExtractEntitiesPrices(t *testing.T) {
	entities := ExtractEntities("rate is ₹12.50 per piece")
	if len(entities.Prices) != 1 {
		t.Fatalf("expected 1 price, got %v", entities.Prices)
	}
	if entities.Prices[0].Amount != 12.5 {
		t.Errorf("expected amount 12.5, got %v", entities.Prices[0].Amount)
	}
	if entities.Prices[0].PerUnit != "pieces" {
		t.Errorf("expected per-unit pieces, got %q", entities.Prices[0].PerUnit)
	}

	entities = ExtractEntities("Rs 900 each")
	if len(entities.Prices) != 1 || entities.Prices[0].Amount != 900 {
		t.Errorf("expected amount 900, got %v", entities.Prices)
	}
}

func TestNormalizeUnit(t *testing.T) {
	cases := map[string]string{
		"ctns":    "cartons",
		"Carton":  "cartons",
		"PCS":     "pieces",
		"piece":   "pieces",
		"box":     "boxes",
		"lakhs":   "lakh",
		"unknown": "unknown",
	}
	for in, want := range cases {
		if got := NormalizeUnit(in); got != want {
			t.Errorf("NormalizeUnit(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripProductCodes(t *testing.T) {
	if got := StripProductCodes("order 10x140 5 cartons"); got != "order 5 cartons" {
		t.Errorf("unexpected stripped text %q", got)
	}
	if got := StripProductCodes("  10x140   and  8x80  please "); got != "and please" {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}
	if ExtractEntities(StripProductCodes("10x140 and 8x80")).ProductCodes != nil {
		t.Error("expected no product codes after stripping")
	}
}

func TestNormalizeSender(t *testing.T) {
	cases := map[string]models.Sender{
		"bot":       models.SenderBot,
		"Assistant": models.SenderBot,
		"SYSTEM":    models.SenderBot,
		"business":  models.SenderBot,
		"customer":  models.SenderCustomer,
		"user":      models.SenderCustomer,
		"":          models.SenderCustomer,
	}
	for in, want := range cases {
		if got := NormalizeSender(in); got != want {
			t.Errorf("NormalizeSender(%q) = %q, want %q", in, got, want)
		}
	}
}
