package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TextCartHQ/TextCart/internal/models"
)

func TestGetByCodeCaseInsensitive(t *testing.T) {
	c := NewInMemoryCatalog()
	c.AddProduct("t1", models.Product{Code: "10X140", Name: "Hex Bolt 10x140", Price: 12.5, Unit: "pieces"})

	product, err := c.GetByCode(context.Background(), "t1", "10x140")
	if err != nil {
		t.Fatalf("GetByCode failed: %v", err)
	}
	if product.Code != "10X140" {
		t.Errorf("expected 10X140, got %s", product.Code)
	}

	if _, err := c.GetByCode(context.Background(), "t1", "99X99"); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got %v", err)
	}
	// Other tenants cannot see the product.
	if _, err := c.GetByCode(context.Background(), "t2", "10X140"); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected tenant isolation, got %v", err)
	}
}

func TestSearchByNameExactBeforePartial(t *testing.T) {
	c := NewInMemoryCatalog()
	c.AddProduct("t1", models.Product{Code: "B1", Name: "Bolt"})
	c.AddProduct("t1", models.Product{Code: "B2", Name: "Bolt Large"})

	matches, err := c.SearchByName(context.Background(), "t1", "bolt")
	if err != nil {
		t.Fatalf("SearchByName failed: %v", err)
	}
	if len(matches) != 2 || matches[0].Code != "B1" {
		t.Errorf("expected exact match first, got %v", matches)
	}

	matches, _ = c.SearchByName(context.Background(), "t1", "  ")
	if matches != nil {
		t.Errorf("expected no matches for blank query, got %v", matches)
	}
}

func TestCartAddMergesLines(t *testing.T) {
	cart := NewInMemoryCart()
	ctx := context.Background()

	_ = cart.AddItem(ctx, "t1", "911234567890", models.CartItem{ProductCode: "10X140", Quantity: 5, Unit: "cartons"})
	_ = cart.AddItem(ctx, "t1", "911234567890", models.CartItem{ProductCode: "10X140", Quantity: 3, Unit: "cartons"})

	items, _ := cart.View(ctx, "t1", "911234567890")
	if len(items) != 1 {
		t.Fatalf("expected merged line, got %v", items)
	}
	if items[0].Quantity != 8 {
		t.Errorf("expected quantity 8, got %v", items[0].Quantity)
	}
}

func TestCartReplaceItem(t *testing.T) {
	cart := NewInMemoryCart()
	ctx := context.Background()

	_ = cart.AddItem(ctx, "t1", "911234567890", models.CartItem{ProductCode: "10X140", Quantity: 5, Unit: "cartons"})
	_ = cart.ReplaceItem(ctx, "t1", "911234567890", models.CartItem{ProductCode: "10X140", Quantity: 2, Unit: "cartons"})

	items, _ := cart.View(ctx, "t1", "911234567890")
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Errorf("expected replaced quantity 2, got %v", items)
	}
}

func TestCartClearAndActivity(t *testing.T) {
	cart := NewInMemoryCart()
	ctx := context.Background()

	active, _ := cart.IsCartActive(ctx, "t1", "911234567890")
	if active {
		t.Error("expected inactive cart initially")
	}

	_ = cart.AddItem(ctx, "t1", "911234567890", models.CartItem{ProductCode: "10X140", Quantity: 5, Unit: "cartons"})
	active, _ = cart.IsCartActive(ctx, "t1", "911234567890")
	if !active {
		t.Error("expected active cart after add")
	}

	_ = cart.Clear(ctx, "t1", "911234567890")
	active, _ = cart.IsCartActive(ctx, "t1", "911234567890")
	if active {
		t.Error("expected inactive cart after clear")
	}
}

func TestCartCheckout(t *testing.T) {
	cart := NewInMemoryCart()
	ctx := context.Background()

	_ = cart.AddItem(ctx, "t1", "911234567890", models.CartItem{ProductCode: "10X140", Quantity: 5, Unit: "cartons"})
	ref, err := cart.Checkout(ctx, "t1", "911234567890")
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if !strings.HasPrefix(ref, "ORD-t1-") {
		t.Errorf("unexpected order reference %q", ref)
	}

	items, _ := cart.View(ctx, "t1", "911234567890")
	if len(items) != 0 {
		t.Errorf("expected empty cart after checkout, got %v", items)
	}
}

func TestNullCatalog(t *testing.T) {
	var c Catalog = NullCatalog{}
	if _, err := c.GetByCode(context.Background(), "t1", "10X140"); !errors.Is(err, ErrProductNotFound) {
		t.Errorf("expected miss from null catalog, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	data := `{"t1": [{"code": "10X140", "name": "Hex Bolt", "price": 12.5, "unit": "pieces"}]}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	product, err := c.GetByCode(context.Background(), "t1", "10X140")
	if err != nil {
		t.Fatalf("expected seeded product: %v", err)
	}
	if product.Price != 12.5 {
		t.Errorf("expected price 12.5, got %v", product.Price)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
