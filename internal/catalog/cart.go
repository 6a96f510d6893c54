package catalog

import (
	"context"
	"strconv"
	"sync"

	"github.com/TextCartHQ/TextCart/internal/models"
)

// Cart is the cart service collaborator.
type Cart interface {
	// AddItem adds a line to the customer's cart, merging quantity into an
	// existing line for the same product code.
	AddItem(ctx context.Context, tenantID, identifier string, item models.CartItem) error

	// ReplaceItem replaces the quantity of an existing line.
	ReplaceItem(ctx context.Context, tenantID, identifier string, item models.CartItem) error

	// View returns the current cart lines.
	View(ctx context.Context, tenantID, identifier string) ([]models.CartItem, error)

	// Clear empties the cart.
	Clear(ctx context.Context, tenantID, identifier string) error

	// Checkout finalizes the cart and returns an order reference.
	Checkout(ctx context.Context, tenantID, identifier string) (string, error)
}

// InMemoryCart is a Cart backed by process memory. It also serves as the
// cart-state collaborator for memory snapshots.
type InMemoryCart struct {
	mu    sync.Mutex
	carts map[string][]models.CartItem // keyed by tenant|identifier
	seq   int
}

// NewInMemoryCart creates an empty in-memory cart service.
func NewInMemoryCart() *InMemoryCart {
	return &InMemoryCart{carts: make(map[string][]models.CartItem)}
}

func cartKey(tenantID, identifier string) string {
	return tenantID + "|" + identifier
}

func (c *InMemoryCart) AddItem(ctx context.Context, tenantID, identifier string, item models.CartItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cartKey(tenantID, identifier)
	for i, existing := range c.carts[key] {
		if existing.ProductCode == item.ProductCode {
			c.carts[key][i].Quantity += item.Quantity
			return nil
		}
	}
	c.carts[key] = append(c.carts[key], item)
	return nil
}

func (c *InMemoryCart) ReplaceItem(ctx context.Context, tenantID, identifier string, item models.CartItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cartKey(tenantID, identifier)
	for i, existing := range c.carts[key] {
		if existing.ProductCode == item.ProductCode {
			c.carts[key][i] = item
			return nil
		}
	}
	c.carts[key] = append(c.carts[key], item)
	return nil
}

func (c *InMemoryCart) View(ctx context.Context, tenantID, identifier string) ([]models.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.carts[cartKey(tenantID, identifier)]
	return append([]models.CartItem(nil), items...), nil
}

func (c *InMemoryCart) Clear(ctx context.Context, tenantID, identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, cartKey(tenantID, identifier))
	return nil
}

func (c *InMemoryCart) Checkout(ctx context.Context, tenantID, identifier string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	delete(c.carts, cartKey(tenantID, identifier))
	return orderRef(tenantID, c.seq), nil
}

// IsCartActive implements the memory cart-state collaborator.
func (c *InMemoryCart) IsCartActive(ctx context.Context, tenantID, identifier string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.carts[cartKey(tenantID, identifier)]) > 0, nil
}

func orderRef(tenantID string, seq int) string {
	return "ORD-" + tenantID + "-" + strconv.Itoa(seq)
}
