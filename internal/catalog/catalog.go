// Package catalog defines the product catalog and cart collaborator
// interfaces consumed by the conversation core, with in-memory
// implementations for tests and development and null objects for absent
// collaborators.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/TextCartHQ/TextCart/internal/models"
)

// ErrProductNotFound is returned when no catalog entry matches a lookup.
var ErrProductNotFound = errors.New("product not found")

// Catalog is the product lookup collaborator.
type Catalog interface {
	// GetByCode returns the product with the exact (case-insensitive) code.
	GetByCode(ctx context.Context, tenantID, code string) (*models.Product, error)

	// SearchByName returns products whose name fuzzily matches the query,
	// best match first.
	SearchByName(ctx context.Context, tenantID, query string) ([]models.Product, error)
}

// InMemoryCatalog is a Catalog backed by a static per-tenant product map.
type InMemoryCatalog struct {
	mu       sync.RWMutex
	products map[string][]models.Product // keyed by tenant id
}

// NewInMemoryCatalog creates an empty in-memory catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{products: make(map[string][]models.Product)}
}

// AddProduct registers a product for a tenant.
func (c *InMemoryCatalog) AddProduct(tenantID string, p models.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[tenantID] = append(c.products[tenantID], p)
}

func (c *InMemoryCatalog) GetByCode(ctx context.Context, tenantID, code string) (*models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products[tenantID] {
		if strings.EqualFold(p.Code, code) {
			found := p
			return &found, nil
		}
	}
	return nil, ErrProductNotFound
}

func (c *InMemoryCatalog) SearchByName(ctx context.Context, tenantID, query string) ([]models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lowered := strings.ToLower(strings.TrimSpace(query))
	if lowered == "" {
		return nil, nil
	}
	var exact, partial []models.Product
	for _, p := range c.products[tenantID] {
		name := strings.ToLower(p.Name)
		switch {
		case name == lowered:
			exact = append(exact, p)
		case strings.Contains(name, lowered) || strings.Contains(lowered, name):
			partial = append(partial, p)
		}
	}
	return append(exact, partial...), nil
}

// NullCatalog is the null object used when no catalog collaborator is
// configured. Every lookup misses.
type NullCatalog struct{}

func (NullCatalog) GetByCode(ctx context.Context, tenantID, code string) (*models.Product, error) {
	return nil, ErrProductNotFound
}

func (NullCatalog) SearchByName(ctx context.Context, tenantID, query string) ([]models.Product, error) {
	return nil, nil
}
