package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/TextCartHQ/TextCart/internal/models"
)

// LoadFile populates an InMemoryCatalog from a JSON file mapping tenant ids
// to product lists:
//
//	{"tenant-a": [{"code": "10X140", "name": "Hex Bolt", "price": 12.5, "unit": "pieces"}]}
func LoadFile(path string) (*InMemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var byTenant map[string][]models.Product
	if err := json.Unmarshal(data, &byTenant); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	c := NewInMemoryCatalog()
	total := 0
	for tenant, products := range byTenant {
		for _, p := range products {
			c.AddProduct(tenant, p)
			total++
		}
	}
	slog.Info("Catalog loaded from file", "path", path, "tenants", len(byTenant), "products", total)
	return c, nil
}
