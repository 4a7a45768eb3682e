// Package catalog talks to the product catalog and ranks products for search.
package catalog

import (
	"context"

	"github.com/eduard256/tillscan/internal/models"
)

// Catalog is the product catalog surface used by the scanner and admin API
type Catalog interface {
	List(ctx context.Context) ([]models.Product, error)
	// Get returns models.ErrProductNotFound for unknown ids.
	Get(ctx context.Context, id string) (models.Product, error)
	// LookupByBarcode returns zero, one or many matches.
	LookupByBarcode(ctx context.Context, barcode string) ([]models.Product, error)
	Create(ctx context.Context, p models.Product) (models.Product, error)
	Update(ctx context.Context, id string, p models.Product) (models.Product, error)
	Delete(ctx context.Context, id string) error
}

// Normalize applies the canonical product shape rules to p
func Normalize(p models.Product) models.Product {
	if p.Description == "" {
		p.Description = p.Name
	}
	p.Image = models.NormalizeImageURL(p.Image, p.ID, p.Barcode)
	p.Barcode = models.SanitizeBarcode(p.Barcode)
	return p
}
