// Package memory is an in-process product catalog seeded from JSON.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/eduard256/tillscan/internal/catalog"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// Repository is a catalog kept in memory. Reset restores the seed.
type Repository struct {
	seed   []models.Product
	logger logger.Logger

	mu       sync.RWMutex
	products map[string]models.Product
	nextID   int
}

// New creates a repository holding a copy of seed
func New(seed []models.Product, log logger.Logger) *Repository {
	r := &Repository{
		seed:   append([]models.Product(nil), seed...),
		logger: log,
	}
	r.Reset()
	return r
}

// LoadSeedFile creates a repository seeded from a JSON array of products
func LoadSeedFile(path string, log logger.Logger) (*Repository, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var seed []models.Product
	if err := json.NewDecoder(file).Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}

	log.Info("catalog seed loaded", "path", path, "products", len(seed))
	return New(seed, log), nil
}

// Reset discards every change and restores the seed products
func (r *Repository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.products = make(map[string]models.Product, len(r.seed))
	r.nextID = 1
	for _, p := range r.seed {
		if p.ID == "" {
			p.ID = strconv.Itoa(r.nextID)
		}
		r.bumpLocked(p.ID)
		r.products[p.ID] = catalog.Normalize(p)
	}
}

func (r *Repository) bumpLocked(id string) {
	if n, err := strconv.Atoi(id); err == nil && n >= r.nextID {
		r.nextID = n + 1
	}
}

// List returns every product ordered by id
func (r *Repository) List(ctx context.Context) ([]models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

// Get returns the product with id
func (r *Repository) Get(ctx context.Context, id string) (models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return models.Product{}, fmt.Errorf("%w: id %s", models.ErrProductNotFound, id)
	}
	return p, nil
}

// LookupByBarcode returns every product carrying barcode
func (r *Repository) LookupByBarcode(ctx context.Context, barcode string) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	code := models.SanitizeBarcode(barcode)
	if code == "" {
		return nil, nil
	}

	all, _ := r.List(ctx)
	var out []models.Product
	for _, p := range all {
		if p.Barcode == code {
			out = append(out, p)
		}
	}
	return out, nil
}

// Create stores p under a fresh id unless it carries an unused one
func (r *Repository) Create(ctx context.Context, p models.Product) (models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		p.ID = strconv.Itoa(r.nextID)
	} else if _, exists := r.products[p.ID]; exists {
		return models.Product{}, fmt.Errorf("product %s already exists", p.ID)
	}
	r.bumpLocked(p.ID)

	p = catalog.Normalize(p)
	r.products[p.ID] = p
	r.logger.Debug("product created", "id", p.ID, "name", p.Name)
	return p, nil
}

// Update replaces the product with id
func (r *Repository) Update(ctx context.Context, id string, p models.Product) (models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return models.Product{}, fmt.Errorf("%w: id %s", models.ErrProductNotFound, id)
	}
	p.ID = id
	p = catalog.Normalize(p)
	r.products[id] = p
	return p, nil
}

// Delete removes the product with id
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return fmt.Errorf("%w: id %s", models.ErrProductNotFound, id)
	}
	delete(r.products, id)
	return nil
}

// lessID orders numeric ids numerically and everything else lexically
func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	if (errA == nil) != (errB == nil) {
		return errA == nil
	}
	return a < b
}
