package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eduard256/tillscan/internal/metrics"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// Catalog looks products up by barcode
type Catalog interface {
	LookupByBarcode(ctx context.Context, barcode string) ([]models.Product, error)
}

// Generative is the fallback lookup for barcodes the catalog does not know
type Generative interface {
	LookupByBarcode(ctx context.Context, barcode string) (models.GenerativeProduct, error)
}

// Chooser asks the operator to pick one of several catalog matches
type Chooser interface {
	PresentChoices(ctx context.Context, products []models.Product) (models.Product, error)
}

// Cache stores plausible generative results per barcode
type Cache interface {
	Get(ctx context.Context, barcode string) (models.GenerativeProduct, bool, error)
	Set(ctx context.Context, barcode string, p models.GenerativeProduct) error
}

// Config holds pipeline timeouts
type Config struct {
	CatalogTimeout    time.Duration
	GenerativeTimeout time.Duration
}

// Pipeline resolves a barcode to a product: catalog first, then the
// generative fallback.
type Pipeline struct {
	catalog    Catalog
	generative Generative
	chooser    Chooser
	cache      Cache
	cfg        Config
	logger     logger.Logger
}

// NewPipeline creates a resolution pipeline. generative, chooser and cache may be nil.
func NewPipeline(catalog Catalog, generative Generative, chooser Chooser, cache Cache, cfg Config, log logger.Logger) *Pipeline {
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = 10 * time.Second
	}
	if cfg.GenerativeTimeout <= 0 {
		cfg.GenerativeTimeout = 10 * time.Second
	}
	return &Pipeline{
		catalog:    catalog,
		generative: generative,
		chooser:    chooser,
		cache:      cache,
		cfg:        cfg,
		logger:     log,
	}
}

// Resolve returns the canonical product for barcode
func (p *Pipeline) Resolve(ctx context.Context, barcode string) (models.ResolvedProduct, error) {
	start := time.Now()
	product, err := p.resolve(ctx, models.SanitizeBarcode(barcode))

	outcome := "ok"
	if err != nil {
		outcome = string(models.KindOf(err))
	}
	metrics.RecordResolution(string(product.Source), outcome, time.Since(start).Seconds())

	return product, err
}

func (p *Pipeline) resolve(ctx context.Context, barcode string) (models.ResolvedProduct, error) {
	if barcode == "" {
		return models.ResolvedProduct{}, fmt.Errorf("%w: empty barcode", models.ErrProductNotFound)
	}

	matches, err := p.lookupCatalog(ctx, barcode)
	if err != nil {
		return models.ResolvedProduct{}, err
	}

	switch {
	case len(matches) == 1:
		p.logger.Debug("catalog match", "barcode", barcode, "id", matches[0].ID)
		return FromCatalog(matches[0], barcode), nil

	case len(matches) > 1:
		return p.choose(ctx, barcode, matches)
	}

	return p.fallback(ctx, barcode)
}

func (p *Pipeline) lookupCatalog(ctx context.Context, barcode string) ([]models.Product, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CatalogTimeout)
	defer cancel()

	matches, err := p.catalog.LookupByBarcode(cctx, barcode)
	if err != nil {
		if errors.Is(err, models.ErrCatalogUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrCatalogUnavailable, err)
	}
	return matches, nil
}

func (p *Pipeline) choose(ctx context.Context, barcode string, matches []models.Product) (models.ResolvedProduct, error) {
	if p.chooser == nil {
		return models.ResolvedProduct{}, fmt.Errorf("%w: %d matches and no chooser", models.ErrSelectionCancelled, len(matches))
	}

	p.logger.Info("ambiguous barcode, awaiting selection", "barcode", barcode, "matches", len(matches))
	picked, err := p.chooser.PresentChoices(ctx, matches)
	if err != nil {
		if errors.Is(err, models.ErrSelectionCancelled) {
			return models.ResolvedProduct{}, err
		}
		return models.ResolvedProduct{}, fmt.Errorf("%w: %v", models.ErrSelectionCancelled, err)
	}

	for _, m := range matches {
		if m.ID == picked.ID {
			return FromCatalog(m, barcode), nil
		}
	}
	return models.ResolvedProduct{}, fmt.Errorf("%w: selected product %s was not offered", models.ErrSelectionCancelled, picked.ID)
}

func (p *Pipeline) fallback(ctx context.Context, barcode string) (models.ResolvedProduct, error) {
	if p.generative == nil {
		return models.ResolvedProduct{}, models.ErrProductNotFound
	}

	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, barcode)
		switch {
		case err != nil:
			metrics.LookupCacheTotal.WithLabelValues("error").Inc()
			p.logger.Warn("lookup cache read failed", "barcode", barcode, "error", err)
		case ok:
			metrics.LookupCacheTotal.WithLabelValues("hit").Inc()
			return FromGenerative(cached, barcode), nil
		default:
			metrics.LookupCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.GenerativeTimeout)
	defer cancel()

	gen, err := p.generative.LookupByBarcode(gctx, barcode)
	if err != nil {
		if errors.Is(err, models.ErrGenerativeLookupFailed) {
			return models.ResolvedProduct{}, err
		}
		return models.ResolvedProduct{}, fmt.Errorf("%w: %v", models.ErrGenerativeLookupFailed, err)
	}

	if !Plausible(gen) {
		p.logger.Info("generative result rejected", "barcode", barcode, "name", gen.ProductName)
		return models.ResolvedProduct{}, fmt.Errorf("%w: implausible generative result %q", models.ErrProductNotFound, gen.ProductName)
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, barcode, gen); err != nil {
			p.logger.Warn("lookup cache write failed", "barcode", barcode, "error", err)
		}
	}

	return FromGenerative(gen, barcode), nil
}

var implausibleNames = []string{"not found", "product not found", "unknown"}

// Plausible reports whether a generative result names a real product
func Plausible(g models.GenerativeProduct) bool {
	name := strings.TrimSpace(g.ProductName)
	if name == "" {
		return false
	}
	for _, bad := range implausibleNames {
		if strings.EqualFold(name, bad) {
			return false
		}
	}
	return true
}

// FromCatalog converts a catalog product. scanned is used when the product carries no barcode.
func FromCatalog(p models.Product, scanned string) models.ResolvedProduct {
	barcode := p.Barcode
	if barcode == "" {
		barcode = scanned
	}
	stock := p.Stock
	return models.ResolvedProduct{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		ImageURL:    models.NormalizeImageURL(p.Image, p.ID, barcode),
		Stock:       &stock,
		Barcode:     barcode,
		ExpiryDate:  p.ExpiryDate,
		Source:      models.SourceCatalog,
	}
}

// FromGenerative converts a plausible generative result
func FromGenerative(g models.GenerativeProduct, barcode string) models.ResolvedProduct {
	desc := g.Description
	if desc == "" {
		desc = g.ProductName
	}
	return models.ResolvedProduct{
		ID:          g.ProductID,
		Name:        strings.TrimSpace(g.ProductName),
		Description: desc,
		Price:       g.Price,
		ImageURL:    models.NormalizeImageURL(g.ImageURL, g.ProductID, barcode),
		Barcode:     barcode,
		Source:      models.SourceGenerative,
	}
}
