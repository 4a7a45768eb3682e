package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string][]models.Product
	err      error
	delay    time.Duration
	calls    int
}

func (c *fakeCatalog) LookupByBarcode(ctx context.Context, barcode string) ([]models.Product, error) {
	c.mu.Lock()
	c.calls++
	delay, err := c.delay, c.err
	res := c.products[barcode]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res, err
}

type fakeGenerative struct {
	mu     sync.Mutex
	result models.GenerativeProduct
	err    error
	calls  int
}

func (g *fakeGenerative) LookupByBarcode(ctx context.Context, barcode string) (models.GenerativeProduct, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.result, g.err
}

func (g *fakeGenerative) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type pickSecond struct {
	offered []models.Product
}

func (p *pickSecond) PresentChoices(ctx context.Context, products []models.Product) (models.Product, error) {
	p.offered = products
	return products[1], nil
}

type mapCache struct {
	m map[string]models.GenerativeProduct
}

func (c *mapCache) Get(ctx context.Context, barcode string) (models.GenerativeProduct, bool, error) {
	p, ok := c.m[barcode]
	return p, ok, nil
}

func (c *mapCache) Set(ctx context.Context, barcode string, p models.GenerativeProduct) error {
	c.m[barcode] = p
	return nil
}

func newPipeline(cat *fakeCatalog, gen *fakeGenerative, chooser Chooser, cache Cache) *Pipeline {
	var g Generative
	if gen != nil {
		g = gen
	}
	return NewPipeline(cat, g, chooser, cache, Config{}, logger.Discard())
}

func TestResolveSingleCatalogMatch(t *testing.T) {
	cat := &fakeCatalog{products: map[string][]models.Product{
		"222222222": {{ID: "17", Name: "Organic Apples", Price: 2.50, Stock: 40, Barcode: "222222222"}},
	}}
	gen := &fakeGenerative{}

	got, err := newPipeline(cat, gen, nil, nil).Resolve(context.Background(), "222222222")
	require.NoError(t, err)

	stock := 40
	want := models.ResolvedProduct{
		ID:       "17",
		Name:     "Organic Apples",
		Price:    2.50,
		ImageURL: "https://picsum.photos/seed/17/400/400",
		Stock:    &stock,
		Barcode:  "222222222",
		Source:   models.SourceCatalog,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolved product mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, gen.Calls())
}

func TestResolveSanitizesBarcode(t *testing.T) {
	cat := &fakeCatalog{products: map[string][]models.Product{
		"4006381333931": {{ID: "1", Name: "Pen"}},
	}}

	got, err := newPipeline(cat, nil, nil, nil).Resolve(context.Background(), " \"4006381333931\"\n")
	require.NoError(t, err)
	assert.Equal(t, "Pen", got.Name)
	assert.Equal(t, "4006381333931", got.Barcode)
}

func TestResolveDisambiguation(t *testing.T) {
	cat := &fakeCatalog{products: map[string][]models.Product{
		"B": {{ID: "1", Name: "Milk 1L"}, {ID: "2", Name: "Milk 2L", Image: "https://cdn.example.com/milk.png"}},
	}}
	gen := &fakeGenerative{}
	chooser := &pickSecond{}

	got, err := newPipeline(cat, gen, chooser, nil).Resolve(context.Background(), "B")
	require.NoError(t, err)

	assert.Len(t, chooser.offered, 2)
	assert.Equal(t, "2", got.ID)
	assert.Equal(t, "https://cdn.example.com/milk.png", got.ImageURL)
	assert.Zero(t, gen.Calls(), "no generative fallback on disambiguation")
}

type pickStranger struct{}

func (pickStranger) PresentChoices(ctx context.Context, products []models.Product) (models.Product, error) {
	return models.Product{ID: "999"}, nil
}

func TestResolveDisambiguationRejectsUnofferedPick(t *testing.T) {
	cat := &fakeCatalog{products: map[string][]models.Product{
		"B": {{ID: "1", Name: "A"}, {ID: "2", Name: "B"}},
	}}

	_, err := newPipeline(cat, nil, pickStranger{}, nil).Resolve(context.Background(), "B")
	assert.ErrorIs(t, err, models.ErrSelectionCancelled)
}

func TestResolveGenerativeFallback(t *testing.T) {
	cat := &fakeCatalog{}
	gen := &fakeGenerative{result: models.GenerativeProduct{
		ProductName: "Sparkling Water",
		ProductID:   "gen-42",
		ImageURL:    "data:image/png;base64,xx",
		Price:       1.25,
	}}

	got, err := newPipeline(cat, gen, nil, nil).Resolve(context.Background(), "5000000000001")
	require.NoError(t, err)

	assert.Equal(t, models.SourceGenerative, got.Source)
	assert.Equal(t, "Sparkling Water", got.Description)
	assert.Equal(t, 1.25, got.Price)
	assert.Equal(t, "https://picsum.photos/seed/gen-42/400/400", got.ImageURL)
	assert.Nil(t, got.Stock)
}

func TestResolvePlaceholderIsStable(t *testing.T) {
	cat := &fakeCatalog{}
	gen := &fakeGenerative{result: models.GenerativeProduct{ProductName: "Mystery Snack"}}
	p := newPipeline(cat, gen, nil, nil)

	first, err := p.Resolve(context.Background(), "X")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := p.Resolve(context.Background(), "X")
		require.NoError(t, err)
		assert.Equal(t, first.ImageURL, again.ImageURL)
	}
	assert.Equal(t, "https://picsum.photos/seed/X/400/400", first.ImageURL)
}

func TestResolveRejectsImplausibleGenerative(t *testing.T) {
	for _, name := range []string{"Not Found", "NOT FOUND", "product not found", "Unknown", "", "   "} {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerative{result: models.GenerativeProduct{ProductName: name, ProductID: "g"}}
			cache := &mapCache{m: map[string]models.GenerativeProduct{}}

			_, err := newPipeline(&fakeCatalog{}, gen, nil, cache).Resolve(context.Background(), "B")
			assert.ErrorIs(t, err, models.ErrProductNotFound)
			assert.Empty(t, cache.m, "implausible results are not cached")
		})
	}
}

func TestResolveFailureKinds(t *testing.T) {
	t.Run("catalog error", func(t *testing.T) {
		cat := &fakeCatalog{err: errors.New("connection refused")}
		gen := &fakeGenerative{}
		_, err := newPipeline(cat, gen, nil, nil).Resolve(context.Background(), "B")
		assert.ErrorIs(t, err, models.ErrCatalogUnavailable)
		assert.Zero(t, gen.Calls(), "catalog failures are not retried through the fallback")
	})

	t.Run("catalog timeout", func(t *testing.T) {
		cat := &fakeCatalog{delay: time.Second}
		p := NewPipeline(cat, nil, nil, nil, Config{CatalogTimeout: 20 * time.Millisecond}, logger.Discard())
		_, err := p.Resolve(context.Background(), "B")
		assert.ErrorIs(t, err, models.ErrCatalogUnavailable)
	})

	t.Run("generative error", func(t *testing.T) {
		gen := &fakeGenerative{err: errors.New("model overloaded")}
		_, err := newPipeline(&fakeCatalog{}, gen, nil, nil).Resolve(context.Background(), "B")
		assert.ErrorIs(t, err, models.ErrGenerativeLookupFailed)
		assert.NotErrorIs(t, err, models.ErrProductNotFound)
	})

	t.Run("no fallback configured", func(t *testing.T) {
		_, err := newPipeline(&fakeCatalog{}, nil, nil, nil).Resolve(context.Background(), "B")
		assert.ErrorIs(t, err, models.ErrProductNotFound)
	})

	t.Run("empty barcode", func(t *testing.T) {
		_, err := newPipeline(&fakeCatalog{}, nil, nil, nil).Resolve(context.Background(), "\n")
		assert.ErrorIs(t, err, models.ErrProductNotFound)
	})
}

func TestResolveUsesCache(t *testing.T) {
	gen := &fakeGenerative{result: models.GenerativeProduct{ProductName: "Tea", ProductID: "g-1", Price: 3}}
	cache := &mapCache{m: map[string]models.GenerativeProduct{}}
	p := newPipeline(&fakeCatalog{}, gen, nil, cache)

	first, err := p.Resolve(context.Background(), "B")
	require.NoError(t, err)
	second, err := p.Resolve(context.Background(), "B")
	require.NoError(t, err)

	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, first, second)
}

func TestPlausible(t *testing.T) {
	assert.True(t, Plausible(models.GenerativeProduct{ProductName: "Unknown Pleasures LP"}))
	assert.False(t, Plausible(models.GenerativeProduct{ProductName: "unknown"}))
}
