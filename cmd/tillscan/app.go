package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/eduard256/tillscan/internal/api"
	"github.com/eduard256/tillscan/internal/camera/decoder"
	"github.com/eduard256/tillscan/internal/camera/device"
	"github.com/eduard256/tillscan/internal/catalog"
	"github.com/eduard256/tillscan/internal/catalog/memory"
	"github.com/eduard256/tillscan/internal/config"
	"github.com/eduard256/tillscan/internal/generative"
	"github.com/eduard256/tillscan/internal/lookupcache"
	"github.com/eduard256/tillscan/internal/resolve"
	"github.com/eduard256/tillscan/internal/sale"
	"github.com/eduard256/tillscan/internal/scan/scanner"
	"github.com/eduard256/tillscan/internal/utils/logger"
	"github.com/eduard256/tillscan/webui"
)

// app holds the wired components of a running till
type app struct {
	cfg     *config.Config
	cache   lookupcache.Store
	scanner *scanner.Scanner
	api     *api.Server
}

func newCatalog(cfg *config.Config, log *logger.Adapter) (catalog.Catalog, error) {
	switch cfg.Catalog.Mode {
	case "memory":
		if cfg.Catalog.SeedFile == "" {
			return memory.New(nil, log), nil
		}
		return memory.LoadSeedFile(cfg.Catalog.SeedFile, log)
	case "remote", "":
		return catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, log), nil
	}
	return nil, fmt.Errorf("unknown catalog mode %q", cfg.Catalog.Mode)
}

func buildApp(cfg *config.Config, log *logger.Adapter) (*app, error) {
	cat, err := newCatalog(cfg, log.Named("catalog"))
	if err != nil {
		return nil, err
	}

	var gen resolve.Generative
	if cfg.Generative.URL != "" {
		gen = generative.NewClient(cfg.Generative.URL, cfg.Generative.APIKey, cfg.Generative.Timeout, log.Named("generative"))
	} else {
		log.Warn("generative lookup disabled, unknown barcodes will not resolve")
	}

	cache, err := lookupcache.New(lookupcache.Config{
		Backend:       cfg.Cache.Backend,
		TTL:           cfg.Cache.TTL,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
	}, log.Named("cache"))
	if err != nil {
		return nil, err
	}

	broker := resolve.NewBroker(cfg.Scanner.SelectionTimeout, log.Named("choice"))
	pipeline := resolve.NewPipeline(cat, gen, broker, cache, resolve.Config{
		CatalogTimeout:    cfg.Scanner.LookupTimeout,
		GenerativeTimeout: cfg.Generative.Timeout,
	}, log.Named("resolve"))

	till := sale.New(cfg.Sale.MaxQuantity, cfg.Sale.ReceiptsDir, log.Named("sale"))

	backend := device.NewPionBackend(cfg.Scanner.FrameWidth, cfg.Scanner.FrameHeight, log.Named("camera"))
	acq := device.NewAcquirer(backend, cfg.Scanner.PreferredKeywords, log.Named("camera"))
	dec := decoder.New(cfg.Scanner.MinScanInterval, log.Named("decoder"))

	sc := scanner.New(scanner.Config{
		SuccessCooldown: cfg.Scanner.SuccessCooldown,
		FailureCooldown: cfg.Scanner.FailureCooldown,
		ResolveTimeout:  cfg.Scanner.LookupTimeout + cfg.Generative.Timeout + cfg.Scanner.SelectionTimeout,
	}, acq, dec, pipeline, till, broker, log.Named("scanner"))

	ui, err := webui.NewServer(log.Named("webui"))
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		cache:   cache,
		scanner: sc,
	}
	a.api = api.NewServer(cfg, api.Deps{
		Scanner: sc,
		Choices: broker,
		Sale:    till,
		Catalog: cat,
		Search:  catalog.NewSearchEngine(cat, log.Named("search")),
		Health:  a.health,
		UI:      ui,
	}, Version, log.Named("api"))

	return a, nil
}

// health reports component status for the health endpoint
func (a *app) health(ctx context.Context) map[string]string {
	stats := a.cache.Stats()
	services := map[string]string{
		"scanner":     string(a.scanner.Snapshot().State.Phase),
		"catalog":     a.cfg.Catalog.Mode,
		"cache":       a.cfg.Cache.Backend,
		"cache_size":  strconv.Itoa(stats.Size),
		"sse_clients": strconv.Itoa(a.api.Events().Clients()),
	}
	if r, ok := a.cache.(*lookupcache.Redis); ok {
		if err := r.HealthCheck(ctx); err != nil {
			services["cache"] = "redis unreachable: " + err.Error()
		}
	}
	return services
}
