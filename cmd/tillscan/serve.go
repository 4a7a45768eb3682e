package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/eduard256/tillscan/internal/config"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

func runServe(ctx context.Context, cfgPath string) error {
	fmt.Printf(Banner, Version)
	fmt.Println()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	slogger, logCloser, err := cfg.SetupLogger(os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(slogger)

	log := logger.NewAdapter(slogger)

	log.Info("starting TillScan",
		slog.String("version", Version),
		slog.String("listen", cfg.Server.Listen),
		slog.String("config_source", cfg.Source),
		slog.String("catalog", cfg.Catalog.Mode),
		slog.String("cache", cfg.Cache.Backend),
	)

	a, err := buildApp(cfg, log)
	if err != nil {
		log.Error("failed to build application", err)
		return err
	}
	defer func() { _ = a.cache.Close() }()

	scanCtx, stopScanner := context.WithCancel(context.Background())
	scannerDone := make(chan struct{})
	go func() {
		defer close(scannerDone)
		if err := a.scanner.Run(scanCtx); err != nil {
			log.Error("scanner stopped with error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      a.api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting",
			slog.String("address", httpServer.Addr),
			slog.String("api_version", "v1"),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	printEndpoints(cfg.Server.Listen)

	select {
	case <-ctx.Done():
		log.Info("shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error("HTTP server failed", err)
		}
		stopScanner()
		<-scannerDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// event streams never end on their own
	a.api.Events().Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", err)
	}

	// releases the camera and waits for in-flight lookups
	stopScanner()
	<-scannerDone

	log.Info("server stopped gracefully")
	return nil
}

// printEndpoints prints available API endpoints
func printEndpoints(listen string) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port = listen, "80"
	}
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}

	baseURL := fmt.Sprintf("http://%s:%s", host, port)

	fmt.Println("\n🚀 Till:")
	fmt.Println("────────────────────────────────────────────────")
	fmt.Printf("  Till screen:      GET  %s/\n", baseURL)
	fmt.Printf("  Health Check:     GET  %s/api/v1/health\n", baseURL)
	fmt.Printf("  Scanner State:    GET  %s/api/v1/scanner/state\n", baseURL)
	fmt.Printf("  Scanner Events:   GET  %s/api/v1/scanner/events (SSE)\n", baseURL)
	fmt.Printf("  Open Camera:      POST %s/api/v1/scanner/open\n", baseURL)
	fmt.Printf("  Hand-off Barcode: POST %s/api/v1/scanner/barcodes\n", baseURL)
	fmt.Printf("  Sale:             GET  %s/api/v1/sale\n", baseURL)
	fmt.Printf("  Metrics:          GET  %s/metrics\n", baseURL)
	fmt.Println("────────────────────────────────────────────────")

	fmt.Println("\n📝 Example Requests:")
	fmt.Println("\n1. Open the camera:")
	fmt.Printf("   curl -X POST %s/api/v1/scanner/open\n", baseURL)

	fmt.Println("\n2. Hand over a barcode from an external scanner:")
	fmt.Printf(`   curl -X POST %s/api/v1/scanner/barcodes \
     -H "Content-Type: application/json" \
     -d '{"barcode": "222222222"}'
`, baseURL)

	fmt.Println("\n3. Search the catalog:")
	fmt.Printf(`   curl -X POST %s/api/v1/products/search \
     -H "Content-Type: application/json" \
     -d '{"query": "apples", "limit": 5}'
`, baseURL)

	fmt.Println("\n────────────────────────────────────────────────")
	fmt.Println()
}
