package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eduard256/tillscan/internal/api/handlers"
	"github.com/eduard256/tillscan/internal/catalog"
	"github.com/eduard256/tillscan/internal/config"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/sale"
	"github.com/eduard256/tillscan/internal/utils/logger"
	"github.com/eduard256/tillscan/pkg/sse"
)

// Scanner is the lifecycle the API drives and observes
type Scanner interface {
	handlers.ScannerService
	OnChange(fn func(models.ScannerSnapshot))
}

// Choices is the disambiguation broker
type Choices interface {
	handlers.ChoiceService
	OnChange(fn func(*models.PendingChoice))
}

// Sale is the open sale
type Sale interface {
	handlers.SaleService
	OnChange(fn func(sale.Summary))
}

// Deps are the components behind the API
type Deps struct {
	Scanner Scanner
	Choices Choices
	Sale    Sale
	Catalog catalog.Catalog
	Search  handlers.ProductSearcher
	// Health adds per-component status to the health endpoint. Optional.
	Health func(ctx context.Context) map[string]string
	// UI is served at the root when set.
	UI http.Handler
}

// ChoiceEvent is the payload of "choice" events; Choice is nil when closed
type ChoiceEvent struct {
	Choice *models.PendingChoice `json:"choice"`
}

// Server represents the API server
type Server struct {
	router    chi.Router
	config    *config.Config
	deps      Deps
	sseServer *sse.Server
	version   string
	logger    logger.Logger
}

// NewServer creates the API server and subscribes the event stream to the
// scanner, broker and sale. It must be called before the scanner runs.
func NewServer(cfg *config.Config, deps Deps, version string, log logger.Logger) *Server {
	server := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		deps:      deps,
		sseServer: sse.NewServer(log),
		version:   version,
		logger:    log,
	}

	server.wireEvents()
	server.setupRoutes()
	return server
}

// Events returns the SSE hub
func (s *Server) Events() *sse.Server {
	return s.sseServer
}

func (s *Server) wireEvents() {
	s.deps.Scanner.OnChange(func(snap models.ScannerSnapshot) {
		s.sseServer.Broadcast(sse.Event{Type: "state", Data: snap})
		if snap.State.Phase == models.PhaseSuccess && snap.Product != nil {
			s.sseServer.Broadcast(sse.Event{Type: "resolved", Data: snap.Product})
		}
	})
	s.deps.Choices.OnChange(func(pc *models.PendingChoice) {
		s.sseServer.Broadcast(sse.Event{Type: "choice", Data: ChoiceEvent{Choice: pc}})
	})
	s.deps.Sale.OnChange(func(sum sale.Summary) {
		s.sseServer.Broadcast(sse.Event{Type: "sale", Data: sum})
	})

	// late joiners get the current picture first
	s.sseServer.OnConnect(func() []sse.Event {
		return []sse.Event{
			{Type: "state", Data: s.deps.Scanner.Snapshot()},
			{Type: "choice", Data: ChoiceEvent{Choice: s.deps.Choices.Pending()}},
			{Type: "sale", Data: s.deps.Sale.Summary()},
		}
	})
}

// setupRoutes configures all routes and middleware
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	scannerH := handlers.NewScannerHandler(s.deps.Scanner, s.logger)
	choiceH := handlers.NewChoiceHandler(s.deps.Choices, s.logger)
	saleH := handlers.NewSaleHandler(s.deps.Sale, s.logger)

	rateLimit := s.config.Server.RateLimit
	timeout := middleware.Timeout(60 * time.Second)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.With(timeout).Get("/health", handlers.NewHealthHandler(s.version, s.deps.Health, s.logger).ServeHTTP)

		r.Route("/scanner", func(r chi.Router) {
			// the event stream is long-lived and must not be cut by the timeout
			r.Get("/events", s.sseServer.ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/state", scannerH.State)
				r.Get("/devices", scannerH.Devices)
				r.Get("/choice", choiceH.Get)
				r.Post("/choice", choiceH.Answer)

				r.Group(func(r chi.Router) {
					if rateLimit > 0 {
						r.Use(httprate.LimitByIP(rateLimit, time.Minute))
					}
					r.Post("/open", scannerH.Open)
					r.Post("/close", scannerH.Close)
					r.Post("/switch", scannerH.Switch)
					r.Post("/retry", scannerH.Retry)
					r.Post("/barcodes", scannerH.SubmitBarcode)
				})
			})
		})

		r.Route("/sale", func(r chi.Router) {
			r.Use(timeout)
			r.Get("/", saleH.Get)
			r.Delete("/", saleH.Cancel)
			r.Post("/checkout", saleH.Checkout)
			r.Put("/lines/{lineID}", saleH.UpdateLine)
			r.Delete("/lines/{lineID}", saleH.RemoveLine)
		})

		r.Route("/products", func(r chi.Router) {
			r.Use(timeout)
			r.Post("/search", handlers.NewSearchHandler(s.deps.Search, s.logger).ServeHTTP)
			if s.deps.Catalog != nil {
				productsH := handlers.NewProductsHandler(s.deps.Catalog, s.logger)
				r.Get("/", productsH.List)
				r.Post("/", productsH.Create)
				r.Get("/{productID}", productsH.Get)
				r.Put("/{productID}", productsH.Update)
				r.Delete("/{productID}", productsH.Delete)
			}
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":true,"message":"Not found","code":404}`))
		})
	})

	s.router.Handle("/metrics", promhttp.Handler())

	if s.deps.UI != nil {
		s.router.Handle("/*", s.deps.UI)
	} else {
		s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"name":"TillScan","version":"` + s.version + `","api":"v1"}`))
		})
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// GetRouter returns the chi router
func (s *Server) GetRouter() chi.Router {
	return s.router
}
