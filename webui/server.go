// Package webui serves the till screen embedded in the binary.
package webui

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduard256/tillscan/internal/utils/logger"
)

//go:embed web
var webFiles embed.FS

// Server represents the Web UI server
type Server struct {
	router chi.Router
	logger logger.Logger
}

// NewServer creates a new Web UI server. It expects to be mounted behind
// the API router, which already carries request logging and recovery.
func NewServer(log logger.Logger) (*Server, error) {
	server := &Server{
		router: chi.NewRouter(),
		logger: log,
	}

	if err := server.setupRoutes(); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *Server) setupRoutes() error {
	webFS, err := fs.Sub(webFiles, "web")
	if err != nil {
		return err
	}

	fileServer := http.FileServer(http.FS(webFS))
	s.router.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// index is never cached
		if r.URL.Path == "/" || r.URL.Path == "/index.html" {
			w.Header().Set("Cache-Control", "no-cache")
		}
		fileServer.ServeHTTP(w, r)
	}))
	return nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
