package handlers

import (
	"context"
	"net/http"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// ProductSearcher ranks catalog products against a free-text query
type ProductSearcher interface {
	Search(ctx context.Context, query string, limit int) (*models.ProductSearchResponse, error)
}

// SearchHandler handles product search requests
type SearchHandler struct {
	searchEngine ProductSearcher
	logger       logger.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchEngine ProductSearcher, log logger.Logger) *SearchHandler {
	return &SearchHandler{
		searchEngine: searchEngine,
		logger:       log,
	}
}

// ServeHTTP handles search requests
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ProductSearchRequest
	if !decodeOnly(w, r, h.logger, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if err := validate.Struct(req); err != nil {
		h.logger.Debug("search request validation failed", "error", err)
		sendErrorResponse(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("product search requested",
		"query", req.Query,
		"limit", req.Limit,
		"remote_addr", r.RemoteAddr,
	)

	response, err := h.searchEngine.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		h.logger.Error("search failed", err)
		sendDomainError(w, err)
		return
	}

	sendJSON(w, h.logger, http.StatusOK, response)

	h.logger.Info("search completed",
		"query", req.Query,
		"returned", response.Returned,
		"total", response.Total,
	)
}
