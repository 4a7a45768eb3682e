package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduard256/tillscan/internal/catalog"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// ProductsHandler exposes catalog maintenance for the back office
type ProductsHandler struct {
	catalog catalog.Catalog
	logger  logger.Logger
}

// NewProductsHandler creates a new products handler
func NewProductsHandler(c catalog.Catalog, log logger.Logger) *ProductsHandler {
	return &ProductsHandler{catalog: c, logger: log}
}

func (h *ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.Error("catalog list failed", err)
		sendDomainError(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	sendJSON(w, h.logger, http.StatusOK, products)
}

func (h *ProductsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, p)
}

func (h *ProductsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if !decodeAndValidate(w, r, h.logger, &p) {
		return
	}
	created, err := h.catalog.Create(r.Context(), catalog.Normalize(p))
	if err != nil {
		h.logger.Error("catalog create failed", err, "name", p.Name)
		sendDomainError(w, err)
		return
	}
	h.logger.Info("product created", "id", created.ID, "name", created.Name)
	sendJSON(w, h.logger, http.StatusCreated, created)
}

func (h *ProductsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if !decodeAndValidate(w, r, h.logger, &p) {
		return
	}
	id := chi.URLParam(r, "productID")
	p.ID = id
	updated, err := h.catalog.Update(r.Context(), id, catalog.Normalize(p))
	if err != nil {
		sendDomainError(w, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, updated)
}

func (h *ProductsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	if err := h.catalog.Delete(r.Context(), id); err != nil {
		sendDomainError(w, err)
		return
	}
	h.logger.Info("product deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}
