package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduard256/tillscan/internal/sale"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// SaleService is the open sale
type SaleService interface {
	Summary() sale.Summary
	UpdateQuantity(lineID string, q int) (sale.Line, error)
	Remove(lineID string) error
	Clear()
	Checkout() (sale.Receipt, error)
}

// QuantityRequest sets a line quantity; the upper bound is the sale's cap
type QuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

// SaleHandler handles sale requests
type SaleHandler struct {
	sale   SaleService
	logger logger.Logger
}

// NewSaleHandler creates a new sale handler
func NewSaleHandler(s SaleService, log logger.Logger) *SaleHandler {
	return &SaleHandler{sale: s, logger: log}
}

func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, h.logger, http.StatusOK, h.sale.Summary())
}

func (h *SaleHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if !decodeAndValidate(w, r, h.logger, &req) {
		return
	}

	line, err := h.sale.UpdateQuantity(chi.URLParam(r, "lineID"), req.Quantity)
	if err != nil {
		h.sendSaleError(w, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, line)
}

func (h *SaleHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	if err := h.sale.Remove(chi.URLParam(r, "lineID")); err != nil {
		h.sendSaleError(w, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, h.sale.Summary())
}

// Cancel empties the sale
func (h *SaleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.sale.Clear()
	h.logger.Info("sale cancelled", "remote_addr", r.RemoteAddr)
	sendJSON(w, h.logger, http.StatusOK, h.sale.Summary())
}

func (h *SaleHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.sale.Checkout()
	if err != nil {
		h.sendSaleError(w, err)
		return
	}
	sendJSON(w, h.logger, http.StatusCreated, receipt)
}

func (h *SaleHandler) sendSaleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sale.ErrLineNotFound):
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, sale.ErrInvalidQuantity):
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, sale.ErrEmptySale):
		sendErrorResponse(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("sale operation failed", err)
		sendErrorResponse(w, "Sale operation failed", http.StatusInternalServerError)
	}
}
