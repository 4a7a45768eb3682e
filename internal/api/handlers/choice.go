package handlers

import (
	"errors"
	"net/http"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/resolve"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// ChoiceService answers pending product disambiguations
type ChoiceService interface {
	Pending() *models.PendingChoice
	Select(choiceID, productID string) error
	Dismiss(choiceID string) error
}

// ChoiceHandler handles disambiguation requests
type ChoiceHandler struct {
	choices ChoiceService
	logger  logger.Logger
}

// NewChoiceHandler creates a new choice handler
func NewChoiceHandler(c ChoiceService, log logger.Logger) *ChoiceHandler {
	return &ChoiceHandler{choices: c, logger: log}
}

// Get returns the open choice
func (h *ChoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	pc := h.choices.Pending()
	if pc == nil {
		sendErrorResponse(w, "No pending choice", http.StatusNotFound)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, pc)
}

// Answer selects a candidate or dismisses the choice
func (h *ChoiceHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req models.ChoiceRequest
	if !decodeAndValidate(w, r, h.logger, &req) {
		return
	}

	var err error
	if req.Dismiss {
		err = h.choices.Dismiss(req.ChoiceID)
	} else {
		err = h.choices.Select(req.ChoiceID, req.ProductID)
	}

	switch {
	case errors.Is(err, resolve.ErrNoPendingChoice):
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, resolve.ErrInvalidSelection):
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		h.logger.Error("choice answer failed", err, "choice_id", req.ChoiceID)
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
	default:
		h.logger.Info("choice answered", "choice_id", req.ChoiceID, "product_id", req.ProductID, "dismiss", req.Dismiss)
		w.WriteHeader(http.StatusNoContent)
	}
}
