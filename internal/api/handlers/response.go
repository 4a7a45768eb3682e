package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// validate is shared by all handlers; validator caches struct metadata
var validate = validator.New()

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
}

func sendJSON(w http.ResponseWriter, log logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", err)
	}
}

// sendErrorResponse sends an error response
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: true, Message: message, Code: statusCode})
}

// sendDomainError maps a classified error to its HTTP status
func sendDomainError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case models.KindProductNotFound:
		status = http.StatusNotFound
	case models.KindCatalogUnavailable, models.KindGenerativeFailed:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := ErrorResponse{Error: true, Message: err.Error(), Code: status}
	if kind != models.KindUnknown {
		resp.Kind = string(kind)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// decodeOnly reads a JSON body into v, writing the 400 response on failure
func decodeOnly(w http.ResponseWriter, r *http.Request, log logger.Logger, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Debug("failed to decode request", "path", r.URL.Path, "error", err)
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// decodeAndValidate reads a JSON body into v and checks its struct tags.
// It writes the 400 response itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, log logger.Logger, v any) bool {
	if !decodeOnly(w, r, log, v) {
		return false
	}
	if err := validate.Struct(v); err != nil {
		log.Debug("request validation failed", "path", r.URL.Path, "error", err)
		sendErrorResponse(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
