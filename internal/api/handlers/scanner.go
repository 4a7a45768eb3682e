package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/scan/scanner"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// ScannerService is the scanner lifecycle as seen by the API
type ScannerService interface {
	Snapshot() models.ScannerSnapshot
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Switch(ctx context.Context) error
	Retry(ctx context.Context) error
	Devices(ctx context.Context) (models.DeviceListResponse, error)
	Submit(ctx context.Context, barcode string) (bool, error)
}

// SubmitResponse reports whether a handed-off barcode was accepted
type SubmitResponse struct {
	Accepted bool                   `json:"accepted"`
	Barcode  string                 `json:"barcode"`
	State    models.ScannerSnapshot `json:"state"`
}

// ScannerHandler handles scanner lifecycle requests
type ScannerHandler struct {
	scanner ScannerService
	logger  logger.Logger
}

// NewScannerHandler creates a new scanner handler
func NewScannerHandler(s ScannerService, log logger.Logger) *ScannerHandler {
	return &ScannerHandler{scanner: s, logger: log}
}

// State returns the current snapshot
func (h *ScannerHandler) State(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, h.logger, http.StatusOK, h.scanner.Snapshot())
}

// Open starts a session. Acquisition is asynchronous; follow the events stream.
func (h *ScannerHandler) Open(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "open", h.scanner.Open, http.StatusAccepted)
}

// Close ends the session
func (h *ScannerHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "close", h.scanner.Close, http.StatusOK)
}

// Switch moves to the next camera
func (h *ScannerHandler) Switch(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "switch", h.scanner.Switch, http.StatusAccepted)
}

// Retry closes and reopens the session
func (h *ScannerHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "retry", h.scanner.Retry, http.StatusAccepted)
}

func (h *ScannerHandler) command(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) error, status int) {
	h.logger.Info("scanner command", "command", name, "remote_addr", r.RemoteAddr)
	if err := fn(r.Context()); err != nil {
		h.sendScannerError(w, name, err)
		return
	}
	sendJSON(w, h.logger, status, h.scanner.Snapshot())
}

// Devices lists the cameras of the current session
func (h *ScannerHandler) Devices(w http.ResponseWriter, r *http.Request) {
	list, err := h.scanner.Devices(r.Context())
	if err != nil {
		h.sendScannerError(w, "devices", err)
		return
	}
	if list.Devices == nil {
		list.Devices = []models.CameraDevice{}
	}
	sendJSON(w, h.logger, http.StatusOK, list)
}

// SubmitBarcode hands a barcode from an external scanner to the session
func (h *ScannerHandler) SubmitBarcode(w http.ResponseWriter, r *http.Request) {
	var req models.BarcodeSubmitRequest
	if !decodeAndValidate(w, r, h.logger, &req) {
		return
	}

	code := models.SanitizeBarcode(req.Barcode)
	if code == "" {
		sendErrorResponse(w, "Barcode is empty after sanitizing", http.StatusBadRequest)
		return
	}

	accepted, err := h.scanner.Submit(r.Context(), code)
	if err != nil {
		h.sendScannerError(w, "submit", err)
		return
	}

	h.logger.Info("external barcode submitted", "barcode", code, "accepted", accepted)
	sendJSON(w, h.logger, http.StatusOK, SubmitResponse{
		Accepted: accepted,
		Barcode:  code,
		State:    h.scanner.Snapshot(),
	})
}

func (h *ScannerHandler) sendScannerError(w http.ResponseWriter, command string, err error) {
	switch {
	case errors.Is(err, scanner.ErrNotScanning):
		sendErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, scanner.ErrNotRunning):
		sendErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sendErrorResponse(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		h.logger.Error("scanner command failed", err, "command", command)
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}
