package models

import "time"

// Phase is the visible scanner state
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAcquiring        Phase = "acquiring"
	PhaseScanning         Phase = "scanning"
	PhaseResolving        Phase = "resolving"
	PhaseSuccess          Phase = "success"
	PhaseError            Phase = "error"
	PhasePermissionDenied Phase = "permission_denied"
)

// CameraLive reports whether the camera is held in this phase
func (p Phase) CameraLive() bool {
	switch p {
	case PhaseAcquiring, PhaseScanning, PhaseResolving, PhaseSuccess, PhaseError:
		return true
	}
	return false
}

// ScannerState is the single discriminated scanner value.
// Kind is set only for PhaseError and PhasePermissionDenied.
type ScannerState struct {
	Phase Phase     `json:"phase"`
	Kind  ErrorKind `json:"kind,omitempty"`
}

// ScannerSnapshot is the externally visible view of a scanner session
type ScannerSnapshot struct {
	State     ScannerState     `json:"state"`
	Token     uint64           `json:"token"`
	Device    *CameraDevice    `json:"device,omitempty"`
	Barcode   string           `json:"barcode,omitempty"`
	Product   *ResolvedProduct `json:"product,omitempty"`
	Message   string           `json:"message,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// BarcodeSubmitRequest is a barcode handed over by an external scanner app
type BarcodeSubmitRequest struct {
	Barcode string `json:"barcode" validate:"required,min=1,max=128"`
}

// ChoiceRequest answers a pending disambiguation
type ChoiceRequest struct {
	ChoiceID  string `json:"choice_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required_without=Dismiss"`
	Dismiss   bool   `json:"dismiss"`
}

// PendingChoice is a disambiguation awaiting the operator
type PendingChoice struct {
	ID        string    `json:"id"`
	Products  []Product `json:"products"`
	ExpiresAt time.Time `json:"expires_at"`
}
