package models

import "time"

// Facing is the lens direction hint of a camera
type Facing string

const (
	FacingFront   Facing = "front"
	FacingBack    Facing = "back"
	FacingUnknown Facing = "unknown"
)

// CameraDevice represents an enumerated video input
type CameraDevice struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing"`
}

// DecodeEvent is a barcode detected in a video frame
type DecodeEvent struct {
	Text      string    `json:"text"`
	Format    string    `json:"format"` // EAN_13, UPC_A, CODE_128, QR_CODE, ...
	Timestamp time.Time `json:"timestamp"`
}

// DeviceListResponse represents the response for camera enumeration
type DeviceListResponse struct {
	Devices   []CameraDevice `json:"devices"`
	Preferred string         `json:"preferred,omitempty"`
	Current   string         `json:"current,omitempty"`
}
