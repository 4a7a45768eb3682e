package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// ErrStale is returned by Acquire when the session that asked for a stream
// ended while the device was opening.
var ErrStale = errors.New("acquisition superseded")

// Stream is an exclusively owned live camera feed
type Stream interface {
	Device() models.CameraDevice
	// Frames is closed once the stream is stopped.
	Frames() <-chan image.Image
	// Stop releases the underlying tracks. Safe to call more than once.
	Stop()
	Live() bool
}

// Backend is the platform camera layer
type Backend interface {
	RequestAccess(ctx context.Context) error
	VideoInputs(ctx context.Context) ([]models.CameraDevice, error)
	Open(ctx context.Context, dev models.CameraDevice) (Stream, error)
}

// Acquirer owns at most one live stream at a time
type Acquirer struct {
	backend  Backend
	keywords []string
	logger   logger.Logger

	opening sync.Mutex // serializes Open calls on the backend

	mu      sync.Mutex
	current Stream
	gen     uint64
}

// NewAcquirer creates a new device acquirer. keywords mark the preferred
// (rear) camera by label substring.
func NewAcquirer(backend Backend, keywords []string, log logger.Logger) *Acquirer {
	if len(keywords) == 0 {
		keywords = []string{"back", "environment"}
	}
	return &Acquirer{
		backend:  backend,
		keywords: keywords,
		logger:   log,
	}
}

// RequestPermissionAndListDevices asks for camera access and enumerates video inputs
func (a *Acquirer) RequestPermissionAndListDevices(ctx context.Context) ([]models.CameraDevice, error) {
	if err := a.backend.RequestAccess(ctx); err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}

	devices, err := a.backend.VideoInputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNoDeviceFound, err)
	}
	if len(devices) == 0 {
		return nil, models.ErrNoDeviceFound
	}

	for i := range devices {
		if devices[i].Facing == "" {
			devices[i].Facing = FacingFromLabel(devices[i].Label)
		}
	}

	a.logger.Debug("video inputs enumerated", "count", len(devices))
	return devices, nil
}

// Preferred applies the acquirer's keyword policy to devices
func (a *Acquirer) Preferred(devices []models.CameraDevice) (models.CameraDevice, bool) {
	return SelectPreferred(devices, a.keywords)
}

// Generation returns the current acquisition generation. Pass it to Acquire.
func (a *Acquirer) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// Acquire stops the currently held stream and opens dev. If Release was
// called after gen was read, the new stream is stopped and ErrStale returned.
func (a *Acquirer) Acquire(ctx context.Context, dev models.CameraDevice, gen uint64) (Stream, error) {
	a.opening.Lock()
	defer a.opening.Unlock()

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return nil, ErrStale
	}
	prev := a.current
	a.current = nil
	a.mu.Unlock()

	// Old tracks must be gone before the device is reopened.
	if prev != nil {
		prev.Stop()
	}

	stream, err := a.backend.Open(ctx, dev)
	if err != nil {
		a.logger.Warn("failed to open camera", "device", dev.Label, "error", err)
		if errors.Is(err, models.ErrPermissionDenied) || errors.Is(err, models.ErrDeviceInUse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrDeviceInUse, err)
	}

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		stream.Stop()
		return nil, ErrStale
	}
	a.current = stream
	a.mu.Unlock()

	a.logger.Info("camera acquired", "device", dev.Label, "id", dev.ID)
	return stream, nil
}

// Release stops the held stream and invalidates in-progress acquisitions.
// It does not wait for an Open that is still running.
func (a *Acquirer) Release() {
	a.mu.Lock()
	a.gen++
	cur := a.current
	a.current = nil
	a.mu.Unlock()

	if cur != nil {
		cur.Stop()
		a.logger.Debug("camera released", "device", cur.Device().Label)
	}
}

// Current returns the held stream, if any
func (a *Acquirer) Current() Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// SelectPreferred picks the first device whose label contains one of the
// keywords (case-insensitive), falling back to the first device.
func SelectPreferred(devices []models.CameraDevice, keywords []string) (models.CameraDevice, bool) {
	if len(devices) == 0 {
		return models.CameraDevice{}, false
	}
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(label, strings.ToLower(kw)) {
				return d, true
			}
		}
	}
	return devices[0], true
}

// NextDevice returns the device after current, wrapping around. With fewer
// than two devices current is returned unchanged.
func NextDevice(current models.CameraDevice, devices []models.CameraDevice) models.CameraDevice {
	if len(devices) < 2 {
		return current
	}
	for i, d := range devices {
		if d.ID == current.ID {
			return devices[(i+1)%len(devices)]
		}
	}
	return devices[0]
}

// FacingFromLabel guesses the lens direction from a device label
func FacingFromLabel(label string) models.Facing {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "back"), strings.Contains(l, "environment"), strings.Contains(l, "rear"):
		return models.FacingBack
	case strings.Contains(l, "front"), strings.Contains(l, "user"), strings.Contains(l, "facetime"):
		return models.FacingFront
	}
	return models.FacingUnknown
}
