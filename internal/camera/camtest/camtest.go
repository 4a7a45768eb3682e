// Package camtest provides in-memory camera and decoder fakes for tests.
package camtest

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/eduard256/tillscan/internal/camera/decoder"
	"github.com/eduard256/tillscan/internal/camera/device"
	"github.com/eduard256/tillscan/internal/models"
)

// Backend is a scriptable device.Backend that tracks live streams
type Backend struct {
	mu        sync.Mutex
	devices   []models.CameraDevice
	accessErr error
	openErr   map[string]error
	openDelay time.Duration
	streams   []*Stream
	opens     int
}

// NewBackend creates a fake backend exposing devices
func NewBackend(devices ...models.CameraDevice) *Backend {
	return &Backend{devices: devices, openErr: make(map[string]error)}
}

// DenyAccess makes RequestAccess fail with err
func (b *Backend) DenyAccess(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessErr = err
}

// FailOpen makes opening the device with id fail with err
func (b *Backend) FailOpen(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr[id] = err
}

// SetOpenDelay slows every Open down by d
func (b *Backend) SetOpenDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openDelay = d
}

func (b *Backend) RequestAccess(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessErr
}

func (b *Backend) VideoInputs(ctx context.Context) ([]models.CameraDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.CameraDevice, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

func (b *Backend) Open(ctx context.Context, dev models.CameraDevice) (device.Stream, error) {
	b.mu.Lock()
	delay := b.openDelay
	err := b.openErr[dev.ID]
	b.opens++
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s := NewStream(dev)
	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()
	return s, nil
}

// LiveStreams returns the streams that have not been stopped
func (b *Backend) LiveStreams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	var live []*Stream
	for _, s := range b.streams {
		if s.Live() {
			live = append(live, s)
		}
	}
	return live
}

// LiveFor counts live streams bound to device id
func (b *Backend) LiveFor(id string) int {
	n := 0
	for _, s := range b.LiveStreams() {
		if s.Device().ID == id {
			n++
		}
	}
	return n
}

// Opens returns how many times Open was called
func (b *Backend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Stream is a fake device.Stream
type Stream struct {
	dev    models.CameraDevice
	frames chan image.Image

	mu    sync.Mutex
	live  bool
	stops int
}

// NewStream creates a live fake stream
func NewStream(dev models.CameraDevice) *Stream {
	return &Stream{dev: dev, frames: make(chan image.Image, 4), live: true}
}

func (s *Stream) Device() models.CameraDevice { return s.dev }

func (s *Stream) Frames() <-chan image.Image { return s.frames }

func (s *Stream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.live {
		s.live = false
		close(s.frames)
	}
}

// Push offers a frame to the stream consumer. It reports false when the
// stream is stopped or the buffer is full.
func (s *Stream) Push(img image.Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return false
	}
	select {
	case s.frames <- img:
		return true
	default:
		return false
	}
}

// Stops returns how many times Stop was called
func (s *Stream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Decoder is a fake frame decoder whose detections are injected by Emit
type Decoder struct {
	mu       sync.Mutex
	attached *handle
	attaches int
}

// NewDecoder creates a fake decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Attach binds onDetect to stream until the handle is stopped
func (d *Decoder) Attach(stream device.Stream, onDetect func(models.DecodeEvent)) decoder.Handle {
	h := &handle{onDetect: onDetect, done: make(chan struct{})}
	d.mu.Lock()
	d.attached = h
	d.attaches++
	d.mu.Unlock()
	return h
}

// Emit delivers a detection to the attached handle. It reports false when
// no live handle is attached.
func (d *Decoder) Emit(text string) bool {
	d.mu.Lock()
	h := d.attached
	d.mu.Unlock()
	if h == nil {
		return false
	}
	return h.emit(models.DecodeEvent{Text: text, Format: "EAN_13", Timestamp: time.Now()})
}

// Active reports whether a handle is attached and running
func (d *Decoder) Active() bool {
	d.mu.Lock()
	h := d.attached
	d.mu.Unlock()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Attaches returns how many handles were created
func (d *Decoder) Attaches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attaches
}

type handle struct {
	mu       sync.Mutex
	onDetect func(models.DecodeEvent)
	done     chan struct{}
	stopped  bool
}

func (h *handle) emit(ev models.DecodeEvent) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	fn := h.onDetect
	h.mu.Unlock()
	fn(ev)
	return true
}

func (h *handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
}

func (h *handle) Done() <-chan struct{} { return h.done }
