package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pion/mediadevices/pkg/driver"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers platform cameras
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// PionBackend opens local cameras through pion/mediadevices drivers
type PionBackend struct {
	width  int
	height int
	logger logger.Logger
}

// NewPionBackend creates a backend asking for frames close to width x height
func NewPionBackend(width, height int, log logger.Logger) *PionBackend {
	return &PionBackend{width: width, height: height, logger: log}
}

// RequestAccess checks that the camera subsystem can be queried. Local
// drivers have no prompt; permission problems surface on Open.
func (b *PionBackend) RequestAccess(ctx context.Context) error {
	return ctx.Err()
}

// VideoInputs lists registered video recorders
func (b *PionBackend) VideoInputs(ctx context.Context) ([]models.CameraDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	drivers := driver.GetManager().Query(driver.FilterVideoRecorder())

	devices := make([]models.CameraDevice, 0, len(drivers))
	for _, d := range drivers {
		info := d.Info()
		label := info.Label
		if info.Name != "" {
			label = info.Name
		}
		devices = append(devices, models.CameraDevice{
			ID:     d.ID(),
			Label:  label,
			Facing: FacingFromLabel(label),
		})
	}
	return devices, nil
}

// Open starts recording from dev
func (b *PionBackend) Open(ctx context.Context, dev models.CameraDevice) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var d driver.Driver
	for _, cand := range driver.GetManager().Query(driver.FilterVideoRecorder()) {
		if cand.ID() == dev.ID {
			d = cand
			break
		}
	}
	if d == nil {
		return nil, fmt.Errorf("%w: device %s disappeared", models.ErrNoDeviceFound, dev.ID)
	}
	if d.Status() == driver.StateOpened || d.Status() == driver.StateRunning {
		return nil, models.ErrDeviceInUse
	}

	if err := d.Open(); err != nil {
		return nil, classifyOpenError(err)
	}

	recorder, ok := d.(driver.VideoRecorder)
	if !ok {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %s is not a video recorder", models.ErrDeviceInUse, dev.Label)
	}

	reader, err := recorder.VideoRecord(b.pickProperty(d.Properties()))
	if err != nil {
		_ = d.Close()
		return nil, classifyOpenError(err)
	}

	s := &pionStream{
		dev:    dev,
		driver: d,
		frames: make(chan image.Image, 1),
		stop:   make(chan struct{}),
		logger: b.logger,
	}
	s.live.Store(true)
	go s.pump(reader)

	return s, nil
}

// pickProperty chooses the advertised mode closest to the requested size
func (b *PionBackend) pickProperty(props []prop.Media) prop.Media {
	want := prop.Media{Video: prop.Video{Width: b.width, Height: b.height}}
	if len(props) == 0 {
		return want
	}
	best := props[0]
	bestScore := -1
	for _, p := range props {
		dw := p.Width - b.width
		dh := p.Height - b.height
		score := dw*dw + dh*dh
		if bestScore < 0 || score < bestScore {
			best, bestScore = p, score
		}
	}
	return best
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %v", models.ErrDeviceInUse, err)
	}
	return fmt.Errorf("%w: %v", models.ErrDeviceInUse, err)
}

type frameReader interface {
	Read() (image.Image, func(), error)
}

type pionStream struct {
	dev    models.CameraDevice
	driver driver.Driver
	frames chan image.Image
	stop   chan struct{}
	logger logger.Logger

	once sync.Once
	live atomic.Bool
}

func (s *pionStream) Device() models.CameraDevice { return s.dev }

func (s *pionStream) Frames() <-chan image.Image { return s.frames }

func (s *pionStream) Live() bool { return s.live.Load() }

func (s *pionStream) Stop() {
	s.once.Do(func() {
		s.live.Store(false)
		close(s.stop)
		if err := s.driver.Close(); err != nil {
			s.logger.Warn("camera close failed", "device", s.dev.Label, "error", err)
		}
	})
}

// pump copies frames out of the driver buffer and drops them when the
// decoder is busy.
func (s *pionStream) pump(r frameReader) {
	defer close(s.frames)
	for {
		img, release, err := r.Read()
		if err != nil {
			select {
			case <-s.stop:
			default:
				s.logger.Warn("camera read failed", "device", s.dev.Label, "error", err)
			}
			return
		}

		frame := cloneFrame(img)
		if release != nil {
			release()
		}

		select {
		case <-s.stop:
			return
		case s.frames <- frame:
		default:
		}
	}
}

// cloneFrame copies img into an RGBA buffer owned by the caller
func cloneFrame(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
