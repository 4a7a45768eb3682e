package decoder

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"golang.org/x/time/rate"

	"github.com/eduard256/tillscan/internal/camera/device"
	"github.com/eduard256/tillscan/internal/metrics"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// ErrNotFound means the frame contained no readable barcode
var ErrNotFound = errors.New("no barcode in frame")

// Handle controls a running decode loop
type Handle interface {
	// Stop ends decoding. Idempotent, never blocks, safe after the stream
	// itself was stopped.
	Stop()
	Done() <-chan struct{}
}

// Formats decoded by default
var Formats = []gozxing.BarcodeFormat{
	gozxing.BarcodeFormat_EAN_13,
	gozxing.BarcodeFormat_EAN_8,
	gozxing.BarcodeFormat_UPC_A,
	gozxing.BarcodeFormat_UPC_E,
	gozxing.BarcodeFormat_CODE_128,
	gozxing.BarcodeFormat_CODE_39,
	gozxing.BarcodeFormat_ITF,
	gozxing.BarcodeFormat_QR_CODE,
}

// Decoder analyzes frames for barcodes. Readers and hints are built once.
type Decoder struct {
	mu          sync.Mutex // gozxing readers keep per-decode buffers
	readers     []gozxing.Reader
	hints       map[gozxing.DecodeHintType]interface{}
	minInterval time.Duration
	logger      logger.Logger
	errLog      *rate.Limiter
}

// New creates a decoder. minInterval bounds how often detections are emitted
// while a code stays in view; zero disables the bound.
func New(minInterval time.Duration, log logger.Logger) *Decoder {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: Formats,
		gozxing.DecodeHintType_TRY_HARDER:       true,
	}
	return &Decoder{
		readers: []gozxing.Reader{
			// one reader for the UPC/EAN family; it reports a leading-zero
			// EAN-13 as its 12-digit UPC-A
			oned.NewMultiFormatUPCEANReader(hints),
			oned.NewCode128Reader(),
			oned.NewCode39Reader(),
			oned.NewITFReader(),
			qrcode.NewQRCodeReader(),
		},
		hints:       hints,
		minInterval: minInterval,
		logger:      log,
		errLog:      rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// DecodeImage runs the readers over img and returns the first hit. It
// returns ErrNotFound when nothing was read and a models.ErrDecode wrapped
// error on other failures.
func (d *Decoder) DecodeImage(img image.Image) (models.DecodeEvent, error) {
	events, err := d.decode(img, false)
	if err != nil {
		return models.DecodeEvent{}, err
	}
	return events[0], nil
}

// DecodeAll runs every reader over img and returns each distinct result
func (d *Decoder) DecodeAll(img image.Image) ([]models.DecodeEvent, error) {
	return d.decode(img, true)
}

func (d *Decoder) decode(img image.Image, all bool) ([]models.DecodeEvent, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var events []models.DecodeEvent
	seen := make(map[string]bool)
	var lastErr error
	for _, r := range d.readers {
		res, err := r.Decode(bmp, d.hints)
		r.Reset()
		if err == nil && res != nil {
			ev := models.DecodeEvent{
				Text:      res.GetText(),
				Format:    res.GetBarcodeFormat().String(),
				Timestamp: time.Now(),
			}
			if key := ev.Format + "/" + ev.Text; !seen[key] {
				seen[key] = true
				events = append(events, ev)
			}
			if !all {
				return events, nil
			}
			continue
		}
		var nf gozxing.NotFoundException
		if err != nil && !errors.As(err, &nf) {
			lastErr = err
		}
	}

	if len(events) > 0 {
		return events, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, lastErr)
	}
	return nil, ErrNotFound
}

// Attach starts decoding frames from stream and calls onDetect for every
// detection. onDetect runs on the decode goroutine.
func (d *Decoder) Attach(stream device.Stream, onDetect func(models.DecodeEvent)) Handle {
	h := &handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	limit := rate.Inf
	if d.minInterval > 0 {
		limit = rate.Every(d.minInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	go func() {
		defer close(h.done)
		frames := stream.Frames()
		for {
			select {
			case <-h.stop:
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				d.handleFrame(frame, limiter, h, onDetect)
			}
		}
	}()

	return h
}

func (d *Decoder) handleFrame(frame image.Image, limiter *rate.Limiter, h *handle, onDetect func(models.DecodeEvent)) {
	ev, err := d.DecodeImage(frame)
	switch {
	case errors.Is(err, ErrNotFound):
		return
	case err != nil:
		metrics.DecodeTotal.WithLabelValues("error").Inc()
		if d.errLog.Allow() {
			d.logger.Warn("frame decode failed", "error", err)
		}
		return
	}

	metrics.DecodeTotal.WithLabelValues("hit").Inc()
	if !limiter.Allow() {
		return
	}
	if h.stopped() {
		return
	}

	metrics.DetectionsTotal.WithLabelValues(ev.Format).Inc()
	onDetect(ev)
}

type handle struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (h *handle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}
