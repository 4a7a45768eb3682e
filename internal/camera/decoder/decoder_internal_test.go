package decoder

import (
	"bytes"
	"image"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

type checksumReader struct{}

func (checksumReader) DecodeWithoutHints(*gozxing.BinaryBitmap) (*gozxing.Result, error) {
	return nil, gozxing.NewChecksumException()
}

func (checksumReader) Decode(*gozxing.BinaryBitmap, map[gozxing.DecodeHintType]interface{}) (*gozxing.Result, error) {
	return nil, gozxing.NewChecksumException()
}

func (checksumReader) Reset() {}

func TestFrameDecodeErrorIsLoggedAtWarnAndSampled(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	d := New(0, log)
	d.readers = []gozxing.Reader{checksumReader{}}

	frame := image.NewGray(image.Rect(0, 0, 32, 32))
	_, err := d.DecodeImage(frame)
	require.ErrorIs(t, err, models.ErrDecode)

	limiter := rate.NewLimiter(rate.Inf, 1)
	h := &handle{stop: make(chan struct{}), done: make(chan struct{})}
	called := false
	for i := 0; i < 5; i++ {
		d.handleFrame(frame, limiter, h, func(models.DecodeEvent) { called = true })
	}

	assert.False(t, called)
	assert.Equal(t, 1, strings.Count(buf.String(), "frame decode failed"))
	assert.Contains(t, buf.String(), "level=WARN")

	d.errLog = rate.NewLimiter(rate.Every(time.Nanosecond), 1)
	d.handleFrame(frame, limiter, h, func(models.DecodeEvent) {})
	assert.Equal(t, 2, strings.Count(buf.String(), "frame decode failed"))
}
