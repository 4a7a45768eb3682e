package main

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/eduard256/tillscan/internal/camera/decoder"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

func runDecode(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	img, format, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", path, err)
	}

	events, err := decoder.New(0, logger.Discard()).DecodeAll(img)
	if errors.Is(err, decoder.ErrNotFound) {
		fmt.Fprintf(w, "%s (%s, %dx%d): no barcode found\n", path, format, img.Bounds().Dx(), img.Bounds().Dy())
		return nil
	}
	if err != nil {
		return err
	}

	for _, ev := range events {
		fmt.Fprintf(w, "%-10s %s\n", ev.Format, ev.Text)
	}
	return nil
}
