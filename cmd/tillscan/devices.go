package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/eduard256/tillscan/internal/camera/device"
	"github.com/eduard256/tillscan/internal/config"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

func runDevices(ctx context.Context, w io.Writer, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := logger.NewAdapter(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	backend := device.NewPionBackend(cfg.Scanner.FrameWidth, cfg.Scanner.FrameHeight, log)
	acq := device.NewAcquirer(backend, cfg.Scanner.PreferredKeywords, log)

	devices, err := acq.RequestPermissionAndListDevices(ctx)
	if err != nil {
		return err
	}
	preferred, _ := acq.Preferred(devices)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tLABEL\tFACING")
	for _, d := range devices {
		mark := ""
		if d.ID == preferred.ID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, d.ID, d.Label, d.Facing)
	}
	return tw.Flush()
}
