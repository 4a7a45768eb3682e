package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	// Version is the application version
	Version = "1.0.0"

	// Banner is the application banner
	Banner = `
████████╗██╗██╗     ██╗     ███████╗ ██████╗ █████╗ ███╗   ██╗
╚══██╔══╝██║██║     ██║     ██╔════╝██╔════╝██╔══██╗████╗  ██║
   ██║   ██║██║     ██║     ███████╗██║     ███████║██╔██╗ ██║
   ██║   ██║██║     ██║     ╚════██║██║     ██╔══██║██║╚██╗██║
   ██║   ██║███████╗███████╗███████║╚██████╗██║  ██║██║ ╚████║
   ╚═╝   ╚═╝╚══════╝╚══════╝╚══════╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═══╝

Point-of-Sale Barcode Capture
Version: %s
`
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "tillscan",
		Short:        "Camera barcode scanning for the till",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./tillscan.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the till server (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List cameras and the one the scanner would pick",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDevices(cmd.Context(), cmd.OutOrStdout(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "decode <image>",
			Short: "Decode every barcode in a PNG or JPEG file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDecode(cmd.OutOrStdout(), args[0])
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "tillscan %s\n", Version)
			},
		},
	)

	return root
}
