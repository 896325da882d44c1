package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd creates the root embedder command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embedder",
		Short: "Paint images onto a shared pixel canvas",
		Long: "embedder rasterizes an image and places it pixel by pixel on the canvas,\n" +
			"throttled to the service's limits, with resumable sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newRasterizeCmd(),
		newEmbedCmd(),
		newCtlCmd(),
	)

	return cmd
}
