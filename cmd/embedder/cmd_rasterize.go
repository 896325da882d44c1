package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/platform/config"
	"pixel-embedder/internal/raster"
)

// placement is the image anchor shared by rasterize and embed.
type placement struct {
	x, y         int
	maxDimension int
}

func (p *placement) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.x, "x", 0, "canvas x of the image's top-left corner")
	cmd.Flags().IntVar(&p.y, "y", 0, "canvas y of the image's top-left corner")
	cmd.Flags().IntVar(&p.maxDimension, "max-dimension", 0, "fit the image into this many pixels on its larger side (default from the engine config)")
}

// rasterizeFile decodes the image at path into writes anchored at p.
func rasterizeFile(path string, p placement) ([]canvas.PixelWrite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	img, err := raster.Decode(f)
	if err != nil {
		return nil, err
	}
	return raster.RasterizeImage(img, p.x, p.y, p.maxDimension), nil
}

// newRasterizeCmd creates the "embedder rasterize" subcommand.
func newRasterizeCmd() *cobra.Command {
	var (
		p        placement
		estimate bool
		credits  int
		out      string
	)

	cmd := &cobra.Command{
		Use:   "rasterize <image>",
		Short: "Convert an image into pixel writes",
		Long: "Decode an image, fit it to the maximum dimension and print the resulting\n" +
			"pixel writes as JSON. With --estimate, print the run estimate instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tuning, err := config.LoadEngine(loadSettings().ConfigPath)
			if err != nil {
				return err
			}
			if p.maxDimension <= 0 {
				p.maxDimension = tuning.MaxDimension
			}

			pixels, err := rasterizeFile(args[0], p)
			if err != nil {
				return fmt.Errorf("rasterize: %w", err)
			}

			var result any = pixels
			if estimate {
				var c *int
				if cmd.Flags().Changed("credits") {
					c = &credits
				}
				result = raster.Estimate(len(pixels), tuning.UniversalDelay(), c)
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("rasterize: %w", err)
				}
				defer f.Close()
				w = f
			}
			return writeJSON(w, result)
		},
	}

	p.bind(cmd)
	cmd.Flags().BoolVar(&estimate, "estimate", false, "print pixel count, duration and credit sufficiency instead of the writes")
	cmd.Flags().IntVar(&credits, "credits", 0, "available credits to compare against (with --estimate)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result to a file instead of stdout")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
