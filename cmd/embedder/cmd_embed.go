package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"pixel-embedder/internal/engine"
	"pixel-embedder/internal/history"
	"pixel-embedder/internal/platform/logger"
	"pixel-embedder/internal/platform/metrics"
)

// newEmbedCmd creates the "embedder embed" subcommand.
func newEmbedCmd() *cobra.Command {
	var (
		p             placement
		checkExisting bool
		resume        bool
		validate      bool
	)

	cmd := &cobra.Command{
		Use:   "embed [image]",
		Short: "Place an image on the canvas in the foreground",
		Long: "Rasterize an image and place it, blocking until the run ends. Ctrl-C stops\n" +
			"after the in-flight write and keeps the session for --resume.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume && validate {
				return errors.New("embed: --resume and --validate are mutually exclusive")
			}
			if (len(args) == 1) == (resume || validate) {
				return errors.New("embed: give an image, or --resume / --validate without one")
			}

			s := loadSettings()
			log := logger.New(s.LogLevel, s.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, s, log, metrics.New())
			if err != nil {
				return err
			}
			defer st.close()

			switch {
			case resume:
				res, err := st.engine.Resume(ctx)
				if err != nil {
					return fmt.Errorf("embed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resuming session %s: %d pixels queued (%d recovered)\n", res.SessionID, res.Queued, res.Recovered)

			case validate:
				res, err := st.engine.Validate(ctx)
				if err != nil {
					return fmt.Errorf("embed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				if res.MissingPixels == 0 {
					return nil
				}

			default:
				if p.maxDimension <= 0 {
					p.maxDimension = st.tuning.MaxDimension
				}
				pixels, err := rasterizeFile(args[0], p)
				if err != nil {
					return fmt.Errorf("embed: %w", err)
				}
				res, err := st.engine.Start(ctx, engine.StartRequest{
					Pixels:        pixels,
					CheckExisting: checkExisting,
					Image: history.Image{
						Name:     filepath.Base(args[0]),
						X:        p.x,
						Y:        p.y,
						MaxWidth: p.maxDimension,
					},
				})
				if err != nil {
					return fmt.Errorf("embed: %w", err)
				}
				if res.NothingToDo {
					fmt.Fprintf(cmd.OutOrStdout(), "All %d pixels already on the canvas\n", res.Skipped)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Placing %d pixels (%d already present)\n", res.Queued, res.Skipped)
			}

			if err := st.engine.Wait(ctx); err != nil {
				log.Info("stopping after the in-flight write")
				st.engine.Stop()
				if err := st.engine.Wait(context.Background()); err != nil {
					return err
				}
			}

			status := st.engine.Status(context.Background())
			log.Debug("run ended", slog.String("state", status.State.String()))
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}

	p.bind(cmd)
	cmd.Flags().BoolVar(&checkExisting, "check-existing", true, "skip pixels the canvas already shows in the right color")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue the saved session")
	cmd.Flags().BoolVar(&validate, "validate", false, "re-check the saved session's image and place what is missing")

	return cmd
}
