package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pixel-embedder/internal/api"
)

// newCtlCmd creates "embedder ctl", the client side of a running serve.
func newCtlCmd() *cobra.Command {
	var apiURL string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running embedder",
		Long:  "Send actions to an embedder started with \"embedder serve\" and print the JSON result.",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api", "", "base URL of the embedder API (default $EMBEDDER_API_URL)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 0,
		"round-trip timeout (default 10s, 75s for start, resume, validate and clear)")

	client := func() *api.Client {
		if apiURL == "" {
			apiURL = loadSettings().APIURL
		}
		if timeout > 0 {
			return api.NewClient(apiURL, &http.Client{Timeout: timeout})
		}
		return api.NewClient(apiURL, nil)
	}

	call := func(action api.Action, data func() any) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			var payload any
			if data != nil {
				payload = data()
			}
			resp, err := client().Do(cmd.Context(), action, payload)
			if err != nil {
				return err
			}
			if !resp.Success {
				return &api.ActionError{Action: action, Message: resp.Error}
			}
			if len(resp.Data) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), resp.Data)
		}
	}

	simple := func(use, short string, action api.Action) *cobra.Command {
		return &cobra.Command{Use: use, Short: short, Args: cobra.NoArgs, RunE: call(action, nil)}
	}

	var validateMode bool
	resume := &cobra.Command{
		Use:   "resume",
		Short: "Resume the saved session",
		Args:  cobra.NoArgs,
		RunE: call(api.ActionResumeEmbedding, func() any {
			return api.ResumeData{ValidateMode: validateMode}
		}),
	}
	resume.Flags().BoolVar(&validateMode, "validate", false, "re-check the saved image and place only what is missing")

	var pixels int
	var credits int
	estimate := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate duration and credit needs for a pixel count",
		Args:  cobra.NoArgs,
	}
	estimate.RunE = call(api.ActionEstimate, func() any {
		d := api.EstimateData{Pixels: pixels}
		if estimate.Flags().Changed("credits") {
			d.Credits = &credits
		}
		return d
	})
	estimate.Flags().IntVar(&pixels, "pixels", 0, "number of pixels to place")
	estimate.Flags().IntVar(&credits, "credits", 0, "available credits (default: balance shown on the page)")

	var deleteID string
	var clearAll bool
	hist := &cobra.Command{
		Use:   "history",
		Short: "List, delete or clear embed history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case deleteID != "" && clearAll:
				return fmt.Errorf("history: --delete and --clear are mutually exclusive")
			case deleteID != "":
				return call(api.ActionDeleteHistoryEntry, func() any {
					return api.HistoryEntryData{ID: deleteID}
				})(cmd, args)
			case clearAll:
				return call(api.ActionClearHistory, nil)(cmd, args)
			}
			return call(api.ActionGetHistory, nil)(cmd, args)
		},
	}
	hist.Flags().StringVar(&deleteID, "delete", "", "delete the entry with this id")
	hist.Flags().BoolVar(&clearAll, "clear", false, "delete every entry")

	cmd.AddCommand(
		simple("status", "Show engine status", api.ActionGetStatus),
		simple("connection", "Check the socket and read the credit balance", api.ActionCheckConnection),
		simple("stop", "Stop the running placement", api.ActionStopEmbedding),
		simple("session", "Show the saved session", api.ActionCheckSession),
		simple("clear", "Stop and discard the saved session", api.ActionClearSession),
		simple("validate", "Re-check the saved image and place what is missing", api.ActionValidateImage),
		resume,
		estimate,
		hist,
	)

	return cmd
}
