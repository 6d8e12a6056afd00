package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lifeline/internal/ipc"
)

func newObserveCommand(ctx *commandContext) *cobra.Command {
	observeCmd := &cobra.Command{
		Use:   "observe",
		Short: "Submit observations into the pipeline",
	}
	observeCmd.AddCommand(newObserveSubmitCommand(ctx))
	return observeCmd
}

func newObserveSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		source     string
		capturedAt string
		latitude   float64
		longitude  float64
		mediaType  string
		sizeBytes  int64
		signals    []string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish one observation to the observations channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSignals(signals)
			if err != nil {
				return err
			}
			req := ipc.ObservationRequest{
				Source:     source,
				CapturedAt: capturedAt,
				Latitude:   latitude,
				Longitude:  longitude,
				MediaType:  mediaType,
				SizeBytes:  sizeBytes,
				Signals:    parsed,
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Observe(req)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Observation %s accepted on channel %s\n", resp.ID, resp.Channel)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Observation source identifier (required)")
	cmd.Flags().StringVar(&capturedAt, "captured-at", "", "Capture timestamp, RFC3339 (defaults to now)")
	cmd.Flags().Float64Var(&latitude, "lat", 0, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&longitude, "lon", 0, "Longitude in decimal degrees")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media type of the attached capture")
	cmd.Flags().Int64Var(&sizeBytes, "size", 0, "Attached capture size in bytes")
	cmd.Flags().StringArrayVarP(&signals, "signal", "s", nil, "Signal as name=strength, repeatable (e.g. -s smoke=0.8)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the acknowledgement as JSON")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func parseSignals(raw []string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	signals := make(map[string]float64, len(raw))
	for _, entry := range raw {
		name, value, found := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid signal %q, expected name=strength", entry)
		}
		strength, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid signal strength in %q: %w", entry, err)
		}
		signals[name] = strength
	}
	return signals, nil
}
