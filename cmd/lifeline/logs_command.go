package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lifeline/internal/api"
	"lifeline/internal/ipc"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.LogTail(limit)
				if err != nil {
					return fmt.Errorf("tail logs: %w", err)
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				if len(resp.Records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No log entries available")
					return nil
				}
				for _, record := range resp.Records {
					fmt.Fprintln(cmd.OutOrStdout(), formatLogRecord(record))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "lines", "n", 50, "Number of records to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit records as JSON")
	return cmd
}

func formatLogRecord(record api.LogRecord) string {
	ts := record.Time
	if parsed, err := time.Parse(time.RFC3339, record.Time); err == nil {
		ts = parsed.Local().Format("2006-01-02 15:04:05")
	}
	level := strings.ToUpper(strings.TrimSpace(record.Level))
	if level == "" {
		level = "INFO"
	}

	parts := []string{ts, level}
	if component := strings.TrimSpace(record.Component); component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", component))
	}
	line := strings.Join(parts, " ")
	if message := strings.TrimSpace(record.Message); message != "" {
		line += " " + message
	}
	if len(record.Attrs) == 0 {
		return line
	}

	keys := make([]string, 0, len(record.Attrs))
	for key := range record.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	builder := strings.Builder{}
	builder.WriteString(line)
	for _, key := range keys {
		builder.WriteString(" ")
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(record.Attrs[key])
	}
	return builder.String()
}
