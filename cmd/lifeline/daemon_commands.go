package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lifeline/internal/api"
	"lifeline/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the lifeline daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the lifeline daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			} else {
				fmt.Fprintln(stdout, "Stopping pipeline...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the lifeline daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Start.Message) != "" {
					fmt.Fprintln(stdout, result.Start.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline, queue, and ledger status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snapshot)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range snapshot.SystemChecks {
				fmt.Fprintln(stdout, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
			}
			for _, line := range stageHealthLines(snapshot, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Workers", colorize) {
				fmt.Fprintln(stdout, line)
			}
			switch {
			case !snapshot.Connected:
				fmt.Fprintln(stdout, "Daemon not running; worker status unavailable")
			case len(snapshot.Status.Pipeline.Workers) == 0:
				fmt.Fprintln(stdout, "No workers supervised")
			default:
				table := renderTable(
					[]string{"Worker", "State", "Restarts", "Processed", "Failures", "Success"},
					buildWorkerRows(snapshot.Status.Pipeline.Workers),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				)
				fmt.Fprintln(stdout, table)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Queue Channels", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildChannelRows(snapshot.Status.Pipeline.Channels)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
			} else {
				table := renderTable(
					[]string{"Channel", "Ready", "Leased", "Dead", "Depth"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				)
				fmt.Fprintln(stdout, table)
			}

			if snapshot.Connected {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Ledger", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range ledgerSummaryLines(snapshot.Status.Pipeline.Ledger) {
					fmt.Fprintln(stdout, line)
				}
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit status as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func stageHealthLines(snapshot *daemonctl.Snapshot, colorize bool) []string {
	if !snapshot.Connected {
		return nil
	}
	lines := make([]string, 0, len(snapshot.Status.Pipeline.Health))
	for _, h := range snapshot.Status.Pipeline.Health {
		label := "Stage " + h.Name
		detail := strings.TrimSpace(h.Detail)
		if h.Ready {
			if detail == "" {
				detail = "Ready"
			}
			lines = append(lines, renderStatusLine(label, statusOK, detail, colorize))
			continue
		}
		if detail == "" {
			detail = "Not ready"
		}
		lines = append(lines, renderStatusLine(label, statusWarn, detail, colorize))
	}
	return lines
}

func buildWorkerRows(workers []api.WorkerStatus) [][]string {
	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		rows = append(rows, []string{
			displayLabel(w.Name),
			displayLabel(w.State),
			strconv.Itoa(w.Restarts),
			strconv.FormatUint(w.Processed, 10),
			strconv.FormatUint(w.Failures, 10),
			fmt.Sprintf("%.1f%%", w.SuccessRate*100),
		})
	}
	return rows
}

func buildChannelRows(channels []api.ChannelStatus) [][]string {
	rows := make([][]string, 0, len(channels))
	for _, ch := range channels {
		if ch.Ready == 0 && ch.Leased == 0 && ch.DeadLetters == 0 {
			continue
		}
		rows = append(rows, []string{
			ch.Channel,
			strconv.Itoa(ch.Ready),
			strconv.Itoa(ch.Leased),
			strconv.Itoa(ch.DeadLetters),
			strconv.Itoa(ch.Depth),
		})
	}
	return rows
}

func ledgerSummaryLines(ledger api.LedgerStatus) []string {
	if len(ledger.Counts) == 0 && ledger.NeedsAttention == 0 {
		return []string{"No transactions recorded"}
	}
	lines := make([]string, 0, 3)
	parts := make([]string, 0, len(ledgerStatusOrder))
	for _, status := range ledgerStatusOrder {
		if count := ledger.Counts[status]; count > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", status, count))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "none")
	}
	lines = append(lines, "Transactions: "+strings.Join(parts, ", "))
	lines = append(lines, fmt.Sprintf("Disbursed total: %.2f", ledger.TotalAmount))
	if ledger.NeedsAttention > 0 {
		lines = append(lines, fmt.Sprintf("Needs attention: %d", ledger.NeedsAttention))
	}
	return lines
}

// ledgerStatusOrder fixes the lifecycle display order for ledger rollups.
var ledgerStatusOrder = []string{"pending", "submitted", "confirmed", "failed"}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
