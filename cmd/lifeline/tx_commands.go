package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"lifeline/internal/api"
	"lifeline/internal/ipc"
)

func newTxCommand(ctx *commandContext) *cobra.Command {
	txCmd := &cobra.Command{
		Use:   "tx",
		Short: "Inspect disbursement transactions",
	}

	txCmd.AddCommand(newTxListCommand(ctx))
	txCmd.AddCommand(newTxShowCommand(ctx))

	return txCmd
}

func newTxListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TxList(status, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				if len(resp.Transactions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No transactions recorded")
					return nil
				}
				table := renderTable(
					[]string{"Key", "Status", "Total", "Fee", "Attempts", "Reference", "Updated"},
					buildTransactionRows(resp.Transactions),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by lifecycle state (pending, submitted, confirmed, failed, attention)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of transactions to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit transactions as JSON")
	return cmd
}

func newTxShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Show one transaction with its submission log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TxShow(args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				printTransaction(cmd, resp.Transaction, resp.Attempts)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the transaction as JSON")
	return cmd
}

func buildTransactionRows(transactions []api.Transaction) [][]string {
	rows := make([][]string, 0, len(transactions))
	for _, tx := range transactions {
		status := tx.Status
		if tx.NeedsAttention {
			status += " (attention)"
		}
		rows = append(rows, []string{
			tx.Key,
			status,
			fmt.Sprintf("%.2f", tx.Total),
			strconv.FormatInt(tx.Fee, 10),
			strconv.Itoa(tx.Attempts),
			tx.Reference,
			tx.UpdatedAt,
		})
	}
	return rows
}

func printTransaction(cmd *cobra.Command, tx api.Transaction, attempts []api.TxAttempt) {
	out := cmd.OutOrStdout()

	status := tx.Status
	if tx.NeedsAttention {
		status += " (needs attention)"
	}

	fmt.Fprintf(out, "Transaction %s\n", tx.Key)
	fmt.Fprintf(out, "  %-12s %s\n", "Status:", status)
	fmt.Fprintf(out, "  %-12s %.2f\n", "Total:", tx.Total)
	fmt.Fprintf(out, "  %-12s %d\n", "Fee:", tx.Fee)
	fmt.Fprintf(out, "  %-12s %d\n", "Attempts:", tx.Attempts)
	printDetailLine(out, "Reference:", tx.Reference)
	printDetailLine(out, "Created:", tx.CreatedAt)
	printDetailLine(out, "Updated:", tx.UpdatedAt)
	printDetailLine(out, "Submitted:", tx.SubmittedAt)
	printDetailLine(out, "Confirmed:", tx.ConfirmedAt)
	printDetailLine(out, "Last error:", tx.LastError)

	if len(tx.Recipients) > 0 {
		fmt.Fprintln(out, "Recipients:")
		table := renderTable(
			[]string{"Role", "Address", "Amount"},
			buildRecipientRows(tx.Recipients),
			[]columnAlignment{alignLeft, alignLeft, alignRight},
		)
		fmt.Fprintln(out, table)
	}

	if len(attempts) > 0 {
		fmt.Fprintln(out, "Submission log:")
		table := renderTable(
			[]string{"#", "Fee", "Outcome", "Detail", "At"},
			buildAttemptRows(attempts),
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft},
		)
		fmt.Fprintln(out, table)
	}
}

func printDetailLine(out io.Writer, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(out, "  %-12s %s\n", label, value)
}

func buildRecipientRows(recipients []api.Recipient) [][]string {
	rows := make([][]string, 0, len(recipients))
	for _, r := range recipients {
		rows = append(rows, []string{displayLabel(r.Role), r.Address, fmt.Sprintf("%.2f", r.Amount)})
	}
	return rows
}

func buildAttemptRows(attempts []api.TxAttempt) [][]string {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		rows = append(rows, []string{
			strconv.Itoa(a.Number),
			strconv.FormatInt(a.Fee, 10),
			a.Outcome,
			a.Detail,
			a.At,
		})
	}
	return rows
}
