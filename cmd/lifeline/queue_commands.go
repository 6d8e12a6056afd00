package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"lifeline/internal/api"
	"lifeline/internal/ipc"
	"lifeline/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the durable channels",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "stats",
		Aliases: []string{"show"},
		Short:   "Show per-channel backlog counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBroker(func(client *ipc.Client, broker queue.Broker) error {
				var channels []api.ChannelStatus
				if client != nil {
					resp, err := client.QueueStats()
					if err != nil {
						return err
					}
					channels = resp.Channels
				} else {
					stats, err := broker.Stats(cmd.Context())
					if err != nil {
						return err
					}
					channels = api.FromChannelStats(sortChannelStats(stats))
				}

				if jsonOut {
					return writeJSON(cmd, ipc.QueueStatsResponse{Channels: channels})
				}
				rows := buildChannelRows(channels)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"Channel", "Ready", "Leased", "Dead", "Depth"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit stats as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list <channel>",
		Short: "List queued messages on a channel, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := args[0]
			return ctx.withBroker(func(client *ipc.Client, broker queue.Broker) error {
				var messages []api.QueueMessage
				if client != nil {
					resp, err := client.QueueList(channel, limit)
					if err != nil {
						return err
					}
					messages = resp.Messages
				} else {
					envelopes, err := broker.List(cmd.Context(), channel, limit)
					if err != nil {
						return err
					}
					messages = api.FromEnvelopes(envelopes)
				}

				if jsonOut {
					return writeJSON(cmd, ipc.QueueListResponse{Messages: messages})
				}
				if len(messages) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Channel %s is empty\n", channel)
					return nil
				}
				table := renderTable(
					[]string{"Message", "Event", "Kind", "Sender", "Attempt", "Enqueued"},
					buildMessageRows(messages),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of messages to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit messages as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <channel>",
		Short: "Replay a channel's dead letters back onto the live channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := args[0]
			return ctx.withBroker(func(client *ipc.Client, broker queue.Broker) error {
				var replayed int64
				if client != nil {
					resp, err := client.QueueReplay(channel)
					if err != nil {
						return err
					}
					replayed = resp.Replayed
				} else {
					count, err := broker.Replay(cmd.Context(), channel)
					if err != nil {
						return err
					}
					replayed = count
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d dead letters to %s\n", replayed, queue.BaseChannel(channel))
				return nil
			})
		},
	}
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <channel>",
		Short: "Discard all messages on a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := args[0]
			return ctx.withBroker(func(client *ipc.Client, broker queue.Broker) error {
				var purged int64
				if client != nil {
					resp, err := client.QueuePurge(channel)
					if err != nil {
						return err
					}
					purged = resp.Purged
				} else {
					count, err := broker.Purge(cmd.Context(), channel)
					if err != nil {
						return err
					}
					purged = count
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d messages from %s\n", purged, channel)
				return nil
			})
		},
	}
	return cmd
}

func buildMessageRows(messages []api.QueueMessage) [][]string {
	rows := make([][]string, 0, len(messages))
	for _, msg := range messages {
		rows = append(rows, []string{
			msg.MessageID,
			msg.EventID,
			msg.EventKind,
			msg.Sender,
			strconv.Itoa(msg.Attempt),
			msg.EnqueuedAt,
		})
	}
	return rows
}

func sortChannelStats(stats map[string]queue.ChannelStats) []queue.ChannelStats {
	out := make([]queue.ChannelStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}
