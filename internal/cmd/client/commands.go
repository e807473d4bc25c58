package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/api/dto"
	"github.com/arnabghosh/delayed-queue/pkg/utils"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newEnqueueCommand constructs the `enqueue` subcommand
func newEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a delayed message",
		Long: `Enqueue a message for delivery at --at or after --delay.

Examples:
  delayctl enqueue --topic order --delay 30m --content '{"order_id":42}'
  delayctl enqueue --topic email --at "2025-01-18 12:00:00" --dedup-key welcome-42`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			content, _ := cmd.Flags().GetString("content")
			at, _ := cmd.Flags().GetString("at")
			delay, _ := cmd.Flags().GetDuration("delay")
			dedupKey, _ := cmd.Flags().GetString("dedup-key")

			req := dto.EnqueueRequest{
				Topic:    topic,
				Content:  content,
				DueAt:    at,
				DedupKey: dedupKey,
			}
			if delay > 0 {
				req.Delay = delay.String()
			}

			var resp dto.EnqueueResponse
			if err := call(cmd.Context(), http.MethodPost, baseURL(), "/api/v1/messages", req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringP("topic", "t", "", "Topic name")
	cmd.Flags().StringP("content", "c", "", "Message payload")
	cmd.Flags().String("at", "", "Due time (RFC3339 or \"2006-01-02 15:04:05\" local)")
	cmd.Flags().Duration("delay", 0, "Delay from now")
	cmd.Flags().String("dedup-key", "", "Deduplication key")
	_ = cmd.MarkFlagRequired("topic")
	cmd.MarkFlagsMutuallyExclusive("at", "delay")
	return cmd
}

// newGetCommand constructs the `get` subcommand
func newGetCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <message-id>",
		Short: "Show a stored message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var msg dto.MessageResponse
			if err := call(cmd.Context(), http.MethodGet, baseURL(), "/api/v1/messages/"+url.PathEscape(args[0]), nil, &msg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "message_id: %s\n", msg.MessageID)
			fmt.Fprintf(out, "topic:      %s\n", msg.Topic)
			fmt.Fprintf(out, "status:     %s\n", msg.Status)
			fmt.Fprintf(out, "due_at:     %s\n", utils.FormatTimestamp(msg.DueAt))
			if msg.ProcessedAt != nil {
				fmt.Fprintf(out, "processed:  %s\n", utils.FormatTimestamp(*msg.ProcessedAt))
			} else if wait := utils.DurationUntil(msg.DueAt, time.Now()); wait > 0 {
				fmt.Fprintf(out, "due in:     %s\n", wait)
			}
			if msg.DedupKey != "" {
				fmt.Fprintf(out, "dedup_key:  %s\n", msg.DedupKey)
			}
			fmt.Fprintf(out, "content:    %s\n", msg.Content)
			return nil
		},
	}
}

// newRedeliverCommand constructs the `redeliver` subcommand
func newRedeliverCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "redeliver <message-id>",
		Short: "Run one delivery attempt of a message now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.RedeliverResponse
			path := "/api/v1/messages/" + url.PathEscape(args[0]) + "/redeliver"
			if err := call(cmd.Context(), http.MethodPost, baseURL(), path, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

// newStatsCommand constructs the `stats` subcommand
func newStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-topic statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp dto.TopicStatsResponse
			if err := call(cmd.Context(), http.MethodGet, baseURL(), "/api/v1/topics/stats", nil, &resp); err != nil {
				return err
			}

			names := make([]string, 0, len(resp.Topics))
			for name := range resp.Topics {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-16s %8s %8s %8s %8s %10s %8s\n", "TOPIC", "PENDING", "RUNNING", "DELAYED", "READY", "DELIVERED", "FAILED")
			for _, name := range names {
				s := resp.Topics[name]
				fmt.Fprintf(out, "%-16s %8d %8d %8d %8d %10d %8d\n",
					name, s.PendingCount, s.InProgressCount, s.DelayedQueueSize, s.ReadyQueueSize, s.Delivered, s.Failed)
			}
			return nil
		},
	}
}

// newHealthCommand constructs the `health` subcommand
func newHealthCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check service or topic health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			topic, _ := cmd.Flags().GetString("topic")

			if topic != "" {
				var resp dto.TopicHealthResponse
				err := call(cmd.Context(), http.MethodGet, baseURL(), "/api/v1/topics/"+url.PathEscape(topic)+"/health", nil, &resp)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			}

			var resp dto.HealthResponse
			if err := call(cmd.Context(), http.MethodGet, baseURL(), "/health", nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringP("topic", "t", "", "Check a single topic")
	return cmd
}
