package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	outboxCmd = &cobra.Command{
		Use:   "outbox",
		Short: "Inspect messages handed off to downstream services",
	}

	outboxListCmd = &cobra.Command{
		Use:   "list",
		Short: "List pending outbox messages",
		Args:  cobra.NoArgs,
		RunE:  listOutbox,
	}

	outboxAckCmd = &cobra.Command{
		Use:   "ack [message-id]",
		Short: "Mark an outbox message as delivered",
		Args:  cobra.ExactArgs(1),
		RunE:  ackOutbox,
	}

	outboxTopic string
	outboxLimit int
)

func init() {
	outboxListCmd.Flags().StringVar(&outboxTopic, "topic", "", "Filter by topic (e.g. campaigns.send)")
	outboxListCmd.Flags().IntVar(&outboxLimit, "limit", 50, "Maximum messages to list")
	outboxCmd.AddCommand(outboxListCmd)
	outboxCmd.AddCommand(outboxAckCmd)
}

func listOutbox(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	msgs, err := a.Outbox.ListPending(cmd.Context(), outboxTopic, outboxLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd, msgs)
}

func ackOutbox(cmd *cobra.Command, args []string) error {
	id, err := parseID("message id", args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	ok, err := a.Outbox.MarkDelivered(cmd.Context(), id, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("message %s is not pending", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "delivered %s\n", id)
	return nil
}
