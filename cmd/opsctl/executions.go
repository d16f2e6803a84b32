package main

import (
	"fmt"
	"time"

	"merchantops/internal/service"

	"github.com/spf13/cobra"
)

var (
	executionsCmd = &cobra.Command{
		Use:   "executions",
		Short: "Inspect and release approved action executions",
	}

	executionsStuckCmd = &cobra.Command{
		Use:   "stuck",
		Short: "List executions RUNNING past the threshold",
		Args:  cobra.NoArgs,
		RunE:  listStuck,
	}

	executionsReleaseCmd = &cobra.Command{
		Use:   "release [request-id]",
		Short: "Mark a stuck execution FAILED so it can be retried",
		Args:  cobra.ExactArgs(1),
		RunE:  releaseExecution,
	}

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Compare a tenant's wallet balance with its ledger sum",
		Args:  cobra.NoArgs,
		RunE:  reconcileWallet,
	}

	stuckOlderThan time.Duration
	releaseOperator string
	reconcileTenant string
)

func init() {
	executionsStuckCmd.Flags().DurationVar(&stuckOlderThan, "older-than", 0, "Minimum RUNNING time (defaults to STUCK_EXECUTION_AFTER)")
	executionsReleaseCmd.Flags().StringVar(&releaseOperator, "operator", "opsctl", "Label recorded as the releasing actor")
	executionsCmd.AddCommand(executionsStuckCmd)
	executionsCmd.AddCommand(executionsReleaseCmd)

	reconcileCmd.Flags().StringVar(&reconcileTenant, "tenant", "", "Tenant ID (required)")
	_ = reconcileCmd.MarkFlagRequired("tenant")
}

func listStuck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	stuck, err := a.Reconciler.FindStuck(cmd.Context(), stuckOlderThan)
	if err != nil {
		return err
	}
	return printJSON(cmd, stuck)
}

func releaseExecution(cmd *cobra.Command, args []string) error {
	requestID, err := parseID("request id", args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	if err := a.Reconciler.Release(cmd.Context(), requestID, service.Actor{Label: releaseOperator}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", requestID)
	return nil
}

func reconcileWallet(cmd *cobra.Command, args []string) error {
	tenantID, err := parseID("tenant", reconcileTenant)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	result, err := a.Ledger.Reconcile(cmd.Context(), tenantID)
	if err != nil {
		return err
	}
	if err := printJSON(cmd, result); err != nil {
		return err
	}
	if !result.Balanced {
		return fmt.Errorf("wallet and ledger differ by %d", result.Difference)
	}
	return nil
}
