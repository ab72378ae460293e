package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rongxinyin/pezzrr-app/config"
	"github.com/rongxinyin/pezzrr-app/core/audit"
)

var (
	auditEventRef string
	auditUnitID   string
	auditSince    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log related commands",
}

var auditLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded control actions",
	RunE:  runAuditLs,
}

func init() {
	auditLsCmd.Flags().StringVar(&auditEventRef, "event", "", "filter by event reference")
	auditLsCmd.Flags().StringVar(&auditUnitID, "unit", "", "filter by unit")
	auditLsCmd.Flags().StringVar(&auditSince, "since", "", "only actions issued after this RFC3339 time")
	auditCmd.AddCommand(auditLsCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := cfg.Audit.Open()
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer func() { _ = store.Close() }()

	q := audit.Query{EventRef: auditEventRef, UnitID: auditUnitID}
	if auditSince != "" {
		t, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
		q.Start = t
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	rows, err := store.Query(ctx, q)
	if err != nil {
		return err
	}
	for _, r := range rows {
		acked := "-"
		if r.AcknowledgedAt != nil {
			acked = r.AcknowledgedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s\t%s\t%s\t#%d\tsuccess=%t\tscore=%.3f\t%.2fkW\tissued=%s\tacked=%s\n",
			r.EventRef, r.UnitID, r.Type, r.Attempt, r.Success, r.PriorityScore,
			r.EstimatedKW, r.IssuedAt.Format(time.RFC3339), acked)
	}
	fmt.Printf("%d actions\n", len(rows))
	return nil
}
