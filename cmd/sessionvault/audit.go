package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/sessionvault/pkg/audit"
)

var auditLimit int

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit journal of session operations",
}

func openJournal() (*audit.Journal, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return audit.Open(cfg.Audit.Dir)
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit journal entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal()
		if err != nil {
			return err
		}
		events, err := j.List(auditLimit)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit events found")
			return nil
		}

		out := cmd.OutOrStdout()
		for _, event := range events {
			// TIMESTAMP OPERATION RESULT [count=N] [error]
			line := fmt.Sprintf("%s %s %s", event.Timestamp, event.Operation, event.Result)
			if event.Count > 0 {
				line += fmt.Sprintf(" count=%d", event.Count)
			}
			if event.Discarded > 0 {
				line += fmt.Sprintf(" discarded=%d", event.Discarded)
			}
			if event.Error != "" {
				line += fmt.Sprintf(" error=%q", event.Error)
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit journal HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal()
		if err != nil {
			return err
		}
		result, err := j.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit journal: %w", err)
		}

		out := cmd.OutOrStdout()
		if !result.Valid {
			fmt.Fprintf(out, "✗ Audit journal verification FAILED\n")
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintln(out, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
			return errors.New("audit journal integrity check failed")
		}

		fmt.Fprintf(out, "✓ Audit journal verified: %d records, chain intact\n", result.RecordsTotal)
		jsonResult, _ := json.Marshal(result)
		fmt.Fprintf(out, "\nJSON: %s\n", string(jsonResult))
		return nil
	},
}
