package main

import (
	"strconv"

	"github.com/franz/disk-janitor/internal/util"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the append-only audit log",
	RunE:  runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().Int64("plan", 0, "show only entries for this plan")
}

func runAudit(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	planID, _ := cmd.Flags().GetInt64("plan")

	entries, err := db.ListAudit(planID)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		util.InfoLog("Audit log is empty.")
		return nil
	}

	for _, e := range entries {
		scope := ""
		if e.PlanID != 0 {
			scope = " plan=" + strconv.FormatInt(e.PlanID, 10)
		}
		util.InfoLog("%s  %-26s [%s]%s %s",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.AgentMode, scope, e.Details)
	}
	return nil
}
