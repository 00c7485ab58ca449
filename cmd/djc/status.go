package main

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/util"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-id]",
	Short: "Show plan progress, or one plan's steps in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 1 {
		planID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		return showPlan(db, planID)
	}

	plans, err := db.ListPlans()
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		util.InfoLog("No plans.")
		return nil
	}

	for _, p := range plans {
		util.InfoLog("[%d] %-11s %s", p.ID, p.Status, p.Description)
		util.InfoLog("      %d/%d files, %s/%s",
			p.CompletedFiles, p.TotalFiles,
			humanize.IBytes(uint64(p.CompletedBytes)), humanize.IBytes(uint64(p.TotalBytes)))
	}
	return nil
}

func showPlan(db *store.Store, planID int64) error {
	p, err := db.GetPlan(planID)
	if err != nil {
		return err
	}
	if p == nil {
		util.WarnLog("Plan %d not found", planID)
		return nil
	}

	util.InfoLog("Plan %d: %s", p.ID, p.Description)
	util.InfoLog("  Status:   %s", p.Status)
	util.InfoLog("  Created:  %s", p.CreatedAt.Format("2006-01-02 15:04:05"))
	util.InfoLog("  Progress: %d/%d files, %s/%s",
		p.CompletedFiles, p.TotalFiles,
		humanize.IBytes(uint64(p.CompletedBytes)), humanize.IBytes(uint64(p.TotalBytes)))

	util.InfoLog("")
	util.InfoLog("Steps by status:")
	for _, status := range []store.StepStatus{
		store.StepPending, store.StepInProgress, store.StepCompleted,
		store.StepFailed, store.StepRolledBack,
	} {
		n, err := db.CountStepsByStatus(planID, status)
		if err != nil {
			return err
		}
		if n > 0 {
			util.InfoLog("  %-12s %d", status, n)
		}
	}

	steps, err := db.GetStepsForPlan(planID)
	if err != nil {
		return err
	}

	util.InfoLog("")
	for _, st := range steps {
		line := st.SourcePath
		if st.DestPath != "" {
			line += " -> " + st.DestPath
		}
		util.InfoLog("  [%d] %-11s %-8s %s", st.ID, st.Status, st.Action, line)
		if st.Error != "" {
			util.WarnLog("        error: %s", st.Error)
		}
	}

	return nil
}
