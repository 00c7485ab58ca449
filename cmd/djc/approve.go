package main

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/franz/disk-janitor/internal/plan"
	"github.com/franz/disk-janitor/internal/util"
	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a draft plan for execution",
	Long: `Approve a draft plan. Approval is the only gate between planning and
execution: the executor refuses plans that have not passed it, and
nothing inside the engine approves plans on its own.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	planID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := db.GetPlan(planID)
	if err != nil {
		return err
	}
	if p != nil {
		util.InfoLog("Plan %d: %s", p.ID, p.Description)
		util.InfoLog("  %d files, %s", p.TotalFiles, humanize.IBytes(uint64(p.TotalBytes)))
	}

	logger := openEventLogger()
	defer logger.Close()

	planner := plan.New(&plan.Config{Store: db, Logger: logger})
	if err := planner.ApprovePlan(planID); err != nil {
		return err
	}

	util.SuccessLog("Plan %d approved", planID)
	util.InfoLog("Execute with: djc execute %d", planID)
	return nil
}
