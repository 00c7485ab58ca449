package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/franz/disk-janitor/internal/rollback"
	"github.com/franz/disk-janitor/internal/util"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <plan-id>",
	Short: "Undo a plan's completed steps in reverse order",
	Long: `Undo the completed steps of a plan, newest first.

Copy steps remove their destination after verifying it still matches the
hash recorded at execution time. Move steps restore the source from the
destination, verify the restored copy, then remove the destination.
Delete steps cannot be undone; rollback refuses them explicitly.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().Int64("step", 0, "roll back only this step ID")
	rollbackCmd.Flags().String("reason", "operator rollback", "reason recorded in the audit log")
}

func runRollback(cmd *cobra.Command, args []string) error {
	planID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := openEventLogger()
	defer logger.Close()

	stepID, _ := cmd.Flags().GetInt64("step")
	reason, _ := cmd.Flags().GetString("reason")

	engine := rollback.New(rollback.Config{
		Store:  db,
		Logger: logger,
	})

	ctx := context.Background()

	if stepID != 0 {
		if err := engine.RollbackStep(ctx, stepID, reason); err != nil {
			return err
		}
		util.SuccessLog("Step %d rolled back", stepID)
		return nil
	}

	result, err := engine.RollbackPlan(ctx, planID, reason)
	if err != nil {
		if errors.Is(err, util.ErrIrreversible) && result != nil {
			util.WarnLog("Rolled back %d steps before hitting an irreversible one", result.RolledBack)
		}
		return err
	}

	util.SuccessLog("Plan %d rolled back: %d steps undone", planID, result.RolledBack)
	return nil
}
