package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/franz/disk-janitor/internal/plan"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create migration plans (created in draft, executed only after approval)",
}

var planMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Plan relocating files to a target drive",
	Long: `Plan relocating the selected files to a target drive.

Modes:
  copy      copy files, leave sources in place
  move      copy files, then remove verified sources
  hardlink  link files on the same filesystem
  symlink   create symbolic links at the destination

The plan is created in draft. Review it with 'djc status <plan-id>' and
approve it with 'djc approve <plan-id>' before executing.`,
	RunE: runPlanMigrate,
}

var planOffloadCmd = &cobra.Command{
	Use:   "offload",
	Short: "Plan copying files to a target drive and deleting the sources",
	Long: `Plan offloading the selected files: each file gets a copy step to the
target drive followed by a delete step for the source. The copy always
precedes the delete, so no source is removed before its replacement
copy is verified. Files without a known content hash are rejected.`,
	RunE: runPlanOffload,
}

var planDedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Plan deleting all non-original members of a duplicate group",
	RunE:  runPlanDedup,
}

var planTrashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Plan deleting the selected files",
	RunE:  runPlanTrash,
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	RunE:  runPlanList,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planMigrateCmd, planOffloadCmd, planDedupCmd, planTrashCmd, planListCmd)

	for _, c := range []*cobra.Command{planMigrateCmd, planOffloadCmd, planTrashCmd} {
		c.Flags().Int64Slice("files", nil, "file IDs to operate on")
		c.Flags().Int64("group", 0, "operate on all members of a duplicate group")
		c.Flags().String("category", "", "operate on all indexed files of a category")
		c.Flags().String("drive", "", "source drive (ID or label) scoping --category")
	}

	planMigrateCmd.Flags().String("target", "", "target drive (ID or label, required)")
	planMigrateCmd.Flags().String("mode", "copy", "migration mode (copy, move, hardlink, symlink)")
	planMigrateCmd.MarkFlagRequired("target")

	planOffloadCmd.Flags().String("target", "", "target drive (ID or label, required)")
	planOffloadCmd.MarkFlagRequired("target")

	planDedupCmd.Flags().Int64("group", 0, "duplicate group to deduplicate (required)")
	planDedupCmd.MarkFlagRequired("group")

	planCmd.PersistentFlags().Int64("batch-bytes", 0, "batch size hint in bytes for the executor")
}

// selectionFromFlags builds a file selection from the shared flags
func selectionFromFlags(cmd *cobra.Command, db *store.Store) (plan.Selection, error) {
	var sel plan.Selection

	sel.FileIDs, _ = cmd.Flags().GetInt64Slice("files")
	sel.DuplicateGroup, _ = cmd.Flags().GetInt64("group")
	sel.Category, _ = cmd.Flags().GetString("category")

	if driveRef, _ := cmd.Flags().GetString("drive"); driveRef != "" {
		drive, err := resolveDrive(db, driveRef)
		if err != nil {
			return sel, err
		}
		sel.DriveID = drive.ID
	}

	if sel.Category != "" && sel.DriveID == 0 {
		return sel, fmt.Errorf("--category requires --drive")
	}

	return sel, nil
}

func newPlanner(db *store.Store, cmd *cobra.Command) *plan.Planner {
	batchBytes, _ := cmd.Flags().GetInt64("batch-bytes")
	if batchBytes == 0 {
		batchBytes = viper.GetInt64("batch_bytes")
	}

	return plan.New(&plan.Config{
		Store:         db,
		Logger:        openEventLogger(),
		MaxBatchBytes: batchBytes,
	})
}

func runPlanMigrate(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sel, err := selectionFromFlags(cmd, db)
	if err != nil {
		return err
	}

	targetRef, _ := cmd.Flags().GetString("target")
	target, err := resolveDrive(db, targetRef)
	if err != nil {
		return err
	}

	mode, _ := cmd.Flags().GetString("mode")

	planID, err := newPlanner(db, cmd).CreateMigratePlan(sel, target.ID, store.StepAction(mode))
	if err != nil {
		return err
	}

	printNextSteps(planID)
	return nil
}

func runPlanOffload(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sel, err := selectionFromFlags(cmd, db)
	if err != nil {
		return err
	}

	targetRef, _ := cmd.Flags().GetString("target")
	target, err := resolveDrive(db, targetRef)
	if err != nil {
		return err
	}

	planID, err := newPlanner(db, cmd).CreateOffloadPlan(sel, target.ID)
	if err != nil {
		return err
	}

	printNextSteps(planID)
	return nil
}

func runPlanDedup(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	group, _ := cmd.Flags().GetInt64("group")

	planID, err := newPlanner(db, cmd).CreateDedupPlan(group)
	if err != nil {
		return err
	}

	printNextSteps(planID)
	return nil
}

func runPlanTrash(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sel, err := selectionFromFlags(cmd, db)
	if err != nil {
		return err
	}

	planID, err := newPlanner(db, cmd).CreateDeletePlan(sel)
	if err != nil {
		return err
	}

	printNextSteps(planID)
	return nil
}

func runPlanList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	plans, err := db.ListPlans()
	if err != nil {
		return err
	}

	if len(plans) == 0 {
		util.InfoLog("No plans. Run 'djc plan migrate' or 'djc plan offload' first.")
		return nil
	}

	for _, p := range plans {
		util.InfoLog("[%d] %-11s %s (%d files, %s)",
			p.ID, p.Status, p.Description, p.TotalFiles, humanize.IBytes(uint64(p.TotalBytes)))
	}
	return nil
}

func printNextSteps(planID int64) {
	util.InfoLog("")
	util.InfoLog("Next steps:")
	util.InfoLog("  Review:  djc status %d", planID)
	util.InfoLog("  Approve: djc approve %d", planID)
	util.InfoLog("  Execute: djc execute %d", planID)
}
