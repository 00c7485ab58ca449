package main

import (
	"github.com/dustin/go-humanize"
	"github.com/franz/disk-janitor/internal/space"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/transfer"
	"github.com/franz/disk-janitor/internal/util"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check database integrity, drive health and tool availability",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	problems := 0

	util.InfoLog("Checking database integrity...")
	if err := db.CheckIntegrity(); err != nil {
		util.ErrorLog("  %v", err)
		problems++
	} else {
		util.SuccessLog("  Database integrity OK")
	}

	drives, err := db.ListDrives()
	if err != nil {
		return err
	}

	needsRclone := false
	for _, d := range drives {
		if d.Backend == store.BackendRclone {
			needsRclone = true
		}
		if d.Backend != store.BackendLocal || !d.IsOnline {
			continue
		}

		info, err := space.GetFreeSpace(d.MountPath)
		if err != nil {
			util.WarnLog("Drive %q is marked online but its mount is unreachable: %v", d.Label, err)
			problems++
			continue
		}
		util.SuccessLog("Drive %q: %s free (max safe write %s)",
			d.Label, humanize.IBytes(info.FreeBytes), humanize.IBytes(info.MaxSafeWriteBytes()))
	}

	if needsRclone {
		if transfer.IsRcloneAvailable() {
			util.SuccessLog("rclone binary found on PATH")
		} else {
			util.WarnLog("rclone drives are registered but the rclone binary is not on PATH")
			problems++
		}
	}

	// In-flight steps with no active run are crash leftovers; execution
	// re-runs them from scratch
	plans, err := db.ListPlans()
	if err != nil {
		return err
	}
	for _, p := range plans {
		if p.Status != store.PlanInProgress {
			continue
		}
		orphans, err := db.CountStepsByStatus(p.ID, store.StepInProgress)
		if err != nil {
			return err
		}
		if orphans > 0 {
			util.WarnLog("Plan %d has %d orphaned in-progress steps; resume with: djc execute %d",
				p.ID, orphans, p.ID)
		}
	}

	util.InfoLog("")
	if problems == 0 {
		util.SuccessLog("All checks passed")
	} else {
		util.WarnLog("%d problem(s) found", problems)
	}
	return nil
}
