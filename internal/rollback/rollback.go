// Package rollback undoes completed migration steps. Steps are undone in
// descending step_order, the reverse of execution, and every undo is
// hash-verified before any file is touched. Deletions are the one action
// that cannot be undone; the engine refuses them explicitly rather than
// silently skipping.
package rollback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/franz/disk-janitor/internal/hash"
	"github.com/franz/disk-janitor/internal/report"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/transfer"
	"github.com/franz/disk-janitor/internal/util"
)

// Config holds rollback engine configuration
type Config struct {
	Store *store.Store

	// Local serves drives with the local backend
	Local transfer.Adapter

	// Remote builds an adapter for a drive's rclone remote. Defaults
	// to transfer.NewRclone.
	Remote func(remote string) transfer.Adapter

	Logger *report.EventLogger
}

// Engine rolls back completed steps
type Engine struct {
	cfg Config
}

// New creates a rollback engine
func New(cfg Config) *Engine {
	if cfg.Local == nil {
		cfg.Local = transfer.NewLocal()
	}
	if cfg.Remote == nil {
		cfg.Remote = func(remote string) transfer.Adapter {
			return transfer.NewRclone(remote)
		}
	}
	return &Engine{cfg: cfg}
}

// Result reports a plan-level rollback run
type Result struct {
	PlanID     int64
	RolledBack int
	Skipped    int
}

// RollbackPlan undoes every completed step of a plan in reverse order
// and marks the plan aborted. It stops at the first step that cannot be
// undone; steps already rolled back by then stay rolled back.
func (e *Engine) RollbackPlan(ctx context.Context, planID int64, reason string) (*Result, error) {
	plan, err := e.cfg.Store.GetPlan(planID)
	if err != nil {
		return nil, fmt.Errorf("%w: load plan: %v", util.ErrFatal, err)
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %d not found", planID)
	}

	steps, err := e.cfg.Store.GetCompletedSteps(planID)
	if err != nil {
		return nil, fmt.Errorf("%w: load completed steps: %v", util.ErrFatal, err)
	}

	result := &Result{PlanID: planID}
	util.InfoLog("Rolling back plan %d: %d completed steps", planID, len(steps))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := e.rollbackStep(ctx, step, reason); err != nil {
			return result, err
		}
		result.RolledBack++
	}

	// A completed plan is terminal; rolling it back undoes the steps
	// but does not rewrite history
	if plan.Status == store.PlanInProgress {
		if err := e.cfg.Store.UpdatePlanStatus(planID, store.PlanAborted); err != nil {
			return result, err
		}
	}

	if err := e.audit("plan_rolled_back", 0, planID, 0,
		fmt.Sprintf("rolled back %d steps: %s", result.RolledBack, reason)); err != nil {
		return result, err
	}

	util.SuccessLog("Plan %d rolled back (%d steps)", planID, result.RolledBack)
	return result, nil
}

// RollbackStep undoes a single completed step
func (e *Engine) RollbackStep(ctx context.Context, stepID int64, reason string) error {
	step, err := e.cfg.Store.GetStep(stepID)
	if err != nil {
		return fmt.Errorf("%w: load step: %v", util.ErrFatal, err)
	}
	if step == nil {
		return fmt.Errorf("step %d not found", stepID)
	}
	if step.Status != store.StepCompleted {
		return fmt.Errorf("%w: step %d is %s, only completed steps can be rolled back",
			util.ErrInvalidPlan, stepID, step.Status)
	}

	return e.rollbackStep(ctx, step, reason)
}

func (e *Engine) rollbackStep(ctx context.Context, step *store.Step, reason string) error {
	var err error

	switch step.Action {
	case store.ActionDelete:
		// The deleted content is gone; there is nothing to restore from
		err = fmt.Errorf("%w: step %d deleted %s", util.ErrIrreversible, step.ID, step.SourcePath)
	case store.ActionCopy:
		err = e.undoCopy(ctx, step)
	case store.ActionMove:
		err = e.undoMove(ctx, step)
	case store.ActionHardlink, store.ActionSymlink:
		err = e.undoLink(ctx, step)
	default:
		err = fmt.Errorf("%w: unknown step action %q", util.ErrInvalidPlan, step.Action)
	}

	e.cfg.Logger.LogRollback(step.PlanID, step.ID, string(step.Action), reason, err)

	if err != nil {
		e.audit("step_rollback_failed", step.FileID, step.PlanID, step.SourceDriveID,
			fmt.Sprintf("%s %s: %v", step.Action, step.SourcePath, err))
		return err
	}

	if err := e.cfg.Store.UpdateStepStatus(step.ID, store.StepRolledBack, ""); err != nil {
		return fmt.Errorf("%w: mark step rolled back: %v", util.ErrFatal, err)
	}
	if err := e.cfg.Store.UpdateFileStatus(step.FileID, store.FileIndexed, ""); err != nil {
		return fmt.Errorf("%w: restore file status: %v", util.ErrFatal, err)
	}

	return e.audit("step_rolled_back", step.FileID, step.PlanID, step.SourceDriveID,
		fmt.Sprintf("undid %s %s: %s", step.Action, step.SourcePath, reason))
}

// undoCopy removes the copied destination. The destination is only
// removed when it still matches the hash recorded at execution time;
// anything else means the file was modified since and is not ours to
// delete anymore.
func (e *Engine) undoCopy(ctx context.Context, step *store.Step) error {
	adapter, dest, err := e.adapterFor(step.DestDriveID)
	if err != nil {
		return err
	}

	verifyPath := step.DestPath
	if dest.Backend == store.BackendRclone {
		fetcher, ok := adapter.(interface {
			Fetch(ctx context.Context, remotePath, localDst string) error
		})
		if !ok {
			return fmt.Errorf("%w: adapter %s cannot stage remote content for verification",
				util.ErrTransferFailed, adapter.Name())
		}

		staging, err := os.MkdirTemp("", "djc-verify-")
		if err != nil {
			return fmt.Errorf("%w: create staging dir: %v", util.ErrTransferFailed, err)
		}
		defer os.RemoveAll(staging)

		verifyPath = filepath.Join(staging, filepath.Base(step.DestPath))
		if err := fetcher.Fetch(ctx, step.DestPath, verifyPath); err != nil {
			return err
		}
	}

	if err := hash.VerifyDestination(verifyPath, step.PostHash); err != nil {
		return err
	}

	return adapter.Remove(ctx, step.DestPath)
}

// undoMove restores the source from the destination, verifies the
// restored copy, then removes the destination.
func (e *Engine) undoMove(ctx context.Context, step *store.Step) error {
	adapter, dest, err := e.adapterFor(step.DestDriveID)
	if err != nil {
		return err
	}

	switch dest.Backend {
	case store.BackendLocal:
		if err := hash.VerifyDestination(step.DestPath, step.PostHash); err != nil {
			return err
		}
		if _, err := e.cfg.Local.Copy(ctx, step.DestPath, step.SourcePath, transfer.DefaultOptions()); err != nil {
			return err
		}
	case store.BackendRclone:
		fetcher, ok := adapter.(interface {
			Fetch(ctx context.Context, remotePath, localDst string) error
		})
		if !ok {
			return fmt.Errorf("%w: adapter %s cannot restore remote content",
				util.ErrTransferFailed, adapter.Name())
		}
		if err := fetcher.Fetch(ctx, step.DestPath, step.SourcePath); err != nil {
			return err
		}
	}

	if err := hash.VerifyDestination(step.SourcePath, step.PreHash); err != nil {
		// The restored source is suspect; keep the destination so no
		// verified copy is lost
		util.RetryableRemove(step.SourcePath, util.DefaultRetryConfig())
		return err
	}

	return adapter.Remove(ctx, step.DestPath)
}

// undoLink removes the created link; the linked content itself is
// untouched
func (e *Engine) undoLink(ctx context.Context, step *store.Step) error {
	return e.cfg.Local.Remove(ctx, step.DestPath)
}

func (e *Engine) adapterFor(driveID int64) (transfer.Adapter, *store.Drive, error) {
	drive, err := e.cfg.Store.GetDrive(driveID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load drive %d: %v", util.ErrFatal, driveID, err)
	}
	if drive == nil {
		return nil, nil, fmt.Errorf("drive %d not found", driveID)
	}
	if drive.Backend == store.BackendRclone {
		return e.cfg.Remote(drive.RcloneRemote), drive, nil
	}
	return e.cfg.Local, drive, nil
}

func (e *Engine) audit(action string, fileID, planID, driveID int64, details string) error {
	err := e.cfg.Store.AppendAudit(&store.AuditEntry{
		Action:    action,
		FileID:    fileID,
		PlanID:    planID,
		DriveID:   driveID,
		Details:   details,
		AgentMode: store.AgentManual,
	})
	if err != nil {
		return fmt.Errorf("%w: audit append: %v", util.ErrFatal, err)
	}
	return nil
}
