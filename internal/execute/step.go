package execute

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/disk-janitor/internal/hash"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/transfer"
	"github.com/franz/disk-janitor/internal/util"
)

// runStep executes a single step through its full verify-transfer-verify
// cycle. Every status transition is persisted before the next phase so a
// crash can lose at most this one step's progress, and an orphaned
// in_progress step is always re-runnable from scratch.
func (e *Executor) runStep(ctx context.Context, step *store.Step) error {
	start := time.Now()

	if err := e.cfg.Store.UpdateStepStatus(step.ID, store.StepInProgress, ""); err != nil {
		return fmt.Errorf("%w: mark step in progress: %v", util.ErrFatal, err)
	}

	var bytesWritten int64
	var err error

	switch step.Action {
	case store.ActionDelete:
		err = e.runDelete(ctx, step)
	case store.ActionHardlink, store.ActionSymlink:
		err = e.runLink(step)
	case store.ActionCopy, store.ActionMove:
		bytesWritten, err = e.runTransfer(ctx, step)
	default:
		err = fmt.Errorf("%w: unknown step action %q", util.ErrInvalidPlan, step.Action)
	}

	e.cfg.Logger.LogStep(step.PlanID, step.ID, step.FileID, string(step.Action),
		step.SourcePath, step.DestPath, bytesWritten, time.Since(start), err)

	if err != nil {
		if serr := e.cfg.Store.UpdateStepStatus(step.ID, store.StepFailed, err.Error()); serr != nil {
			util.ErrorLog("Failed to persist step %d failure: %v", step.ID, serr)
		}
		e.audit("step_failed", step.FileID, step.PlanID, step.SourceDriveID,
			fmt.Sprintf("%s %s: %v", step.Action, step.SourcePath, err))
		return err
	}

	if err := e.cfg.Store.MarkStepExecuted(step.ID); err != nil {
		return fmt.Errorf("%w: mark step executed: %v", util.ErrFatal, err)
	}
	if err := e.cfg.Store.UpdateStepStatus(step.ID, store.StepCompleted, ""); err != nil {
		return fmt.Errorf("%w: mark step completed: %v", util.ErrFatal, err)
	}
	e.audit(fmt.Sprintf("step_completed_%s", step.Action), step.FileID, step.PlanID,
		step.SourceDriveID, fmt.Sprintf("%s %s -> %s", step.Action, step.SourcePath, step.DestPath))

	util.DebugLog("Step %d completed: %s %s", step.ID, step.Action, step.SourcePath)
	return nil
}

// runTransfer performs copy and move steps: verify source, transfer,
// verify destination, then for moves remove the verified source.
func (e *Executor) runTransfer(ctx context.Context, step *store.Step) (int64, error) {
	preHash, err := e.verifySource(step)
	if err != nil {
		return 0, err
	}

	dest, err := e.cfg.Store.GetDrive(step.DestDriveID)
	if err != nil {
		return 0, fmt.Errorf("%w: load destination drive: %v", util.ErrFatal, err)
	}
	if dest == nil {
		return 0, fmt.Errorf("destination drive %d not found", step.DestDriveID)
	}

	adapter := e.adapterFor(dest)
	opts := e.transferOptions()

	result, err := adapter.Copy(ctx, step.SourcePath, step.DestPath, opts)
	if err != nil {
		return 0, err
	}

	// Completion is gated on an independent re-hash of the destination,
	// regardless of what the adapter claims to have verified
	postHash, err := e.verifyDestination(ctx, adapter, dest, step, preHash)
	if err != nil {
		return result.BytesTransferred, err
	}

	if err := e.cfg.Store.SetStepHashes(step.ID, preHash, postHash); err != nil {
		return result.BytesTransferred, fmt.Errorf("%w: record step hashes: %v", util.ErrFatal, err)
	}

	if step.Action == store.ActionMove {
		// The source is only removed after the destination verified
		if err := e.cfg.Local.Remove(ctx, step.SourcePath); err != nil {
			return result.BytesTransferred, err
		}
		if err := e.cfg.Store.UpdateFileStatus(step.FileID, store.FileSourceRemoved, ""); err != nil {
			return result.BytesTransferred, fmt.Errorf("%w: update file status: %v", util.ErrFatal, err)
		}
	} else {
		if err := e.cfg.Store.UpdateFileStatus(step.FileID, store.FileMigrated, ""); err != nil {
			return result.BytesTransferred, fmt.Errorf("%w: update file status: %v", util.ErrFatal, err)
		}
	}

	return result.BytesTransferred, nil
}

// runDelete removes a source file. The approval gate is re-checked
// against the live plan row immediately before the removal.
func (e *Executor) runDelete(ctx context.Context, step *store.Step) error {
	plan, err := e.cfg.Store.GetPlan(step.PlanID)
	if err != nil {
		return fmt.Errorf("%w: reload plan: %v", util.ErrFatal, err)
	}
	if plan == nil || (plan.Status != store.PlanApproved && plan.Status != store.PlanInProgress) {
		return fmt.Errorf("%w: refusing to delete outside an approved plan", util.ErrInvalidPlan)
	}

	// A delete paired with a transfer of the same file must wait for
	// that transfer to complete and verify; until then this source may
	// be the only copy of the content
	pending, err := e.cfg.Store.CountIncompleteTransfersForFile(step.PlanID, step.FileID)
	if err != nil {
		return fmt.Errorf("%w: check paired transfers: %v", util.ErrFatal, err)
	}
	if pending > 0 {
		return fmt.Errorf("%w: refusing to delete %s before its paired transfer completed",
			util.ErrInvalidPlan, step.SourcePath)
	}

	if _, err := os.Lstat(step.SourcePath); os.IsNotExist(err) {
		// Already gone, e.g. removed by a prior orphaned attempt
		util.WarnLog("Delete target already absent: %s", step.SourcePath)
		return e.cfg.Store.UpdateFileStatus(step.FileID, store.FileDeleted, "")
	}

	if step.PreHash != "" {
		if err := hash.VerifySourceUnchanged(step.SourcePath, step.PreHash); err != nil {
			return err
		}
	}

	if err := e.cfg.Local.Remove(ctx, step.SourcePath); err != nil {
		return err
	}

	return e.cfg.Store.UpdateFileStatus(step.FileID, store.FileDeleted, "")
}

// runLink creates a hardlink or symlink at the destination. Both resolve
// to the same content, so destination verification hashes through the
// link and must match the source.
func (e *Executor) runLink(step *store.Step) error {
	preHash, err := e.verifySource(step)
	if err != nil {
		return err
	}

	if err := util.RetryableMkdirAll(filepath.Dir(step.DestPath), 0755, util.DefaultRetryConfig()); err != nil {
		return fmt.Errorf("%w: create destination directory: %v", util.ErrTransferFailed, err)
	}

	// An orphaned retry may find a leftover link from the interrupted
	// attempt; replace it
	if _, err := os.Lstat(step.DestPath); err == nil {
		if err := os.Remove(step.DestPath); err != nil {
			return fmt.Errorf("%w: remove stale destination: %v", util.ErrTransferFailed, err)
		}
	}

	switch step.Action {
	case store.ActionHardlink:
		// Hardlinks cannot cross filesystems
		same, err := util.IsSameFilesystem(filepath.Dir(step.SourcePath), filepath.Dir(step.DestPath))
		if err != nil {
			return fmt.Errorf("%w: %v", util.ErrTransferFailed, err)
		}
		if !same {
			return fmt.Errorf("%w: %s and %s are on different filesystems",
				util.ErrInvalidPlan, step.SourcePath, step.DestPath)
		}
		if err := os.Link(step.SourcePath, step.DestPath); err != nil {
			return fmt.Errorf("%w: hardlink: %v", util.ErrTransferFailed, err)
		}
	case store.ActionSymlink:
		src, err := filepath.Abs(step.SourcePath)
		if err != nil {
			return fmt.Errorf("%w: resolve source path: %v", util.ErrTransferFailed, err)
		}
		if err := os.Symlink(src, step.DestPath); err != nil {
			return fmt.Errorf("%w: symlink: %v", util.ErrTransferFailed, err)
		}
	}

	if err := hash.VerifyDestination(step.DestPath, preHash); err != nil {
		os.Remove(step.DestPath)
		return err
	}

	if err := e.cfg.Store.SetStepHashes(step.ID, preHash, preHash); err != nil {
		return fmt.Errorf("%w: record step hashes: %v", util.ErrFatal, err)
	}

	return e.cfg.Store.UpdateFileStatus(step.FileID, store.FileMigrated, "")
}

// verifySource confirms the source exists and still matches the hash
// captured at plan time. When the plan carried no hash the live hash is
// captured now and becomes the verification baseline for this step.
func (e *Executor) verifySource(step *store.Step) (string, error) {
	if _, err := os.Stat(step.SourcePath); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", util.ErrSourceMissing, step.SourcePath)
	} else if err != nil {
		return "", fmt.Errorf("%w: stat %s: %v", util.ErrSourceMissing, step.SourcePath, err)
	}

	if step.PreHash != "" {
		if err := hash.VerifySourceUnchanged(step.SourcePath, step.PreHash); err != nil {
			return "", err
		}
		return step.PreHash, nil
	}

	computed, err := hash.Compute(step.SourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrTransferFailed, err)
	}
	step.PreHash = computed
	if err := e.cfg.Store.SetStepHashes(step.ID, computed, ""); err != nil {
		return "", fmt.Errorf("%w: record pre hash: %v", util.ErrFatal, err)
	}
	return computed, nil
}

// verifyDestination re-hashes the written destination and compares it to
// the source hash. A mismatching destination artifact is removed so a
// retry starts clean. Remote destinations are staged back to a local
// temp file so the same digest applies on both backends.
func (e *Executor) verifyDestination(ctx context.Context, adapter transfer.Adapter, dest *store.Drive, step *store.Step, expected string) (string, error) {
	verifyPath := step.DestPath

	if dest.Backend == store.BackendRclone {
		fetcher, ok := adapter.(interface {
			Fetch(ctx context.Context, remotePath, localDst string) error
		})
		if !ok {
			return "", fmt.Errorf("%w: adapter %s cannot stage remote content for verification",
				util.ErrTransferFailed, adapter.Name())
		}

		staging, err := os.MkdirTemp("", "djc-verify-")
		if err != nil {
			return "", fmt.Errorf("%w: create staging dir: %v", util.ErrTransferFailed, err)
		}
		defer os.RemoveAll(staging)

		verifyPath = filepath.Join(staging, filepath.Base(step.DestPath))
		if err := fetcher.Fetch(ctx, step.DestPath, verifyPath); err != nil {
			return "", err
		}
	}

	if err := hash.VerifyDestination(verifyPath, expected); err != nil {
		if rmErr := adapter.Remove(ctx, step.DestPath); rmErr != nil {
			util.WarnLog("Failed to remove mismatching destination %s: %v", step.DestPath, rmErr)
		}
		return "", err
	}

	return expected, nil
}

// adapterFor picks the transfer adapter matching a drive's backend
func (e *Executor) adapterFor(drive *store.Drive) transfer.Adapter {
	if drive.Backend == store.BackendRclone {
		return e.cfg.Remote(drive.RcloneRemote)
	}
	return e.cfg.Local
}

func (e *Executor) transferOptions() transfer.Options {
	opts := transfer.DefaultOptions()
	opts.BandwidthLimit = e.cfg.BandwidthLimit
	opts.Timeout = e.cfg.StepTimeout
	return opts
}
