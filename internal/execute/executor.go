// Package execute runs approved migration plans. Steps execute strictly
// in step_order, each one hash-verified at both ends and persisted as an
// individual durable write, so a crash loses at most the in-flight step.
package execute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/franz/disk-janitor/internal/report"
	"github.com/franz/disk-janitor/internal/space"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/transfer"
	"github.com/franz/disk-janitor/internal/util"
)

// FailurePolicy decides what a step failure does to the rest of the run
type FailurePolicy string

const (
	// AbortOnFailure stops the run; remaining steps stay pending
	AbortOnFailure FailurePolicy = "abort"
	// SkipOnFailure marks the step failed and continues
	SkipOnFailure FailurePolicy = "skip"
	// RetryThenPrompt asks the caller-supplied OnFailure func to decide
	RetryThenPrompt FailurePolicy = "prompt"
)

// Decision is the caller's answer under RetryThenPrompt
type Decision int

const (
	DecisionAbort Decision = iota
	DecisionSkip
	DecisionRetry
)

const defaultBatchSize = 100

// Config holds executor configuration
type Config struct {
	Store *store.Store

	// Local serves drives with the local backend
	Local transfer.Adapter

	// Remote builds an adapter for a drive's rclone remote. Defaults
	// to transfer.NewRclone.
	Remote func(remote string) transfer.Adapter

	RetryCount     int           // retries per step after the first attempt
	Policy         FailurePolicy // defaults to AbortOnFailure
	BatchSize      int           // steps per space-guard batch
	BandwidthLimit int64         // bytes/sec passed to adapters, 0 = unlimited
	StepTimeout    time.Duration // bound per transfer, 0 = none
	DryRun         bool

	// Confirm gates each batch in interactive mode; nil auto-admits
	Confirm func(planID int64, steps int, batchBytes uint64) bool

	// OnFailure decides for RetryThenPrompt; nil falls back to abort
	OnFailure func(step *store.Step, err error) Decision

	// OnStepDone is invoked after each successfully completed step,
	// for progress reporting
	OnStepDone func(step *store.Step, bytes int64)

	Logger *report.EventLogger
}

// Executor runs plans. Only one active run is permitted per plan.
type Executor struct {
	cfg Config

	mu     sync.Mutex
	active map[int64]bool
}

// New creates a new Executor
func New(cfg Config) *Executor {
	if cfg.Local == nil {
		cfg.Local = transfer.NewLocal()
	}
	if cfg.Remote == nil {
		cfg.Remote = func(remote string) transfer.Adapter {
			return transfer.NewRclone(remote)
		}
	}
	if cfg.Policy == "" {
		cfg.Policy = AbortOnFailure
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	return &Executor{
		cfg:    cfg,
		active: make(map[int64]bool),
	}
}

// StepError reports a single step failure in structured form
type StepError struct {
	StepID int64
	FileID int64
	Action store.StepAction
	Err    string
}

// Result reports an execution run in structured counts and bytes
type Result struct {
	PlanID       int64
	RunID        string
	Processed    int
	Completed    int
	Failed       int
	Skipped      int
	BytesWritten int64
	Paused       bool
	PauseReason  string
	StepErrors   []StepError
}

// ExecutePlan runs the runnable steps of an approved plan. Already
// completed steps are never touched, so re-invoking on a partially
// completed plan is an idempotent resume.
func (e *Executor) ExecutePlan(ctx context.Context, planID int64) (*Result, error) {
	plan, err := e.cfg.Store.GetPlan(planID)
	if err != nil {
		return nil, fmt.Errorf("%w: load plan: %v", util.ErrFatal, err)
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %d not found", planID)
	}

	// Hard gate: nothing executes, and in particular nothing is ever
	// deleted, from a plan that has not passed the approval gate
	if plan.Status != store.PlanApproved && plan.Status != store.PlanInProgress {
		return nil, fmt.Errorf("%w: plan %d is %s, not approved",
			util.ErrInvalidPlan, planID, plan.Status)
	}

	if !e.acquire(planID) {
		return nil, fmt.Errorf("plan %d already has an active execution run", planID)
	}
	defer e.release(planID)

	runID := uuid.NewString()
	result := &Result{PlanID: planID, RunID: runID}

	steps, err := e.cfg.Store.GetRunnableSteps(planID)
	if err != nil {
		return nil, fmt.Errorf("%w: load steps: %v", util.ErrFatal, err)
	}

	if e.cfg.DryRun {
		return e.dryRun(plan, steps, result)
	}

	if len(steps) == 0 {
		util.InfoLog("Plan %d has no runnable steps", planID)
		return e.finishIfDone(plan, result)
	}

	if plan.Status == store.PlanApproved {
		if err := e.cfg.Store.UpdatePlanStatus(planID, store.PlanInProgress); err != nil {
			return nil, err
		}
		if err := e.audit("plan_execution_started", 0, planID, 0,
			fmt.Sprintf("run %s: %d runnable steps", runID, len(steps))); err != nil {
			return nil, err
		}
	}

	completedFiles := plan.CompletedFiles
	completedBytes := plan.CompletedBytes

	for start := 0; start < len(steps); {
		batch := e.nextBatch(steps[start:], plan.MaxBatchBytes)
		start += len(batch)

		admitted, reason, err := e.admitBatch(plan, batch)
		if err != nil {
			return result, err
		}
		if !admitted {
			result.Paused = true
			result.PauseReason = reason
			e.cfg.Logger.LogPause(planID, reason)
			e.audit("plan_paused", 0, planID, 0, reason)
			util.WarnLog("Plan %d paused: %s", planID, reason)
			return result, nil
		}

		for _, step := range batch {
			// Cancellation is cooperative and checked between
			// steps only; a step is never abandoned mid-flight
			if err := ctx.Err(); err != nil {
				return result, err
			}

			result.Processed++
			stepErr := e.runStepWithRetry(ctx, step)
			decision := DecisionAbort
			for stepErr != nil {
				decision = e.decide(step, stepErr)
				if decision != DecisionRetry {
					break
				}
				stepErr = e.runStepWithRetry(ctx, step)
			}

			if stepErr == nil {
				size := e.stepBytes(step)
				result.Completed++
				result.BytesWritten += size
				completedFiles++
				completedBytes += size
				if err := e.cfg.Store.UpdatePlanProgress(planID, completedFiles, completedBytes); err != nil {
					return result, fmt.Errorf("%w: update progress: %v", util.ErrFatal, err)
				}
				if e.cfg.OnStepDone != nil {
					e.cfg.OnStepDone(step, size)
				}
				continue
			}

			result.Failed++
			result.StepErrors = append(result.StepErrors, StepError{
				StepID: step.ID,
				FileID: step.FileID,
				Action: step.Action,
				Err:    stepErr.Error(),
			})

			switch decision {
			case DecisionSkip:
				util.WarnLog("Step %d failed, skipping: %v", step.ID, stepErr)
				continue
			default:
				e.audit("plan_execution_aborted", step.FileID, planID, step.SourceDriveID,
					fmt.Sprintf("run %s aborted at step %d: %v", runID, step.ID, stepErr))
				if err := e.cfg.Store.UpdatePlanStatus(planID, store.PlanAborted); err != nil {
					util.ErrorLog("Failed to mark plan %d aborted: %v", planID, err)
				}
				return result, stepErr
			}
		}
	}

	plan, err = e.cfg.Store.GetPlan(planID)
	if err != nil {
		return result, fmt.Errorf("%w: reload plan: %v", util.ErrFatal, err)
	}
	return e.finishIfDone(plan, result)
}

// runStepWithRetry applies the retry budget to retryable failures.
// Non-retryable failures (space, invalid plan) surface immediately.
func (e *Executor) runStepWithRetry(ctx context.Context, step *store.Step) error {
	var err error
	attempts := e.cfg.RetryCount + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		err = e.runStep(ctx, step)
		if err == nil {
			return nil
		}
		if !util.IsRetryableStepError(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt < attempts {
			util.DebugLog("Step %d attempt %d/%d failed, retrying: %v",
				step.ID, attempt, attempts, err)
		}
	}

	return err
}

// decide maps a final step failure to a run-level decision
func (e *Executor) decide(step *store.Step, stepErr error) Decision {
	switch e.cfg.Policy {
	case SkipOnFailure:
		return DecisionSkip
	case RetryThenPrompt:
		if e.cfg.OnFailure != nil {
			return e.cfg.OnFailure(step, stepErr)
		}
		return DecisionAbort
	default:
		return DecisionAbort
	}
}

// admitBatch applies the space guard and optional interactive gate.
// Returns admitted=false with a reason when the plan should pause.
func (e *Executor) admitBatch(plan *store.Plan, batch []*store.Step) (bool, string, error) {
	batchBytes, perDrive, err := e.batchDemand(batch)
	if err != nil {
		return false, "", err
	}

	for driveID, demand := range perDrive {
		drive, err := e.cfg.Store.GetDrive(driveID)
		if err != nil {
			return false, "", fmt.Errorf("%w: load drive %d: %v", util.ErrFatal, driveID, err)
		}
		if drive == nil {
			return false, "", fmt.Errorf("destination drive %d not found", driveID)
		}

		// An offline destination blocks new batches but never
		// disturbs steps that already completed
		if !drive.IsOnline {
			return false, fmt.Sprintf("destination drive %q is offline", drive.Label), nil
		}

		// The space guard only reasons about local mounts; remote
		// quota enforcement belongs to the remote itself
		if drive.Backend != store.BackendLocal {
			continue
		}

		info, err := space.GetFreeSpace(drive.MountPath)
		if err != nil {
			return false, "", err
		}

		if info.ExceedsCapacity(demand.maxStep) {
			return false, "", fmt.Errorf("%w: a single step of %d bytes exceeds drive %q capacity of %d bytes",
				util.ErrInsufficientSpace, demand.maxStep, drive.Label, info.TotalBytes)
		}

		if !info.CanSafelyWrite(demand.total) {
			return false, fmt.Sprintf(
				"batch of %d bytes exceeds safe headroom on drive %q (%d bytes free, %d safely writable)",
				demand.total, drive.Label, info.FreeBytes, info.MaxSafeWriteBytes()), nil
		}
	}

	if e.cfg.Confirm != nil && !e.cfg.Confirm(plan.ID, len(batch), batchBytes) {
		return false, "batch declined by caller", nil
	}

	e.cfg.Logger.LogBatch(plan.ID, len(batch), batchBytes, 0)
	return true, "", nil
}

// nextBatch takes up to BatchSize steps, additionally capping the
// batch's destination byte demand at the plan's max_batch_bytes hint
// when one was recorded. A single step larger than the hint still forms
// its own batch; whether it can run at all is the space guard's call.
func (e *Executor) nextBatch(steps []*store.Step, maxBatchBytes int64) []*store.Step {
	n := len(steps)
	if n > e.cfg.BatchSize {
		n = e.cfg.BatchSize
	}
	if maxBatchBytes <= 0 {
		return steps[:n]
	}

	var demand uint64
	for i := 0; i < n; i++ {
		size := e.demandBytes(steps[i])
		if i > 0 && demand+size > uint64(maxBatchBytes) {
			return steps[:i]
		}
		demand += size
	}
	return steps[:n]
}

type driveDemand struct {
	total   uint64
	maxStep uint64
}

// batchDemand sums destination byte demand per destination drive.
// Links register their drive with zero demand so the offline gate still
// applies to them.
func (e *Executor) batchDemand(batch []*store.Step) (uint64, map[int64]*driveDemand, error) {
	var batchBytes uint64
	perDrive := make(map[int64]*driveDemand)

	for _, step := range batch {
		if step.DestDriveID == 0 {
			continue // deletes consume no destination space
		}
		size := e.demandBytes(step)
		batchBytes += size

		d := perDrive[step.DestDriveID]
		if d == nil {
			d = &driveDemand{}
			perDrive[step.DestDriveID] = d
		}
		d.total += size
		if size > d.maxStep {
			d.maxStep = size
		}
	}

	return batchBytes, perDrive, nil
}

// demandBytes is the destination space a step will consume. Deletes
// and links consume none.
func (e *Executor) demandBytes(step *store.Step) uint64 {
	if step.DestDriveID == 0 {
		return 0
	}
	if step.Action == store.ActionHardlink || step.Action == store.ActionSymlink {
		return 0
	}
	return uint64(e.stepBytes(step))
}

// stepBytes returns the size of the file a step operates on
func (e *Executor) stepBytes(step *store.Step) int64 {
	f, err := e.cfg.Store.GetFile(step.FileID)
	if err != nil || f == nil {
		return 0
	}
	return f.SizeBytes
}

// dryRun reports what would execute without mutating anything
func (e *Executor) dryRun(plan *store.Plan, steps []*store.Step, result *Result) (*Result, error) {
	util.InfoLog("DRY RUN: plan %d has %d runnable steps", plan.ID, len(steps))

	for _, step := range steps {
		result.Processed++
		if step.DestPath != "" {
			util.InfoLog("DRY RUN: would %s %s -> %s", step.Action, step.SourcePath, step.DestPath)
		} else {
			util.InfoLog("DRY RUN: would %s %s", step.Action, step.SourcePath)
		}
	}

	_, perDrive, err := e.batchDemand(steps)
	if err != nil {
		return result, err
	}
	for driveID, demand := range perDrive {
		drive, err := e.cfg.Store.GetDrive(driveID)
		if err != nil || drive == nil || drive.Backend != store.BackendLocal {
			continue
		}
		info, err := space.GetFreeSpace(drive.MountPath)
		if err != nil {
			util.WarnLog("DRY RUN: cannot stat drive %q: %v", drive.Label, err)
			continue
		}
		util.InfoLog("DRY RUN: drive %q needs %d bytes, %d free (max safe write %d)",
			drive.Label, demand.total, info.FreeBytes, info.MaxSafeWriteBytes())
	}

	return result, nil
}

// finishIfDone marks the plan completed when no runnable or failed
// steps remain
func (e *Executor) finishIfDone(plan *store.Plan, result *Result) (*Result, error) {
	if plan.Status != store.PlanInProgress {
		return result, nil
	}

	for _, status := range []store.StepStatus{store.StepPending, store.StepInProgress, store.StepFailed} {
		n, err := e.cfg.Store.CountStepsByStatus(plan.ID, status)
		if err != nil {
			return result, fmt.Errorf("%w: count steps: %v", util.ErrFatal, err)
		}
		if n > 0 {
			return result, nil
		}
	}

	if err := e.cfg.Store.UpdatePlanStatus(plan.ID, store.PlanCompleted); err != nil {
		return result, err
	}
	if err := e.audit("plan_execution_completed", 0, plan.ID, 0,
		fmt.Sprintf("completed %d files, %d bytes", plan.CompletedFiles, plan.CompletedBytes)); err != nil {
		return result, err
	}

	util.SuccessLog("Plan %d completed", plan.ID)
	return result, nil
}

func (e *Executor) audit(action string, fileID, planID, driveID int64, details string) error {
	err := e.cfg.Store.AppendAudit(&store.AuditEntry{
		Action:    action,
		FileID:    fileID,
		PlanID:    planID,
		DriveID:   driveID,
		Details:   details,
		AgentMode: store.AgentAutomated,
	})
	if err != nil {
		return fmt.Errorf("%w: audit append: %v", util.ErrFatal, err)
	}
	return nil
}

func (e *Executor) acquire(planID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[planID] {
		return false
	}
	e.active[planID] = true
	return true
}

func (e *Executor) release(planID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, planID)
}
