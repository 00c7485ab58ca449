// Package plan builds durable migration plans from file selections.
// A plan is created in draft and must be explicitly approved before the
// executor will touch it; every precondition is checked here, before
// anything is persisted.
package plan

import (
	"fmt"
	"path/filepath"

	"github.com/franz/disk-janitor/internal/report"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/util"
)

// Planner creates migration plans
type Planner struct {
	store         *store.Store
	logger        *report.EventLogger
	maxBatchBytes int64
}

// Config holds planner configuration
type Config struct {
	Store  *store.Store
	Logger *report.EventLogger

	// MaxBatchBytes is an optional hint consumed by the executor when
	// batching steps. 0 leaves batching to the executor's own sizing.
	MaxBatchBytes int64
}

// New creates a new Planner
func New(cfg *Config) *Planner {
	return &Planner{
		store:         cfg.Store,
		logger:        cfg.Logger,
		maxBatchBytes: cfg.MaxBatchBytes,
	}
}

// Selection names the files a plan operates on. Exactly one field
// should be set.
type Selection struct {
	FileIDs        []int64 // explicit file set
	DuplicateGroup int64   // all members of a duplicate group
	Category       string  // all indexed files of a category on DriveID
	DriveID        int64   // scope for Category
}

// Resolve expands a selection into file records
func (p *Planner) Resolve(sel Selection) ([]*store.File, error) {
	switch {
	case len(sel.FileIDs) > 0:
		return p.store.GetFilesByIDs(sel.FileIDs)
	case sel.DuplicateGroup != 0:
		return p.store.GetDuplicateGroupMembers(sel.DuplicateGroup)
	case sel.Category != "":
		return p.store.GetFilesByCategory(sel.DriveID, sel.Category)
	}
	return nil, fmt.Errorf("%w: empty selection", util.ErrInvalidPlan)
}

// CreateMigratePlan plans relocating the selected files to a target
// drive. mode is copy, move, hardlink or symlink.
func (p *Planner) CreateMigratePlan(sel Selection, targetDriveID int64, mode store.StepAction) (int64, error) {
	switch mode {
	case store.ActionCopy, store.ActionMove, store.ActionHardlink, store.ActionSymlink:
	default:
		return 0, fmt.Errorf("%w: %s is not a migration mode", util.ErrInvalidPlan, mode)
	}

	files, err := p.Resolve(sel)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w: selection matched no files", util.ErrInvalidPlan)
	}

	target, err := p.writableDrive(targetDriveID)
	if err != nil {
		return 0, err
	}

	totalBytes := sumBytes(files)
	plan := &store.Plan{
		Description:   fmt.Sprintf("%s %d files to drive %q", mode, len(files), target.Label),
		SourceDriveID: files[0].DriveID,
		TargetDriveID: targetDriveID,
		TotalFiles:    len(files),
		TotalBytes:    totalBytes,
		MaxBatchBytes: p.maxBatchBytes,
	}

	steps := make([]*store.Step, 0, len(files))
	for order, f := range files {
		steps = append(steps, &store.Step{
			FileID:        f.ID,
			Action:        mode,
			SourcePath:    f.AbsPath,
			SourceDriveID: f.DriveID,
			DestPath:      destPathFor(target, f),
			DestDriveID:   targetDriveID,
			PreHash:       f.ContentHash,
			StepOrder:     order,
		})
	}

	return p.persist(plan, steps, store.AgentAutomated)
}

// CreateOffloadPlan plans copying the selected files to a target drive
// and then removing the sources. Each file's copy step strictly precedes
// its delete step so no source is ever scheduled for removal before its
// replacement copy.
func (p *Planner) CreateOffloadPlan(sel Selection, targetDriveID int64) (int64, error) {
	files, err := p.Resolve(sel)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w: selection matched no files", util.ErrInvalidPlan)
	}

	target, err := p.writableDrive(targetDriveID)
	if err != nil {
		return 0, err
	}

	for _, f := range files {
		if f.ContentHash == "" {
			return 0, fmt.Errorf("%w: file %d has no known hash; offload would delete an unverifiable source",
				util.ErrInvalidPlan, f.ID)
		}
	}

	plan := &store.Plan{
		Description:   fmt.Sprintf("offload %d files to drive %q", len(files), target.Label),
		SourceDriveID: files[0].DriveID,
		TargetDriveID: targetDriveID,
		TotalFiles:    len(files),
		TotalBytes:    sumBytes(files),
		MaxBatchBytes: p.maxBatchBytes,
	}

	steps := make([]*store.Step, 0, len(files)*2)
	for order, f := range files {
		steps = append(steps, &store.Step{
			FileID:        f.ID,
			Action:        store.ActionCopy,
			SourcePath:    f.AbsPath,
			SourceDriveID: f.DriveID,
			DestPath:      destPathFor(target, f),
			DestDriveID:   targetDriveID,
			PreHash:       f.ContentHash,
			StepOrder:     order * 2,
		})
		steps = append(steps, &store.Step{
			FileID:        f.ID,
			Action:        store.ActionDelete,
			SourcePath:    f.AbsPath,
			SourceDriveID: f.DriveID,
			PreHash:       f.ContentHash,
			StepOrder:     order*2 + 1,
		})
	}

	return p.persist(plan, steps, store.AgentAutomated)
}

// CreateDedupPlan plans deleting every non-original member of a
// duplicate group, keeping the verified original.
func (p *Planner) CreateDedupPlan(group int64) (int64, error) {
	members, err := p.store.GetDuplicateGroupMembers(group)
	if err != nil {
		return 0, err
	}
	if len(members) < 2 {
		return 0, fmt.Errorf("%w: duplicate group %d has fewer than two members",
			util.ErrInvalidPlan, group)
	}

	var doomed []*store.File
	for _, m := range members {
		if !m.IsOriginal {
			doomed = append(doomed, m)
		}
	}
	if len(doomed) == 0 {
		return 0, fmt.Errorf("%w: duplicate group %d has no non-original members",
			util.ErrInvalidPlan, group)
	}

	if err := p.verifySurvivors(doomed); err != nil {
		return 0, err
	}

	plan := &store.Plan{
		Description: fmt.Sprintf("deduplicate group %d: delete %d copies", group, len(doomed)),
		TotalFiles:  len(doomed),
		TotalBytes:  sumBytes(doomed),
	}

	steps := deleteSteps(doomed)
	return p.persist(plan, steps, store.AgentAutomated)
}

// CreateDeletePlan plans deleting the selected files (e.g. classified
// trash). Files that belong to a duplicate group are still subject to
// the survivor precondition.
func (p *Planner) CreateDeletePlan(sel Selection) (int64, error) {
	files, err := p.Resolve(sel)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w: selection matched no files", util.ErrInvalidPlan)
	}

	if err := p.verifySurvivors(files); err != nil {
		return 0, err
	}

	plan := &store.Plan{
		Description: fmt.Sprintf("delete %d files", len(files)),
		TotalFiles:  len(files),
		TotalBytes:  sumBytes(files),
	}

	steps := deleteSteps(files)
	return p.persist(plan, steps, store.AgentAutomated)
}

// ApprovePlan flips a draft plan to approved. This is the single gate
// between planning and execution; no engine-internal path calls it.
func (p *Planner) ApprovePlan(id int64) error {
	if err := p.store.UpdatePlanStatus(id, store.PlanApproved); err != nil {
		return err
	}

	if err := p.store.AppendAudit(&store.AuditEntry{
		Action:    "plan_approved",
		PlanID:    id,
		Details:   "plan approved for execution",
		AgentMode: store.AgentManual,
	}); err != nil {
		return fmt.Errorf("%w: audit append: %v", util.ErrFatal, err)
	}

	p.logger.LogPlanApproved(id)
	return nil
}

// verifySurvivors enforces the never-delete-the-last-copy rule: every
// doomed file in a duplicate group must leave behind at least one other
// member marked original, with a matching known hash, that is not itself
// doomed in this plan.
func (p *Planner) verifySurvivors(doomed []*store.File) error {
	doomedIDs := make(map[int64]bool, len(doomed))
	for _, f := range doomed {
		doomedIDs[f.ID] = true
	}

	for _, f := range doomed {
		if f.DuplicateGroup == 0 {
			// Not part of a duplicate group; deletion was a
			// classification decision, not a dedup decision
			continue
		}
		if f.ContentHash == "" {
			return fmt.Errorf("%w: file %d has no known hash; cannot establish a surviving copy",
				util.ErrInvalidPlan, f.ID)
		}

		members, err := p.store.GetDuplicateGroupMembers(f.DuplicateGroup)
		if err != nil {
			return err
		}

		survives := false
		for _, m := range members {
			if m.ID == f.ID || doomedIDs[m.ID] {
				continue
			}
			if !m.IsOriginal {
				continue
			}
			if m.Status == store.FileDeleted || m.Status == store.FileSourceRemoved {
				continue
			}
			if m.ContentHash != "" && m.ContentHash == f.ContentHash {
				survives = true
				break
			}
		}

		if !survives {
			return fmt.Errorf("%w: deleting file %d would remove the last surviving verified copy of group %d",
				util.ErrInvalidPlan, f.ID, f.DuplicateGroup)
		}
	}

	return nil
}

// writableDrive fails unless the drive exists, is online and is not
// read-only
func (p *Planner) writableDrive(driveID int64) (*store.Drive, error) {
	drive, err := p.store.GetDrive(driveID)
	if err != nil {
		return nil, err
	}
	if drive == nil {
		return nil, fmt.Errorf("%w: drive %d not found", util.ErrInvalidPlan, driveID)
	}
	if !drive.IsOnline {
		return nil, fmt.Errorf("%w: drive %q", util.ErrDriveOffline, drive.Label)
	}
	if drive.IsReadonly {
		return nil, fmt.Errorf("%w: drive %q is read-only", util.ErrInvalidPlan, drive.Label)
	}
	return drive, nil
}

// persist writes the plan and its steps atomically and audit-logs the
// creation
func (p *Planner) persist(plan *store.Plan, steps []*store.Step, agentMode string) (int64, error) {
	if err := p.store.CreatePlanWithSteps(plan, steps); err != nil {
		return 0, fmt.Errorf("%w: create plan: %v", util.ErrFatal, err)
	}

	if err := p.store.AppendAudit(&store.AuditEntry{
		Action:    "plan_created",
		PlanID:    plan.ID,
		DriveID:   plan.TargetDriveID,
		Details:   fmt.Sprintf("%s (%d files, %d bytes)", plan.Description, plan.TotalFiles, plan.TotalBytes),
		AgentMode: agentMode,
	}); err != nil {
		return 0, fmt.Errorf("%w: audit append: %v", util.ErrFatal, err)
	}

	p.logger.LogPlanCreated(plan.ID, plan.Description, plan.TotalFiles, plan.TotalBytes)
	util.InfoLog("Created plan %d: %s", plan.ID, plan.Description)

	return plan.ID, nil
}

func deleteSteps(files []*store.File) []*store.Step {
	steps := make([]*store.Step, 0, len(files))
	for order, f := range files {
		steps = append(steps, &store.Step{
			FileID:        f.ID,
			Action:        store.ActionDelete,
			SourcePath:    f.AbsPath,
			SourceDriveID: f.DriveID,
			PreHash:       f.ContentHash,
			StepOrder:     order,
		})
	}
	return steps
}

// destPathFor computes where a file lands on the target drive. Local
// drives get an absolute path under the mount; remote drives keep the
// drive-relative path, interpreted by the rclone adapter.
func destPathFor(target *store.Drive, f *store.File) string {
	if target.Backend == store.BackendRclone {
		return f.Path
	}
	return filepath.Join(target.MountPath, f.Path)
}

func sumBytes(files []*store.File) int64 {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return total
}
