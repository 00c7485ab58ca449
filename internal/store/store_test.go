package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/franz/disk-janitor/internal/util"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func insertTestDrive(t *testing.T, db *Store, label string) *Drive {
	t.Helper()

	d := &Drive{
		Label:      label,
		MountPath:  "/mnt/" + label,
		TotalBytes: 1 << 40,
		Role:       "archive",
		IsOnline:   true,
		Backend:    BackendLocal,
	}
	if err := db.InsertDrive(d); err != nil {
		t.Fatalf("Failed to insert drive: %v", err)
	}
	return d
}

func insertTestFile(t *testing.T, db *Store, driveID int64, path string) *File {
	t.Helper()

	f := &File{
		DriveID:   driveID,
		Path:      path,
		AbsPath:   "/mnt/src/" + path,
		SizeBytes: 1024,
		Priority:  "normal",
		Status:    FileIndexed,
	}
	if err := db.InsertFile(f); err != nil {
		t.Fatalf("Failed to insert file: %v", err)
	}
	return f
}

func TestOpenCreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CheckIntegrity(); err != nil {
		t.Errorf("Integrity check failed on fresh database: %v", err)
	}

	version, err := db.getSchemaVersion()
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
}

func TestDriveRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	d := insertTestDrive(t, db, "archive-a")
	if d.ID == 0 {
		t.Fatal("InsertDrive did not set ID")
	}

	got, err := db.GetDrive(d.ID)
	if err != nil {
		t.Fatalf("GetDrive failed: %v", err)
	}
	if got == nil {
		t.Fatal("Drive not found")
	}
	if got.Label != "archive-a" || got.Backend != BackendLocal || !got.IsOnline {
		t.Errorf("Drive fields did not round-trip: %+v", got)
	}

	byLabel, err := db.GetDriveByLabel("archive-a")
	if err != nil {
		t.Fatalf("GetDriveByLabel failed: %v", err)
	}
	if byLabel == nil || byLabel.ID != d.ID {
		t.Error("GetDriveByLabel did not find the drive")
	}
}

func TestSetDriveOnline(t *testing.T) {
	db := setupTestDB(t)
	d := insertTestDrive(t, db, "usb-1")

	if err := db.SetDriveOnline(d.ID, false); err != nil {
		t.Fatalf("SetDriveOnline failed: %v", err)
	}

	got, err := db.GetDrive(d.ID)
	if err != nil {
		t.Fatalf("GetDrive failed: %v", err)
	}
	if got.IsOnline {
		t.Error("Drive should be offline")
	}
}

func TestInsertFileUpsert(t *testing.T) {
	db := setupTestDB(t)
	d := insertTestDrive(t, db, "src")

	f := insertTestFile(t, db, d.ID, "docs/a.pdf")
	firstID := f.ID

	// Same drive+path updates in place
	f2 := &File{
		DriveID:   d.ID,
		Path:      "docs/a.pdf",
		AbsPath:   "/mnt/src/docs/a.pdf",
		SizeBytes: 2048,
		Priority:  "normal",
		Status:    FileIndexed,
	}
	if err := db.InsertFile(f2); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if f2.ID != firstID {
		t.Errorf("Upsert created a new row: %d vs %d", f2.ID, firstID)
	}

	got, err := db.GetFile(firstID)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got.SizeBytes != 2048 {
		t.Errorf("Expected updated size 2048, got %d", got.SizeBytes)
	}
}

func TestGetDuplicateGroupMembersOriginalFirst(t *testing.T) {
	db := setupTestDB(t)
	d := insertTestDrive(t, db, "src")

	copy1 := &File{DriveID: d.ID, Path: "b.bin", AbsPath: "/mnt/src/b.bin",
		SizeBytes: 10, DuplicateGroup: 7, Priority: "normal", Status: FileIndexed}
	orig := &File{DriveID: d.ID, Path: "a.bin", AbsPath: "/mnt/src/a.bin",
		SizeBytes: 10, DuplicateGroup: 7, IsOriginal: true, Priority: "normal", Status: FileIndexed}

	for _, f := range []*File{copy1, orig} {
		if err := db.InsertFile(f); err != nil {
			t.Fatalf("Failed to insert file: %v", err)
		}
	}

	members, err := db.GetDuplicateGroupMembers(7)
	if err != nil {
		t.Fatalf("GetDuplicateGroupMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}
	if !members[0].IsOriginal {
		t.Error("Original should sort first")
	}
}

func TestCreatePlanWithStepsForcesDraft(t *testing.T) {
	db := setupTestDB(t)
	d := insertTestDrive(t, db, "src")
	f := insertTestFile(t, db, d.ID, "a.bin")

	plan := &Plan{
		Description: "test plan",
		Status:      PlanApproved, // must be ignored
		TotalFiles:  1,
		TotalBytes:  1024,
	}
	steps := []*Step{{
		FileID:        f.ID,
		Action:        ActionCopy,
		SourcePath:    f.AbsPath,
		SourceDriveID: d.ID,
		DestPath:      "/mnt/dst/a.bin",
		DestDriveID:   d.ID,
		Status:        StepCompleted, // must be ignored
		StepOrder:     0,
	}}

	if err := db.CreatePlanWithSteps(plan, steps); err != nil {
		t.Fatalf("CreatePlanWithSteps failed: %v", err)
	}
	if plan.ID == 0 || steps[0].ID == 0 {
		t.Fatal("IDs were not set")
	}

	got, err := db.GetPlan(plan.ID)
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if got.Status != PlanDraft {
		t.Errorf("New plan must be draft, got %s", got.Status)
	}

	gotSteps, err := db.GetStepsForPlan(plan.ID)
	if err != nil {
		t.Fatalf("GetStepsForPlan failed: %v", err)
	}
	if len(gotSteps) != 1 || gotSteps[0].Status != StepPending {
		t.Errorf("New steps must be pending, got %+v", gotSteps)
	}
}

func createPlanWithSteps(t *testing.T, db *Store, stepCount int) *Plan {
	t.Helper()

	d := insertTestDrive(t, db, "plan-src")
	plan := &Plan{Description: "lifecycle", TotalFiles: stepCount, TotalBytes: int64(stepCount) * 1024}

	var steps []*Step
	for i := 0; i < stepCount; i++ {
		f := insertTestFile(t, db, d.ID, filepath.Join("dir", "f"+string(rune('a'+i))))
		steps = append(steps, &Step{
			FileID:        f.ID,
			Action:        ActionCopy,
			SourcePath:    f.AbsPath,
			SourceDriveID: d.ID,
			DestPath:      "/mnt/dst/" + f.Path,
			DestDriveID:   d.ID,
			StepOrder:     i,
		})
	}

	if err := db.CreatePlanWithSteps(plan, steps); err != nil {
		t.Fatalf("CreatePlanWithSteps failed: %v", err)
	}
	return plan
}

func TestPlanLifecycleTransitions(t *testing.T) {
	db := setupTestDB(t)
	plan := createPlanWithSteps(t, db, 1)

	// Draft cannot jump straight to in_progress
	err := db.UpdatePlanStatus(plan.ID, PlanInProgress)
	if !errors.Is(err, util.ErrInvalidPlan) {
		t.Errorf("Expected ErrInvalidPlan for draft -> in_progress, got %v", err)
	}

	for _, status := range []PlanStatus{PlanApproved, PlanInProgress, PlanCompleted} {
		if err := db.UpdatePlanStatus(plan.ID, status); err != nil {
			t.Fatalf("Transition to %s failed: %v", status, err)
		}
	}

	// Terminal plans are immutable
	err = db.UpdatePlanStatus(plan.ID, PlanAborted)
	if !errors.Is(err, util.ErrInvalidPlan) {
		t.Errorf("Expected ErrInvalidPlan for completed -> aborted, got %v", err)
	}

	// Same-status update is a no-op
	if err := db.UpdatePlanStatus(plan.ID, PlanCompleted); err != nil {
		t.Errorf("Same-status update should be a no-op: %v", err)
	}
}

func TestGetRunnableSteps(t *testing.T) {
	db := setupTestDB(t)
	plan := createPlanWithSteps(t, db, 4)

	steps, err := db.GetStepsForPlan(plan.ID)
	if err != nil {
		t.Fatalf("GetStepsForPlan failed: %v", err)
	}

	// Simulate a crashed run: step 0 completed, step 1 orphaned
	// in_progress, step 2 failed, step 3 still pending
	if err := db.UpdateStepStatus(steps[0].ID, StepCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStepStatus(steps[1].ID, StepInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStepStatus(steps[2].ID, StepFailed, "transfer interrupted"); err != nil {
		t.Fatal(err)
	}

	runnable, err := db.GetRunnableSteps(plan.ID)
	if err != nil {
		t.Fatalf("GetRunnableSteps failed: %v", err)
	}
	if len(runnable) != 3 {
		t.Fatalf("Expected 3 runnable steps, got %d", len(runnable))
	}
	for i := 1; i < len(runnable); i++ {
		if runnable[i-1].StepOrder > runnable[i].StepOrder {
			t.Error("Runnable steps not in ascending step_order")
		}
	}
	for _, st := range runnable {
		if st.Status == StepCompleted {
			t.Error("Completed step must never be runnable")
		}
	}
}

func TestGetCompletedStepsDescending(t *testing.T) {
	db := setupTestDB(t)
	plan := createPlanWithSteps(t, db, 3)

	steps, err := db.GetStepsForPlan(plan.ID)
	if err != nil {
		t.Fatalf("GetStepsForPlan failed: %v", err)
	}
	for _, st := range steps {
		if err := db.UpdateStepStatus(st.ID, StepCompleted, ""); err != nil {
			t.Fatal(err)
		}
	}

	completed, err := db.GetCompletedSteps(plan.ID)
	if err != nil {
		t.Fatalf("GetCompletedSteps failed: %v", err)
	}
	if len(completed) != 3 {
		t.Fatalf("Expected 3 completed steps, got %d", len(completed))
	}
	for i := 1; i < len(completed); i++ {
		if completed[i-1].StepOrder < completed[i].StepOrder {
			t.Error("Completed steps not in descending step_order")
		}
	}
}

func TestStepHashesAndExecutedAt(t *testing.T) {
	db := setupTestDB(t)
	plan := createPlanWithSteps(t, db, 1)

	steps, err := db.GetStepsForPlan(plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	step := steps[0]

	if err := db.SetStepHashes(step.ID, "aa11", "bb22"); err != nil {
		t.Fatalf("SetStepHashes failed: %v", err)
	}
	if err := db.MarkStepExecuted(step.ID); err != nil {
		t.Fatalf("MarkStepExecuted failed: %v", err)
	}

	got, err := db.GetStep(step.ID)
	if err != nil {
		t.Fatalf("GetStep failed: %v", err)
	}
	if got.PreHash != "aa11" || got.PostHash != "bb22" {
		t.Errorf("Hashes did not round-trip: %q %q", got.PreHash, got.PostHash)
	}
	if got.ExecutedAt.IsZero() {
		t.Error("ExecutedAt not set")
	}
}

func TestAuditAppendAndList(t *testing.T) {
	db := setupTestDB(t)

	entries := []*AuditEntry{
		{Action: "plan_created", PlanID: 1, Details: "first", AgentMode: AgentAutomated},
		{Action: "plan_approved", PlanID: 1, Details: "second", AgentMode: AgentManual},
		{Action: "drive_added", DriveID: 2, Details: "unrelated", AgentMode: AgentManual},
	}
	for _, e := range entries {
		if err := db.AppendAudit(e); err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
	}

	all, err := db.ListAudit(0)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(all))
	}
	if all[0].Action != "plan_created" || all[2].Action != "drive_added" {
		t.Error("Audit entries not in append order")
	}

	scoped, err := db.ListAudit(1)
	if err != nil {
		t.Fatalf("ListAudit(1) failed: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("Expected 2 plan-scoped entries, got %d", len(scoped))
	}
	if scoped[1].AgentMode != AgentManual {
		t.Errorf("Agent mode did not round-trip: %q", scoped[1].AgentMode)
	}
}
