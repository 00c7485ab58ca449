package store

import (
	"database/sql"
	"fmt"

	"github.com/franz/disk-janitor/internal/util"
)

// validPlanTransitions encodes the one-way plan lifecycle:
// draft -> approved -> in_progress -> {completed, aborted}
var validPlanTransitions = map[PlanStatus][]PlanStatus{
	PlanDraft:      {PlanApproved},
	PlanApproved:   {PlanInProgress},
	PlanInProgress: {PlanCompleted, PlanAborted},
}

// CreatePlanWithSteps creates a plan and its steps atomically. The plan
// is always created in draft; approval is a separate, explicit write.
func (s *Store) CreatePlanWithSteps(plan *Plan, steps []*Step) error {
	plan.Status = PlanDraft

	return s.Transaction(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO migration_plans
			(description, source_drive_id, target_drive_id, status, total_files, total_bytes, max_batch_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, plan.Description, nullableID(plan.SourceDriveID), nullableID(plan.TargetDriveID),
			string(plan.Status), plan.TotalFiles, plan.TotalBytes, plan.MaxBatchBytes)
		if err != nil {
			return fmt.Errorf("failed to insert plan: %w", err)
		}

		planID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get plan ID: %w", err)
		}
		plan.ID = planID

		stmt, err := tx.Prepare(`
			INSERT INTO migration_steps
			(plan_id, file_id, action, source_path, source_drive_id, dest_path, dest_drive_id, status, pre_hash, step_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, step := range steps {
			step.PlanID = planID
			step.Status = StepPending

			res, err := stmt.Exec(planID, step.FileID, string(step.Action),
				step.SourcePath, step.SourceDriveID,
				nullableString(step.DestPath), nullableID(step.DestDriveID),
				string(step.Status), nullableString(step.PreHash), step.StepOrder)
			if err != nil {
				return fmt.Errorf("failed to insert step %d: %w", step.StepOrder, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				step.ID = id
			}
		}

		return nil
	})
}

// GetPlan retrieves a plan by ID, nil if not found
func (s *Store) GetPlan(id int64) (*Plan, error) {
	p, err := scanPlanRow(s.db.QueryRow(planSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListPlans returns all plans, newest first
func (s *Store) ListPlans() ([]*Plan, error) {
	rows, err := s.db.Query(planSelect + ` ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}

	return plans, rows.Err()
}

// UpdatePlanStatus advances a plan's lifecycle state. Transitions outside
// draft -> approved -> in_progress -> {completed, aborted} are rejected;
// a terminal plan is immutable.
func (s *Store) UpdatePlanStatus(id int64, status PlanStatus) error {
	plan, err := s.GetPlan(id)
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("plan %d not found", id)
	}

	if plan.Status == status {
		return nil
	}

	allowed := false
	for _, next := range validPlanTransitions[plan.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: plan %d cannot go %s -> %s",
			util.ErrInvalidPlan, id, plan.Status, status)
	}

	_, err = s.db.Exec(`UPDATE migration_plans SET status = ? WHERE id = ?`,
		string(status), id)
	return err
}

// UpdatePlanProgress records completed file/byte counters for a plan
func (s *Store) UpdatePlanProgress(id int64, completedFiles int, completedBytes int64) error {
	_, err := s.db.Exec(`
		UPDATE migration_plans SET completed_files = ?, completed_bytes = ? WHERE id = ?
	`, completedFiles, completedBytes, id)
	return err
}

const planSelect = `
	SELECT id, created_at, COALESCE(description, ''),
	       COALESCE(source_drive_id, 0), COALESCE(target_drive_id, 0),
	       status, total_files, total_bytes, completed_files, completed_bytes,
	       max_batch_bytes
	FROM migration_plans`

func scanPlanRow(row rowScanner) (*Plan, error) {
	var p Plan
	var status string

	err := row.Scan(&p.ID, &p.CreatedAt, &p.Description,
		&p.SourceDriveID, &p.TargetDriveID, &status,
		&p.TotalFiles, &p.TotalBytes, &p.CompletedFiles, &p.CompletedBytes,
		&p.MaxBatchBytes)
	if err != nil {
		return nil, err
	}

	p.Status = PlanStatus(status)
	return &p, nil
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
