package store

import (
	"database/sql"
	"time"
)

// GetStep retrieves a step by ID, nil if not found
func (s *Store) GetStep(id int64) (*Step, error) {
	st, err := scanStepRow(s.db.QueryRow(stepSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// GetStepsForPlan returns all steps of a plan in ascending step_order
func (s *Store) GetStepsForPlan(planID int64) ([]*Step, error) {
	rows, err := s.db.Query(stepSelect+`
		WHERE plan_id = ?
		ORDER BY step_order ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

// GetRunnableSteps returns steps eligible for (re-)execution in ascending
// step_order: pending steps, in_progress steps orphaned by a prior crash,
// and failed steps eligible for another attempt. An orphaned step is never
// resumed from partial state; callers re-run it from scratch.
func (s *Store) GetRunnableSteps(planID int64) ([]*Step, error) {
	rows, err := s.db.Query(stepSelect+`
		WHERE plan_id = ? AND status IN ('pending', 'in_progress', 'failed')
		ORDER BY step_order ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

// GetCompletedSteps returns a plan's completed steps in descending
// step_order, the order rollback must process them in.
func (s *Store) GetCompletedSteps(planID int64) ([]*Step, error) {
	rows, err := s.db.Query(stepSelect+`
		WHERE plan_id = ? AND status = 'completed'
		ORDER BY step_order DESC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

// CountStepsByStatus returns the number of a plan's steps in a given status
func (s *Store) CountStepsByStatus(planID int64, status StepStatus) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM migration_steps WHERE plan_id = ? AND status = ?
	`, planID, string(status)).Scan(&count)
	return count, err
}

// CountIncompleteTransfersForFile returns the number of copy or move
// steps for a file within a plan that have not completed. A delete step
// paired with such a transfer must not run until this reaches zero.
func (s *Store) CountIncompleteTransfersForFile(planID, fileID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM migration_steps
		WHERE plan_id = ? AND file_id = ? AND action IN ('copy', 'move')
		  AND status != 'completed'
	`, planID, fileID).Scan(&count)
	return count, err
}

// UpdateStepStatus writes a step's status and error text as a single
// durable write
func (s *Store) UpdateStepStatus(id int64, status StepStatus, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE migration_steps SET status = ?, error = ? WHERE id = ?
	`, string(status), errMsg, id)
	return err
}

// SetStepHashes records the pre/post content hashes for a step
func (s *Store) SetStepHashes(id int64, preHash, postHash string) error {
	_, err := s.db.Exec(`
		UPDATE migration_steps SET pre_hash = ?, post_hash = ? WHERE id = ?
	`, nullableString(preHash), nullableString(postHash), id)
	return err
}

// MarkStepExecuted stamps the step's execution time
func (s *Store) MarkStepExecuted(id int64) error {
	_, err := s.db.Exec(`
		UPDATE migration_steps SET executed_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	return err
}

const stepSelect = `
	SELECT id, plan_id, file_id, action, source_path, source_drive_id,
	       COALESCE(dest_path, ''), COALESCE(dest_drive_id, 0), status,
	       COALESCE(pre_hash, ''), COALESCE(post_hash, ''), executed_at,
	       COALESCE(error, ''), step_order
	FROM migration_steps`

func scanStepRow(row rowScanner) (*Step, error) {
	var st Step
	var action, status string
	var executedAt sql.NullTime

	err := row.Scan(&st.ID, &st.PlanID, &st.FileID, &action, &st.SourcePath,
		&st.SourceDriveID, &st.DestPath, &st.DestDriveID, &status,
		&st.PreHash, &st.PostHash, &executedAt, &st.Error, &st.StepOrder)
	if err != nil {
		return nil, err
	}

	st.Action = StepAction(action)
	st.Status = StepStatus(status)
	if executedAt.Valid {
		st.ExecutedAt = executedAt.Time
	}
	return &st, nil
}

func collectSteps(rows *sql.Rows) ([]*Step, error) {
	var steps []*Step
	for rows.Next() {
		st, err := scanStepRow(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}
