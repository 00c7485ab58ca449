package store

import "database/sql"

// AgentMode values recorded with every audit entry
const (
	AgentAutomated = "automated"
	AgentManual    = "manual"
)

// AppendAudit appends an entry to the audit log. The log is append-only;
// there is deliberately no update or delete method.
func (s *Store) AppendAudit(e *AuditEntry) error {
	result, err := s.db.Exec(`
		INSERT INTO audit_log (action, file_id, plan_id, drive_id, details, agent_mode)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Action, nullableID(e.FileID), nullableID(e.PlanID), nullableID(e.DriveID),
		e.Details, e.AgentMode)
	if err != nil {
		return err
	}

	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListAudit returns audit entries, oldest first. planID of 0 lists all.
func (s *Store) ListAudit(planID int64) ([]*AuditEntry, error) {
	query := auditSelect + ` ORDER BY id ASC`
	args := []interface{}{}
	if planID != 0 {
		query = auditSelect + ` WHERE plan_id = ? ORDER BY id ASC`
		args = append(args, planID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e, err := scanAuditRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

const auditSelect = `
	SELECT id, timestamp, action, COALESCE(file_id, 0), COALESCE(plan_id, 0),
	       COALESCE(drive_id, 0), COALESCE(details, ''), COALESCE(agent_mode, '')
	FROM audit_log`

func scanAuditRow(rows *sql.Rows) (*AuditEntry, error) {
	var e AuditEntry
	err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.FileID, &e.PlanID,
		&e.DriveID, &e.Details, &e.AgentMode)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
