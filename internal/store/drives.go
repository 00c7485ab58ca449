package store

import (
	"database/sql"
	"fmt"
)

// InsertDrive inserts a drive record and sets its ID
func (s *Store) InsertDrive(d *Drive) error {
	result, err := s.db.Exec(`
		INSERT INTO drives (label, mount_path, fs_type, total_bytes, role, is_online, is_readonly, backend, rclone_remote)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Label, d.MountPath, d.FSType, d.TotalBytes, d.Role,
		boolToInt(d.IsOnline), boolToInt(d.IsReadonly), string(d.Backend), d.RcloneRemote)
	if err != nil {
		return fmt.Errorf("failed to insert drive: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get drive ID: %w", err)
	}
	d.ID = id

	return nil
}

// GetDrive retrieves a drive by ID
func (s *Store) GetDrive(id int64) (*Drive, error) {
	return s.scanDrive(s.db.QueryRow(driveSelect+` WHERE id = ?`, id))
}

// GetDriveByLabel retrieves a drive by its unique label
func (s *Store) GetDriveByLabel(label string) (*Drive, error) {
	return s.scanDrive(s.db.QueryRow(driveSelect+` WHERE label = ?`, label))
}

// ListDrives returns all registered drives
func (s *Store) ListDrives() ([]*Drive, error) {
	rows, err := s.db.Query(driveSelect + ` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drives []*Drive
	for rows.Next() {
		d, err := scanDriveRow(rows)
		if err != nil {
			return nil, err
		}
		drives = append(drives, d)
	}

	return drives, rows.Err()
}

// SetDriveOnline updates a drive's online flag
func (s *Store) SetDriveOnline(id int64, online bool) error {
	_, err := s.db.Exec(`UPDATE drives SET is_online = ? WHERE id = ?`, boolToInt(online), id)
	return err
}

const driveSelect = `
	SELECT id, label, COALESCE(mount_path, ''), COALESCE(fs_type, ''),
	       COALESCE(total_bytes, 0), role, is_online, is_readonly,
	       backend, COALESCE(rclone_remote, ''), added_at
	FROM drives`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanDrive(row *sql.Row) (*Drive, error) {
	d, err := scanDriveRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func scanDriveRow(row rowScanner) (*Drive, error) {
	var d Drive
	var online, readonly int
	var backend string

	err := row.Scan(&d.ID, &d.Label, &d.MountPath, &d.FSType, &d.TotalBytes,
		&d.Role, &online, &readonly, &backend, &d.RcloneRemote, &d.AddedAt)
	if err != nil {
		return nil, err
	}

	d.IsOnline = online == 1
	d.IsReadonly = readonly == 1
	d.Backend = Backend(backend)
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
