package store

import (
	"database/sql"
	"fmt"
)

// InsertFile inserts or updates a file record and sets its ID
func (s *Store) InsertFile(f *File) error {
	var dupGroup interface{}
	if f.DuplicateGroup != 0 {
		dupGroup = f.DuplicateGroup
	}

	result, err := s.db.Exec(`
		INSERT INTO files (drive_id, path, abs_path, size_bytes, content_hash, category,
		                   priority, duplicate_group, is_original, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(drive_id, path) DO UPDATE SET
			abs_path = excluded.abs_path,
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash,
			category = excluded.category,
			priority = excluded.priority,
			duplicate_group = excluded.duplicate_group,
			is_original = excluded.is_original
	`, f.DriveID, f.Path, f.AbsPath, f.SizeBytes, f.ContentHash, f.Category,
		f.Priority, dupGroup, boolToInt(f.IsOriginal), string(f.Status))
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}

	if f.ID == 0 {
		id, err := result.LastInsertId()
		if err == nil && id != 0 {
			f.ID = id
		} else {
			err = s.db.QueryRow(
				"SELECT id FROM files WHERE drive_id = ? AND path = ?",
				f.DriveID, f.Path).Scan(&f.ID)
			if err != nil {
				return fmt.Errorf("failed to get file ID: %w", err)
			}
		}
	}

	return nil
}

// GetFile retrieves a file by ID, nil if not found
func (s *Store) GetFile(id int64) (*File, error) {
	f, err := scanFileRow(s.db.QueryRow(fileSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

// GetFilesByIDs retrieves files by an explicit ID set, in the given order
func (s *Store) GetFilesByIDs(ids []int64) ([]*File, error) {
	files := make([]*File, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFile(id)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("file %d not found", id)
		}
		files = append(files, f)
	}
	return files, nil
}

// GetFilesByCategory returns all files on a drive with the given category
func (s *Store) GetFilesByCategory(driveID int64, category string) ([]*File, error) {
	rows, err := s.db.Query(fileSelect+`
		WHERE drive_id = ? AND category = ? AND status = 'indexed'
		ORDER BY id`, driveID, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

// GetDuplicateGroupMembers returns all files sharing a duplicate group
func (s *Store) GetDuplicateGroupMembers(group int64) ([]*File, error) {
	rows, err := s.db.Query(fileSelect+`
		WHERE duplicate_group = ?
		ORDER BY is_original DESC, id`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

// UpdateFileStatus updates a file's status and error text
func (s *Store) UpdateFileStatus(id int64, status FileStatus, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE files SET status = ?, error = ? WHERE id = ?
	`, string(status), errMsg, id)
	return err
}

const fileSelect = `
	SELECT id, drive_id, path, abs_path, size_bytes, COALESCE(content_hash, ''),
	       COALESCE(category, ''), priority, COALESCE(duplicate_group, 0),
	       is_original, status, COALESCE(error, ''), indexed_at
	FROM files`

func scanFileRow(row rowScanner) (*File, error) {
	var f File
	var original int
	var status string

	err := row.Scan(&f.ID, &f.DriveID, &f.Path, &f.AbsPath, &f.SizeBytes,
		&f.ContentHash, &f.Category, &f.Priority, &f.DuplicateGroup,
		&original, &status, &f.Error, &f.IndexedAt)
	if err != nil {
		return nil, err
	}

	f.IsOriginal = original == 1
	f.Status = FileStatus(status)
	return &f, nil
}

func collectFiles(rows *sql.Rows) ([]*File, error) {
	var files []*File
	for rows.Next() {
		f, err := scanFileRow(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
