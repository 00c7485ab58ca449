package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	currentSchemaVersion = 1
)

// Store represents the engine's persistent state. It is the single source
// of truth: every step state transition is an individual durable write.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path
func Open(path string) (*Store, error) {
	// WAL keeps readers (status queries) unblocked while the executor writes
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// CheckIntegrity runs PRAGMA integrity_check on the database
func (s *Store) CheckIntegrity() error {
	var result string
	err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	return nil
}

// migrate applies database migrations
func (s *Store) migrate() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := s.setSchemaVersion(tx, 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	// Future migrations would go here:
	// if version < 2 { ... }

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion records a schema version in a transaction
func (s *Store) setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// Transaction executes a function within a transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Backend identifies the transfer backend serving a drive
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRclone Backend = "rclone"
)

// Drive represents a registered storage target
type Drive struct {
	ID           int64
	Label        string
	MountPath    string
	FSType       string
	TotalBytes   int64
	Role         string
	IsOnline     bool
	IsReadonly   bool
	Backend      Backend
	RcloneRemote string
	AddedAt      time.Time
}

// FileStatus tracks what the engine has done to an indexed file
type FileStatus string

const (
	FileIndexed       FileStatus = "indexed"
	FileMigrated      FileStatus = "migrated"
	FileSourceRemoved FileStatus = "source_removed"
	FileDeleted       FileStatus = "deleted"
	FileError         FileStatus = "error"
)

// File represents an indexed file record, produced by the external
// indexer and consumed by the planner
type File struct {
	ID             int64
	DriveID        int64
	Path           string
	AbsPath        string
	SizeBytes      int64
	ContentHash    string
	Category       string
	Priority       string
	DuplicateGroup int64 // 0 when the file belongs to no group
	IsOriginal     bool
	Status         FileStatus
	Error          string
	IndexedAt      time.Time
}

// PlanStatus is the lifecycle state of a migration plan
type PlanStatus string

const (
	PlanDraft      PlanStatus = "draft"
	PlanApproved   PlanStatus = "approved"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
	PlanAborted    PlanStatus = "aborted"
)

// Plan is a durable, explicitly-approvable unit of work composed of
// ordered steps
type Plan struct {
	ID             int64
	CreatedAt      time.Time
	Description    string
	SourceDriveID  int64 // 0 when not drive-scoped
	TargetDriveID  int64 // 0 for delete-only plans
	Status         PlanStatus
	TotalFiles     int
	TotalBytes     int64
	CompletedFiles int
	CompletedBytes int64
	MaxBatchBytes  int64 // 0 means no planner hint
}

// StepAction is the file-level operation a step performs
type StepAction string

const (
	ActionCopy     StepAction = "copy"
	ActionMove     StepAction = "move"
	ActionDelete   StepAction = "delete"
	ActionHardlink StepAction = "hardlink"
	ActionSymlink  StepAction = "symlink"
)

// StepStatus is the execution state of a single step
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepRolledBack StepStatus = "rolled_back"
)

// Step is one atomic file-level operation within a plan
type Step struct {
	ID            int64
	PlanID        int64
	FileID        int64
	Action        StepAction
	SourcePath    string
	SourceDriveID int64
	DestPath      string // empty for delete steps
	DestDriveID   int64  // 0 for delete steps
	Status        StepStatus
	PreHash       string
	PostHash      string
	ExecutedAt    time.Time // zero until executed
	Error         string
	StepOrder     int
}

// AuditEntry is one append-only record of a mutating action
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	Action    string
	FileID    int64 // 0 when not file-scoped
	PlanID    int64 // 0 when not plan-scoped
	DriveID   int64 // 0 when not drive-scoped
	Details   string
	AgentMode string
}
