package store

// Schema v1 - drives and files come from the external indexer; plans,
// steps and the audit log belong to the migration engine.
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Registered storage targets
CREATE TABLE IF NOT EXISTS drives (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  label TEXT UNIQUE NOT NULL,
  mount_path TEXT,
  fs_type TEXT,
  total_bytes INTEGER,
  role TEXT NOT NULL DEFAULT 'source',
  is_online INTEGER NOT NULL DEFAULT 1,
  is_readonly INTEGER NOT NULL DEFAULT 0,
  backend TEXT NOT NULL DEFAULT 'local',
  rclone_remote TEXT,
  added_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexed files (written by the index collaborator)
CREATE TABLE IF NOT EXISTS files (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  drive_id INTEGER NOT NULL REFERENCES drives(id),
  path TEXT NOT NULL,
  abs_path TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  content_hash TEXT,
  category TEXT,
  priority TEXT NOT NULL DEFAULT 'normal',
  duplicate_group INTEGER,
  is_original INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'indexed',
  error TEXT,
  indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(drive_id, path)
);

CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
CREATE INDEX IF NOT EXISTS idx_files_category ON files(category);
CREATE INDEX IF NOT EXISTS idx_files_duplicate_group ON files(duplicate_group);

-- Migration plans
CREATE TABLE IF NOT EXISTS migration_plans (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  description TEXT,
  source_drive_id INTEGER REFERENCES drives(id),
  target_drive_id INTEGER REFERENCES drives(id),
  status TEXT NOT NULL DEFAULT 'draft',
  total_files INTEGER NOT NULL DEFAULT 0,
  total_bytes INTEGER NOT NULL DEFAULT 0,
  completed_files INTEGER NOT NULL DEFAULT 0,
  completed_bytes INTEGER NOT NULL DEFAULT 0,
  max_batch_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_plans_status ON migration_plans(status);

-- Migration steps, ordered within a plan
CREATE TABLE IF NOT EXISTS migration_steps (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  plan_id INTEGER NOT NULL REFERENCES migration_plans(id),
  file_id INTEGER NOT NULL REFERENCES files(id),
  action TEXT NOT NULL,
  source_path TEXT NOT NULL,
  source_drive_id INTEGER NOT NULL REFERENCES drives(id),
  dest_path TEXT,
  dest_drive_id INTEGER REFERENCES drives(id),
  status TEXT NOT NULL DEFAULT 'pending',
  pre_hash TEXT,
  post_hash TEXT,
  executed_at DATETIME,
  error TEXT,
  step_order INTEGER NOT NULL,
  UNIQUE(plan_id, step_order)
);

CREATE INDEX IF NOT EXISTS idx_steps_plan_order ON migration_steps(plan_id, step_order);
CREATE INDEX IF NOT EXISTS idx_steps_status ON migration_steps(plan_id, status);

-- Append-only audit log; rows are never updated or deleted
CREATE TABLE IF NOT EXISTS audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
  action TEXT NOT NULL,
  file_id INTEGER,
  plan_id INTEGER,
  drive_id INTEGER,
  details TEXT,
  agent_mode TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_plan ON audit_log(plan_id);
`
