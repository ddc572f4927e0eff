package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	if err := s.migrateV2(); err != nil {
		return err
	}
	return s.migrateV3()
}

func (s *Store) schemaVersion() string {
	var version string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return ""
	}
	return version
}

func (s *Store) setSchemaVersion(v string) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, v); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'planning',
		priority         TEXT NOT NULL DEFAULT 'medium',
		progress         INTEGER NOT NULL DEFAULT 0,
		description      TEXT NOT NULL DEFAULT '',
		executive_update TEXT NOT NULL DEFAULT '',
		last_update      TEXT NOT NULL DEFAULT '',
		start_date       TEXT NOT NULL DEFAULT '',
		target_date      TEXT NOT NULL DEFAULT '',
		stakeholders     TEXT NOT NULL DEFAULT '[]',
		position         INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS people (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		team       TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL DEFAULT '',
		position   INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id             TEXT PRIMARY KEY,
		project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		title          TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'todo',
		due_date       TEXT NOT NULL DEFAULT '',
		completed_date TEXT NOT NULL DEFAULT '',
		position       INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, position);

	CREATE TABLE IF NOT EXISTS subtasks (
		id             TEXT PRIMARY KEY,
		task_id        TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		title          TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'todo',
		due_date       TEXT NOT NULL DEFAULT '',
		completed_date TEXT NOT NULL DEFAULT '',
		position       INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id, position);

	CREATE TABLE IF NOT EXISTS activities (
		id           TEXT PRIMARY KEY,
		project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		date         TEXT NOT NULL,
		note         TEXT NOT NULL,
		author       TEXT NOT NULL DEFAULT '',
		author_id    TEXT,
		task_context TEXT,
		position     INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_activities_project ON activities(project_id, position);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id     TEXT,
		action      TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id   TEXT,
		result      TEXT NOT NULL,
		details     TEXT,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

func (s *Store) migrateV2() error {
	if s.schemaVersion() >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS deltas (
		turn_id      TEXT NOT NULL,
		action_index INTEGER NOT NULL,
		payload      TEXT NOT NULL,
		undone       INTEGER NOT NULL DEFAULT 0,
		recorded_at  INTEGER NOT NULL,
		undone_at    INTEGER,
		PRIMARY KEY (turn_id, action_index)
	);

	CREATE INDEX IF NOT EXISTS idx_deltas_recorded ON deltas(recorded_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}
	return s.setSchemaVersion("2")
}

// migrateV3 renames case-insensitive duplicate project and person names,
// then enforces uniqueness. The migration_state marker keeps the rename pass
// from running twice.
func (s *Store) migrateV3() error {
	if s.schemaVersion() >= "3" {
		return nil
	}

	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS migration_state (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migration_state: %w", err)
	}

	var applied int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM migration_state WHERE name = 'dedupe_names'`).Scan(&applied); err != nil {
		return fmt.Errorf("failed to read migration_state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration v3: %w", err)
	}
	defer tx.Rollback()

	if applied == 0 {
		for _, table := range []string{"projects", "people"} {
			n, err := dedupeNames(tx, table)
			if err != nil {
				return err
			}
			if n > 0 {
				s.logger.Warn().Str("table", table).Int("renamed", n).Msg("renamed duplicate names")
			}
		}
		if _, err := tx.Exec(`INSERT INTO migration_state(name, applied_at) VALUES ('dedupe_names', ?)`, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to record migration_state: %w", err)
		}
	}

	if _, err := tx.Exec(`
	CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_name ON projects(name COLLATE NOCASE);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_people_name ON people(name COLLATE NOCASE);
	`); err != nil {
		return fmt.Errorf("failed to execute migration v3: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '3')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

// dedupeNames appends " (2)", " (3)"… to every later row sharing a name.
func dedupeNames(tx *sql.Tx, table string) (int, error) {
	rows, err := tx.Query(`SELECT id, name FROM ` + table + ` ORDER BY position, id`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s names: %w", table, err)
	}
	type row struct{ id, name string }
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.name); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	original := make(map[string]bool, len(all))
	for _, r := range all {
		original[strings.ToLower(r.name)] = true
	}
	claimed := make(map[string]bool, len(all))
	renamed := 0
	for _, r := range all {
		key := strings.ToLower(r.name)
		if !claimed[key] {
			claimed[key] = true
			continue
		}
		var name string
		for n := 2; ; n++ {
			name = fmt.Sprintf("%s (%d)", r.name, n)
			k := strings.ToLower(name)
			if !claimed[k] && !original[k] {
				claimed[k] = true
				break
			}
		}
		if _, err := tx.Exec(`UPDATE `+table+` SET name = ? WHERE id = ?`, name, r.id); err != nil {
			return renamed, fmt.Errorf("failed to rename %s %s: %w", table, r.id, err)
		}
		renamed++
	}
	return renamed, nil
}
