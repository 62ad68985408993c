package store

import "database/sql"

// Migration is one named, idempotent schema change, run in order and
// tracked in schema_migrations so reruns are no-ops.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

var migrationsList = []Migration{
	{"users_table", migrateUsersTable},
	{"change_requests_table", migrateChangeRequestsTable},
	{"promotion_requests_table", migratePromotionRequestsTable},
	{"audit_log_table", migrateAuditLogTable},
	{"dependencies_table", migrateDependenciesTable},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return err
	}

	for _, m := range migrationsList {
		var already int
		err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, m.Name).Scan(&already)
		if err != nil {
			return err
		}
		if already > 0 {
			continue
		}
		if err := m.Func(db); err != nil {
			return err
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, m.Name); err != nil {
			return err
		}
	}
	return nil
}

func migrateUsersTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'editor',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`)
	return err
}

func migrateChangeRequestsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS change_requests (
			id TEXT PRIMARY KEY,
			target_env TEXT NOT NULL,
			domain TEXT NOT NULL,
			key TEXT,
			operation TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			creator TEXT NOT NULL,
			reviewer TEXT,
			review_comment TEXT,
			merge_commit TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			merged_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_change_requests_status ON change_requests(status);
		CREATE INDEX IF NOT EXISTS idx_change_requests_domain ON change_requests(target_env, domain);
	`)
	return err
}

func migratePromotionRequestsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS promotion_requests (
			id TEXT PRIMARY KEY,
			source_env TEXT NOT NULL,
			target_env TEXT NOT NULL,
			domain TEXT NOT NULL,
			files TEXT NOT NULL,
			status TEXT NOT NULL,
			requester TEXT NOT NULL,
			reviewer TEXT,
			notes TEXT,
			review_notes TEXT,
			commit_sha TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE INDEX IF NOT EXISTS idx_promotion_requests_status ON promotion_requests(status);
	`)
	return err
}

func migrateAuditLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL DEFAULT (datetime('now')),
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			environment TEXT,
			domain TEXT,
			details TEXT,
			commit_sha TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id);
	`)
	return err
}

func migrateDependenciesTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dependencies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id TEXT NOT NULL,
			environment TEXT NOT NULL,
			domain TEXT NOT NULL,
			keys TEXT NOT NULL,
			last_heartbeat TEXT,
			contact TEXT,
			UNIQUE(app_id, environment, domain)
		);
		CREATE INDEX IF NOT EXISTS idx_dependencies_domain ON dependencies(environment, domain);
	`)
	return err
}
