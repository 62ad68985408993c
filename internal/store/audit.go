package store

import "database/sql"

// AuditRow mirrors one audit_log record.
type AuditRow struct {
	ID          int64
	Timestamp   string
	Actor       string
	Action      string
	EntityType  string
	EntityID    string
	Environment sql.NullString
	Domain      sql.NullString
	Details     sql.NullString
	CommitSha   sql.NullString
}

// InsertAudit appends a row to audit_log; the log is append-only, so this
// is the table's only write path.
func (s *Store) InsertAudit(a *AuditRow) error {
	_, err := s.DB.Exec(`
		INSERT INTO audit_log (actor, action, entity_type, entity_id, environment, domain, details, commit_sha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Actor, a.Action, a.EntityType, a.EntityID, a.Environment, a.Domain, a.Details, a.CommitSha,
	)
	return err
}

// ListAuditByUser returns audit rows for actor, most recent first.
func (s *Store) ListAuditByUser(actor string) ([]AuditRow, error) {
	return s.queryAudit(`SELECT id, timestamp, actor, action, entity_type, entity_id, environment, domain, details, commit_sha
		FROM audit_log WHERE actor = ? ORDER BY id DESC`, actor)
}

// ListAuditByConfig returns audit rows touching (environment, domain,
// entity_id=key), most recent first.
func (s *Store) ListAuditByConfig(environment, domain, key string) ([]AuditRow, error) {
	return s.queryAudit(`SELECT id, timestamp, actor, action, entity_type, entity_id, environment, domain, details, commit_sha
		FROM audit_log WHERE environment = ? AND domain = ? AND entity_id = ? ORDER BY id DESC`, environment, domain, key)
}

// ListAudit returns every audit row, most recent first.
func (s *Store) ListAudit() ([]AuditRow, error) {
	return s.queryAudit(`SELECT id, timestamp, actor, action, entity_type, entity_id, environment, domain, details, commit_sha
		FROM audit_log ORDER BY id DESC`)
}

func (s *Store) queryAudit(query string, args ...any) ([]AuditRow, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Actor, &a.Action, &a.EntityType, &a.EntityID,
			&a.Environment, &a.Domain, &a.Details, &a.CommitSha); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
