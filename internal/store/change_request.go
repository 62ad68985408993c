package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ChangeRequestStatus enumerates the states in spec §4.4's ChangeRequest
// transition table.
type ChangeRequestStatus string

const (
	CRDraft          ChangeRequestStatus = "draft"
	CRPendingReview  ChangeRequestStatus = "pending_review"
	CRApproved       ChangeRequestStatus = "approved"
	CRRejected       ChangeRequestStatus = "rejected"
	CRMerged         ChangeRequestStatus = "merged"
	CRDiscarded      ChangeRequestStatus = "discarded"
)

// ChangeRequest mirrors the change_requests row.
type ChangeRequest struct {
	ID            string
	TargetEnv     string
	Domain        string
	Key           sql.NullString
	Operation     string
	Title         string
	Description   sql.NullString
	Status        ChangeRequestStatus
	Creator       string
	Reviewer      sql.NullString
	ReviewComment sql.NullString
	MergeCommit   sql.NullString
	CreatedAt     string
	UpdatedAt     string
	MergedAt      sql.NullString
}

// ErrNoRowsAffected is returned by a WHERE-clause-guarded update that
// matched no row, meaning the record was not in the expected source
// state and nothing was changed. The caller decides what that means:
// the Review State Machine treats it as a no-op when the row is already
// in the target state (a repeated submit) and as a state conflict
// otherwise.
var ErrNoRowsAffected = errors.New("no matching row in expected state")

// InsertChangeRequest creates a row in the draft state.
func (s *Store) InsertChangeRequest(cr *ChangeRequest) error {
	_, err := s.DB.Exec(`
		INSERT INTO change_requests (id, target_env, domain, key, operation, title, description, status, creator)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cr.ID, cr.TargetEnv, cr.Domain, cr.Key, cr.Operation, cr.Title, cr.Description, CRDraft, cr.Creator,
	)
	return err
}

// GetChangeRequest fetches a row by id.
func (s *Store) GetChangeRequest(id string) (*ChangeRequest, error) {
	row := s.DB.QueryRow(`
		SELECT id, target_env, domain, key, operation, title, description, status, creator, reviewer, review_comment, merge_commit, created_at, updated_at, merged_at
		FROM change_requests WHERE id = ?`, id)

	cr := &ChangeRequest{}
	err := row.Scan(&cr.ID, &cr.TargetEnv, &cr.Domain, &cr.Key, &cr.Operation, &cr.Title, &cr.Description,
		&cr.Status, &cr.Creator, &cr.Reviewer, &cr.ReviewComment, &cr.MergeCommit, &cr.CreatedAt, &cr.UpdatedAt, &cr.MergedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cr, nil
}

// TransitionChangeRequest applies a WHERE-guarded status update: the
// update only takes effect if the row is currently in from. sets
// carries any additional column assignments (reviewer, review_comment,
// merge_commit). Returns ErrNoRowsAffected if the row was not in from.
func (s *Store) TransitionChangeRequest(id string, from, to ChangeRequestStatus, sets map[string]any) error {
	setClauses := "status = ?, updated_at = datetime('now')"
	args := []any{to}
	for col, val := range sets {
		setClauses += fmt.Sprintf(", %s = ?", col)
		args = append(args, val)
	}
	args = append(args, id, from)

	query := fmt.Sprintf(`UPDATE change_requests SET %s WHERE id = ? AND status = ?`, setClauses)
	res, err := s.DB.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
