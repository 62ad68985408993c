package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PromotionRequestStatus enumerates the states in spec §4.4's
// PromotionRequest transition table.
type PromotionRequestStatus string

const (
	PRPending     PromotionRequestStatus = "pending"
	PRApproved    PromotionRequestStatus = "approved"
	PRRejected    PromotionRequestStatus = "rejected"
	PRPromoted    PromotionRequestStatus = "promoted"
	PRFailed      PromotionRequestStatus = "failed"
	PRRolledBack  PromotionRequestStatus = "rolled_back"
)

// PromotionRequest mirrors the promotion_requests row; Files is stored as
// a JSON array in the files column.
type PromotionRequest struct {
	ID          string
	SourceEnv   string
	TargetEnv   string
	Domain      string
	Files       []string
	Status      PromotionRequestStatus
	Requester   string
	Reviewer    sql.NullString
	Notes       sql.NullString
	ReviewNotes sql.NullString
	CommitSha   sql.NullString
	CreatedAt   string
	UpdatedAt   string
}

// InsertPromotionRequest creates a row in the pending state.
func (s *Store) InsertPromotionRequest(pr *PromotionRequest) error {
	filesJSON, err := json.Marshal(pr.Files)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`
		INSERT INTO promotion_requests (id, source_env, target_env, domain, files, status, requester, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.SourceEnv, pr.TargetEnv, pr.Domain, string(filesJSON), PRPending, pr.Requester, pr.Notes,
	)
	return err
}

// GetPromotionRequest fetches a row by id.
func (s *Store) GetPromotionRequest(id string) (*PromotionRequest, error) {
	row := s.DB.QueryRow(`
		SELECT id, source_env, target_env, domain, files, status, requester, reviewer, notes, review_notes, commit_sha, created_at, updated_at
		FROM promotion_requests WHERE id = ?`, id)

	pr := &PromotionRequest{}
	var filesJSON string
	err := row.Scan(&pr.ID, &pr.SourceEnv, &pr.TargetEnv, &pr.Domain, &filesJSON, &pr.Status, &pr.Requester,
		&pr.Reviewer, &pr.Notes, &pr.ReviewNotes, &pr.CommitSha, &pr.CreatedAt, &pr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filesJSON), &pr.Files); err != nil {
		return nil, err
	}
	return pr, nil
}

// TransitionPromotionRequest applies a WHERE-guarded status update, the
// promotion analogue of TransitionChangeRequest.
func (s *Store) TransitionPromotionRequest(id string, from, to PromotionRequestStatus, sets map[string]any) error {
	setClauses := "status = ?, updated_at = datetime('now')"
	args := []any{to}
	for col, val := range sets {
		setClauses += fmt.Sprintf(", %s = ?", col)
		args = append(args, val)
	}
	args = append(args, id, from)

	query := fmt.Sprintf(`UPDATE promotion_requests SET %s WHERE id = ? AND status = ?`, setClauses)
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
