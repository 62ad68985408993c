// Package audit defines the append-only audit sink contract the core
// emits AuditEntry records to, and a concrete SQLSink that writes them
// into the metadata store's audit_log table.
package audit

import (
	"context"
	"encoding/json"

	"github.com/configbutler/confgov/internal/store"
)

// Action is one of the closed set of audit action tags from §6.
type Action string

const (
	ActionChangeRequestCreated   Action = "change_request.created"
	ActionChangeRequestSubmitted Action = "change_request.submitted"
	ActionChangeRequestApproved  Action = "change_request.approved"
	ActionChangeRequestRejected  Action = "change_request.rejected"
	ActionChangeRequestMerged    Action = "change_request.merged"
	ActionChangeRequestDiscarded Action = "change_request.discarded"

	ActionPromotionCreated    Action = "promotion.created"
	ActionPromotionApproved   Action = "promotion.approved"
	ActionPromotionRejected   Action = "promotion.rejected"
	ActionPromotionExecuted   Action = "promotion.executed"
	ActionPromotionFailed     Action = "promotion.failed"
	ActionPromotionRolledBack Action = "promotion.rolled_back"

	ActionConfigRollback Action = "config.rollback"

	ActionAuthLogin  Action = "auth.login"
	ActionAuthLogout Action = "auth.logout"
)

// EntityType names the kind of record an Entry refers to.
type EntityType string

const (
	EntityChangeRequest   EntityType = "change_request"
	EntityPromotionRequest EntityType = "promotion_request"
	EntityConfig           EntityType = "config"
	EntityUser             EntityType = "user"
)

// Entry is one append-only audit record, as described in §3.
type Entry struct {
	Actor       string
	Action      Action
	EntityType  EntityType
	EntityID    string
	Environment string
	Domain      string
	Details     map[string]any
	CommitSha   string
}

// Sink is the external collaborator contract the core emits records to.
// The core never reads its own audit trail back; it only appends.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// SQLSink is the default Sink, persisting entries into the metadata
// store's audit_log table via internal/store.
type SQLSink struct {
	store *store.Store
}

// NewSQLSink builds a Sink backed by s.
func NewSQLSink(s *store.Store) *SQLSink {
	return &SQLSink{store: s}
}

// Record implements Sink.
func (s *SQLSink) Record(ctx context.Context, entry Entry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return err
		}
	}

	row := &store.AuditRow{
		Actor:      entry.Actor,
		Action:     string(entry.Action),
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
	}
	if entry.Environment != "" {
		row.Environment.String, row.Environment.Valid = entry.Environment, true
	}
	if entry.Domain != "" {
		row.Domain.String, row.Domain.Valid = entry.Domain, true
	}
	if len(detailsJSON) > 0 {
		row.Details.String, row.Details.Valid = string(detailsJSON), true
	}
	if entry.CommitSha != "" {
		row.CommitSha.String, row.CommitSha.Valid = entry.CommitSha, true
	}

	return s.store.InsertAudit(row)
}
