// Package review implements the Review State Machine (C4): the
// transition tables of §4.4 for ChangeRequest and PromotionRequest,
// backed by internal/store and driving the Mutation, Promotion, and
// Rollback engines as side effects.
package review

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/configbutler/confgov/internal/audit"
	"github.com/configbutler/confgov/internal/coreerr"
	confgit "github.com/configbutler/confgov/internal/git"
	"github.com/configbutler/confgov/internal/metrics"
	"github.com/configbutler/confgov/internal/store"
)

// Engine is the Review State Machine.
type Engine struct {
	store     *store.Store
	mutation  *confgit.Mutation
	promotion *confgit.Promotion
	rollback  *confgit.Rollback
	sink      audit.Sink
}

// New builds a Review State Machine wired to the given collaborators.
func New(s *store.Store, mutation *confgit.Mutation, promotion *confgit.Promotion, rollback *confgit.Rollback, sink audit.Sink) *Engine {
	return &Engine{store: s, mutation: mutation, promotion: promotion, rollback: rollback, sink: sink}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- ChangeRequest ---------------------------------------------------

// CreateChangeRequestParams are the inputs for creating a change request
// and its backing draft branch.
type CreateChangeRequestParams struct {
	Env         confgit.Environment
	Operation   confgit.Operation
	Domain      string
	Key         string
	Title       string
	Description string
	Content     []byte
	Author      confgit.Identity
}

// CreateChangeRequest builds the draft branch via the Mutation Engine and
// inserts a row in the draft state.
func (e *Engine) CreateChangeRequest(ctx context.Context, p CreateChangeRequestParams) (*store.ChangeRequest, error) {
	var id string
	created := false
	for attempt := 0; attempt < 5 && !created; attempt++ {
		genID, err := confgit.NewDraftID()
		if err != nil {
			return nil, err
		}
		id = genID

		_, draftErr := e.mutation.CreateDraft(ctx, id, p.Env, p.Operation, p.Domain, p.Key, p.Title, p.Content, p.Author)
		switch {
		case draftErr == nil:
			created = true
		case coreerr.KindOf(draftErr) == coreerr.StateConflict:
			continue // id collision, retry with a fresh one
		default:
			return nil, draftErr
		}
	}
	if !created {
		return nil, coreerr.New(coreerr.Internal, "failed to allocate a unique draft id after repeated collisions")
	}

	cr := &store.ChangeRequest{
		ID:          id,
		TargetEnv:   string(p.Env),
		Domain:      p.Domain,
		Key:         nullableString(p.Key),
		Operation:   string(p.Operation),
		Title:       p.Title,
		Description: nullableString(p.Description),
		Status:      store.CRDraft,
		Creator:     p.Author.Username,
	}
	if err := e.store.InsertChangeRequest(cr); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "failed to persist change request")
	}

	e.audit(ctx, audit.Entry{
		Actor: p.Author.Username, Action: audit.ActionChangeRequestCreated,
		EntityType: audit.EntityChangeRequest, EntityID: id,
		Environment: string(p.Env), Domain: p.Domain,
	})
	recordTransition(ctx, "change_request", "created")
	return cr, nil
}

// SubmitChangeRequest moves draft -> pending_review. A second call on an
// already-pending request is a no-op success, per §8's idempotence law.
func (e *Engine) SubmitChangeRequest(ctx context.Context, id, actor string) error {
	err := e.store.TransitionChangeRequest(id, store.CRDraft, store.CRPendingReview, nil)
	if err == nil {
		e.audit(ctx, audit.Entry{Actor: actor, Action: audit.ActionChangeRequestSubmitted, EntityType: audit.EntityChangeRequest, EntityID: id})
		recordTransition(ctx, "change_request", "submitted")
		return nil
	}
	return e.tolerateAlreadyInState(id, store.CRPendingReview, err)
}

// ApproveChangeRequest moves pending_review -> approved. Self-approval by
// the requester is permitted for change requests, unlike promotions.
func (e *Engine) ApproveChangeRequest(ctx context.Context, id, reviewer, comment string) error {
	err := e.store.TransitionChangeRequest(id, store.CRPendingReview, store.CRApproved, map[string]any{
		"reviewer":       reviewer,
		"review_comment": nullableString(comment),
	})
	if err != nil {
		return e.conflictOrInternal(err, "change request is not pending review")
	}
	e.audit(ctx, audit.Entry{Actor: reviewer, Action: audit.ActionChangeRequestApproved, EntityType: audit.EntityChangeRequest, EntityID: id})
	recordTransition(ctx, "change_request", "approved")
	return nil
}

// RejectChangeRequest moves pending_review -> rejected.
func (e *Engine) RejectChangeRequest(ctx context.Context, id, reviewer, comment string) error {
	err := e.store.TransitionChangeRequest(id, store.CRPendingReview, store.CRRejected, map[string]any{
		"reviewer":       reviewer,
		"review_comment": nullableString(comment),
	})
	if err != nil {
		return e.conflictOrInternal(err, "change request is not pending review")
	}
	e.audit(ctx, audit.Entry{Actor: reviewer, Action: audit.ActionChangeRequestRejected, EntityType: audit.EntityChangeRequest, EntityID: id})
	recordTransition(ctx, "change_request", "rejected")
	return nil
}

// MergeChangeRequest moves approved -> merged, performing the
// non-fast-forward merge via the Mutation Engine and recording the new
// HEAD sha.
func (e *Engine) MergeChangeRequest(ctx context.Context, id string, actor confgit.Identity) (*store.ChangeRequest, error) {
	cr, err := e.store.GetChangeRequest(id)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "failed to load change request")
	}
	if cr == nil {
		return nil, coreerr.NotFoundf("change request %s not found", id)
	}
	if cr.Status != store.CRApproved {
		return nil, coreerr.StateConflictf("change request %s is not approved", id)
	}

	sha, err := e.mutation.Merge(ctx, id, confgit.Environment(cr.TargetEnv), cr.Title, actor)
	if err != nil {
		return nil, err
	}

	err = e.store.TransitionChangeRequest(id, store.CRApproved, store.CRMerged, map[string]any{
		"merge_commit": nullableString(sha),
		"merged_at":    nullableString(time.Now().UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return nil, e.conflictOrInternal(err, "change request is no longer approved")
	}

	e.audit(ctx, audit.Entry{
		Actor: actor.Username, Action: audit.ActionChangeRequestMerged,
		EntityType: audit.EntityChangeRequest, EntityID: id,
		Environment: cr.TargetEnv, Domain: cr.Domain, CommitSha: sha,
	})
	recordTransition(ctx, "change_request", "merged")

	return e.store.GetChangeRequest(id)
}

// DiscardChangeRequest moves draft|pending_review|rejected -> discarded,
// best-effort deleting the draft branch.
func (e *Engine) DiscardChangeRequest(ctx context.Context, id, actor string) error {
	cr, err := e.store.GetChangeRequest(id)
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "failed to load change request")
	}
	if cr == nil {
		return coreerr.NotFoundf("change request %s not found", id)
	}
	if cr.Status == store.CRDiscarded {
		return nil // already discarded: no-op per §8
	}
	if cr.Status != store.CRDraft && cr.Status != store.CRPendingReview && cr.Status != store.CRRejected {
		return coreerr.StateConflictf("change request %s cannot be discarded from %s", id, cr.Status)
	}

	// Best-effort: a draft branch that cannot be deleted does not block
	// the discard.
	_ = e.mutation.Discard(ctx, id)
	if err := e.store.TransitionChangeRequest(id, cr.Status, store.CRDiscarded, nil); err != nil {
		return e.conflictOrInternal(err, "change request changed state concurrently")
	}
	e.audit(ctx, audit.Entry{Actor: actor, Action: audit.ActionChangeRequestDiscarded, EntityType: audit.EntityChangeRequest, EntityID: id})
	recordTransition(ctx, "change_request", "discarded")
	return nil
}

// --- PromotionRequest --------------------------------------------------

// CreatePromotionRequestParams are the inputs for creating a promotion
// request.
type CreatePromotionRequestParams struct {
	SourceEnv confgit.Environment
	TargetEnv confgit.Environment
	Domain    string
	Files     []string
	Requester string
	Notes     string
}

// CreatePromotionRequest validates the source/target pair and non-empty
// file list, then inserts a pending row.
func (e *Engine) CreatePromotionRequest(ctx context.Context, p CreatePromotionRequestParams) (*store.PromotionRequest, error) {
	if !confgit.ValidPromotion(p.SourceEnv, p.TargetEnv) {
		return nil, coreerr.InvalidInputf("promotion from %s to %s is not permitted", p.SourceEnv, p.TargetEnv)
	}
	if len(p.Files) == 0 {
		return nil, coreerr.InvalidInputf("promotion request must name at least one file")
	}

	id, err := confgit.NewDraftID()
	if err != nil {
		return nil, err
	}

	pr := &store.PromotionRequest{
		ID:        id,
		SourceEnv: string(p.SourceEnv),
		TargetEnv: string(p.TargetEnv),
		Domain:    p.Domain,
		Files:     p.Files,
		Status:    store.PRPending,
		Requester: p.Requester,
		Notes:     nullableString(p.Notes),
	}
	if err := e.store.InsertPromotionRequest(pr); err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "failed to persist promotion request")
	}

	e.audit(ctx, audit.Entry{
		Actor: p.Requester, Action: audit.ActionPromotionCreated,
		EntityType: audit.EntityPromotionRequest, EntityID: id,
		Environment: string(p.TargetEnv), Domain: p.Domain,
	})
	recordTransition(ctx, "promotion_request", "created")
	return pr, nil
}

// ApprovePromotionRequest moves pending -> approved. Self-approval is
// denied with state_conflict unless reviewer holds the admin role.
func (e *Engine) ApprovePromotionRequest(ctx context.Context, id string, reviewer confgit.Identity) error {
	pr, err := e.store.GetPromotionRequest(id)
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "failed to load promotion request")
	}
	if pr == nil {
		return coreerr.NotFoundf("promotion request %s not found", id)
	}
	if pr.Requester == reviewer.Username && !reviewer.IsAdmin() {
		return coreerr.StateConflictf("self-approval of a promotion request requires the admin role")
	}

	err = e.store.TransitionPromotionRequest(id, store.PRPending, store.PRApproved, map[string]any{
		"reviewer": reviewer.Username,
	})
	if err != nil {
		return e.conflictOrInternal(err, "promotion request is not pending")
	}
	e.audit(ctx, audit.Entry{Actor: reviewer.Username, Action: audit.ActionPromotionApproved, EntityType: audit.EntityPromotionRequest, EntityID: id})
	recordTransition(ctx, "promotion_request", "approved")
	return nil
}

// RejectPromotionRequest moves pending -> rejected.
func (e *Engine) RejectPromotionRequest(ctx context.Context, id, reviewer, notes string) error {
	err := e.store.TransitionPromotionRequest(id, store.PRPending, store.PRRejected, map[string]any{
		"reviewer":     reviewer,
		"review_notes": nullableString(notes),
	})
	if err != nil {
		return e.conflictOrInternal(err, "promotion request is not pending")
	}
	e.audit(ctx, audit.Entry{Actor: reviewer, Action: audit.ActionPromotionRejected, EntityType: audit.EntityPromotionRequest, EntityID: id})
	recordTransition(ctx, "promotion_request", "rejected")
	return nil
}

// ExecutePromotionRequest moves approved -> promoted or failed. On
// failure the error is persisted to the row and then re-raised, per §7's
// "Promotion execution is the only operation that catches its own
// downstream error to persist a failed row, then re-raises."
func (e *Engine) ExecutePromotionRequest(ctx context.Context, id string, actor confgit.Identity) (*store.PromotionRequest, error) {
	pr, err := e.store.GetPromotionRequest(id)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "failed to load promotion request")
	}
	if pr == nil {
		return nil, coreerr.NotFoundf("promotion request %s not found", id)
	}
	if pr.Status != store.PRApproved {
		return nil, coreerr.StateConflictf("promotion request %s is not approved", id)
	}

	result, execErr := e.promotion.Execute(ctx, id, confgit.Environment(pr.SourceEnv), confgit.Environment(pr.TargetEnv), pr.Domain, pr.Files, actor)
	if execErr != nil {
		_ = e.store.TransitionPromotionRequest(id, store.PRApproved, store.PRFailed, nil)
		e.audit(ctx, audit.Entry{
			Actor: actor.Username, Action: audit.ActionPromotionFailed,
			EntityType: audit.EntityPromotionRequest, EntityID: id,
			Environment: pr.TargetEnv, Domain: pr.Domain,
			Details: map[string]any{"error": execErr.Error()},
		})
		recordTransition(ctx, "promotion_request", "failed")
		return nil, execErr
	}

	err = e.store.TransitionPromotionRequest(id, store.PRApproved, store.PRPromoted, map[string]any{
		"commit_sha": nullableString(result.CommitSha),
	})
	if err != nil {
		return nil, e.conflictOrInternal(err, "promotion request changed state concurrently")
	}

	e.audit(ctx, audit.Entry{
		Actor: actor.Username, Action: audit.ActionPromotionExecuted,
		EntityType: audit.EntityPromotionRequest, EntityID: id,
		Environment: pr.TargetEnv, Domain: pr.Domain, CommitSha: result.CommitSha,
	})
	recordTransition(ctx, "promotion_request", "executed")
	return e.store.GetPromotionRequest(id)
}

// RollbackPromotionRequest moves promoted -> rolled_back, restoring files
// to their pre-promotion content via the Rollback Engine.
func (e *Engine) RollbackPromotionRequest(ctx context.Context, id, reason string, actor confgit.Identity) error {
	pr, err := e.store.GetPromotionRequest(id)
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "failed to load promotion request")
	}
	if pr == nil {
		return coreerr.NotFoundf("promotion request %s not found", id)
	}
	if pr.Status != store.PRPromoted {
		return coreerr.StateConflictf("promotion request %s has not been promoted", id)
	}
	if !pr.CommitSha.Valid {
		return coreerr.StateConflictf("promotion request %s has no recorded commit", id)
	}

	if _, err := e.rollback.RollbackPromotion(ctx, id, confgit.Environment(pr.TargetEnv), pr.Domain, pr.Files, pr.CommitSha.String, reason, actor); err != nil {
		return err
	}

	if err := e.store.TransitionPromotionRequest(id, store.PRPromoted, store.PRRolledBack, nil); err != nil {
		return e.conflictOrInternal(err, "promotion request changed state concurrently")
	}
	e.audit(ctx, audit.Entry{
		Actor: actor.Username, Action: audit.ActionPromotionRolledBack,
		EntityType: audit.EntityPromotionRequest, EntityID: id,
		Environment: pr.TargetEnv, Domain: pr.Domain,
	})
	recordTransition(ctx, "promotion_request", "rolled_back")
	return nil
}

// --- helpers -----------------------------------------------------------

// tolerateAlreadyInState absorbs ErrNoRowsAffected into a successful
// no-op when the row is already in the target state (the idempotent
// double-submit case); any other current state is a real conflict.
func (e *Engine) tolerateAlreadyInState(id string, target store.ChangeRequestStatus, transitionErr error) error {
	if transitionErr != store.ErrNoRowsAffected {
		return coreerr.Wrap(coreerr.Internal, transitionErr, "review state machine storage error")
	}
	cr, err := e.store.GetChangeRequest(id)
	if err != nil {
		return coreerr.Wrap(coreerr.Internal, err, "failed to load change request")
	}
	if cr == nil {
		return coreerr.NotFoundf("change request %s not found", id)
	}
	if cr.Status == target {
		return nil
	}
	return coreerr.StateConflictf("change request %s cannot transition to %s from %s", id, target, cr.Status)
}

func (e *Engine) conflictOrInternal(err error, message string) error {
	if err == store.ErrNoRowsAffected {
		return coreerr.Wrap(coreerr.StateConflict, err, message)
	}
	return coreerr.Wrap(coreerr.Internal, err, "review state machine storage error")
}

func (e *Engine) audit(ctx context.Context, entry audit.Entry) {
	if e.sink == nil {
		return
	}
	_ = e.sink.Record(ctx, entry)
}

// recordTransition increments ReviewTransitionsTotal for the entity/action
// pair the caller just applied.
func recordTransition(ctx context.Context, entity, action string) {
	if metrics.ReviewTransitionsTotal == nil {
		return
	}
	metrics.ReviewTransitionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("action", action),
	))
}
