package review

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/configbutler/confgov/internal/audit"
	"github.com/configbutler/confgov/internal/coreerr"
	confgit "github.com/configbutler/confgov/internal/git"
	"github.com/configbutler/confgov/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(filepath.Join(dir, "confgov.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	gw, err := confgit.NewGateway(context.Background(), filepath.Join(dir, "config-repo"), confgit.ServiceIdentity{
		Name:  "Config Governance",
		Email: "noreply@confgov.local",
	}, logr.Discard())
	require.NoError(t, err)

	mutation := confgit.NewMutation(gw)
	promotion := confgit.NewPromotion(gw)
	rollback := confgit.NewRollback(gw)
	sink := audit.NewSQLSink(s)

	return New(s, mutation, promotion, rollback, sink)
}

func TestChangeRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	author := confgit.Identity{Username: "alice", Role: confgit.RoleEditor}

	cr, err := engine.CreateChangeRequest(ctx, CreateChangeRequestParams{
		Env:       confgit.Dev,
		Operation: confgit.OpCreate,
		Domain:    "pricing",
		Key:       "default",
		Title:     "seed pricing",
		Content:   []byte("rate: 0.1\n"),
		Author:    author,
	})
	require.NoError(t, err)
	require.Equal(t, store.CRDraft, cr.Status)

	require.NoError(t, engine.SubmitChangeRequest(ctx, cr.ID, "alice"))
	// double submit is a no-op, not an error
	require.NoError(t, engine.SubmitChangeRequest(ctx, cr.ID, "alice"))

	require.NoError(t, engine.ApproveChangeRequest(ctx, cr.ID, "alice", "looks fine"))

	merged, err := engine.MergeChangeRequest(ctx, cr.ID, author)
	require.NoError(t, err)
	require.Equal(t, store.CRMerged, merged.Status)
	require.True(t, merged.MergeCommit.Valid)
}

func TestChangeRequestDiscardFromRejected(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	author := confgit.Identity{Username: "alice"}

	cr, err := engine.CreateChangeRequest(ctx, CreateChangeRequestParams{
		Env: confgit.Dev, Operation: confgit.OpCreate, Domain: "pricing", Key: "default",
		Title: "seed pricing", Content: []byte("rate: 0.1\n"), Author: author,
	})
	require.NoError(t, err)
	require.NoError(t, engine.SubmitChangeRequest(ctx, cr.ID, "alice"))
	require.NoError(t, engine.RejectChangeRequest(ctx, cr.ID, "bob", "not ready"))
	require.NoError(t, engine.DiscardChangeRequest(ctx, cr.ID, "alice"))
	// discarding twice is a no-op
	require.NoError(t, engine.DiscardChangeRequest(ctx, cr.ID, "alice"))
}

func TestPromotionRequestSelfApprovalDeniedForNonAdmin(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	author := confgit.Identity{Username: "alice", Role: confgit.RoleEditor}

	cr, err := engine.CreateChangeRequest(ctx, CreateChangeRequestParams{
		Env: confgit.Dev, Operation: confgit.OpCreate, Domain: "pricing", Key: "default",
		Title: "seed pricing", Content: []byte("rate: 0.1\n"), Author: author,
	})
	require.NoError(t, err)
	require.NoError(t, engine.SubmitChangeRequest(ctx, cr.ID, "alice"))
	require.NoError(t, engine.ApproveChangeRequest(ctx, cr.ID, "alice", ""))
	_, err = engine.MergeChangeRequest(ctx, cr.ID, author)
	require.NoError(t, err)

	pr, err := engine.CreatePromotionRequest(ctx, CreatePromotionRequestParams{
		SourceEnv: confgit.Dev, TargetEnv: confgit.Staging, Domain: "pricing",
		Files: []string{"default"}, Requester: "alice",
	})
	require.NoError(t, err)

	err = engine.ApprovePromotionRequest(ctx, pr.ID, confgit.Identity{Username: "alice", Role: confgit.RoleEditor})
	require.Error(t, err)
	require.Equal(t, coreerr.StateConflict, coreerr.KindOf(err))

	// an admin may approve their own promotion request
	err = engine.ApprovePromotionRequest(ctx, pr.ID, confgit.Identity{Username: "alice", Role: confgit.RoleAdmin})
	require.NoError(t, err)
}

func TestPromotionRequestExecuteAndRollback(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	author := confgit.Identity{Username: "alice", Role: confgit.RoleEditor}

	cr, err := engine.CreateChangeRequest(ctx, CreateChangeRequestParams{
		Env: confgit.Dev, Operation: confgit.OpCreate, Domain: "pricing", Key: "default",
		Title: "seed pricing", Content: []byte("rate: 0.1\n"), Author: author,
	})
	require.NoError(t, err)
	require.NoError(t, engine.SubmitChangeRequest(ctx, cr.ID, "alice"))
	require.NoError(t, engine.ApproveChangeRequest(ctx, cr.ID, "alice", ""))
	_, err = engine.MergeChangeRequest(ctx, cr.ID, author)
	require.NoError(t, err)

	pr, err := engine.CreatePromotionRequest(ctx, CreatePromotionRequestParams{
		SourceEnv: confgit.Dev, TargetEnv: confgit.Staging, Domain: "pricing",
		Files: []string{"default"}, Requester: "alice",
	})
	require.NoError(t, err)

	bob := confgit.Identity{Username: "bob", Role: confgit.RoleEditor}
	require.NoError(t, engine.ApprovePromotionRequest(ctx, pr.ID, bob))

	executed, err := engine.ExecutePromotionRequest(ctx, pr.ID, author)
	require.NoError(t, err)
	require.Equal(t, store.PRPromoted, executed.Status)
	require.True(t, executed.CommitSha.Valid)

	require.NoError(t, engine.RollbackPromotionRequest(ctx, pr.ID, "regression found", author))
}
