package git

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	repoPath := filepath.Join(t.TempDir(), "config-repo")
	gw, err := NewGateway(context.Background(), repoPath, ServiceIdentity{
		Name:  "Config Governance",
		Email: "noreply@confgov.local",
	}, logr.Discard())
	require.NoError(t, err)
	return gw
}

func TestNewGatewayIsIdempotent(t *testing.T) {
	repoPath := filepath.Join(t.TempDir(), "config-repo")
	log := logr.Discard()

	first, err := NewGateway(context.Background(), repoPath, ServiceIdentity{Name: "svc", Email: "svc@confgov.local"}, log)
	require.NoError(t, err)

	second, err := NewGateway(context.Background(), repoPath, ServiceIdentity{Name: "svc", Email: "svc@confgov.local"}, log)
	require.NoError(t, err)

	snap := NewSnapshot(second)
	domains, err := snap.ListDomains(context.Background(), Dev)
	require.NoError(t, err)
	require.Empty(t, domains)

	_ = first
}

func TestCreateAndMergeScenario(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	mutation := NewMutation(gw)
	snapshot := NewSnapshot(gw)

	author := Identity{Username: "alice", Role: RoleEditor}
	draftID, err := NewDraftID()
	require.NoError(t, err)

	_, err = mutation.CreateDraft(ctx, draftID, Dev, OpCreate, "pricing", "default", "init", []byte("rate: 0.1\n"), author)
	require.NoError(t, err)

	sha, err := mutation.Merge(ctx, draftID, Dev, "init", author)
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	value, err := snapshot.GetConfig(ctx, Dev, "pricing", "default")
	require.NoError(t, err)
	require.Equal(t, "rate: 0.1\n", string(value.Raw))

	history, err := snapshot.GetConfigHistory(ctx, Dev, "pricing", "default")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	require.Equal(t, HistoryMerge, history[0].Kind)

	err = gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		require.False(t, tx.BranchExists(draftBranchName(draftID)))
		return nil
	})
	require.NoError(t, err)
}

func TestCreateDraftRejectsInvalidYAML(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	mutation := NewMutation(gw)

	draftID, err := NewDraftID()
	require.NoError(t, err)

	_, err = mutation.CreateDraft(ctx, draftID, Dev, OpCreate, "pricing", "default", "bad", []byte("a: [1,\n"), Identity{Username: "alice"})
	require.Error(t, err)

	err = gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		require.False(t, tx.BranchExists(draftBranchName(draftID)))
		return nil
	})
	require.NoError(t, err)
}

func TestPromotionDevToStaging(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	mutation := NewMutation(gw)
	promotion := NewPromotion(gw)
	snapshot := NewSnapshot(gw)
	author := Identity{Username: "alice"}

	draftID, err := NewDraftID()
	require.NoError(t, err)
	_, err = mutation.CreateDraft(ctx, draftID, Dev, OpCreate, "pricing", "default", "init", []byte("rate: 0.1\n"), author)
	require.NoError(t, err)
	_, err = mutation.Merge(ctx, draftID, Dev, "init", author)
	require.NoError(t, err)

	result, err := promotion.Execute(ctx, "promo1", Dev, Staging, "pricing", []string{"default"}, author)
	require.NoError(t, err)
	require.NotEmpty(t, result.CommitSha)
	require.Contains(t, result.TagName, "promote-staging-pricing-")

	value, err := snapshot.GetConfig(ctx, Staging, "pricing", "default")
	require.NoError(t, err)
	require.Equal(t, "rate: 0.1\n", string(value.Raw))
}

func TestGetConfigHistoryCapsAtMaxEntries(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	snapshot := NewSnapshot(gw)
	author := Identity{Username: "alice"}
	path := KeyPath("pricing", "default")

	for i := 0; i < MaxHistoryEntries+5; i++ {
		err := gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
			if err := tx.CheckoutBranch(Dev.Branch()); err != nil {
				return err
			}
			if err := tx.WriteFile(path, []byte(fmt.Sprintf("rate: %d\n", i))); err != nil {
				return err
			}
			if err := tx.StageAll(); err != nil {
				return err
			}
			_, err := tx.Commit("update: bump rate", author)
			return err
		})
		require.NoError(t, err)
	}

	history, err := snapshot.GetConfigHistory(ctx, Dev, "pricing", "default")
	require.NoError(t, err)
	require.Len(t, history, MaxHistoryEntries)
}

func TestPromotionExecuteRejectsWhenNoFilesExistOnSource(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	promotion := NewPromotion(gw)
	author := Identity{Username: "alice"}

	_, err := promotion.Execute(ctx, "promo1", Dev, Staging, "pricing", []string{"missing"}, author)
	require.Error(t, err)
}

func TestPromotionRollbackRestoresAbsence(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	mutation := NewMutation(gw)
	promotion := NewPromotion(gw)
	rollback := NewRollback(gw)
	snapshot := NewSnapshot(gw)
	author := Identity{Username: "alice"}

	draftID, err := NewDraftID()
	require.NoError(t, err)
	_, err = mutation.CreateDraft(ctx, draftID, Dev, OpCreate, "pricing", "default", "init", []byte("rate: 0.1\n"), author)
	require.NoError(t, err)
	_, err = mutation.Merge(ctx, draftID, Dev, "init", author)
	require.NoError(t, err)

	result, err := promotion.Execute(ctx, "promo1", Dev, Staging, "pricing", []string{"default"}, author)
	require.NoError(t, err)

	_, err = rollback.RollbackPromotion(ctx, "promo1", Staging, "pricing", []string{"default"}, result.CommitSha, "regression", author)
	require.NoError(t, err)

	_, err = snapshot.GetConfig(ctx, Staging, "pricing", "default")
	require.Error(t, err)
}
