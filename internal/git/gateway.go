/*
SPDX-License-Identifier: Apache-2.0

Copyright 2025 ConfigButler

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/configbutler/confgov/internal/coreerr"
	"github.com/configbutler/confgov/internal/metrics"
	"github.com/configbutler/confgov/internal/obslog"
)

// ServiceIdentity is the fixed committer identity the Gateway stamps on
// every commit it creates on behalf of a caller, mirroring the reference
// controller's "GitOps Reverser <noreply@configbutler.ai>" committer.
type ServiceIdentity struct {
	Name  string
	Email string
}

// Gateway is the Repository Gateway (C1): the sole owner of the on-disk
// repository. Every other component reaches the repository only through
// Gateway.Acquire.
type Gateway struct {
	// queue is a one-slot ticket that serializes access to repo in
	// arrival order; goroutines blocked receiving from a Go channel are
	// served in FIFO order, which is what the single-writer guarantee
	// needs.
	queue    chan struct{}
	repo     *gogit.Repository
	repoPath string
	identity ServiceIdentity
	log      logr.Logger
}

// NewGateway opens (or idempotently initializes) the repository at
// repoPath and returns a ready Gateway.
func NewGateway(ctx context.Context, repoPath string, identity ServiceIdentity, log logr.Logger) (*Gateway, error) {
	g := &Gateway{
		queue:    make(chan struct{}, 1),
		repoPath: repoPath,
		identity: identity,
		log:      log,
	}
	g.queue <- struct{}{}

	repo, err := initializeOrOpen(repoPath, identity, log)
	if err != nil {
		return nil, err
	}
	g.repo = repo
	return g, nil
}

// initializeOrOpen implements §4.1's idempotent initialization: if the
// directory has no git metadata, it is initialized fresh and seeded with
// config/.gitkeep on main, then staging and production branches are cut
// from that same initial commit. An existing repository is opened as-is;
// unlike the reference tool's PrepareBranch, a broken repository here is
// never deleted, because this directory is the system of record rather
// than a disposable clone.
func initializeOrOpen(repoPath string, identity ServiceIdentity, log logr.Logger) (*gogit.Repository, error) {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		repo, err := gogit.PlainOpen(repoPath)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.GitFailure, err, "failed to open existing configuration repository")
		}
		return repo, nil
	}

	if err := os.MkdirAll(repoPath, 0o750); err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, err, "failed to create repository directory")
	}

	repo, err := gogit.PlainInit(repoPath, false)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.GitFailure, err, "failed to initialize configuration repository")
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.GitFailure, err, "failed to open worktree of freshly initialized repository")
	}

	sentinel := filepath.Join(repoPath, configRoot, ".gitkeep")
	if err := os.MkdirAll(filepath.Dir(sentinel), 0o750); err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, err, "failed to create config root")
	}
	if err := os.WriteFile(sentinel, []byte{}, 0o600); err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, err, "failed to write config root sentinel")
	}
	if _, err := worktree.Add(filepath.Join(configRoot, ".gitkeep")); err != nil {
		return nil, coreerr.Wrap(coreerr.GitFailure, err, "failed to stage config root sentinel")
	}

	sig := &object.Signature{Name: identity.Name, Email: identity.Email, When: time.Now()}
	initialHash, err := worktree.Commit("init: configuration repository", &gogit.CommitOptions{
		Author:    sig,
		Committer: sig,
	})
	if err != nil {
		return nil, coreerr.Wrap(coreerr.GitFailure, err, "failed to create initial commit")
	}

	if err := renameCurrentBranch(repo, Dev.Branch()); err != nil {
		return nil, err
	}

	for _, env := range []Environment{Staging, Prod} {
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(env.Branch()), initialHash)
		if err := repo.Storer.SetReference(ref); err != nil {
			return nil, coreerr.Wrapf(coreerr.GitFailure, err, "failed to create %s branch", env.Branch())
		}
	}

	log.Info("initialized configuration repository", "path", repoPath, "initial", initialHash.String())
	return repo, nil
}

// renameCurrentBranch points HEAD at a symbolic reference to
// refs/heads/<name> and rewrites whatever branch currently owns HEAD's
// commit to that name — used once, at init, to turn go-git's default
// "master" into "main".
func renameCurrentBranch(repo *gogit.Repository, name string) error {
	headRef, err := repo.Head()
	if err != nil {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to read HEAD after initial commit")
	}
	newRef := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), headRef.Hash())
	if err := repo.Storer.SetReference(newRef); err != nil {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to create main branch")
	}
	if err := repo.Storer.RemoveReference(headRef.Name()); err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to remove default branch reference")
	}
	symbolic := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(name))
	if err := repo.Storer.SetReference(symbolic); err != nil {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to repoint HEAD at main")
	}
	return nil
}

// Tx is the handle a scoped gateway callback receives: the repository, a
// ready worktree, and the branch that was current when the lock was
// acquired (for callers that need to compose multiple primitives before
// restore happens).
type Tx struct {
	repo         *gogit.Repository
	worktree     *gogit.Worktree
	identity     ServiceIdentity
	enteredOnRef plumbing.ReferenceName
}

// Acquire is the gateway's single primitive: scoped exclusive access.
// fn runs with the repository lock held; whatever branch was checked out
// on entry is restored on exit regardless of fn's outcome.
func (g *Gateway) Acquire(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	start := time.Now()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.queue:
	}
	waited := time.Since(start)
	defer func() { g.queue <- struct{}{} }()

	log := obslog.FromContext(ctx)
	log.V(1).Info("acquired repository gateway", "waitedMillis", waited.Milliseconds())
	if metrics.GatewayLockWaitSeconds != nil {
		metrics.GatewayLockWaitSeconds.Record(ctx, waited.Seconds())
	}

	worktree, err := g.repo.Worktree()
	if err != nil {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to open worktree")
	}

	enteredOnRef, err := currentBranchRef(g.repo)
	if err != nil {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to determine current branch")
	}

	tx := &Tx{repo: g.repo, worktree: worktree, identity: g.identity, enteredOnRef: enteredOnRef}

	fnErr := fn(ctx, tx)

	if restoreErr := tx.checkoutRef(enteredOnRef); restoreErr != nil {
		log.Error(restoreErr, "failed to restore branch after gateway operation", "branch", enteredOnRef.Short())
	}

	if metrics.GatewayOperationsTotal != nil {
		outcome := "ok"
		if fnErr != nil {
			outcome = "error"
		}
		metrics.GatewayOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	return fnErr
}

func currentBranchRef(repo *gogit.Repository) (plumbing.ReferenceName, error) {
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Name(), nil
}

// CheckoutBranch switches the worktree to branch, which must already
// exist.
func (tx *Tx) CheckoutBranch(branch string) error {
	return tx.checkoutRef(plumbing.NewBranchReferenceName(branch))
}

func (tx *Tx) checkoutRef(ref plumbing.ReferenceName) error {
	if err := tx.worktree.Checkout(&gogit.CheckoutOptions{Branch: ref, Force: true}); err != nil {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to checkout %s", ref.Short())
	}
	return nil
}

// CreateBranchFrom creates and switches to a new branch pointed at the
// current tip of base.
func (tx *Tx) CreateBranchFrom(name, base string) error {
	baseRef, err := tx.repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to resolve base branch %s", base)
	}
	newRef := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), baseRef.Hash())
	if err := tx.repo.Storer.SetReference(newRef); err != nil {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to create branch %s", name)
	}
	return tx.CheckoutBranch(name)
}

// BranchExists reports whether a local branch named name exists.
func (tx *Tx) BranchExists(name string) bool {
	_, err := tx.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// CurrentBranch returns the short name of the worktree's current branch.
func (tx *Tx) CurrentBranch() (string, error) {
	head, err := tx.repo.Head()
	if err != nil {
		return "", coreerr.Wrap(coreerr.GitFailure, err, "failed to read HEAD")
	}
	return head.Name().Short(), nil
}

// StageAll stages every change in the worktree, mirroring `git add -A`.
func (tx *Tx) StageAll() error {
	if err := tx.worktree.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to stage changes")
	}
	return nil
}

// Commit commits the staged tree with message, using the gateway's
// service identity as committer and author equal to the supplied
// identity (when identity is the zero value, the service identity is
// used for both, matching an automated commit).
func (tx *Tx) Commit(message string, author Identity) (plumbing.Hash, error) {
	authorName := author.Username
	authorEmail := author.Email
	if authorName == "" {
		authorName = tx.identity.Name
		if authorEmail == "" {
			authorEmail = tx.identity.Email
		}
	}
	if authorEmail == "" {
		authorEmail = ConstructSafeEmail(authorName, "confgov.local")
	}

	now := time.Now()
	hash, err := tx.worktree.Commit(message, &gogit.CommitOptions{
		Author:    &object.Signature{Name: authorName, Email: authorEmail, When: now},
		Committer: &object.Signature{Name: tx.identity.Name, Email: tx.identity.Email, When: now},
	})
	if err != nil {
		return plumbing.ZeroHash, coreerr.Wrap(coreerr.GitFailure, err, "failed to create commit")
	}
	return hash, nil
}

// Tag creates a lightweight tag named name at the current HEAD.
func (tx *Tx) Tag(name string) error {
	head, err := tx.repo.Head()
	if err != nil {
		return coreerr.Wrap(coreerr.GitFailure, err, "failed to read HEAD for tagging")
	}
	if _, err := tx.repo.CreateTag(name, head.Hash(), nil); err != nil {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to create tag %s", name)
	}
	return nil
}

// DeleteLocalBranch removes branch if present; absence is not an error,
// matching §4.3's "discard tolerates absence".
func (tx *Tx) DeleteLocalBranch(name string) error {
	ref := plumbing.NewBranchReferenceName(name)
	if err := tx.repo.Storer.RemoveReference(ref); err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to delete branch %s", name)
	}
	return nil
}

// WorktreeRoot returns the absolute filesystem path backing the worktree.
func (tx *Tx) WorktreeRoot() string {
	return tx.worktree.Filesystem.Root()
}

// Add stages a single path.
func (tx *Tx) Add(path string) error {
	if _, err := tx.worktree.Add(path); err != nil {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to stage %s", path)
	}
	return nil
}

// RemovePath removes path from both the worktree and the index,
// tolerating a path that is already absent from the worktree but still
// tracked (mirrors the reference tool's delete-from-filesystem-then-
// stage sequencing).
func (tx *Tx) RemovePath(path string) error {
	full := filepath.Join(tx.WorktreeRoot(), path)
	if _, err := os.Stat(full); err == nil {
		if err := os.Remove(full); err != nil {
			return coreerr.Wrapf(coreerr.IOFailure, err, "failed to remove %s", path)
		}
	} else if !os.IsNotExist(err) {
		return coreerr.Wrapf(coreerr.IOFailure, err, "failed to stat %s", path)
	}
	if _, err := tx.worktree.Remove(path); err != nil && !errors.Is(err, gogit.ErrGlobNoMatches) {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to unstage %s", path)
	}
	return nil
}

// RemoveDir recursively removes a directory from the worktree and index.
func (tx *Tx) RemoveDir(path string) error {
	full := filepath.Join(tx.WorktreeRoot(), path)
	if err := os.RemoveAll(full); err != nil {
		return coreerr.Wrapf(coreerr.IOFailure, err, "failed to remove directory %s", path)
	}
	if _, err := tx.worktree.Remove(path); err != nil && !errors.Is(err, gogit.ErrGlobNoMatches) {
		return coreerr.Wrapf(coreerr.GitFailure, err, "failed to unstage directory %s", path)
	}
	return nil
}

// WriteFile writes content at path relative to the worktree root,
// creating parent directories as needed, and stages it.
func (tx *Tx) WriteFile(path string, content []byte) error {
	full := filepath.Join(tx.WorktreeRoot(), path)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return coreerr.Wrapf(coreerr.IOFailure, err, "failed to create directory for %s", path)
	}
	if err := os.WriteFile(full, content, 0o600); err != nil {
		return coreerr.Wrapf(coreerr.IOFailure, err, "failed to write %s", path)
	}
	return tx.Add(path)
}

// FileExists reports whether path exists in the current worktree.
func (tx *Tx) FileExists(path string) bool {
	_, err := os.Stat(filepath.Join(tx.WorktreeRoot(), path))
	return err == nil
}

// ReadWorktreeFile reads path as it currently stands in the worktree.
func (tx *Tx) ReadWorktreeFile(path string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(tx.WorktreeRoot(), path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerr.NotFoundf("%s not found", path)
		}
		return nil, coreerr.Wrapf(coreerr.IOFailure, err, "failed to read %s", path)
	}
	return content, nil
}

// ListDir returns the immediate entry names of a worktree directory,
// or an empty slice if the directory does not exist.
func (tx *Tx) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(tx.WorktreeRoot(), path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerr.Wrapf(coreerr.IOFailure, err, "failed to list %s", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Repo exposes the underlying go-git repository for the read-only
// object-level reads in snapshot.go and rollback.go (commit lookups,
// fileAtCommit, latestCommitForPath) that need no worktree mutation.
func (tx *Tx) Repo() *gogit.Repository { return tx.repo }

// Identity returns the gateway's fixed service committer identity.
func (tx *Tx) Identity() ServiceIdentity { return tx.identity }

// BranchHash resolves a branch's current tip hash.
func (tx *Tx) BranchHash(branch string) (plumbing.Hash, error) {
	ref, err := tx.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return plumbing.ZeroHash, coreerr.Wrapf(coreerr.GitFailure, err, "failed to resolve branch %s", branch)
	}
	return ref.Hash(), nil
}

var errDraftCollision = errors.New("draft branch id collision")

// ErrDraftCollision is returned by the Mutation Engine when a generated
// draft id already names an existing branch; the caller must retry with
// a fresh id.
var ErrDraftCollision = errDraftCollision

func draftBranchName(id string) string {
	return fmt.Sprintf("draft/%s", id)
}
