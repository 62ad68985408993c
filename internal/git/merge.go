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
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/configbutler/confgov/internal/coreerr"
)

// MergeNonFF merges sourceBranch into targetBranch with a non-fast-forward
// commit, the way §4.3 requires for draft merges. A draft branch never
// diverges from its target except through the single logical edit it was
// built to carry, so the merge commit takes the draft's tree wholesale
// ("theirs") rather than running a three-way content merge — the
// simplification recorded as an open-question decision in DESIGN.md.
//
// targetBranch must be checked out on entry; it is left checked out,
// pointing at the new merge commit, on return.
func (tx *Tx) MergeNonFF(targetBranch, sourceBranch, message string, author Identity) (plumbing.Hash, error) {
	targetRef, err := tx.repo.Reference(plumbing.NewBranchReferenceName(targetBranch), true)
	if err != nil {
		return plumbing.ZeroHash, coreerr.Wrapf(coreerr.GitFailure, err, "failed to resolve target branch %s", targetBranch)
	}
	sourceRef, err := tx.repo.Reference(plumbing.NewBranchReferenceName(sourceBranch), true)
	if err != nil {
		return plumbing.ZeroHash, coreerr.Wrapf(coreerr.GitFailure, err, "failed to resolve source branch %s", sourceBranch)
	}

	sourceCommit, err := tx.repo.CommitObject(sourceRef.Hash())
	if err != nil {
		return plumbing.ZeroHash, coreerr.Wrap(coreerr.GitFailure, err, "failed to load source commit")
	}

	authorName := author.Username
	authorEmail := author.Email
	if authorName == "" {
		authorName = tx.identity.Name
		authorEmail = tx.identity.Email
	}
	if authorEmail == "" {
		authorEmail = ConstructSafeEmail(authorName, "confgov.local")
	}
	now := time.Now()

	mergeCommit := &object.Commit{
		Author:       object.Signature{Name: authorName, Email: authorEmail, When: now},
		Committer:    object.Signature{Name: tx.identity.Name, Email: tx.identity.Email, When: now},
		Message:      message,
		TreeHash:     sourceCommit.TreeHash,
		ParentHashes: []plumbing.Hash{targetRef.Hash(), sourceRef.Hash()},
	}

	obj := tx.repo.Storer.NewEncodedObject()
	if err := mergeCommit.Encode(obj); err != nil {
		return plumbing.ZeroHash, coreerr.Wrap(coreerr.GitFailure, err, "failed to encode merge commit")
	}
	newHash, err := tx.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, coreerr.Wrap(coreerr.GitFailure, err, "failed to store merge commit")
	}

	newRef := plumbing.NewHashReference(plumbing.NewBranchReferenceName(targetBranch), newHash)
	if err := tx.repo.Storer.SetReference(newRef); err != nil {
		return plumbing.ZeroHash, coreerr.Wrapf(coreerr.GitFailure, err, "failed to advance %s to merge commit", targetBranch)
	}

	if err := tx.worktree.Checkout(&gogit.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(targetBranch), Force: true}); err != nil {
		return plumbing.ZeroHash, coreerr.Wrapf(coreerr.GitFailure, err, "failed to checkout merged %s", targetBranch)
	}
	if err := tx.worktree.Reset(&gogit.ResetOptions{Commit: newHash, Mode: gogit.HardReset}); err != nil {
		return plumbing.ZeroHash, coreerr.Wrapf(coreerr.GitFailure, err, "failed to reset worktree to merge commit")
	}

	return newHash, nil
}

// ConstructSafeEmail takes a raw username and a domain and builds a
// git-compliant email address, passing an already-valid address through
// unchanged.
func ConstructSafeEmail(username, domain string) string {
	return constructSafeEmail(username, domain)
}
