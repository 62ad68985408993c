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

	"github.com/go-git/go-git/v5/plumbing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/configbutler/confgov/internal/coreerr"
	"github.com/configbutler/confgov/internal/metrics"
)

// Rollback is the Rollback Engine (C6): single-file rollback to a target
// commit, and promotion rollback to the state immediately before a
// promotion commit.
type Rollback struct {
	gw *Gateway
}

// NewRollback builds a Rollback Engine over gw.
func NewRollback(gw *Gateway) *Rollback {
	return &Rollback{gw: gw}
}

// RollbackFile restores config/<domain>/<key>.yaml on env to its content
// at targetCommit via a new commit, per §4.6.
func (r *Rollback) RollbackFile(ctx context.Context, env Environment, domain, key, targetCommit, reason string, author Identity) (string, error) {
	if !env.Valid() {
		return "", coreerr.InvalidInputf("unknown environment %q", env)
	}
	path := KeyPath(domain, key)

	var sha plumbing.Hash
	err := r.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CheckoutBranch(env.Branch()); err != nil {
			return err
		}
		hash := plumbing.NewHash(targetCommit)
		commit, err := tx.Repo().CommitObject(hash)
		if err != nil {
			return coreerr.NotFoundf("commit %s not found", targetCommit)
		}
		content, err := fileAtCommit(commit, path)
		if err != nil {
			return err
		}
		if err := tx.WriteFile(path, content); err != nil {
			return err
		}
		if err := tx.StageAll(); err != nil {
			return err
		}
		short := targetCommit
		if len(short) > 7 {
			short = short[:7]
		}
		message := fmt.Sprintf("rollback: %s/%s in %s to %s — %s", domain, key, env, short, reason)
		newHash, err := tx.Commit(message, author)
		if err != nil {
			return err
		}
		sha = newHash
		return nil
	})
	if err != nil {
		return "", err
	}
	if metrics.GitCommitsTotal != nil {
		metrics.GitCommitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "rollback")))
	}
	return sha.String(), nil
}

// RollbackPromotion restores targetEnv's copy of each file in files to its
// content immediately before originalCommit (the promotion commit being
// undone). A file absent at parent(originalCommit) is deleted rather than
// written, per §4.6.
func (r *Rollback) RollbackPromotion(ctx context.Context, promotionID string, targetEnv Environment, domain string, files []string, originalCommit, reason string, author Identity) (string, error) {
	if !targetEnv.Valid() {
		return "", coreerr.InvalidInputf("unknown environment %q", targetEnv)
	}

	var sha plumbing.Hash
	err := r.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CheckoutBranch(targetEnv.Branch()); err != nil {
			return err
		}

		originalHash := plumbing.NewHash(originalCommit)
		originalObj, err := tx.Repo().CommitObject(originalHash)
		if err != nil {
			return coreerr.NotFoundf("commit %s not found", originalCommit)
		}
		if originalObj.NumParents() == 0 {
			return coreerr.StateConflictf("promotion commit %s has no parent to roll back to", originalCommit)
		}
		parent, err := originalObj.Parent(0)
		if err != nil {
			return coreerr.Wrap(coreerr.GitFailure, err, "failed to load parent of promotion commit")
		}

		for _, file := range files {
			path := KeyPath(domain, file)
			content, err := fileAtCommit(parent, path)
			if err != nil {
				var coreErr *coreerr.Error
				if errors.As(err, &coreErr) && coreErr.Kind == coreerr.NotFound {
					if err := tx.RemovePath(path); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := tx.WriteFile(path, content); err != nil {
				return err
			}
		}

		if err := tx.StageAll(); err != nil {
			return err
		}
		message := fmt.Sprintf("rollback promotion %s: %s", promotionID, reason)
		hash, err := tx.Commit(message, author)
		if err != nil {
			return err
		}
		sha = hash
		return nil
	})
	if err != nil {
		return "", err
	}
	if metrics.GitCommitsTotal != nil {
		metrics.GitCommitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "rollback_promotion")))
	}
	return sha.String(), nil
}
