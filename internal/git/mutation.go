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
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"

	"github.com/configbutler/confgov/internal/coreerr"
	"github.com/configbutler/confgov/internal/metrics"
)

// Operation enumerates the five mutation shapes a ChangeRequest can carry.
type Operation string

const (
	OpCreate       Operation = "create"
	OpUpdate       Operation = "update"
	OpDelete       Operation = "delete"
	OpCreateDomain Operation = "create_domain"
	OpDeleteDomain Operation = "delete_domain"
)

// Mutation is the Mutation Engine (C3): draft-branch construction and
// merge/discard against the Gateway.
type Mutation struct {
	gw *Gateway
}

// NewMutation builds a Mutation Engine over gw.
func NewMutation(gw *Gateway) *Mutation {
	return &Mutation{gw: gw}
}

// NewDraftID returns an 8-character id suitable for a draft branch name,
// taken from the leading hex digits of a freshly generated UUIDv4.
func NewDraftID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", coreerr.Wrap(coreerr.Internal, err, "failed to generate draft id")
	}
	return strings.ReplaceAll(id.String(), "-", "")[:8], nil
}

// CreateDraft builds config/<domain>/<key>.yaml (or the domain itself)
// on a new draft/<id> branch rooted at env, per the operation table in
// §4.3. content is ignored for delete, create_domain, and delete_domain.
// A YAML parse failure on create/update aborts before any commit is made
// and leaves no draft/* branch behind.
func (m *Mutation) CreateDraft(ctx context.Context, draftID string, env Environment, op Operation, domain, key, title string, content []byte, author Identity) (string, error) {
	if !env.Valid() {
		return "", coreerr.InvalidInputf("unknown environment %q", env)
	}
	if !ValidName(domain) {
		return "", coreerr.InvalidInputf("invalid domain %q", domain)
	}
	if op == OpUpdate || op == OpCreate || op == OpDelete {
		if !ValidName(key) {
			return "", coreerr.InvalidInputf("invalid key %q", key)
		}
		if IsReservedKey(key) {
			return "", coreerr.Wrap(coreerr.InvalidInput, ErrReservedKey, "cannot mutate reserved key")
		}
	}
	if op == OpCreate || op == OpUpdate {
		var probe any
		if err := yaml.Unmarshal(content, &probe); err != nil {
			return "", coreerr.Wrap(coreerr.InvalidInput, err, "submitted content is not valid YAML")
		}
	}

	branch := draftBranchName(draftID)
	var mergeSha plumbing.Hash

	err := m.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		if tx.BranchExists(branch) {
			return coreerr.Wrap(coreerr.StateConflict, ErrDraftCollision, "draft id already in use")
		}
		if err := tx.CheckoutBranch(env.Branch()); err != nil {
			return err
		}
		if err := tx.CreateBranchFrom(branch, env.Branch()); err != nil {
			return err
		}

		if err := applyOperation(tx, op, domain, key, content); err != nil {
			return err
		}

		if err := tx.StageAll(); err != nil {
			return err
		}
		hash, err := tx.Commit(title, author)
		if err != nil {
			return err
		}
		mergeSha = hash
		return nil
	})
	if err != nil {
		return "", err
	}
	return mergeSha.String(), nil
}

func applyOperation(tx *Tx, op Operation, domain, key string, content []byte) error {
	switch op {
	case OpCreate, OpUpdate:
		if err := tx.WriteFile(KeyPath(domain, key), content); err != nil {
			return err
		}
		// A write into a domain that previously had no keys retires its
		// .gitkeep sentinel, matching invariant §8.7.
		if tx.FileExists(DomainSentinelPath(domain)) {
			if err := tx.RemovePath(DomainSentinelPath(domain)); err != nil {
				return err
			}
		}
		return nil
	case OpDelete:
		if !tx.FileExists(KeyPath(domain, key)) {
			return coreerr.NotFoundf("%s/%s not found", domain, key)
		}
		return tx.RemovePath(KeyPath(domain, key))
	case OpCreateDomain:
		return tx.WriteFile(DomainSentinelPath(domain), []byte{})
	case OpDeleteDomain:
		return tx.RemoveDir(DomainDirPath(domain))
	default:
		return coreerr.InvalidInputf("unknown operation %q", op)
	}
}

// Merge performs the non-fast-forward merge of draft/<id> into env's
// branch with message "merge: <title>", deletes the draft branch, and
// returns the new HEAD sha.
func (m *Mutation) Merge(ctx context.Context, draftID string, env Environment, title string, author Identity) (string, error) {
	if !env.Valid() {
		return "", coreerr.InvalidInputf("unknown environment %q", env)
	}
	branch := draftBranchName(draftID)
	message := fmt.Sprintf("merge: %s", title)

	var mergedSha plumbing.Hash
	err := m.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CheckoutBranch(env.Branch()); err != nil {
			return err
		}
		hash, err := tx.MergeNonFF(env.Branch(), branch, message, author)
		if err != nil {
			return err
		}
		mergedSha = hash
		return tx.DeleteLocalBranch(branch)
	})
	if err != nil {
		return "", err
	}
	if metrics.GitCommitsTotal != nil {
		metrics.GitCommitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "merge")))
	}
	return mergedSha.String(), nil
}

// Discard deletes draft/<id> if present; absence is not an error.
func (m *Mutation) Discard(ctx context.Context, draftID string) error {
	branch := draftBranchName(draftID)
	return m.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.DeleteLocalBranch(branch)
	})
}
