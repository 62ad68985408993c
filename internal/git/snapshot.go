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
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"gopkg.in/yaml.v3"

	"github.com/configbutler/confgov/internal/coreerr"
)

// Snapshot is the Snapshot Reader's (C2) view over the Gateway.
type Snapshot struct {
	gw *Gateway
}

// NewSnapshot builds a Snapshot Reader over gw.
func NewSnapshot(gw *Gateway) *Snapshot {
	return &Snapshot{gw: gw}
}

// ConfigValue is the result of GetConfig: the raw bytes, a best-effort
// parse, and the sha of the most recent commit that touched the file.
type ConfigValue struct {
	Raw       []byte
	Parsed    any
	ParseErr  error
	CommitSha string
}

// GetConfig checks out env, reads config/<domain>/<key>.yaml, and returns
// its content plus the sha of the commit that most recently touched it.
// A YAML parse failure is reported on ParseErr but the raw bytes are
// always returned.
func (s *Snapshot) GetConfig(ctx context.Context, env Environment, domain, key string) (*ConfigValue, error) {
	if !env.Valid() {
		return nil, coreerr.InvalidInputf("unknown environment %q", env)
	}
	path := KeyPath(domain, key)

	var result *ConfigValue
	err := s.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CheckoutBranch(env.Branch()); err != nil {
			return err
		}
		raw, err := tx.ReadWorktreeFile(path)
		if err != nil {
			return err
		}

		sha, err := latestCommitForPath(tx.Repo(), env.Branch(), path)
		if err != nil {
			return err
		}

		var parsed any
		parseErr := yaml.Unmarshal(raw, &parsed)

		result = &ConfigValue{Raw: raw, Parsed: parsed, ParseErr: parseErr, CommitSha: sha}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListKeys returns the sorted key basenames of domain on env, excluding
// .gitkeep and the reserved schema.yaml.
func (s *Snapshot) ListKeys(ctx context.Context, env Environment, domain string) ([]string, error) {
	if !env.Valid() {
		return nil, coreerr.InvalidInputf("unknown environment %q", env)
	}
	var keys []string
	err := s.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CheckoutBranch(env.Branch()); err != nil {
			return err
		}
		entries, err := tx.ListDir(DomainDirPath(domain))
		if err != nil {
			return err
		}
		for _, name := range entries {
			if !strings.HasSuffix(name, ".yaml") {
				continue
			}
			base := strings.TrimSuffix(name, ".yaml")
			if base == "" || IsReservedKey(base) {
				continue
			}
			keys = append(keys, base)
		}
		sort.Strings(keys)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListDomains returns the immediate subdirectory names of config/ on env.
func (s *Snapshot) ListDomains(ctx context.Context, env Environment) ([]string, error) {
	if !env.Valid() {
		return nil, coreerr.InvalidInputf("unknown environment %q", env)
	}
	var domains []string
	err := s.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.CheckoutBranch(env.Branch()); err != nil {
			return err
		}
		entries, err := tx.ListDir(configRoot)
		if err != nil {
			return err
		}
		for _, name := range entries {
			if strings.HasPrefix(name, ".") {
				continue
			}
			domains = append(domains, name)
		}
		sort.Strings(domains)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return domains, nil
}

// GetConfigAtCommit returns the raw bytes of config/<domain>/<key>.yaml as
// they existed at sha, read directly from the git object store.
func (s *Snapshot) GetConfigAtCommit(ctx context.Context, env Environment, domain, key, sha string) ([]byte, error) {
	if !env.Valid() {
		return nil, coreerr.InvalidInputf("unknown environment %q", env)
	}
	path := KeyPath(domain, key)

	var content []byte
	err := s.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		hash := plumbing.NewHash(sha)
		commit, err := tx.Repo().CommitObject(hash)
		if err != nil {
			return coreerr.NotFoundf("commit %s not found", sha)
		}
		content, err = fileAtCommit(commit, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

func fileAtCommit(commit *object.Commit, path string) ([]byte, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.GitFailure, err, "failed to load commit tree")
	}
	file, err := tree.File(path)
	if err != nil {
		return nil, coreerr.NotFoundf("%s not found at %s", path, commit.Hash.String())
	}
	content, err := file.Contents()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.GitFailure, err, "failed to read blob content")
	}
	return []byte(content), nil
}

// GetConfigHistory returns up to MaxHistoryEntries commits touching the
// file, newest first, classified by commit-message prefix per §4.2.
func (s *Snapshot) GetConfigHistory(ctx context.Context, env Environment, domain, key string) ([]HistoryEntry, error) {
	if !env.Valid() {
		return nil, coreerr.InvalidInputf("unknown environment %q", env)
	}
	path := KeyPath(domain, key)

	var entries []HistoryEntry
	err := s.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		ref, err := tx.repo.Reference(plumbing.NewBranchReferenceName(env.Branch()), true)
		if err != nil {
			return coreerr.Wrapf(coreerr.GitFailure, err, "failed to resolve branch %s", env.Branch())
		}
		iter, err := tx.repo.Log(&gogit.LogOptions{From: ref.Hash(), FileName: &path})
		if err != nil {
			return coreerr.Wrap(coreerr.GitFailure, err, "failed to walk commit history")
		}
		defer iter.Close()

		return iter.ForEach(func(c *object.Commit) error {
			if len(entries) >= MaxHistoryEntries {
				return storer.ErrStop
			}
			entries = append(entries, HistoryEntry{
				CommitHash: c.Hash.String(),
				Author:     c.Author.Name,
				Message:    c.Message,
				Kind:       classifyHistoryKind(c.Message),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// classifyHistoryKind derives the §4.2 history type from a commit
// message's prefix; the match is case-insensitive and tolerant of
// leading whitespace, matching the boundary case in §8.
func classifyHistoryKind(message string) HistoryKind {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "merge:"), strings.HasPrefix(lower, "merge "):
		return HistoryMerge
	case strings.HasPrefix(lower, "promote:"):
		return HistoryPromote
	case strings.HasPrefix(lower, "rollback"):
		return HistoryRollback
	default:
		return HistoryOther
	}
}

// latestCommitForPath returns the sha of the most recent commit on branch
// that touched path.
func latestCommitForPath(repo *gogit.Repository, branch, path string) (string, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", coreerr.Wrapf(coreerr.GitFailure, err, "failed to resolve branch %s", branch)
	}
	iter, err := repo.Log(&gogit.LogOptions{From: ref.Hash(), FileName: &path})
	if err != nil {
		return "", coreerr.Wrap(coreerr.GitFailure, err, "failed to walk commit history")
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil {
		return "", coreerr.NotFoundf("no commit touches %s", path)
	}
	return commit.Hash.String(), nil
}
