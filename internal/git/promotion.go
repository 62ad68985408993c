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
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/configbutler/confgov/internal/coreerr"
	"github.com/configbutler/confgov/internal/metrics"
)

// Promotion is the Promotion Engine (C5): preview diffs and atomic,
// tagged execution between the two permitted environment pairs.
type Promotion struct {
	gw *Gateway
}

// NewPromotion builds a Promotion Engine over gw.
func NewPromotion(gw *Gateway) *Promotion {
	return &Promotion{gw: gw}
}

// FileDiff is one file's preview entry: its content on each side plus a
// unified diff treating target as "before" and source as "after".
type FileDiff struct {
	File   string
	Source []byte // nil if absent in source
	Target []byte // nil if absent in target
	Diff   string
}

// Preview reads domain/file content from both source and target branches
// for each requested file and synthesizes a unified diff per file.
func (p *Promotion) Preview(ctx context.Context, source, target Environment, domain string, files []string) ([]FileDiff, error) {
	if !ValidPromotion(source, target) {
		return nil, coreerr.InvalidInputf("promotion from %s to %s is not permitted", source, target)
	}

	diffs := make([]FileDiff, 0, len(files))
	for _, file := range files {
		var fd FileDiff
		err := p.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
			sourceContent, err := readOptional(tx, source, domain, file)
			if err != nil {
				return err
			}
			targetContent, err := readOptional(tx, target, domain, file)
			if err != nil {
				return err
			}
			fd = FileDiff{
				File:   file,
				Source: sourceContent,
				Target: targetContent,
				Diff:   unifiedDiff(targetContent, sourceContent),
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, fd)
	}
	return diffs, nil
}

func readOptional(tx *Tx, env Environment, domain, key string) ([]byte, error) {
	if err := tx.CheckoutBranch(env.Branch()); err != nil {
		return nil, err
	}
	path := KeyPath(domain, key)
	if !tx.FileExists(path) {
		return nil, nil
	}
	return tx.ReadWorktreeFile(path)
}

// unifiedDiff renders a line-based unified diff of before -> after from
// go-diff's line-mode diff: every line of both sides, prefixed with '-'
// (only in before), '+' (only in after) or ' ' (in both). No file or
// hunk headers are emitted.
func unifiedDiff(before, after []byte) string {
	if before == nil && after == nil {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		if d.Type == diffmatchpatch.DiffInsert {
			prefix = "+"
		} else if d.Type == diffmatchpatch.DiffDelete {
			prefix = "-"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix + line + "\n")
		}
	}
	return sb.String()
}

// ExecuteResult carries the outcome of a promotion execution.
type ExecuteResult struct {
	CommitSha string
	TagName   string
}

// Execute copies the content captured from source for each requested file
// onto target as a single atomic commit, per §4.5. Files absent from
// source are skipped, not errors; a request in which none of the files
// exist on source is rejected with invalid_input and makes no commit.
// The operation either commits every
// captured file in one commit or leaves no new commit at all; the
// Gateway's branch-restore discipline discards any partially-written
// worktree state left behind by a mid-sequence failure.
func (p *Promotion) Execute(ctx context.Context, promotionID string, source, target Environment, domain string, files []string, author Identity) (*ExecuteResult, error) {
	if !ValidPromotion(source, target) {
		return nil, coreerr.InvalidInputf("promotion from %s to %s is not permitted", source, target)
	}
	if len(files) == 0 {
		return nil, coreerr.InvalidInputf("promotion must name at least one file")
	}

	var result ExecuteResult
	err := p.gw.Acquire(ctx, func(ctx context.Context, tx *Tx) error {
		captured := make(map[string][]byte, len(files))
		var present []string

		if err := tx.CheckoutBranch(source.Branch()); err != nil {
			return err
		}
		for _, file := range files {
			path := KeyPath(domain, file)
			if !tx.FileExists(path) {
				continue
			}
			content, err := tx.ReadWorktreeFile(path)
			if err != nil {
				return err
			}
			captured[file] = content
			present = append(present, file)
		}

		if err := tx.CheckoutBranch(target.Branch()); err != nil {
			return err
		}
		wroteAny := false
		for _, file := range present {
			if err := tx.WriteFile(KeyPath(domain, file), captured[file]); err != nil {
				return err
			}
			wroteAny = true
		}
		if !wroteAny {
			return coreerr.InvalidInputf("none of the requested files exist on %s for domain %q", source, domain)
		}
		if tx.FileExists(DomainSentinelPath(domain)) {
			if err := tx.RemovePath(DomainSentinelPath(domain)); err != nil {
				return err
			}
		}

		if err := tx.StageAll(); err != nil {
			return err
		}
		message := fmt.Sprintf("promote: %s/%s %s → %s [%s]", domain, strings.Join(present, ","), source, target, promotionID)
		hash, err := tx.Commit(message, author)
		if err != nil {
			return err
		}

		tag := fmt.Sprintf("promote-%s-%s-%s", target, domain, isoStampForTag(time.Now()))
		if err := tx.Tag(tag); err != nil {
			return err
		}

		result = ExecuteResult{CommitSha: hash.String(), TagName: tag}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if metrics.GitCommitsTotal != nil {
		metrics.GitCommitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "promote")))
	}
	return &result, nil
}

// isoStampForTag renders t as ISO-8601 with ':' and '.' replaced by '-'
// so the result is a valid git tag name component.
func isoStampForTag(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}
