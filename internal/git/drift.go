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
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/configbutler/confgov/internal/coreerr"
)

// Drift is the Drift Analyzer (C7): cross-environment content comparison
// over every (domain, key) present in at least one environment.
type Drift struct {
	gw *Gateway
}

// NewDrift builds a Drift Analyzer over gw.
func NewDrift(gw *Gateway) *Drift {
	return &Drift{gw: gw}
}

// AdjacentLabel classifies one adjacent environment pair for a key.
type AdjacentLabel string

const (
	LabelSame          AdjacentLabel = "same"
	LabelDifferent     AdjacentLabel = "different"
	LabelMissingSource AdjacentLabel = "missing-source"
	LabelMissingTarget AdjacentLabel = "missing-target"
)

// Status is the overall classification of a (domain, key) across the
// three environments.
type Status string

const (
	StatusSynced   Status = "synced"
	StatusDevOnly  Status = "dev-only"
	StatusDrifted  Status = "drifted"
	StatusPartial  Status = "partial"
)

// KeyReport is the drift result for a single (domain, key).
type KeyReport struct {
	Domain           string
	Key              string
	Status           Status
	Fingerprints     map[Environment]string // absent environments are omitted
	DevVsStaging     AdjacentLabel
	StagingVsProd    AdjacentLabel
}

// DomainReport aggregates KeyReports for one domain plus its sync
// percentage.
type DomainReport struct {
	Domain        string
	Keys          []KeyReport
	SyncPercent   int
}

// Report is the full drift analysis across all domains.
type Report struct {
	Domains        []DomainReport
	OverallPercent int
}

// fingerprint computes the mandated 32-bit rolling hash
// h <- ((h<<5) - h) + c over the UTF-8 code units of content, rendered as
// base-16 of the signed 32-bit result. This exact function (not a
// library hash) is required for cross-tool agreement; see §4.7.
func fingerprint(content []byte) string {
	var h int32
	for _, c := range content {
		h = (h << 5) - h + int32(c)
	}
	return fmt.Sprintf("%x", h)
}

// Analyze runs the full §4.7 algorithm across dev, staging, and prod.
func (d *Drift) Analyze(ctx context.Context) (*Report, error) {
	domains, err := d.unionDomains(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	totalSynced, totalKeys := 0, 0

	for _, domain := range domains {
		keys, err := d.unionKeys(ctx, domain)
		if err != nil {
			return nil, err
		}

		dr := DomainReport{Domain: domain}
		domainSynced := 0
		for _, key := range keys {
			kr, err := d.classifyKey(ctx, domain, key)
			if err != nil {
				return nil, err
			}
			dr.Keys = append(dr.Keys, *kr)
			if kr.Status == StatusSynced {
				domainSynced++
			}
		}
		if len(dr.Keys) == 0 {
			dr.SyncPercent = 100
		} else {
			dr.SyncPercent = percent(domainSynced, len(dr.Keys))
		}
		totalSynced += domainSynced
		totalKeys += len(dr.Keys)
		report.Domains = append(report.Domains, dr)
	}

	if totalKeys == 0 {
		report.OverallPercent = 100
	} else {
		report.OverallPercent = percent(totalSynced, totalKeys)
	}
	return report, nil
}

func percent(numerator, denominator int) int {
	if denominator == 0 {
		return 100
	}
	return int(roundHalfAwayFromZero(100 * float64(numerator) / float64(denominator)))
}

func roundHalfAwayFromZero(f float64) float64 {
	if f < 0 {
		return -roundHalfAwayFromZero(-f)
	}
	whole := float64(int(f))
	if f-whole >= 0.5 {
		return whole + 1
	}
	return whole
}

func (d *Drift) unionDomains(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for _, env := range []Environment{Dev, Staging, Prod} {
		domains, err := d.readDomains(ctx, env)
		if err != nil {
			return nil, err
		}
		for _, name := range domains {
			seen[name] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

// readDomains tolerates a git_failure/io_failure for one environment by
// treating the branch as empty, per §4.7's "tolerate per-branch read
// errors silently" requirement.
func (d *Drift) readDomains(ctx context.Context, env Environment) ([]string, error) {
	snapshot := NewSnapshot(d.gw)
	domains, err := snapshot.ListDomains(ctx, env)
	if err != nil {
		return nil, nil
	}
	return domains, nil
}

func (d *Drift) unionKeys(ctx context.Context, domain string) ([]string, error) {
	seen := map[string]struct{}{}
	snapshot := NewSnapshot(d.gw)
	for _, env := range []Environment{Dev, Staging, Prod} {
		keys, err := snapshot.ListKeys(ctx, env, domain)
		if err != nil {
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d *Drift) classifyKey(ctx context.Context, domain, key string) (*KeyReport, error) {
	content := map[Environment][]byte{}
	present := map[Environment]bool{}

	snapshot := NewSnapshot(d.gw)
	for _, env := range []Environment{Dev, Staging, Prod} {
		cv, err := snapshot.GetConfig(ctx, env, domain, key)
		if err != nil {
			present[env] = false
			continue
		}
		content[env] = cv.Raw
		present[env] = true
	}

	kr := &KeyReport{Domain: domain, Key: key, Fingerprints: map[Environment]string{}}
	for _, env := range []Environment{Dev, Staging, Prod} {
		if present[env] {
			kr.Fingerprints[env] = fingerprint(content[env])
		}
	}

	kr.DevVsStaging = adjacentLabel(present[Dev], present[Staging], content[Dev], content[Staging])
	kr.StagingVsProd = adjacentLabel(present[Staging], present[Prod], content[Staging], content[Prod])

	kr.Status = classifyStatus(present, content)
	return kr, nil
}

func adjacentLabel(sourcePresent, targetPresent bool, source, target []byte) AdjacentLabel {
	switch {
	case !sourcePresent && !targetPresent:
		return LabelMissingSource
	case !sourcePresent:
		return LabelMissingSource
	case !targetPresent:
		return LabelMissingTarget
	case bytes.Equal(source, target):
		return LabelSame
	default:
		return LabelDifferent
	}
}

func classifyStatus(present map[Environment]bool, content map[Environment][]byte) Status {
	allPresent := present[Dev] && present[Staging] && present[Prod]
	if allPresent && bytes.Equal(content[Dev], content[Staging]) && bytes.Equal(content[Staging], content[Prod]) {
		return StatusSynced
	}
	if present[Dev] && !present[Staging] && !present[Prod] {
		return StatusDevOnly
	}

	drifted := false
	if present[Dev] && present[Staging] && !bytes.Equal(content[Dev], content[Staging]) {
		drifted = true
	}
	if present[Staging] && present[Prod] && !bytes.Equal(content[Staging], content[Prod]) {
		drifted = true
	}
	if drifted {
		return StatusDrifted
	}
	return StatusPartial
}

// DiffResult is the Drift Analyzer's diff endpoint result: raw content on
// each side, a unified diff, and whether they differ bytewise.
type DiffResult struct {
	Source       []byte
	Target       []byte
	Diff         string
	IsDifferent  bool
}

// Diff returns source/target content for (domain, key) plus a unified
// diff and a bytewise inequality flag.
func (d *Drift) Diff(ctx context.Context, domain, key string, source, target Environment) (*DiffResult, error) {
	if !source.Valid() || !target.Valid() {
		return nil, coreerr.InvalidInputf("unknown environment in diff request")
	}
	snapshot := NewSnapshot(d.gw)

	var sourceContent, targetContent []byte
	if cv, err := snapshot.GetConfig(ctx, source, domain, key); err == nil {
		sourceContent = cv.Raw
	}
	if cv, err := snapshot.GetConfig(ctx, target, domain, key); err == nil {
		targetContent = cv.Raw
	}

	return &DiffResult{
		Source:      sourceContent,
		Target:      targetContent,
		Diff:        unifiedDiff(targetContent, sourceContent),
		IsDifferent: !bytes.Equal(sourceContent, targetContent),
	}, nil
}
