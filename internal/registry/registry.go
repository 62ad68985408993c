// Package registry is the read side of the external dependency/consumer
// schema (§3): which applications, in which environment, consume which
// keys of a domain. The core never writes these rows; it only reads them
// to compute impact for an (out-of-scope) impact-analysis surface.
package registry

import (
	"github.com/configbutler/confgov/internal/store"
)

// Registry exposes read-only impact queries over the dependency table.
type Registry struct {
	store *store.Store
}

// New builds a Registry over s.
func New(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Consumer is one application's registered interest in a domain, filtered
// down to the keys it actually consumes.
type Consumer struct {
	AppID         string
	Keys          []string
	LastHeartbeat string
	Contact       string
}

// ImpactOf returns every consumer in environment/domain that lists key
// among its consumed keys.
func (r *Registry) ImpactOf(environment, domain, key string) ([]Consumer, error) {
	rows, err := r.store.ListDependenciesForDomain(environment, domain)
	if err != nil {
		return nil, err
	}

	var out []Consumer
	for _, row := range rows {
		if containsKey(row.Keys, key) {
			out = append(out, Consumer{
				AppID:         row.AppID,
				Keys:          row.Keys,
				LastHeartbeat: row.LastHeartbeat,
				Contact:       row.Contact,
			})
		}
	}
	return out, nil
}

// ListDependents returns every consumer registered against
// environment/domain, regardless of which specific keys they consume.
func (r *Registry) ListDependents(environment, domain string) ([]Consumer, error) {
	rows, err := r.store.ListDependenciesForDomain(environment, domain)
	if err != nil {
		return nil, err
	}

	out := make([]Consumer, 0, len(rows))
	for _, row := range rows {
		out = append(out, Consumer{
			AppID:         row.AppID,
			Keys:          row.Keys,
			LastHeartbeat: row.LastHeartbeat,
			Contact:       row.Contact,
		})
	}
	return out, nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
