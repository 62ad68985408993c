package store

import "encoding/json"

// DependencyRow mirrors one row of the external dependency/consumer
// registration schema (§3): which app consumes which keys of a domain in
// an environment.
type DependencyRow struct {
	ID            int64
	AppID         string
	Environment   string
	Domain        string
	Keys          []string
	LastHeartbeat string
	Contact       string
}

// ListDependenciesForDomain returns every registration for (environment,
// domain), used by the registry's ImpactOf/ListDependents.
func (s *Store) ListDependenciesForDomain(environment, domain string) ([]DependencyRow, error) {
	rows, err := s.DB.Query(`
		SELECT id, app_id, environment, domain, keys, last_heartbeat, contact
		FROM dependencies WHERE environment = ? AND domain = ?`, environment, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DependencyRow
	for rows.Next() {
		var d DependencyRow
		var keysJSON string
		if err := rows.Scan(&d.ID, &d.AppID, &d.Environment, &d.Domain, &keysJSON, &d.LastHeartbeat, &d.Contact); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keysJSON), &d.Keys); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
