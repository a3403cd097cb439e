package config

import (
	"fmt"
	"net/url"

	"github.com/BurntSushi/toml"
	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// RouteTable is the startup-time transport path and principal configuration,
// loaded from a TOML file. Read-only at request time.
type RouteTable struct {
	Paths      []models.TransportPath `toml:"path"`
	Principals []models.Principal     `toml:"principal"`
}

// LoadRouteTable parses and validates the path/principal table.
func LoadRouteTable(file string) (*RouteTable, error) {
	var table RouteTable
	if _, err := toml.DecodeFile(file, &table); err != nil {
		return nil, fmt.Errorf("failed to parse route table %s: %w", file, err)
	}
	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("invalid route table %s: %w", file, err)
	}
	return &table, nil
}

func (t *RouteTable) validate() error {
	if len(t.Paths) == 0 {
		return fmt.Errorf("at least one transport path is required")
	}

	byName := make(map[string]models.TransportPath, len(t.Paths))
	for _, p := range t.Paths {
		if p.Name == "" {
			return fmt.Errorf("transport path with empty name")
		}
		if _, dup := byName[p.Name]; dup {
			return fmt.Errorf("duplicate transport path %q", p.Name)
		}
		if _, err := url.ParseRequestURI(p.Endpoint); err != nil {
			return fmt.Errorf("path %q: invalid endpoint: %w", p.Name, err)
		}
		if p.CredentialKey == "" {
			return fmt.Errorf("path %q: credential_key is required", p.Name)
		}
		byName[p.Name] = p
	}

	for _, p := range t.Paths {
		if p.FailoverTo == "" {
			continue
		}
		if !p.AllowFailover {
			return fmt.Errorf("path %q: failover_to set without allow_failover", p.Name)
		}
		if p.FailoverTo == p.Name {
			return fmt.Errorf("path %q: failover_to points at itself", p.Name)
		}
		if _, ok := byName[p.FailoverTo]; !ok {
			return fmt.Errorf("path %q: failover_to references unknown path %q", p.Name, p.FailoverTo)
		}
	}

	seen := make(map[string]bool, len(t.Principals))
	for _, pr := range t.Principals {
		if pr.Name == "" || pr.TokenSHA256 == "" {
			return fmt.Errorf("principal entries require name and token_sha256")
		}
		if seen[pr.Name] {
			return fmt.Errorf("duplicate principal %q", pr.Name)
		}
		seen[pr.Name] = true
		for _, path := range pr.Paths {
			if _, ok := byName[path]; !ok {
				return fmt.Errorf("principal %q: unknown path %q", pr.Name, path)
			}
		}
	}

	return nil
}

// PathMap returns the path table keyed by name.
func (t *RouteTable) PathMap() map[string]models.TransportPath {
	m := make(map[string]models.TransportPath, len(t.Paths))
	for _, p := range t.Paths {
		m[p.Name] = p
	}
	return m
}

// PrincipalByTokenHash returns the principal whose token hash matches, or nil.
func (t *RouteTable) PrincipalByTokenHash(hash string) *models.Principal {
	for i := range t.Principals {
		if t.Principals[i].TokenSHA256 == hash {
			return &t.Principals[i]
		}
	}
	return nil
}
