package policy

import (
	"fmt"
	"maps"
)

// Set resolves the profile that applies to a tenant. Profiles loaded from
// files shadow presets of the same name.
type Set struct {
	profiles map[string]Profile
	tenants  map[string]string
	fallback string
}

// NewSet builds a Set from presets, custom profiles and a tenant mapping.
// fallback names the profile for tenants without an explicit mapping.
func NewSet(custom []Profile, tenants map[string]string, fallback string) (*Set, error) {
	s := &Set{
		profiles: make(map[string]Profile),
		tenants:  maps.Clone(tenants),
		fallback: fallback,
	}
	for _, name := range PresetNames() {
		p, _ := PresetByName(name)
		s.profiles[name] = p
	}
	for i := range custom {
		if err := custom[i].Validate(); err != nil {
			return nil, err
		}
		s.profiles[custom[i].Name] = custom[i]
	}
	if _, ok := s.profiles[fallback]; !ok {
		return nil, fmt.Errorf("policy: default profile %q not found", fallback)
	}
	for tenant, name := range s.tenants {
		if _, ok := s.profiles[name]; !ok {
			return nil, fmt.Errorf("policy: tenant %q maps to unknown profile %q", tenant, name)
		}
	}
	return s, nil
}

// ForTenant returns the profile that applies to tenantID.
func (s *Set) ForTenant(tenantID string) Profile {
	if name, ok := s.tenants[tenantID]; ok {
		return s.profiles[name]
	}
	return s.profiles[s.fallback]
}

// Evaluate resolves the tenant's profile and evaluates the request.
func (s *Set) Evaluate(req Request) Evaluation {
	p := s.ForTenant(req.TenantID)
	return p.Evaluate(req.Commands)
}
