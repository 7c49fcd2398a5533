package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/domain/policy"
)

// PolicyService evaluates command lists against the policy profile of the
// requesting tenant. It implements the policy evaluator port.
type PolicyService struct {
	set      *policy.Set
	profiles []string
}

// NewPolicyService creates a PolicyService with the built-in presets and
// optional custom profiles. Custom profiles override presets with the same
// name.
func NewPolicyService(defaultProfile string, custom []policy.Profile, tenants map[string]string) (*PolicyService, error) {
	set, err := policy.NewSet(custom, tenants, defaultProfile)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	names := make([]string, 0, len(custom)+3)
	for _, n := range policy.PresetNames() {
		seen[n] = true
		names = append(names, n)
	}
	for i := range custom {
		if !seen[custom[i].Name] {
			seen[custom[i].Name] = true
			names = append(names, custom[i].Name)
		}
	}
	sort.Strings(names)
	return &PolicyService{set: set, profiles: names}, nil
}

// LoadPolicyService loads custom profiles from cfg.CustomDir and builds a
// PolicyService from them.
func LoadPolicyService(cfg config.Policy) (*PolicyService, error) {
	var custom []policy.Profile
	if cfg.CustomDir != "" {
		loaded, err := policy.LoadFromDirectory(cfg.CustomDir)
		if err != nil {
			return nil, fmt.Errorf("load policies: %w", err)
		}
		custom = loaded
		slog.Info("custom policy profiles loaded", "dir", cfg.CustomDir, "count", len(custom))
	}
	return NewPolicyService(cfg.DefaultProfile, custom, cfg.Tenants)
}

// Evaluate returns the combined verdict for req.
func (s *PolicyService) Evaluate(_ context.Context, req policy.Request) (policy.Evaluation, error) {
	return s.set.Evaluate(req), nil
}

// Profile returns the profile that applies to tenantID.
func (s *PolicyService) Profile(tenantID string) policy.Profile {
	return s.set.ForTenant(tenantID)
}

// ListProfiles returns all available profile names, sorted alphabetically.
func (s *PolicyService) ListProfiles() []string {
	return append([]string(nil), s.profiles...)
}
