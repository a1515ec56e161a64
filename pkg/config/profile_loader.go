package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// GovernanceProfile is a named governance configuration overlay, typically
// one per environment or jurisdiction (profile_prod.yaml, profile_eu.yaml).
// Only the fields present in the YAML override the base configuration.
type GovernanceProfile struct {
	Name       string                     `yaml:"name" json:"name"`
	Code       string                     `yaml:"code" json:"code"`
	Governance contracts.GovernanceConfig `yaml:"governance" json:"governance"`
}

// LoadProfile loads profile_<code>.yaml from the profiles directory and
// validates its governance section.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	profile, err := parseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the directory, keyed by
// profile code.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		profile, err := parseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = profile
	}
	return profiles, nil
}

func parseProfile(data []byte) (*GovernanceProfile, error) {
	// Start from the defaults so absent YAML fields keep their documented
	// values instead of zeroing out.
	profile := GovernanceProfile{Governance: contracts.DefaultGovernanceConfig()}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	if !profile.Governance.HashAlgorithm.Valid() {
		return nil, fmt.Errorf("unsupported hash algorithm %q", profile.Governance.HashAlgorithm)
	}
	if profile.Governance.RequiredApprovers < 1 {
		return nil, fmt.Errorf("required_approvers must be at least 1, got %d", profile.Governance.RequiredApprovers)
	}
	return &profile, nil
}

// Apply overlays the profile's governance section onto a process config.
func (p *GovernanceProfile) Apply(cfg *Config) {
	cfg.Governance = p.Governance
}
