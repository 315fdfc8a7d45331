package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("72h", "90s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Profile is a YAML deployment profile. Deployments that run several
// environments keep one profile per environment and point PROFILE_PATH at
// the active one; anything set in the profile overrides the environment
// defaults.
type Profile struct {
	Name          string   `yaml:"name"`
	FeeRateBps    *int64   `yaml:"fee_rate_bps,omitempty"`
	MinDeposit    *int64   `yaml:"min_deposit,omitempty"`
	DisputeWindow Duration `yaml:"dispute_window,omitempty"`
	AbandonGrace  Duration `yaml:"abandon_grace,omitempty"`
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
	Operator      string   `yaml:"operator,omitempty"`
	Arbiter       string   `yaml:"arbiter,omitempty"`
	// Providers maps admitted provider identities to their hex-encoded
	// Ed25519 public keys, feeding the static registry.
	Providers map[string]string `yaml:"providers,omitempty"`
}

// LoadProfile reads a deployment profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return &profile, nil
}

// Apply overlays the profile onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if p.FeeRateBps != nil {
		cfg.FeeRateBps = *p.FeeRateBps
	}
	if p.MinDeposit != nil {
		cfg.MinDeposit = *p.MinDeposit
	}
	if p.DisputeWindow > 0 {
		cfg.DisputeWindow = time.Duration(p.DisputeWindow)
	}
	if p.AbandonGrace > 0 {
		cfg.AbandonGrace = time.Duration(p.AbandonGrace)
	}
	if p.SweepInterval > 0 {
		cfg.SweepInterval = time.Duration(p.SweepInterval)
	}
	if p.Operator != "" {
		cfg.Operator = p.Operator
	}
	if p.Arbiter != "" {
		cfg.Arbiter = p.Arbiter
	}
}
