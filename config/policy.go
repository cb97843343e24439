package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the optional YAML document that overrides the domain and
// path settings of AuthConfig
type PolicyFile struct {
	AllowedDomains    []string `yaml:"allowed_domains"`
	AllowAllDomains   *bool    `yaml:"allow_all_domains"`
	ProtectedPrefixes []string `yaml:"protected_prefixes"`
}

// LoadPolicyFile reads and decodes a policy file
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy PolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return &policy, nil
}

// Apply overrides the fields set in the file
func (p *PolicyFile) Apply(auth *AuthConfig) {
	if p.AllowAllDomains != nil {
		auth.AllowAllDomains = *p.AllowAllDomains
		if *p.AllowAllDomains {
			auth.AllowedDomains = nil
		}
	}
	if p.AllowedDomains != nil {
		auth.AllowedDomains = p.AllowedDomains
	}
	if p.ProtectedPrefixes != nil {
		auth.ProtectedPrefixes = p.ProtectedPrefixes
	}
}
