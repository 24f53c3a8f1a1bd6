package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the operator-editable privacy policy: SLA table, category catalogue,
// consent-mode key mapping and blocking rules.
type Policy struct {
	SLADays       map[string]int      `yaml:"sla_days"`
	Categories    []string            `yaml:"categories"`
	ConsentMode   map[string][]string `yaml:"consent_mode"`
	BlockingRules []RuleSpec          `yaml:"blocking_rules"`
}

// RuleSpec is one blocking rule as written in the policy file.
type RuleSpec struct {
	ID       string `yaml:"id"`
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
	Action   string `yaml:"action"`
}

// DefaultPolicy returns the compiled-in policy.
func DefaultPolicy() Policy {
	return Policy{
		SLADays: map[string]int{
			"GDPR":    30,
			"CCPA":    45,
			"LGPD":    15,
			"UK-GDPR": 30,
			"PIPEDA":  30,
			"POPIA":   30,
		},
		Categories: []string{"necessary", "functional", "preferences", "analytics", "marketing"},
		ConsentMode: map[string][]string{
			"necessary":   {"security_storage"},
			"functional":  {"functionality_storage"},
			"preferences": {"personalization_storage"},
			"analytics":   {"analytics_storage"},
			"marketing":   {"ad_storage", "ad_user_data", "ad_personalization"},
		},
		BlockingRules: []RuleSpec{
			{ID: "ga", Pattern: "google-analytics.com", Category: "analytics", Action: "block"},
			{ID: "gtag", Pattern: "googletagmanager.com/gtag", Category: "analytics", Action: "block"},
			{ID: "hotjar", Pattern: "static.hotjar.com", Category: "analytics", Action: "block"},
			{ID: "fbq", Pattern: "connect.facebook.net", Category: "marketing", Action: "block"},
			{ID: "doubleclick", Pattern: "doubleclick.net", Category: "marketing", Action: "block"},
			{ID: "linkedin", Pattern: "snap.licdn.com", Category: "marketing", Action: "block"},
			{ID: "youtube", Pattern: `/youtube(-nocookie)?\.com\/embed/`, Category: "marketing", Action: "replace_with_placeholder"},
			{ID: "vimeo", Pattern: "player.vimeo.com", Category: "functional", Action: "replace_with_placeholder"},
		},
	}
}

// LoadPolicy reads path and overlays it onto the defaults. An empty path yields the defaults.
// sla_days entries are merged per regulation; any other section present in the
// file replaces the default section entirely.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return &policy, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var file Policy
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	for reg, days := range file.SLADays {
		policy.SLADays[strings.ToUpper(strings.TrimSpace(reg))] = days
	}
	if len(file.Categories) > 0 {
		policy.Categories = file.Categories
	}
	if len(file.ConsentMode) > 0 {
		policy.ConsentMode = file.ConsentMode
	}
	if file.BlockingRules != nil {
		policy.BlockingRules = file.BlockingRules
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return &policy, nil
}

// Validate checks the policy for values the services cannot run with.
func (p Policy) Validate() error {
	for reg, days := range p.SLADays {
		if days <= 0 {
			return fmt.Errorf("sla_days[%s] must be positive", reg)
		}
	}
	hasNecessary := false
	for _, c := range p.Categories {
		if c == "necessary" {
			hasNecessary = true
		}
	}
	if !hasNecessary {
		return fmt.Errorf("categories must include necessary")
	}
	for i, r := range p.BlockingRules {
		if r.Pattern == "" || r.Category == "" {
			return fmt.Errorf("blocking_rules[%d] needs pattern and category", i)
		}
		switch r.Action {
		case "", "block", "replace_with_placeholder":
		default:
			return fmt.Errorf("blocking_rules[%d] has unknown action %q", i, r.Action)
		}
	}
	return nil
}
