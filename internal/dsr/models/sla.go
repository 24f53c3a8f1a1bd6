package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	dErrors "privacyhub/pkg/domain-errors"
)

// SLATable maps each regulation to the number of days a request has to be resolved.
type SLATable map[Regulation]int

// DefaultSLA is the statutory response window per regulation.
func DefaultSLA() SLATable {
	return SLATable{
		RegulationGDPR:   30,
		RegulationCCPA:   45,
		RegulationLGPD:   15,
		RegulationUKGDPR: 30,
		RegulationPIPEDA: 30,
		RegulationPOPIA:  30,
	}
}

// SLATableFrom overlays the policy file's table onto the defaults, so a file that
// names some regulations keeps the statutory window for the rest.
func SLATableFrom(raw map[string]int) (SLATable, error) {
	table := DefaultSLA()
	for name, days := range raw {
		if days <= 0 {
			return nil, fmt.Errorf("sla days for %s must be positive, got %d", name, days)
		}
		table[Regulation(strings.ToUpper(strings.TrimSpace(name)))] = days
	}
	return table, nil
}

// DueDate is submittedAt plus the regulation's SLA in whole days of 24 hours.
// It is pure: the same inputs always give the same date.
func (t SLATable) DueDate(submittedAt time.Time, reg Regulation) (time.Time, error) {
	days, ok := t[reg]
	if !ok {
		return time.Time{}, t.Unsupported(reg)
	}
	return submittedAt.Add(time.Duration(days) * 24 * time.Hour), nil
}

// Supports reports whether reg has an SLA entry.
func (t SLATable) Supports(reg Regulation) bool {
	_, ok := t[reg]
	return ok
}

// Regulations returns the supported regulations sorted by name.
func (t SLATable) Regulations() []Regulation {
	out := make([]Regulation, 0, len(t))
	for reg := range t {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Unsupported is the validation error for a regulation without an SLA entry. It
// lists what is supported.
func (t SLATable) Unsupported(reg Regulation) error {
	names := make([]string, 0, len(t))
	for _, r := range t.Regulations() {
		names = append(names, string(r))
	}
	return dErrors.New(dErrors.CodeValidation,
		fmt.Sprintf("unsupported regulation %q, expected one of %s", reg, strings.Join(names, ", ")))
}
