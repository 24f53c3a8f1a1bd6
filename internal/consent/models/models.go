package models

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/validation"
)

// Category is a consent purpose a visitor can grant or deny separately.
type Category string

const (
	CategoryNecessary   Category = "necessary"
	CategoryFunctional  Category = "functional"
	CategoryPreferences Category = "preferences"
	CategoryAnalytics   Category = "analytics"
	CategoryMarketing   Category = "marketing"
)

// DefaultCatalogue is the category set offered when no policy file overrides it.
var DefaultCatalogue = []Category{
	CategoryNecessary,
	CategoryFunctional,
	CategoryPreferences,
	CategoryAnalytics,
	CategoryMarketing,
}

// Categories maps category -> granted. A category missing from the map is denied.
type Categories map[Category]bool

// Granted reports whether cat is granted. necessary always is.
func (c Categories) Granted(cat Category) bool {
	if cat == CategoryNecessary {
		return true
	}
	return c[cat]
}

// WithNecessary returns a copy with necessary forced to true.
func (c Categories) WithNecessary() Categories {
	out := make(Categories, len(c)+1)
	maps.Copy(out, c)
	out[CategoryNecessary] = true
	return out
}

func (c Categories) Clone() Categories {
	if c == nil {
		return nil
	}
	return maps.Clone(c)
}

// Sorted returns the category names in stable order.
func (c Categories) Sorted() []Category {
	keys := slices.Collect(maps.Keys(c))
	slices.Sort(keys)
	return keys
}

// Encode renders "a=granted,b=denied", used for whole-record log snapshots.
func (c Categories) Encode() string {
	parts := make([]string, 0, len(c))
	for _, k := range c.Sorted() {
		parts = append(parts, string(k)+"="+string(StateOf(c[k])))
	}
	return strings.Join(parts, ",")
}

// Method records how a decision was made.
type Method string

const (
	MethodAcceptAll Method = "accept_all"
	MethodRejectAll Method = "reject_all"
	MethodCustomize Method = "customize"
	MethodAPI       Method = "api"
	MethodImport    Method = "import"
)

func (m Method) IsValid() bool {
	switch m {
	case MethodAcceptAll, MethodRejectAll, MethodCustomize, MethodAPI, MethodImport:
		return true
	}
	return false
}

// Record is the current consent decision of one subject.
//
// Records are never deleted. A decision replaces Categories wholesale; history is kept
// in LogEntry rows.
type Record struct {
	SubjectKey    SubjectKey
	Categories    Categories
	Region        string
	BannerVersion string
	Method        Method
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRecord builds a record for a fresh decision with necessary merged in.
func NewRecord(key SubjectKey, cats Categories, region, bannerVersion string, method Method, now time.Time) (*Record, error) {
	r := &Record{
		SubjectKey:    key,
		Categories:    cats.WithNecessary(),
		Region:        strings.ToUpper(strings.TrimSpace(region)),
		BannerVersion: strings.TrimSpace(bannerVersion),
		Method:        method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate enforces the record invariants.
func (r *Record) Validate() error {
	if err := r.SubjectKey.Validate(); err != nil {
		return err
	}
	if granted, ok := r.Categories[CategoryNecessary]; !ok || !granted {
		return dErrors.New(dErrors.CodeInvariantViolation, "necessary category must be granted")
	}
	if len(r.Categories) > validation.MaxCategories {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d categories allowed", validation.MaxCategories))
	}
	for cat := range r.Categories {
		if !validation.IsCategoryName(string(cat)) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid category %q", cat))
		}
	}
	if len(r.Region) > 16 {
		return dErrors.New(dErrors.CodeValidation, "region must be at most 16 characters")
	}
	if len(r.BannerVersion) > 64 {
		return dErrors.New(dErrors.CodeValidation, "banner_version must be at most 64 characters")
	}
	if !r.Method.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid method %q", r.Method))
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.Before(r.CreatedAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "record timestamps out of order")
	}
	return nil
}

// Supersede returns the record replacing r after a new decision. CreatedAt carries over.
func (r *Record) Supersede(cats Categories, region, bannerVersion string, method Method, now time.Time) (*Record, error) {
	if now.Before(r.CreatedAt) {
		now = r.CreatedAt
	}
	next, err := NewRecord(r.SubjectKey, cats, region, bannerVersion, method, now)
	if err != nil {
		return nil, err
	}
	next.CreatedAt = r.CreatedAt
	return next, nil
}
