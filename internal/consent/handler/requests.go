package handler

import (
	"fmt"
	"net/url"
	"strings"

	"privacyhub/internal/consent/models"
	dErrors "privacyhub/pkg/domain-errors"
	s "privacyhub/pkg/string"
	"privacyhub/pkg/validation"
)

// ToggleRequest grants or withdraws a single purpose.
type ToggleRequest struct {
	UserID    string `json:"user_id" validate:"max=191"`
	SessionID string `json:"session_id" validate:"max=191"`
	Purpose   string `json:"purpose" validate:"required,category"`
	Action    string `json:"action" validate:"required,oneof=grant withdraw"`

	key models.SubjectKey
}

func (r *ToggleRequest) Sanitize() {
	s.TrimStrings(&r.UserID, &r.SessionID, &r.Purpose, &r.Action)
}

func (r *ToggleRequest) Normalize() {
	r.Purpose = strings.ToLower(r.Purpose)
	r.Action = strings.ToLower(r.Action)
}

func (r *ToggleRequest) Validate() error {
	key, err := models.NewSubjectKey(r.UserID, r.SessionID)
	if err != nil {
		return err
	}
	r.key = key
	return nil
}

// PreferencesRequest is a full banner decision.
type PreferencesRequest struct {
	UserID        string          `json:"user_id" validate:"max=191"`
	SessionID     string          `json:"session_id" validate:"max=191"`
	Categories    map[string]bool `json:"categories" validate:"max=32"`
	Region        string          `json:"region" validate:"max=16"`
	BannerVersion string          `json:"banner_version" validate:"max=64"`
	Method        string          `json:"method" validate:"required,oneof=accept_all reject_all customize"`

	key models.SubjectKey
}

func (r *PreferencesRequest) Sanitize() {
	s.TrimStrings(&r.UserID, &r.SessionID, &r.Region, &r.BannerVersion, &r.Method)
}

func (r *PreferencesRequest) Validate() error {
	key, err := models.NewSubjectKey(r.UserID, r.SessionID)
	if err != nil {
		return err
	}
	if err := validateCategoryNames(r.Categories); err != nil {
		return err
	}
	r.key = key
	return nil
}

func (r *PreferencesRequest) categories() models.Categories {
	return toCategories(r.Categories)
}

// ImportRequest carries decisions exported from another installation.
type ImportRequest struct {
	Items []ImportItemRequest `json:"items" validate:"required,min=1,max=500,dive"`
}

type ImportItemRequest struct {
	SubjectKey    string          `json:"subject_key" validate:"required,max=200"`
	Categories    map[string]bool `json:"categories" validate:"max=32"`
	Region        string          `json:"region" validate:"max=16"`
	BannerVersion string          `json:"banner_version" validate:"max=64"`
}

func (r *ImportRequest) Validate() error {
	for i, item := range r.Items {
		for name := range item.Categories {
			if !validation.IsCategoryName(name) {
				return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("items[%d]: invalid category %q", i, name))
			}
		}
	}
	return nil
}

// CookieReportRequest is a client-side inventory of cookie and storage key names.
type CookieReportRequest struct {
	Cookies            []string `json:"cookies"`
	LocalStorageKeys   []string `json:"localStorageKeys"`
	SessionStorageKeys []string `json:"sessionStorageKeys"`
	URL                string   `json:"url" validate:"required,url,max=2048"`
	UserAgent          string   `json:"userAgent" validate:"max=512"`
}

func (r *CookieReportRequest) Sanitize() {
	s.TrimStrings(&r.URL, &r.UserAgent)
}

// Normalize dedupes the key lists and drops query and fragment from the page URL.
func (r *CookieReportRequest) Normalize() {
	r.Cookies = s.DedupeAndTrim(r.Cookies, validation.MaxReportEntries)
	r.LocalStorageKeys = s.DedupeAndTrim(r.LocalStorageKeys, validation.MaxReportEntries)
	r.SessionStorageKeys = s.DedupeAndTrim(r.SessionStorageKeys, validation.MaxReportEntries)
	if u, err := url.Parse(r.URL); err == nil && u.Host != "" {
		u.RawQuery = ""
		u.Fragment = ""
		u.User = nil
		r.URL = u.String()
	}
}

func validateCategoryNames(cats map[string]bool) error {
	for name := range cats {
		if !validation.IsCategoryName(name) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid category %q", name))
		}
	}
	return nil
}

func toCategories(raw map[string]bool) models.Categories {
	cats := make(models.Categories, len(raw))
	for name, granted := range raw {
		cats[models.Category(name)] = granted
	}
	return cats
}
