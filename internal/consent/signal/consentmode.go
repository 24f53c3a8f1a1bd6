package signal

import (
	"sort"

	"privacyhub/internal/consent/models"
)

// Platform consent-mode values.
const (
	Granted = "granted"
	Denied  = "denied"
)

// Mapping maps a consent category to the platform consent-mode keys it governs.
type Mapping map[models.Category][]string

// DefaultMapping is the Google consent mode v2 mapping.
func DefaultMapping() Mapping {
	return Mapping{
		models.CategoryNecessary:   {"security_storage"},
		models.CategoryFunctional:  {"functionality_storage"},
		models.CategoryPreferences: {"personalization_storage"},
		models.CategoryAnalytics:   {"analytics_storage"},
		models.CategoryMarketing:   {"ad_storage", "ad_user_data", "ad_personalization"},
	}
}

// MappingFrom converts the policy representation into a Mapping.
func MappingFrom(raw map[string][]string) Mapping {
	if len(raw) == 0 {
		return DefaultMapping()
	}
	m := make(Mapping, len(raw))
	for cat, keys := range raw {
		m[models.Category(cat)] = append([]string(nil), keys...)
	}
	return m
}

// ConsentModeUpdate maps platform keys to Granted or Denied.
type ConsentModeUpdate map[string]string

// Keys returns the platform keys in stable order.
func (u ConsentModeUpdate) Keys() []string {
	keys := make([]string, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildConsentMode derives the platform update from a category map. A key shared by
// several categories is granted only if all of them are.
func BuildConsentMode(cats models.Categories, mapping Mapping) ConsentModeUpdate {
	update := make(ConsentModeUpdate)
	for cat, keys := range mapping {
		state := Denied
		if cats.Granted(cat) {
			state = Granted
		}
		for _, key := range keys {
			if existing, ok := update[key]; ok && existing == Denied {
				continue
			}
			update[key] = state
		}
	}
	return update
}
