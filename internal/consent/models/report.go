package models

import (
	"time"

	"github.com/google/uuid"
)

// CookieReport is a client's inventory of cookies and storage keys seen on a page.
// Only names are kept, never values.
type CookieReport struct {
	ID                 uuid.UUID
	URL                string
	Cookies            []string
	LocalStorageKeys   []string
	SessionStorageKeys []string
	UserAgent          string
	IPAddressHash      string
	ReceivedAt         time.Time
}

// NewCookieReport stamps a report with a fresh ID.
func NewCookieReport(url string, cookies, local, session []string, userAgent, ipHash string, now time.Time) *CookieReport {
	return &CookieReport{
		ID:                 uuid.New(),
		URL:                url,
		Cookies:            cookies,
		LocalStorageKeys:   local,
		SessionStorageKeys: session,
		UserAgent:          userAgent,
		IPAddressHash:      ipHash,
		ReceivedAt:         now,
	}
}
