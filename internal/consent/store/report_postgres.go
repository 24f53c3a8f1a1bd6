package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"privacyhub/internal/consent/models"
)

// PostgresReportStore writes cookie reports to the cookie_reports table.
type PostgresReportStore struct {
	db *sql.DB
}

func NewPostgresReportStore(db *sql.DB) *PostgresReportStore {
	return &PostgresReportStore{db: db}
}

func (s *PostgresReportStore) SaveReport(ctx context.Context, report *models.CookieReport) error {
	cookies, err := json.Marshal(nonNil(report.Cookies))
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}
	local, err := json.Marshal(nonNil(report.LocalStorageKeys))
	if err != nil {
		return fmt.Errorf("marshal local storage keys: %w", err)
	}
	session, err := json.Marshal(nonNil(report.SessionStorageKeys))
	if err != nil {
		return fmt.Errorf("marshal session storage keys: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cookie_reports (id, url, cookies, local_storage_keys, session_storage_keys, user_agent, ip_address_hash, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, report.ID, report.URL, cookies, local, session, report.UserAgent, report.IPAddressHash, report.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert cookie report: %w", err)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
