package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"privacyhub/internal/consent/models"
	"privacyhub/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// PostgresStore persists consent records and the consent log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a store bound to a transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// FindBySubject reads the current record. Inside a transaction the row is locked.
func (s *PostgresStore) FindBySubject(ctx context.Context, key models.SubjectKey) (*models.Record, error) {
	query := `
		SELECT subject_key, categories, region, banner_version, method, created_at, updated_at
		FROM consents
		WHERE subject_key = $1
	`
	if s.tx != nil {
		query += " FOR UPDATE"
	}
	rec, err := scanRecord(s.execer().QueryRowContext(ctx, query, string(key)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return rec, nil
}

// LockSubject takes a transaction-scoped advisory lock so that first-time decisions
// for the same subject serialize even though no row exists yet to lock.
func (s *PostgresStore) LockSubject(ctx context.Context, key models.SubjectKey) error {
	if s.tx == nil {
		return nil
	}
	if _, err := s.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(key)); err != nil {
		return fmt.Errorf("lock consent subject: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("consent record is required")
	}
	cats, err := json.Marshal(rec.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	query := `
		INSERT INTO consents (subject_key, categories, region, banner_version, method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject_key) DO UPDATE
		SET categories = EXCLUDED.categories,
			region = EXCLUDED.region,
			banner_version = EXCLUDED.banner_version,
			method = EXCLUDED.method,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`
	err = s.execer().QueryRowContext(ctx, query,
		string(rec.SubjectKey),
		string(cats),
		rec.Region,
		rec.BannerVersion,
		string(rec.Method),
		rec.CreatedAt,
		rec.UpdatedAt,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendLogs(ctx context.Context, entries []*models.LogEntry) error {
	query := `
		INSERT INTO consent_logs (id, subject_key, purpose, action, method, previous_state, new_state,
			ip_address_hash, user_agent, region, banner_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, e := range entries {
		_, err := s.execer().ExecContext(ctx, query,
			e.ID,
			string(e.SubjectKey),
			e.Purpose,
			string(e.Action),
			string(e.Method),
			e.PreviousState,
			e.NewState,
			e.IPAddressHash,
			e.UserAgent,
			e.Region,
			e.BannerVersion,
			e.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("append consent log: %w", err)
		}
	}
	return nil
}

// ListLogs returns matching entries newest first, plus the unpaged match count.
func (s *PostgresStore) ListLogs(ctx context.Context, filter models.LogFilter) ([]*models.LogEntry, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.SubjectKey != "" {
		where = append(where, "subject_key = "+arg(string(filter.SubjectKey)))
	}
	if filter.Purpose != "" {
		where = append(where, "purpose = "+arg(filter.Purpose))
	}
	if filter.Action != "" {
		where = append(where, "action = "+arg(string(filter.Action)))
	}
	if filter.From != nil {
		where = append(where, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "created_at <= "+arg(*filter.To))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	filterArgs := len(args)

	query := `
		SELECT id, subject_key, purpose, action, method, previous_state, new_state,
			ip_address_hash, user_agent, region, banner_version, created_at,
			COUNT(*) OVER() AS total
		FROM consent_logs` + clause + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	query += " OFFSET " + arg(filter.Offset)

	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consent logs: %w", err)
	}
	defer rows.Close()

	entries := []*models.LogEntry{}
	total := 0
	for rows.Next() {
		var (
			e                       models.LogEntry
			subject, action, method string
		)
		if err := rows.Scan(&e.ID, &subject, &e.Purpose, &action, &method, &e.PreviousState, &e.NewState,
			&e.IPAddressHash, &e.UserAgent, &e.Region, &e.BannerVersion, &e.CreatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("scan consent log: %w", err)
		}
		e.SubjectKey = models.SubjectKey(subject)
		e.Action = models.Action(action)
		e.Method = models.Method(method)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate consent logs: %w", err)
	}

	// A page past the end has no row to carry the window count.
	if len(entries) == 0 && filter.Offset > 0 {
		err := s.execer().QueryRowContext(ctx, "SELECT COUNT(*) FROM consent_logs"+clause, args[:filterArgs]...).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("count consent logs: %w", err)
		}
	}
	return entries, total, nil
}

type recordRow interface {
	Scan(dest ...any) error
}

func scanRecord(row recordRow) (*models.Record, error) {
	var (
		rec             models.Record
		subject, method string
		cats            []byte
	)
	if err := row.Scan(&subject, &cats, &rec.Region, &rec.BannerVersion, &method, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.SubjectKey = models.SubjectKey(subject)
	rec.Method = models.Method(method)
	rec.Categories = models.Categories{}
	if err := json.Unmarshal(cats, &rec.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return &rec, nil
}
