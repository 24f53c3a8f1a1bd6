// Package store persists data subject requests and their event trail.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"privacyhub/internal/dsr/models"
	"privacyhub/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// PostgresStore persists requests in dsr_requests and events in dsr_events.
// Bound to a transaction, reads take a row lock so a check-and-set on the
// verification digest cannot race.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

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

const requestColumns = `id, email, name, user_id, request_type, regulation, details, identity_document_ref,
	status, verification_hash, verification_expires_at, verification_consumed_at, submitted_at, due_date,
	verified_at, completed_at, export_ref, anonymization_confirmed, resolution_notes, ip_address_hash, updated_at`

func (s *PostgresStore) Create(ctx context.Context, req *models.Request) error {
	query := `INSERT INTO dsr_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err := s.execer().ExecContext(ctx, query,
		req.ID,
		req.Email,
		req.Name,
		req.UserID,
		string(req.RequestType),
		string(req.Regulation),
		req.Details,
		req.IdentityDocumentRef,
		string(req.Status),
		req.VerificationHash,
		req.VerificationExpiresAt,
		nullTime(req.VerificationConsumedAt),
		req.SubmittedAt,
		req.DueDate,
		nullTime(req.VerifiedAt),
		nullTime(req.CompletedAt),
		req.ExportRef,
		req.AnonymizationConfirmed,
		req.ResolutionNotes,
		req.IPAddressHash,
		req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert dsr request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	return s.findOne(ctx, "id = $1", id)
}

// FindByVerificationHash looks a request up by its token digest. Inside a
// transaction the row stays locked until commit.
func (s *PostgresStore) FindByVerificationHash(ctx context.Context, hash string) (*models.Request, error) {
	return s.findOne(ctx, "verification_hash = $1", hash)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM dsr_requests WHERE ` + where
	if s.tx != nil {
		query += " FOR UPDATE"
	}
	req, err := scanRequest(s.execer().QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find dsr request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) Update(ctx context.Context, req *models.Request) error {
	query := `
		UPDATE dsr_requests SET
			regulation = $2,
			status = $3,
			verification_hash = $4,
			verification_expires_at = $5,
			verification_consumed_at = $6,
			due_date = $7,
			verified_at = $8,
			completed_at = $9,
			export_ref = $10,
			anonymization_confirmed = $11,
			resolution_notes = $12,
			updated_at = $13
		WHERE id = $1
	`
	res, err := s.execer().ExecContext(ctx, query,
		req.ID,
		string(req.Regulation),
		string(req.Status),
		req.VerificationHash,
		req.VerificationExpiresAt,
		nullTime(req.VerificationConsumedAt),
		req.DueDate,
		nullTime(req.VerifiedAt),
		nullTime(req.CompletedAt),
		req.ExportRef,
		req.AnonymizationConfirmed,
		req.ResolutionNotes,
		req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update dsr request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update dsr request: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *models.Event) error {
	_, err := s.execer().ExecContext(ctx, `
		INSERT INTO dsr_events (id, request_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.RequestID, string(ev.From), string(ev.To), ev.Actor, ev.Reason, ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("append dsr event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, requestID uuid.UUID) ([]*models.Event, error) {
	rows, err := s.execer().QueryContext(ctx, `
		SELECT id, request_id, from_status, to_status, actor, reason, created_at
		FROM dsr_events
		WHERE request_id = $1
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list dsr events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		var (
			ev       models.Event
			from, to string
		)
		if err := rows.Scan(&ev.ID, &ev.RequestID, &from, &to, &ev.Actor, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dsr event: %w", err)
		}
		ev.From = models.Status(from)
		ev.To = models.Status(to)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dsr events: %w", err)
	}
	return events, nil
}

// List returns a page of matching requests ordered by due date, plus the unpaged count.
func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.Request, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.Overdue {
		where = append(where, "status NOT IN ('completed', 'rejected')", "due_date < "+arg(filter.Now))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.execer().QueryRowContext(ctx, "SELECT COUNT(*) FROM dsr_requests"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dsr requests: %w", err)
	}

	query := `SELECT ` + requestColumns + ` FROM dsr_requests` + clause + " ORDER BY due_date, id"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	query += " OFFSET " + arg(filter.Offset)

	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list dsr requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan dsr request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate dsr requests: %w", err)
	}
	return requests, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		req                              models.Request
		requestType, regulation, status  string
		consumedAt, verifiedAt, complete sql.NullTime
	)
	err := row.Scan(
		&req.ID,
		&req.Email,
		&req.Name,
		&req.UserID,
		&requestType,
		&regulation,
		&req.Details,
		&req.IdentityDocumentRef,
		&status,
		&req.VerificationHash,
		&req.VerificationExpiresAt,
		&consumedAt,
		&req.SubmittedAt,
		&req.DueDate,
		&verifiedAt,
		&complete,
		&req.ExportRef,
		&req.AnonymizationConfirmed,
		&req.ResolutionNotes,
		&req.IPAddressHash,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.RequestType = models.RequestType(requestType)
	req.Regulation = models.Regulation(regulation)
	req.Status = models.Status(status)
	req.VerificationConsumedAt = timePtr(consumedAt)
	req.VerifiedAt = timePtr(verifiedAt)
	req.CompletedAt = timePtr(complete)
	return &req, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
