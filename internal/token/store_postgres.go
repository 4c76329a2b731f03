package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schoolreg/pkg/platform/sentinel"
	txcontext "schoolreg/pkg/platform/tx"
)

// PostgresStore persists tokens in PostgreSQL. Redeem consumes the token in a
// single conditional UPDATE, so concurrent redemptions of the same token race
// on the row and exactly one wins. Participates in a surrounding transaction
// when one is carried in the context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed token store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) querier(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Issue(ctx context.Context, applicationID uuid.UUID, purpose Purpose, ttl time.Duration, now time.Time) (*VerificationToken, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("unknown token purpose %q: %w", purpose, sentinel.ErrInvalidState)
	}
	tokenStr, err := generateToken()
	if err != nil {
		return nil, err
	}

	q := s.querier(ctx)
	if _, err := q.ExecContext(ctx, `
		UPDATE verification_tokens SET superseded = TRUE
		WHERE application_id = $1 AND purpose = $2 AND consumed_at IS NULL AND NOT superseded`,
		applicationID, string(purpose)); err != nil {
		return nil, fmt.Errorf("supersede prior tokens: %w", err)
	}

	tok := &VerificationToken{
		Token:         tokenStr,
		ApplicationID: applicationID,
		Purpose:       purpose,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO verification_tokens (token, application_id, purpose, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		tok.Token, tok.ApplicationID, string(tok.Purpose), tok.IssuedAt, tok.ExpiresAt); err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	return tok, nil
}

func (s *PostgresStore) Redeem(ctx context.Context, tokenStr string, purpose Purpose, now time.Time) (*VerificationToken, error) {
	q := s.querier(ctx)

	// Check and consume in one statement; losers of a concurrent race fall
	// through to the diagnostic read below.
	row := q.QueryRowContext(ctx, `
		UPDATE verification_tokens SET consumed_at = $3
		WHERE token = $1 AND purpose = $2 AND consumed_at IS NULL AND NOT superseded AND expires_at > $3
		RETURNING token, application_id, purpose, issued_at, expires_at, consumed_at, superseded`,
		tokenStr, string(purpose), now)
	tok, err := scanToken(row)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	// Nothing consumed: read the record to name the precise failure.
	existing, err := s.FindByToken(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	if err := existing.ValidateForRedeem(purpose, now); err != nil {
		return nil, err
	}
	// Valid on re-read means another caller consumed it between statements.
	return nil, fmt.Errorf("token consumed concurrently: %w", sentinel.ErrAlreadyUsed)
}

func (s *PostgresStore) FindByToken(ctx context.Context, tokenStr string) (*VerificationToken, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT token, application_id, purpose, issued_at, expires_at, consumed_at, superseded
		FROM verification_tokens WHERE token = $1`, tokenStr)
	return scanToken(row)
}

func (s *PostgresStore) FindCurrent(ctx context.Context, applicationID uuid.UUID, purpose Purpose) (*VerificationToken, error) {
	row := s.querier(ctx).QueryRowContext(ctx, `
		SELECT token, application_id, purpose, issued_at, expires_at, consumed_at, superseded
		FROM verification_tokens
		WHERE application_id = $1 AND purpose = $2 AND consumed_at IS NULL AND NOT superseded
		ORDER BY issued_at DESC LIMIT 1`,
		applicationID, string(purpose))
	return scanToken(row)
}

func scanToken(row *sql.Row) (*VerificationToken, error) {
	var (
		tok     VerificationToken
		purpose string
	)
	err := row.Scan(&tok.Token, &tok.ApplicationID, &purpose, &tok.IssuedAt, &tok.ExpiresAt, &tok.ConsumedAt, &tok.Superseded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	tok.Purpose = Purpose(purpose)
	return &tok, nil
}
