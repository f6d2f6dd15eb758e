package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"halolight.org/internal/auth"
	"halolight.org/internal/ids"
)

type tokenStore struct{ db *sql.DB }

func (s tokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	return insertToken(ctx, s.db, tok)
}

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertToken(ctx context.Context, db execQueryer, tok *auth.RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	row := db.QueryRowContext(ctx, `
		insert into refresh_tokens (id, user_id, token, expires_at, is_revoked)
		values ($1, $2, $3, $4, false)
		returning created_at
	`, tok.ID, tok.UserID, tok.TokenValue, tok.ExpiresAt)
	if err := row.Scan(&tok.CreatedAt); err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s tokenStore) FindActive(ctx context.Context, tokenValue string) (*auth.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token, expires_at, is_revoked, created_at
		from refresh_tokens where token = $1
	`, tokenValue)
	var rec auth.RefreshToken
	err := row.Scan(&rec.ID, &rec.UserID, &rec.TokenValue, &rec.ExpiresAt, &rec.IsRevoked, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.IsRevoked {
		return nil, auth.ErrTokenRevoked
	}
	if !rec.ExpiresAt.After(time.Now()) {
		return nil, auth.ErrTokenExpired
	}
	return &rec, nil
}

// Rotate revokes the old row and inserts the replacement in one
// transaction. The update predicate doubles as a compare-and-set on
// is_revoked: two rotations racing on the same token see exactly one
// winner, the other observes the row as already revoked.
func (s tokenStore) Rotate(ctx context.Context, oldValue string, next *auth.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens set is_revoked = true
		where token = $1 and is_revoked = false
	`, oldValue)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		var revoked bool
		err := tx.QueryRowContext(ctx,
			`select is_revoked from refresh_tokens where token = $1`, oldValue).Scan(&revoked)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		return auth.ErrTokenRevoked
	}

	if err := insertToken(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (s tokenStore) Revoke(ctx context.Context, tokenValue string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set is_revoked = true where token = $1
	`, tokenValue)
	return err
}

func (s tokenStore) RevokeAll(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set is_revoked = true
		where user_id = $1 and is_revoked = false
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s tokenStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from refresh_tokens where expires_at < $1 or is_revoked = true
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
