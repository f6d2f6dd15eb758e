package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"halolight.org/internal/auth"
	"halolight.org/internal/ids"
)

type userStore struct{ db *sql.DB }

const userColumns = `id, email, phone, username, password_hash, name, avatar, status, department, position, bio, last_login_at, created_at, updated_at`

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, phone, username, password_hash, name, avatar, status, department, position, bio)
		values ($1, $2, nullif($3,''), $4, $5, $6, $7, $8, $9, $10, $11)
		returning created_at, updated_at
	`, u.ID, u.Email, u.Phone, u.Username, u.PasswordHash, u.Name, u.Avatar, u.Status, u.Department, u.Position, u.Bio)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.findWhere(ctx, `id = $1`, id)
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findWhere(ctx, `email = $1`, email)
}

func (s userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findWhere(ctx, `username = $1`, username)
}

func (s userStore) FindByPhone(ctx context.Context, phone string) (*auth.User, error) {
	return s.findWhere(ctx, `phone = $1`, phone)
}

func (s userStore) findWhere(ctx context.Context, where string, arg any) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where `+where, arg)
	var (
		u         auth.User
		phone     sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &phone, &u.Username, &u.PasswordHash, &u.Name, &u.Avatar,
		&u.Status, &u.Department, &u.Position, &u.Bio, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if phone.Valid {
		u.Phone = phone.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s userStore) UpdateStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status = $2, updated_at = now() where id = $1`, id, status)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at = $2, updated_at = now() where id = $1`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
