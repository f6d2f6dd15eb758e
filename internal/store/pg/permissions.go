package pg

import (
	"context"
	"database/sql"

	"halolight.org/internal/auth"
	"halolight.org/internal/ids"
)

type permissionStore struct{ db *sql.DB }

const permColumns = `id, action, resource, description, created_at, updated_at`

func (s permissionStore) Create(ctx context.Context, perm *auth.Permission) error {
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (id, action, resource, description)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, perm.ID, perm.Action, perm.Resource, perm.Description)
	if err := row.Scan(&perm.CreatedAt, &perm.UpdatedAt); err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	return s.query(ctx, `
		select `+permColumns+` from permissions
		order by resource, action
	`)
}

func (s permissionStore) ListForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return s.query(ctx, `
		select p.id, p.action, p.resource, p.description, p.created_at, p.updated_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.resource, p.action
	`, roleID)
}

// ListForUser resolves the effective set with one indexed join instead of
// traversing the association graph.
func (s permissionStore) ListForUser(ctx context.Context, userID string) ([]auth.Permission, error) {
	return s.query(ctx, `
		select distinct p.id, p.action, p.resource, p.description, p.created_at, p.updated_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join user_roles ur on ur.role_id = rp.role_id
		where ur.user_id = $1
		order by p.resource, p.action
	`, userID)
}

func (s permissionStore) query(ctx context.Context, q string, args ...any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Action, &p.Resource, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
