// Package memory provides an in-memory auth.Store used by tests and
// DSN-less development runs. All state lives behind a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"halolight.org/internal/auth"
	"halolight.org/internal/ids"
)

// Store implements auth.Store over mutex-guarded maps.
type Store struct {
	mu        sync.Mutex
	users     map[string]*auth.User
	roles     map[string]*auth.Role
	perms     map[string]*auth.Permission
	userRoles map[string]map[string]struct{}
	rolePerms map[string]map[string]struct{}
	tokens    map[string]*auth.RefreshToken
	now       func() time.Time
}

var _ auth.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithNow overrides the time source (useful for tests).
func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		users:     make(map[string]*auth.User),
		roles:     make(map[string]*auth.Role),
		perms:     make(map[string]*auth.Permission),
		userRoles: make(map[string]map[string]struct{}),
		rolePerms: make(map[string]map[string]struct{}),
		tokens:    make(map[string]*auth.RefreshToken),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Users() auth.UserStore                 { return userStore{s} }
func (s *Store) Roles() auth.RoleStore                 { return roleStore{s} }
func (s *Store) Permissions() auth.PermissionStore     { return permissionStore{s} }
func (s *Store) RefreshTokens() auth.RefreshTokenStore { return tokenStore{s} }

// User store ---------------------------------------------------------------

type userStore struct{ s *Store }

func (st userStore) Create(_ context.Context, u *auth.User) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return auth.ErrConflict
		}
		if u.Phone != "" && existing.Phone == u.Phone {
			return auth.ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (st userStore) Find(_ context.Context, id string) (*auth.User, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (st userStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	return st.findBy(func(u *auth.User) bool { return u.Email == email })
}

func (st userStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	return st.findBy(func(u *auth.User) bool { return u.Username == username })
}

func (st userStore) FindByPhone(_ context.Context, phone string) (*auth.User, error) {
	return st.findBy(func(u *auth.User) bool { return u.Phone != "" && u.Phone == phone })
}

func (st userStore) findBy(match func(*auth.User) bool) (*auth.User, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (st userStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (st userStore) UpdateStatus(_ context.Context, id string, status string) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore struct{ s *Store }

func (st roleStore) Create(_ context.Context, role *auth.Role) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return auth.ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := s.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (st roleStore) FindByName(_ context.Context, name string) (*auth.Role, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (st roleStore) Assign(_ context.Context, userID, roleID string) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	set, ok := s.userRoles[userID]
	if !ok {
		set = make(map[string]struct{})
		s.userRoles[userID] = set
	}
	set[roleID] = struct{}{}
	return nil
}

func (st roleStore) NamesForUser(_ context.Context, userID string) ([]string, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for roleID := range s.userRoles[userID] {
		if role, ok := s.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (st roleStore) SetPermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	set := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := s.perms[id]; !ok {
			return auth.ErrNotFound
		}
		set[id] = struct{}{}
	}
	s.rolePerms[roleID] = set
	return nil
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ s *Store }

func (st permissionStore) Create(_ context.Context, perm *auth.Permission) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.perms {
		if existing.Action == perm.Action && existing.Resource == perm.Resource {
			return auth.ErrConflict
		}
	}
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	now := s.now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now
	cp := *perm
	s.perms[perm.ID] = &cp
	return nil
}

func (st permissionStore) List(_ context.Context) ([]auth.Permission, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, *p)
	}
	sortPermissions(out)
	return out, nil
}

func (st permissionStore) ListForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for permID := range s.rolePerms[roleID] {
		if p, ok := s.perms[permID]; ok {
			out = append(out, *p)
		}
	}
	sortPermissions(out)
	return out, nil
}

func (st permissionStore) ListForUser(_ context.Context, userID string) ([]auth.Permission, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []auth.Permission
	for roleID := range s.userRoles[userID] {
		for permID := range s.rolePerms[roleID] {
			if _, ok := seen[permID]; ok {
				continue
			}
			seen[permID] = struct{}{}
			if p, ok := s.perms[permID]; ok {
				out = append(out, *p)
			}
		}
	}
	sortPermissions(out)
	return out, nil
}

func sortPermissions(perms []auth.Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}

// Refresh token ledger -----------------------------------------------------

type tokenStore struct{ s *Store }

func (st tokenStore) Create(_ context.Context, tok *auth.RefreshToken) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTokenLocked(tok)
}

func (s *Store) insertTokenLocked(tok *auth.RefreshToken) error {
	if _, exists := s.tokens[tok.TokenValue]; exists {
		return auth.ErrConflict
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	tok.CreatedAt = s.now().UTC()
	cp := *tok
	s.tokens[tok.TokenValue] = &cp
	return nil
}

func (st tokenStore) FindActive(_ context.Context, tokenValue string) (*auth.RefreshToken, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[tokenValue]
	if !ok {
		return nil, auth.ErrTokenNotFound
	}
	if rec.IsRevoked {
		return nil, auth.ErrTokenRevoked
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, auth.ErrTokenExpired
	}
	cp := *rec
	return &cp, nil
}

func (st tokenStore) Rotate(_ context.Context, oldValue string, next *auth.RefreshToken) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[oldValue]
	if !ok {
		return auth.ErrTokenNotFound
	}
	if rec.IsRevoked {
		return auth.ErrTokenRevoked
	}
	if !rec.ExpiresAt.After(s.now()) {
		return auth.ErrTokenExpired
	}
	if err := s.insertTokenLocked(next); err != nil {
		return err
	}
	rec.IsRevoked = true
	return nil
}

func (st tokenStore) Revoke(_ context.Context, tokenValue string) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.tokens[tokenValue]; ok {
		rec.IsRevoked = true
	}
	return nil
}

func (st tokenStore) RevokeAll(_ context.Context, userID string) (int64, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.tokens {
		if rec.UserID == userID && !rec.IsRevoked {
			rec.IsRevoked = true
			count++
		}
	}
	return count, nil
}

func (st tokenStore) Sweep(_ context.Context, now time.Time) (int64, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for value, rec := range s.tokens {
		if rec.IsRevoked || !rec.ExpiresAt.After(now) {
			delete(s.tokens, value)
			count++
		}
	}
	return count, nil
}
