package auth

import (
	"context"
	"strings"
	"time"
)

// Default role assigned on registration, created on demand.
const (
	defaultRoleName        = "USER"
	defaultRoleLabel       = "User"
	defaultRoleDescription = "Default user role"
)

const bearerTokenType = "Bearer"

// Service implements login, registration, refresh and logout by composing
// the token codec, the refresh-token ledger and the user directory.
type Service struct {
	store Store
	codec *TokenCodec
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the session orchestrator.
func NewService(store Store, codec *TokenCodec, opts ...ServiceOption) *Service {
	svc := &Service{
		store: store,
		codec: codec,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Codec exposes the token codec for transport-level validation.
func (s *Service) Codec() *TokenCodec { return s.codec }

// RegisterInput carries the registration payload.
type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	Name       string
	Phone      string
	Department string
	Position   string
}

// Login authenticates by email, falling back to username. The failure
// message is identical whether the account is missing or the password is
// wrong, so responses carry no user-enumeration signal.
func (s *Service) Login(ctx context.Context, usernameOrEmail, password string) (Session, error) {
	usernameOrEmail = strings.TrimSpace(usernameOrEmail)
	if usernameOrEmail == "" || password == "" {
		return Session{}, E(KindUnauthorized, "Invalid username/email or password")
	}

	// Emails are stored lowercased, so the email candidate is lowered the
	// same way; the username fallback keeps the caller's spelling.
	users := s.store.Users()
	user, err := users.FindByEmail(ctx, strings.ToLower(usernameOrEmail))
	if err != nil {
		if KindOf(err) != KindNotFound {
			return Session{}, err
		}
		user, err = users.FindByUsername(ctx, usernameOrEmail)
		if err != nil {
			if KindOf(err) != KindNotFound {
				return Session{}, err
			}
			return Session{}, E(KindUnauthorized, "Invalid username/email or password")
		}
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, E(KindUnauthorized, "Invalid username/email or password")
	}
	if user.Status != UserStatusActive {
		return Session{}, E(KindUnauthorized, "Account is not active. Please contact support.")
	}

	loginAt := s.now().UTC()
	if err := users.UpdateLastLogin(ctx, user.ID, loginAt); err != nil {
		return Session{}, err
	}
	user.LastLoginAt = &loginAt

	return s.mintSession(ctx, user)
}

// Register creates an active user, assigns the default role and opens a
// session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return Session{}, E(KindInvalid, "Username, email and password are required")
	}

	users := s.store.Users()
	if err := s.ensureAvailable(ctx, users.FindByUsername, in.Username, "Username is already taken"); err != nil {
		return Session{}, err
	}
	if err := s.ensureAvailable(ctx, users.FindByEmail, in.Email, "Email is already in use"); err != nil {
		return Session{}, err
	}
	if in.Phone != "" {
		if err := s.ensureAvailable(ctx, users.FindByPhone, in.Phone, "Phone number is already in use"); err != nil {
			return Session{}, err
		}
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	user := &User{
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Name:         in.Name,
		Department:   in.Department,
		Position:     in.Position,
		Status:       UserStatusActive,
	}
	if err := users.Create(ctx, user); err != nil {
		return Session{}, err
	}

	role, err := s.ensureDefaultRole(ctx)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.Roles().Assign(ctx, user.ID, role.ID); err != nil {
		return Session{}, err
	}

	return s.mintSession(ctx, user)
}

// Refresh runs the rotation protocol: verify the token's signature, look
// it up in the ledger, atomically revoke-and-replace it, and mint a new
// access token. Each refresh token is strictly single-use.
func (s *Service) Refresh(ctx context.Context, refreshTokenValue string) (Session, error) {
	if !s.codec.Validate(refreshTokenValue) {
		return Session{}, E(KindUnauthorized, "Invalid refresh token")
	}

	ledger := s.store.RefreshTokens()
	record, err := ledger.FindActive(ctx, refreshTokenValue)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.Users().Find(ctx, record.UserID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return Session{}, E(KindNotFound, "User not found")
		}
		return Session{}, err
	}
	if user.Status != UserStatusActive {
		return Session{}, E(KindUnauthorized, "Account is not active")
	}

	next, nextValue, err := s.newRefreshRecord(user.ID)
	if err != nil {
		return Session{}, err
	}
	if err := ledger.Rotate(ctx, refreshTokenValue, next); err != nil {
		return Session{}, err
	}

	accessToken, err := s.codec.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return Session{}, err
	}
	summary, err := s.summarize(ctx, user)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  accessToken,
		RefreshToken: nextValue,
		TokenType:    bearerTokenType,
		ExpiresIn:    s.codec.AccessTTL().Milliseconds(),
		User:         summary,
	}, nil
}

// Logout revokes the matching ledger record. Unknown tokens are ignored so
// the operation is idempotent.
func (s *Service) Logout(ctx context.Context, refreshTokenValue string) error {
	return s.store.RefreshTokens().Revoke(ctx, refreshTokenValue)
}

// LogoutAllDevices revokes every active refresh token for the user and
// returns the number affected.
func (s *Service) LogoutAllDevices(ctx context.Context, userID string) (int64, error) {
	return s.store.RefreshTokens().RevokeAll(ctx, userID)
}

// InitiatePasswordReset acknowledges the request without revealing whether
// the email exists. Delivery is out of scope.
func (s *Service) InitiatePasswordReset(ctx context.Context, email string) error {
	_, _ = s.store.Users().FindByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	return nil
}

// ResetPassword validates the request shape only. Reset-token storage is
// stubbed; the request is acknowledged without changing anything.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return E(KindInvalid, "New password cannot be blank")
	}
	return nil
}

// CurrentUser returns the summary for an authenticated principal.
func (s *Service) CurrentUser(ctx context.Context, userID string) (UserSummary, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return UserSummary{}, err
	}
	return s.summarize(ctx, user)
}

// Sweep deletes refresh-token rows that are expired or already revoked.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens().Sweep(ctx, s.now().UTC())
}

func (s *Service) ensureAvailable(ctx context.Context, find func(context.Context, string) (*User, error), value, conflictMsg string) error {
	_, err := find(ctx, value)
	if err == nil {
		return E(KindConflict, conflictMsg)
	}
	if KindOf(err) != KindNotFound {
		return err
	}
	return nil
}

func (s *Service) ensureDefaultRole(ctx context.Context) (*Role, error) {
	roles := s.store.Roles()
	role, err := roles.FindByName(ctx, defaultRoleName)
	if err == nil {
		return role, nil
	}
	if KindOf(err) != KindNotFound {
		return nil, err
	}
	role = &Role{
		Name:        defaultRoleName,
		Label:       defaultRoleLabel,
		Description: defaultRoleDescription,
	}
	if err := roles.Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Service) mintSession(ctx context.Context, user *User) (Session, error) {
	accessToken, err := s.codec.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return Session{}, err
	}
	record, refreshValue, err := s.newRefreshRecord(user.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, record); err != nil {
		return Session{}, err
	}
	summary, err := s.summarize(ctx, user)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		TokenType:    bearerTokenType,
		ExpiresIn:    s.codec.AccessTTL().Milliseconds(),
		User:         summary,
	}, nil
}

func (s *Service) newRefreshRecord(userID string) (*RefreshToken, string, error) {
	value, err := s.codec.IssueRefreshToken(userID)
	if err != nil {
		return nil, "", err
	}
	record := &RefreshToken{
		UserID:     userID,
		TokenValue: value,
		ExpiresAt:  s.now().UTC().Add(s.codec.RefreshTTL()),
	}
	return record, value, nil
}

func (s *Service) summarize(ctx context.Context, user *User) (UserSummary, error) {
	roles, err := s.store.Roles().NamesForUser(ctx, user.ID)
	if err != nil {
		return UserSummary{}, err
	}
	if roles == nil {
		roles = []string{}
	}
	return UserSummary{
		ID:          user.ID,
		Email:       user.Email,
		Phone:       user.Phone,
		Username:    user.Username,
		Name:        user.Name,
		Avatar:      user.Avatar,
		Status:      user.Status,
		Department:  user.Department,
		Position:    user.Position,
		LastLoginAt: user.LastLoginAt,
		Roles:       roles,
	}, nil
}
