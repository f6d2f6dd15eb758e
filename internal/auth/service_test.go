package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"halolight.org/internal/auth"
	"halolight.org/internal/store/memory"
)

func newService(t *testing.T, store *memory.Store, opts ...auth.ServiceOption) *auth.Service {
	t.Helper()
	codec := auth.NewTokenCodec("s", "halolight", 15*time.Minute, 7*24*time.Hour)
	return auth.NewService(store, codec, opts...)
}

func register(t *testing.T, svc *auth.Service) auth.Session {
	t.Helper()
	session, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "ada",
		Email:    "ada@example.com",
		Password: "correct horse",
		Name:     "Ada",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return session
}

func TestRegisterOpensSessionWithDefaultRole(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	session := register(t, svc)

	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", session)
	}
	if session.TokenType != "Bearer" {
		t.Fatalf("unexpected token type: %s", session.TokenType)
	}
	if session.ExpiresIn != (15 * time.Minute).Milliseconds() {
		t.Fatalf("unexpected expiresIn: %d", session.ExpiresIn)
	}
	if len(session.User.Roles) != 1 || session.User.Roles[0] != "USER" {
		t.Fatalf("expected default USER role, got %v", session.User.Roles)
	}

	subject, err := svc.Codec().Subject(session.AccessToken)
	if err != nil {
		t.Fatalf("Subject: %v", err)
	}
	if subject != session.User.ID {
		t.Fatalf("access token subject %s != user id %s", subject, session.User.ID)
	}
}

func TestRegisterConflicts(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	register(t, svc)
	ctx := context.Background()

	_, err := svc.Register(ctx, auth.RegisterInput{
		Username: "ada",
		Email:    "other@example.com",
		Password: "pw",
	})
	if auth.KindOf(err) != auth.KindConflict || err.Error() != "Username is already taken" {
		t.Fatalf("expected username conflict, got %v", err)
	}

	_, err = svc.Register(ctx, auth.RegisterInput{
		Username: "grace",
		Email:    "ada@example.com",
		Password: "pw",
	})
	if auth.KindOf(err) != auth.KindConflict || err.Error() != "Email is already in use" {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestLoginByEmailAndUsername(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	register(t, svc)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("login by email: %v", err)
	}
	session, err := svc.Login(ctx, "ada", "correct horse")
	if err != nil {
		t.Fatalf("login by username: %v", err)
	}
	if session.User.LastLoginAt == nil {
		t.Fatalf("expected lastLoginAt to be recorded")
	}
}

func TestLoginAcceptsRegisteredEmailSpelling(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	ctx := context.Background()

	if _, err := svc.Register(ctx, auth.RegisterInput{
		Username: "ada",
		Email:    "Ada@Example.com",
		Password: "correct horse",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// The spelling used at registration and the stored lowercase form both
	// authenticate.
	if _, err := svc.Login(ctx, "Ada@Example.com", "correct horse"); err != nil {
		t.Fatalf("login with registered spelling: %v", err)
	}
	if _, err := svc.Login(ctx, "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("login with lowercase email: %v", err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	register(t, svc)
	ctx := context.Background()

	_, errUnknown := svc.Login(ctx, "nobody@example.com", "whatever")
	_, errBadPassword := svc.Login(ctx, "ada@example.com", "wrong")

	if auth.KindOf(errUnknown) != auth.KindUnauthorized {
		t.Fatalf("unknown account: expected unauthorized, got %v", errUnknown)
	}
	if errUnknown.Error() != errBadPassword.Error() {
		t.Fatalf("failure messages differ: %q vs %q", errUnknown, errBadPassword)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	session := register(t, svc)
	ctx := context.Background()

	if err := store.Users().UpdateStatus(ctx, session.User.ID, auth.UserStatusSuspended); err != nil {
		t.Fatalf("suspend user: %v", err)
	}

	_, err := svc.Login(ctx, "ada@example.com", "correct horse")
	if auth.KindOf(err) != auth.KindUnauthorized {
		t.Fatalf("expected unauthorized for suspended account, got %v", err)
	}
}

func TestRefreshRotatesSingleUse(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	session := register(t, svc)
	ctx := context.Background()

	next, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatalf("rotation must issue a new refresh token")
	}

	// The consumed token is dead.
	_, err = svc.Refresh(ctx, session.RefreshToken)
	if !errors.Is(err, auth.ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on reuse, got %v", err)
	}

	// The replacement still works.
	if _, err := svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("replacement token should refresh: %v", err)
	}
}

func TestRefreshRejectsUnknownAndMalformed(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	register(t, svc)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, "not-a-jwt")
	if auth.KindOf(err) != auth.KindUnauthorized {
		t.Fatalf("expected unauthorized for malformed token, got %v", err)
	}

	// Well-signed but never persisted.
	stray, err := newService(t, memory.New()).Codec().IssueRefreshToken("ghost")
	if err != nil {
		t.Fatalf("issue stray token: %v", err)
	}
	_, err = svc.Refresh(ctx, stray)
	if !errors.Is(err, auth.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRefreshRejectsExpiredLedgerRecord(t *testing.T) {
	base := time.Now()
	now := base
	store := memory.New(memory.WithNow(func() time.Time { return now }))
	svc := newService(t, store, auth.WithClock(func() time.Time { return now }))
	session := register(t, svc)
	ctx := context.Background()

	now = base.Add(8 * 24 * time.Hour)
	_, err := svc.Refresh(ctx, session.RefreshToken)
	if auth.KindOf(err) != auth.KindUnauthorized {
		t.Fatalf("expected unauthorized for expired record, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	session := register(t, svc)
	ctx := context.Background()

	if err := svc.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := svc.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := svc.Logout(ctx, "unknown-token"); err != nil {
		t.Fatalf("Logout of unknown token: %v", err)
	}

	_, err := svc.Refresh(ctx, session.RefreshToken)
	if !errors.Is(err, auth.ErrTokenRevoked) {
		t.Fatalf("expected revoked after logout, got %v", err)
	}
}

func TestLogoutAllDevicesCountsRevocations(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	session := register(t, svc)
	ctx := context.Background()

	// Two more sessions for the same user.
	if _, err := svc.Login(ctx, "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, "ada@example.com", "correct horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	count, err := svc.LogoutAllDevices(ctx, session.User.ID)
	if err != nil {
		t.Fatalf("LogoutAllDevices: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revocations, got %d", count)
	}

	count, err = svc.LogoutAllDevices(ctx, session.User.ID)
	if err != nil {
		t.Fatalf("LogoutAllDevices: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 on second pass, got %d", count)
	}
}

func TestSweepRemovesDeadTokens(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	session := register(t, svc)
	ctx := context.Background()

	if err := svc.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	n, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept row, got %d", n)
	}
}

func TestResetPasswordValidation(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()

	err := svc.ResetPassword(ctx, "some-token", "   ")
	if auth.KindOf(err) != auth.KindInvalid {
		t.Fatalf("expected invalid kind for blank password, got %v", err)
	}
	if err := svc.ResetPassword(ctx, "some-token", "new password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if err := svc.InitiatePasswordReset(ctx, "whoever@example.com"); err != nil {
		t.Fatalf("InitiatePasswordReset must not leak existence: %v", err)
	}
}
