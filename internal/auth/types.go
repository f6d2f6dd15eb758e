package auth

import "time"

// User statuses. Only active users may authenticate or refresh.
const (
	UserStatusActive    = "ACTIVE"
	UserStatusInactive  = "INACTIVE"
	UserStatusSuspended = "SUSPENDED"
)

// User is an identity record. Email and username are unique; phone is
// unique when present.
type User struct {
	ID           string
	Email        string
	Phone        string
	Username     string
	PasswordHash string
	Name         string
	Avatar       string
	Status       string
	Department   string
	Position     string
	Bio          string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is a named access tier grouping permissions.
type Role struct {
	ID          string
	Name        string
	Label       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an (action, resource) capability; either side may be the
// literal wildcard "*".
type Permission struct {
	ID          string
	Action      string
	Resource    string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RefreshToken is a persisted refresh credential. TokenValue is globally
// unique; a user may hold several non-revoked rows at once.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenValue string
	ExpiresAt  time.Time
	IsRevoked  bool
	CreatedAt  time.Time
}

// UserSummary is the user shape embedded in session responses.
type UserSummary struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	Username    string     `json:"username"`
	Name        string     `json:"name"`
	Avatar      string     `json:"avatar,omitempty"`
	Status      string     `json:"status"`
	Department  string     `json:"department,omitempty"`
	Position    string     `json:"position,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	Roles       []string   `json:"roles"`
}

// Session is the bundle returned by every session-producing operation.
type Session struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         UserSummary `json:"user"`
}
