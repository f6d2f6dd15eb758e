package auth

import "errors"

// Kind classifies a failure for the transport boundary. Translation to an
// HTTP status happens exactly once, in the httpapi package.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindConflict
	KindNotFound
	KindInvalid
	KindRateLimited
)

// Error is the tagged failure carrier used across the identity core.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// E builds a tagged error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the kind from an error chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindUnknown
}

// Shared sentinel failures. The three token states are distinct values so
// the ledger contract can report exactly why a refresh token is unusable,
// while all of them still translate to an authentication failure.
var (
	ErrInvalidToken  = &Error{Kind: KindUnauthorized, Message: "invalid token"}
	ErrTokenNotFound = &Error{Kind: KindUnauthorized, Message: "refresh token not found"}
	ErrTokenRevoked  = &Error{Kind: KindUnauthorized, Message: "refresh token has been revoked"}
	ErrTokenExpired  = &Error{Kind: KindUnauthorized, Message: "refresh token has expired"}

	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict = &Error{Kind: KindConflict, Message: "resource conflict"}
)
