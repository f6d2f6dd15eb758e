package httpapi

import (
	"net/http"
	"strings"

	"halolight.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/register",
	"/v1/auth/refresh",
	"/v1/auth/forgot-password",
	"/v1/auth/reset-password",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}

		codec := a.sessions.Codec()
		claims, err := codec.Claims(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		if t, _ := claims["type"].(string); t != auth.TokenTypeAccess {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, _ := claims["userId"].(string)
		if userID == "" {
			userID, _ = claims["sub"].(string)
		}
		email, _ := claims["email"].(string)

		ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{UserID: userID, Email: email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission guards an admin endpoint with a resolver check.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, action, resource string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return false
	}
	allowed, err := a.resolver.HasPermission(r.Context(), principal.UserID, action, resource)
	if err != nil {
		handleAuthError(w, r, err)
		return false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
