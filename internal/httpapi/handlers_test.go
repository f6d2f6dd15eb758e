package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"halolight.org/internal/auth"
	"halolight.org/internal/ratelimit"
	"halolight.org/internal/store/memory"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T, limiter ratelimit.Limiter) (*apiClient, *memory.Store) {
	t.Helper()

	store := memory.New()
	codec := auth.NewTokenCodec("test-secret", "halolight", 15*time.Minute, 7*24*time.Hour)
	sessions := auth.NewService(store, codec)
	resolver := auth.NewResolver(store)

	api := New(sessions, resolver, store, limiter, ReadyProbe{}, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}, store
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, nil, headers)
}

func decodeEnvelope(t *testing.T, r *http.Response) apiResponse {
	t.Helper()
	defer r.Body.Close()
	var v apiResponse
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func registerUser(t *testing.T, api *apiClient, username, email string) auth.Session {
	t.Helper()
	resp := api.post("/v1/auth/register", map[string]any{
		"username": username,
		"email":    email,
		"password": "correct horse",
		"name":     "Test User",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if !env.Success {
		t.Fatalf("register envelope not successful: %+v", env)
	}
	raw, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("re-marshal session: %v", err)
	}
	var session auth.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("incomplete session: %+v", session)
	}
	return session
}

// grantAdmin wires a wildcard permission to the user through a fresh role.
func grantAdmin(t *testing.T, store *memory.Store, userID string) {
	t.Helper()
	ctx := context.Background()
	role := &auth.Role{Name: "ADMIN", Label: "Administrator"}
	if err := store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	perm := &auth.Permission{Action: "*", Resource: "*"}
	if err := store.Permissions().Create(ctx, perm); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := store.Roles().SetPermissions(ctx, role.ID, []string{perm.ID}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	if err := store.Roles().Assign(ctx, userID, role.ID); err != nil {
		t.Fatalf("assign role: %v", err)
	}
}

func TestAuthSessionFlow(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	session := registerUser(t, api, "ada", "ada@example.com")

	// Login with the email.
	resp := api.post("/v1/auth/login", map[string]any{
		"usernameOrEmail": "ada@example.com",
		"password":        "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if !env.Success || env.Message != "Login successful" {
		t.Fatalf("unexpected login envelope: %+v", env)
	}

	// Whoami with the bearer token.
	resp = api.get("/v1/auth/me", bearerHeader(session.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %d", resp.StatusCode)
	}
	me := decodeEnvelope(t, resp)
	user := me.Data.(map[string]any)
	if user["username"] != "ada" {
		t.Fatalf("unexpected identity: %v", user)
	}

	// Refresh rotates the token.
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": session.RefreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: %d", resp.StatusCode)
	}
	rotated := decodeEnvelope(t, resp)
	newRefresh := rotated.Data.(map[string]any)["refreshToken"].(string)
	if newRefresh == session.RefreshToken {
		t.Fatalf("refresh must rotate the token")
	}

	// Reusing the consumed token is an authentication failure.
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": session.RefreshToken}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused token status: %d", resp.StatusCode)
	}
	reuse := decodeEnvelope(t, resp)
	if reuse.Success {
		t.Fatalf("reuse must not succeed")
	}

	// Logout, then the rotated token dies too.
	resp = api.post("/v1/auth/logout", map[string]any{"refreshToken": newRefresh}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": newRefresh}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterConflictEnvelope(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	registerUser(t, api, "ada", "ada@example.com")

	resp := api.post("/v1/auth/register", map[string]any{
		"username": "ada",
		"email":    "other@example.com",
		"password": "pw",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Success || env.Message != "Username is already taken" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestLoginFailureIsOpaque(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	registerUser(t, api, "ada", "ada@example.com")

	unknown := api.post("/v1/auth/login", map[string]any{
		"usernameOrEmail": "nobody@example.com",
		"password":        "x",
	}, nil)
	wrongPassword := api.post("/v1/auth/login", map[string]any{
		"usernameOrEmail": "ada@example.com",
		"password":        "x",
	}, nil)

	if unknown.StatusCode != http.StatusUnauthorized || wrongPassword.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", unknown.StatusCode, wrongPassword.StatusCode)
	}
	a := decodeEnvelope(t, unknown)
	b := decodeEnvelope(t, wrongPassword)
	if a.Message != b.Message {
		t.Fatalf("failure messages differ: %q vs %q", a.Message, b.Message)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	api, _ := newTestAPI(t, nil)

	resp := api.get("/v1/auth/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Success || env.Message == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestPermissionCheckEndpoint(t *testing.T) {
	api, store := newTestAPI(t, nil)
	admin := registerUser(t, api, "root", "root@example.com")
	grantAdmin(t, store, admin.User.ID)
	plain := registerUser(t, api, "ada", "ada@example.com")

	resp := api.post("/v1/permissions/check", map[string]any{
		"action":   "delete",
		"resource": "documents",
	}, bearerHeader(admin.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status: %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if allowed := env.Data.(map[string]any)["allowed"]; allowed != true {
		t.Fatalf("admin wildcard should allow, got %v", allowed)
	}

	resp = api.post("/v1/permissions/check", map[string]any{
		"action":   "delete",
		"resource": "documents",
	}, bearerHeader(plain.AccessToken))
	env = decodeEnvelope(t, resp)
	if allowed := env.Data.(map[string]any)["allowed"]; allowed != false {
		t.Fatalf("plain user should be denied, got %v", allowed)
	}
}

func TestRoleManagementRequiresGrant(t *testing.T) {
	api, store := newTestAPI(t, nil)
	admin := registerUser(t, api, "root", "root@example.com")
	grantAdmin(t, store, admin.User.ID)
	plain := registerUser(t, api, "ada", "ada@example.com")

	body := map[string]any{"name": "EDITOR", "label": "Editor"}

	resp := api.post("/v1/roles", body, bearerHeader(plain.AccessToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for plain user, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/roles", body, bearerHeader(admin.AccessToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for admin, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if !env.Success {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestUserStatusSuspensionCutsSessions(t *testing.T) {
	api, store := newTestAPI(t, nil)
	admin := registerUser(t, api, "root", "root@example.com")
	grantAdmin(t, store, admin.User.ID)
	victim := registerUser(t, api, "ada", "ada@example.com")

	resp := api.do(http.MethodPut, "/v1/users/"+victim.User.ID+"/status",
		map[string]any{"status": auth.UserStatusSuspended}, bearerHeader(admin.AccessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status update: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/auth/refresh", map[string]any{"refreshToken": victim.RefreshToken}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("suspended user refresh: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/auth/login", map[string]any{
		"usernameOrEmail": "ada@example.com",
		"password":        "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("suspended user login: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemory(ratelimit.Limits{
		DefaultCapacity: 100,
		AuthCapacity:    3,
		Window:          time.Minute,
	})
	t.Cleanup(limiter.Close)
	api, _ := newTestAPI(t, limiter)

	body := map[string]any{"usernameOrEmail": "nobody", "password": "x"}
	for i := 0; i < 3; i++ {
		resp := api.post("/v1/auth/login", body, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := api.post("/v1/auth/login", body, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Success || env.Message == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if resp.Header.Get("Retry-After") != "" {
		t.Fatalf("no Retry-After header expected")
	}

	// Non-auth traffic from the same client is still served.
	health := api.get("/healthz", nil)
	if health.StatusCode != http.StatusOK {
		t.Fatalf("healthz should bypass the exhausted auth bucket, got %d", health.StatusCode)
	}
	health.Body.Close()
}
