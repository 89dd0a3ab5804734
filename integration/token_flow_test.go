// integration/token_flow_test.go
// Package integration provides integration tests for bearer tokens flowing
// through the HTTP server, the account service and the activity stream.
package integration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/animeverse/catalog-go/internal/auth"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/server"
	"github.com/animeverse/catalog-go/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret   = "integration-secret"
	testIssuer   = "catalog"
	testAudience = "catalog-web"
)

// recordingPublisher implements event.Publisher and keeps every activity it receives.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Activity
}

// PublishActivity implements event.Publisher for integration testing.
func (p *recordingPublisher) PublishActivity(ctx context.Context, a model.Activity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, a)
	return nil
}

// Close implements event.Publisher for integration testing.
func (p *recordingPublisher) Close() error {
	return nil
}

func (p *recordingPublisher) types() []model.ActivityType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ActivityType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	t     *testing.T
	mux   http.Handler
	store storage.Store
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	pub := &recordingPublisher{}
	mux, err := server.NewMux(server.Options{
		Store:     store,
		Tokens:    auth.NewTokens(testSecret, testIssuer, testAudience, time.Hour),
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("failed to build mux: %v", err)
	}
	return &fixture{t: t, mux: mux, store: store, pub: pub}
}

// request sends a request and returns the status and decoded error code.
func (f *fixture) request(method, path, body, token string) (int, map[string]interface{}) {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	var env map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		f.t.Fatalf("decode %s %s: %v\n%s", method, path, err, rr.Body.String())
	}
	return rr.Code, env
}

func errorCode(env map[string]interface{}) string {
	e, _ := env["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

// signHS256 builds a token by hand so claims can be bent in ways Issue never does.
func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign JWT: %v", err)
	}
	return signed
}

func baseClaims(accountID int64) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":  testIssuer,
		"aud":  testAudience,
		"sub":  strconv.FormatInt(accountID, 10),
		"role": "user",
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	}
}

// TestTokenValidation checks how the profile route answers hand-built tokens.
func TestTokenValidation(t *testing.T) {
	f := newFixture(t)
	status, env := f.request(http.MethodPost, "/api/auth/register",
		`{"username":"viewer","email":"viewer@example.com","password":"secret1"}`, "")
	if status != http.StatusCreated {
		t.Fatalf("register = %d %v", status, env)
	}
	user := env["data"].(map[string]interface{})["user"].(map[string]interface{})
	id := int64(user["id"].(float64))

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	edToken, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, baseClaims(id)).SignedString(edKey)
	if err != nil {
		t.Fatalf("failed to sign EdDSA token: %v", err)
	}
	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims(id)).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	with := func(key string, value interface{}) jwt.MapClaims {
		c := baseClaims(id)
		c[key] = value
		return c
	}
	without := func(key string) jwt.MapClaims {
		c := baseClaims(id)
		delete(c, key)
		return c
	}

	tests := []struct {
		name   string
		token  string
		status int
		code   string
	}{
		{"ValidJWT", signHS256(t, testSecret, baseClaims(id)), http.StatusOK, ""},
		{"Expired", signHS256(t, testSecret, with("exp", time.Now().Add(-time.Minute).Unix())), http.StatusUnauthorized, "CAT_TOKEN_EXPIRED"},
		{"MissingExpiry", signHS256(t, testSecret, without("exp")), http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
		{"InvalidIssuer", signHS256(t, testSecret, with("iss", "someone-else")), http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
		{"InvalidAudience", signHS256(t, testSecret, with("aud", "other-app")), http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
		{"WrongSecret", signHS256(t, "not-the-secret", baseClaims(id)), http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
		{"NonNumericSubject", signHS256(t, testSecret, with("sub", "did:plc:abc")), http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
		{"UnknownAccount", signHS256(t, testSecret, with("sub", "9999")), http.StatusUnauthorized, "CAT_AUTHN"},
		{"EdDSA", edToken, http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
		{"AlgNone", noneToken, http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.request(http.MethodGet, "/api/auth/me", "", tt.token)
			if status != tt.status || errorCode(env) != tt.code {
				t.Errorf("GET /api/auth/me = %d %q, want %d %q", status, errorCode(env), tt.status, tt.code)
			}
		})
	}
}

// TestRoleClaimIsNotTrusted shows that access follows the stored role, not the token's role claim.
func TestRoleClaimIsNotTrusted(t *testing.T) {
	f := newFixture(t)
	a := model.Account{Username: "sneaky", Email: "sneaky@example.com", PasswordHash: "x", Role: model.RoleUser}
	if err := f.store.CreateAccount(context.Background(), &a); err != nil {
		t.Fatal(err)
	}

	claims := baseClaims(a.ID)
	claims["role"] = "admin"
	forged := signHS256(t, testSecret, claims)
	if status, env := f.request(http.MethodGet, "/api/admin/stats", "", forged); status != http.StatusForbidden || errorCode(env) != "CAT_AUTHZ" {
		t.Errorf("forged admin claim = %d %q, want 403 CAT_AUTHZ", status, errorCode(env))
	}

	admin := model.RoleAdmin
	if _, err := f.store.UpdateAccount(context.Background(), a.ID, model.AccountPatch{Role: &admin}); err != nil {
		t.Fatal(err)
	}
	plain := signHS256(t, testSecret, baseClaims(a.ID))
	if status, _ := f.request(http.MethodGet, "/api/admin/stats", "", plain); status != http.StatusOK {
		t.Errorf("promoted account with user claim = %d, want 200", status)
	}
}

// TestSessionLifecycle follows a token from login through account deletion.
func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("admin123")
	if err != nil {
		t.Fatal(err)
	}
	admin := model.Account{Username: "admin", Email: "admin@example.com", PasswordHash: hash, Role: model.RoleAdmin}
	if err := f.store.CreateAccount(ctx, &admin); err != nil {
		t.Fatal(err)
	}

	_, env := f.request(http.MethodPost, "/api/auth/register",
		`{"username":"shortlived","email":"ShortLived@Example.com","password":"secret1"}`, "")
	user := env["data"].(map[string]interface{})["user"].(map[string]interface{})
	if user["email"] != "shortlived@example.com" {
		t.Errorf("stored email = %v, want lowercased", user["email"])
	}
	userID := int64(user["id"].(float64))

	status, env := f.request(http.MethodPost, "/api/auth/login",
		`{"email":"shortlived@example.com","password":"secret1"}`, "")
	if status != http.StatusOK {
		t.Fatalf("login = %d %v", status, env)
	}
	userToken := env["data"].(map[string]interface{})["token"].(string)

	_, env = f.request(http.MethodPost, "/api/auth/login", `{"email":"admin@example.com","password":"admin123"}`, "")
	adminToken := env["data"].(map[string]interface{})["token"].(string)

	if status, _ := f.request(http.MethodGet, "/api/auth/me", "", userToken); status != http.StatusOK {
		t.Fatalf("me before deletion = %d", status)
	}
	if status, env := f.request(http.MethodDelete, "/api/admin/users/"+strconv.FormatInt(userID, 10), "", adminToken); status != http.StatusOK {
		t.Fatalf("delete user = %d %v", status, env)
	}
	if status, env := f.request(http.MethodGet, "/api/auth/me", "", userToken); status != http.StatusUnauthorized || errorCode(env) != "CAT_AUTHN" {
		t.Errorf("me after deletion = %d %q, want 401 CAT_AUTHN", status, errorCode(env))
	}

	want := []model.ActivityType{model.ActivityUserRegistered, model.ActivityUserLogin, model.ActivityUserLogin}
	got := f.pub.types()
	if len(got) != len(want) {
		t.Fatalf("published activity = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("activity[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
