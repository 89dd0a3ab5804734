// conformance/harness.go
// Package conformance provides a test harness that drives the catalog service
// over real HTTP and checks the behavior clients depend on.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animeverse/catalog-go/internal/auth"
	"github.com/animeverse/catalog-go/internal/event"
	"github.com/animeverse/catalog-go/internal/media"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/server"
	"github.com/animeverse/catalog-go/internal/storage"
)

// Harness provides a running catalog service for conformance testing.
type Harness struct {
	server  *httptest.Server
	store   storage.Store
	pub     event.Publisher
	tempDir string
	client  *http.Client

	adminToken string
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// PostgresDSN selects the Postgres store when set
	PostgresDSN string

	// UseSQLite selects a SQLite database in a temp directory when PostgresDSN is empty
	UseSQLite bool

	// JWTIssuer and JWTAudience are issued and expected on bearer tokens
	JWTIssuer   string
	JWTAudience string

	// MaxUploadSize is the per-file upload limit; 0 selects the media default
	MaxUploadSize int64
}

// Admin credentials seeded into every harness store.
const (
	AdminEmail    = "admin@example.com"
	AdminPassword = "admin123"
)

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	tempDir, err := os.MkdirTemp("", "catalog-conformance-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	// Initialize storage
	var store storage.Store
	switch {
	case cfg.PostgresDSN != "":
		store, err = storage.NewPostgres(cfg.PostgresDSN)
	case cfg.UseSQLite:
		store, err = storage.NewSQLite(filepath.Join(tempDir, "catalog.db"))
	default:
		store = storage.NewMemory()
	}
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	local, err := media.NewLocalStore(filepath.Join(tempDir, "uploads"), "")
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to initialize upload dir: %w", err)
	}

	pub := event.NewNoop()
	mux, err := server.NewMux(server.Options{
		Store:         store,
		Tokens:        auth.NewTokens("conformance-secret", cfg.JWTIssuer, cfg.JWTAudience, time.Hour),
		Publisher:     pub,
		Media:         local,
		Uploads:       local.Handler(),
		MaxUploadSize: cfg.MaxUploadSize,
		ReadTimeout:   30 * time.Second,
		UploadTimeout: 30 * time.Minute,
	})
	if err != nil {
		_ = os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to build mux: %w", err)
	}

	h := &Harness{
		server:  httptest.NewServer(mux),
		store:   store,
		pub:     pub,
		tempDir: tempDir,
	}
	h.client = h.server.Client()

	if err := h.seedAdmin(context.Background()); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// seedAdmin stores the admin account directly and logs in over HTTP.
func (h *Harness) seedAdmin(ctx context.Context) error {
	hash, err := auth.HashPassword(AdminPassword)
	if err != nil {
		return err
	}
	admin := model.Account{Username: "admin", Email: AdminEmail, PasswordHash: hash, Role: model.RoleAdmin}
	if err := h.store.CreateAccount(ctx, &admin); err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}
	status, body, err := h.call(http.MethodPost, "/api/auth/login",
		fmt.Sprintf(`{"email":%q,"password":%q}`, AdminEmail, AdminPassword), "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("admin login returned %d: %s", status, body.Message)
	}
	token, _ := body.Data["token"].(string)
	if token == "" {
		return fmt.Errorf("admin login returned no token")
	}
	h.adminToken = token
	return nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test server and cleans up resources.
func (h *Harness) Close() {
	h.server.Close()
	h.pub.Close()
	if c, ok := h.store.(interface{ Close() }); ok {
		c.Close()
	}
	_ = os.RemoveAll(h.tempDir)
}

// envelope is the response body every API route returns.
type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Message string                 `json:"message"`
	Error   *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

func (e envelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

// call sends a JSON request and decodes the envelope.
func (h *Harness) call(method, path, body, token string) (int, envelope, error) {
	var env envelope
	req, err := http.NewRequest(method, h.URL()+path, strings.NewReader(body))
	if err != nil {
		return 0, env, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, env, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, env, err
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &env); err != nil {
			return resp.StatusCode, env, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, env, nil
}

// mustCall is call that fails the test on transport errors.
func (h *Harness) mustCall(t *testing.T, method, path, body, token string) (int, envelope) {
	t.Helper()
	status, env, err := h.call(method, path, body, token)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return status, env
}

// register creates a user over HTTP and returns its token.
func (h *Harness) register(t *testing.T, username string) string {
	t.Helper()
	status, env := h.mustCall(t, http.MethodPost, "/api/auth/register",
		fmt.Sprintf(`{"username":%q,"email":"%s@example.com","password":"secret1"}`, username, username), "")
	if status != http.StatusCreated {
		t.Fatalf("register %s = %d %+v", username, status, env.Error)
	}
	return env.Data["token"].(string)
}

// createWork uploads a video work by reference and returns its id.
func (h *Harness) createWork(t *testing.T, title, category string) int64 {
	t.Helper()
	body := fmt.Sprintf(`{"title":%q,"description":"%s description","type":"video","category":%q,"videoUrl":"https://cdn.example.com/%d.mp4"}`,
		title, title, category, time.Now().UnixNano())
	status, env := h.mustCall(t, http.MethodPost, "/api/works", body, h.adminToken)
	if status != http.StatusCreated {
		t.Fatalf("create %q = %d %+v", title, status, env.Error)
	}
	return int64(env.Data["work"].(map[string]interface{})["id"].(float64))
}

// multipartForm writes form fields and files, keeping the first error.
type multipartForm struct {
	*multipart.Writer
	err error
}

func newMultipart(w io.Writer) *multipartForm {
	return &multipartForm{Writer: multipart.NewWriter(w)}
}

func (f *multipartForm) field(name, value string) {
	if f.err == nil {
		f.err = f.WriteField(name, value)
	}
}

func (f *multipartForm) file(field, filename, contentType string, content []byte) {
	if f.err != nil {
		return
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := f.CreatePart(h)
	if err != nil {
		f.err = err
		return
	}
	_, f.err = part.Write(content)
}

// RunConformanceTests runs all conformance tests against the catalog service.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("CatalogScenario", h.testCatalogScenario)
	t.Run("EpisodeOrdering", h.testEpisodeOrdering)
	t.Run("Uploads", h.testUploads)
	t.Run("RequestValidation", h.testRequestValidation)
	t.Run("CommentLength", h.testCommentLength)
	t.Run("Pagination", h.testPagination)
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := h.client.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

// testCatalogScenario walks the browse, view, comment and favorite flow.
func (h *Harness) testCatalogScenario(t *testing.T) {
	aot := h.createWork(t, "Attack on Titan", "Action")
	h.createWork(t, "One Piece", "Adventure")
	fan := h.register(t, "fan")

	status, env := h.mustCall(t, http.MethodGet, "/api/works?category=Action", "", "")
	works, _ := env.Data["works"].([]interface{})
	if status != http.StatusOK || len(works) != 1 {
		t.Fatalf("list category=Action = %d, %d works", status, len(works))
	}
	listed := works[0].(map[string]interface{})
	if listed["title"] != "Attack on Titan" || listed["views"].(float64) != 0 {
		t.Errorf("listed work = %+v", listed)
	}

	path := fmt.Sprintf("/api/works/%d", aot)
	for want := 1.0; want <= 2; want++ {
		_, env = h.mustCall(t, http.MethodGet, path, "", "")
		if views := env.Data["work"].(map[string]interface{})["views"].(float64); views != want {
			t.Errorf("views after fetch = %v, want %v", views, want)
		}
	}

	status, env = h.mustCall(t, http.MethodPost, path+"/comments", `{"text":"Great show!"}`, fan)
	if status != http.StatusCreated {
		t.Fatalf("comment = %d %+v", status, env.Error)
	}
	comment := env.Data["comment"].(map[string]interface{})
	if comment["text"] != "Great show!" || comment["user"].(map[string]interface{})["username"] != "fan" {
		t.Errorf("comment = %+v", comment)
	}

	for _, want := range []bool{true, false} {
		status, env = h.mustCall(t, http.MethodPost, path+"/favorite", "", fan)
		if status != http.StatusOK || env.Data["isFavorited"] != want {
			t.Errorf("toggle favorite = %d %+v, want isFavorited=%v", status, env.Data, want)
		}
		_, env = h.mustCall(t, http.MethodGet, fmt.Sprintf("/api/favorites/%d/status", aot), "", fan)
		if env.Data["isFavorited"] != want {
			t.Errorf("favorite status = %+v, want %v", env.Data, want)
		}
	}

	status, env = h.mustCall(t, http.MethodGet, "/api/admin/stats", "", h.adminToken)
	if status != http.StatusOK {
		t.Fatalf("stats = %d %+v", status, env.Error)
	}
	overview := env.Data["overview"].(map[string]interface{})
	if overview["totalViews"].(float64) < 2 || overview["totalVideos"].(float64) < 2 {
		t.Errorf("overview = %+v", overview)
	}
}

// testEpisodeOrdering checks that episodes list by number whatever the insert order.
func (h *Harness) testEpisodeOrdering(t *testing.T) {
	id := h.createWork(t, "Death Note", "Thriller")
	path := fmt.Sprintf("/api/works/%d/episodes", id)
	for _, n := range []int{3, 1, 2} {
		body := fmt.Sprintf(`{"title":"Episode %d","episodeNumber":%d,"type":"video","videoUrl":"https://cdn.example.com/dn-%d.mp4"}`, n, n, n)
		if status, env := h.mustCall(t, http.MethodPost, path, body, h.adminToken); status != http.StatusCreated {
			t.Fatalf("create episode %d = %d %+v", n, status, env.Error)
		}
	}
	_, env := h.mustCall(t, http.MethodGet, path, "", "")
	episodes := env.Data["episodes"].([]interface{})
	if len(episodes) != 3 {
		t.Fatalf("episodes = %d, want 3", len(episodes))
	}
	for i, raw := range episodes {
		if n := raw.(map[string]interface{})["episodeNumber"].(float64); int(n) != i+1 {
			t.Errorf("episode[%d] number = %v", i, n)
		}
	}

}

// testUploads sends a multipart novel with a pdf and checks the file is served back.
func (h *Harness) testUploads(t *testing.T) {
	var buf bytes.Buffer
	mw := newMultipart(&buf)
	mw.field("title", "Spice and Wolf")
	mw.field("description", "A merchant travels with a wolf deity")
	mw.field("type", "novel")
	mw.field("category", "Fantasy")
	mw.file("pdf", "vol1.pdf", "application/pdf", []byte("%PDF-1.4 conformance"))
	if mw.err != nil {
		t.Fatal(mw.err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, h.URL()+"/api/works", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.adminToken)
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var env envelope
	err = json.NewDecoder(resp.Body).Decode(&env)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("multipart upload = %d %v %+v", resp.StatusCode, err, env.Error)
	}

	work := env.Data["work"].(map[string]interface{})
	pdfURL, _ := work["pdfUrl"].(string)
	if work["type"] != "novel" || !strings.HasPrefix(pdfURL, "/uploads/") || work["videoUrl"] != nil {
		t.Fatalf("uploaded work = %+v", work)
	}

	resp, err = h.client.Get(h.URL() + pdfURL)
	if err != nil {
		t.Fatal(err)
	}
	served, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(served) != "%PDF-1.4 conformance" {
		t.Errorf("GET %s = %d %q", pdfURL, resp.StatusCode, served)
	}
}

// testRequestValidation checks the error codes of malformed and unauthorized requests.
func (h *Harness) testRequestValidation(t *testing.T) {
	user := h.register(t, "validator")
	tests := []struct {
		name, method, path, body, token string
		status                          int
		code                            string
	}{
		{"short password", http.MethodPost, "/api/auth/register", `{"username":"shorty","email":"shorty@example.com","password":"123"}`, "", http.StatusBadRequest, "CAT_VALIDATION"},
		{"duplicate email", http.MethodPost, "/api/auth/register", `{"username":"other","email":"validator@example.com","password":"secret1"}`, "", http.StatusConflict, "CAT_CONFLICT"},
		{"missing token", http.MethodGet, "/api/favorites", "", "", http.StatusUnauthorized, "CAT_AUTHN"},
		{"garbage token", http.MethodGet, "/api/favorites", "", "not-a-jwt", http.StatusUnauthorized, "CAT_TOKEN_INVALID"},
		{"non-admin upload", http.MethodPost, "/api/works", `{"title":"x","description":"y","type":"video","category":"z","videoUrl":"https://cdn.example.com/x.mp4"}`, user, http.StatusForbidden, "CAT_AUTHZ"},
		{"missing media", http.MethodPost, "/api/works", `{"title":"x","description":"y","type":"novel","category":"z"}`, h.adminToken, http.StatusBadRequest, "CAT_VALIDATION"},
		{"bad kind", http.MethodPost, "/api/works", `{"title":"x","description":"y","type":"audio","category":"z"}`, h.adminToken, http.StatusBadRequest, "CAT_VALIDATION"},
		{"unknown work", http.MethodGet, "/api/works/424242", "", "", http.StatusNotFound, "CAT_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := h.mustCall(t, tt.method, tt.path, tt.body, tt.token)
			if status != tt.status || env.code() != tt.code {
				t.Errorf("%s %s = %d %q, want %d %q", tt.method, tt.path, status, env.code(), tt.status, tt.code)
			}
			if env.Success || env.Error == nil || env.Error.CorrelationID == "" {
				t.Errorf("error envelope = %+v", env)
			}
		})
	}
}

// testCommentLength checks the 1000 character comment limit.
func (h *Harness) testCommentLength(t *testing.T) {
	id := h.createWork(t, "Mushishi", "Mystery")
	user := h.register(t, "critic")
	path := fmt.Sprintf("/api/works/%d/comments", id)

	for _, tt := range []struct {
		length int
		status int
	}{
		{1000, http.StatusCreated},
		{1001, http.StatusBadRequest},
	} {
		body := fmt.Sprintf(`{"text":%q}`, strings.Repeat("a", tt.length))
		if status, env := h.mustCall(t, http.MethodPost, path, body, user); status != tt.status {
			t.Errorf("comment of %d chars = %d %+v, want %d", tt.length, status, env.Error, tt.status)
		}
	}
	if status, _ := h.mustCall(t, http.MethodPost, path, `{"text":"   "}`, user); status != http.StatusBadRequest {
		t.Errorf("blank comment = %d, want 400", status)
	}
}

// testPagination checks page metadata and slicing on a filtered listing.
func (h *Harness) testPagination(t *testing.T) {
	for i := 0; i < 12; i++ {
		h.createWork(t, fmt.Sprintf("Short %02d", i), "Pager")
	}

	status, env := h.mustCall(t, http.MethodGet, "/api/works?category=Pager&limit=5&page=3", "", "")
	if status != http.StatusOK {
		t.Fatalf("page 3 = %d", status)
	}
	works := env.Data["works"].([]interface{})
	p := env.Data["pagination"].(map[string]interface{})
	if len(works) != 2 || p["totalItems"].(float64) != 12 || p["totalPages"].(float64) != 3 || p["currentPage"].(float64) != 3 {
		t.Errorf("page 3 = %d works, pagination %+v", len(works), p)
	}
	// Newest first: the last page holds the two oldest.
	if title := works[1].(map[string]interface{})["title"]; title != "Short 00" {
		t.Errorf("last item = %v, want Short 00", title)
	}

	_, env = h.mustCall(t, http.MethodGet, "/api/works?category=Pager&limit=500", "", "")
	if p := env.Data["pagination"].(map[string]interface{}); p["itemsPerPage"].(float64) != model.MaxPageSize {
		t.Errorf("clamped page size = %v, want %d", p["itemsPerPage"], model.MaxPageSize)
	}

	_, env = h.mustCall(t, http.MethodGet, "/api/works/search?query=short&limit=4", "", "")
	if p := env.Data["pagination"].(map[string]interface{}); p["totalItems"].(float64) != 12 || p["totalPages"].(float64) != 3 {
		t.Errorf("search pagination = %+v", p)
	}
}

// RunAcceptanceTests checks the route table and access levels.
func (h *Harness) RunAcceptanceTests(t *testing.T) {
	t.Run("PublicRoutes", h.testPublicRoutes)
	t.Run("MemberRoutes", h.testMemberRoutes)
	t.Run("AdminRoutes", h.testAdminRoutes)
}

// testPublicRoutes verifies the anonymous read routes answer 200.
func (h *Harness) testPublicRoutes(t *testing.T) {
	id := h.createWork(t, "Public Route", "Slice of Life")
	endpoints := []string{
		"/api/works",
		"/api/works/search?query=public",
		fmt.Sprintf("/api/works/%d", id),
		fmt.Sprintf("/api/works/%d/episodes", id),
		fmt.Sprintf("/api/works/%d/comments", id),
	}
	for _, endpoint := range endpoints {
		if status, env := h.mustCall(t, http.MethodGet, endpoint, "", ""); status != http.StatusOK || !env.Success {
			t.Errorf("GET %s = %d", endpoint, status)
		}
	}
}

// testMemberRoutes verifies member routes reject anonymous callers and admit users.
func (h *Harness) testMemberRoutes(t *testing.T) {
	user := h.register(t, "member")
	endpoints := []string{"/api/auth/me", "/api/user/profile", "/api/user/uploads", "/api/favorites"}
	for _, endpoint := range endpoints {
		if status, _ := h.mustCall(t, http.MethodGet, endpoint, "", ""); status != http.StatusUnauthorized {
			t.Errorf("anonymous GET %s = %d, want 401", endpoint, status)
		}
		if status, _ := h.mustCall(t, http.MethodGet, endpoint, "", user); status != http.StatusOK {
			t.Errorf("member GET %s = %d, want 200", endpoint, status)
		}
	}
}

// testAdminRoutes verifies admin routes reject members.
func (h *Harness) testAdminRoutes(t *testing.T) {
	user := h.register(t, "notadmin")
	for _, endpoint := range []string{"/api/admin/users", "/api/admin/stats", "/api/admin/users/1"} {
		if status, env := h.mustCall(t, http.MethodGet, endpoint, "", user); status != http.StatusForbidden || env.code() != "CAT_AUTHZ" {
			t.Errorf("member GET %s = %d %q, want 403 CAT_AUTHZ", endpoint, status, env.code())
		}
		if status, _ := h.mustCall(t, http.MethodGet, endpoint, "", h.adminToken); status != http.StatusOK {
			t.Errorf("admin GET %s = %d, want 200", endpoint, status)
		}
	}
}
