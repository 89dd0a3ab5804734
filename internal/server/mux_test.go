// internal/server/mux_test.go
// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animeverse/catalog-go/internal/auth"
	"github.com/animeverse/catalog-go/internal/media"
	"github.com/animeverse/catalog-go/internal/model"
	"github.com/animeverse/catalog-go/internal/storage"
)

type testEnv struct {
	t         *testing.T
	mux       http.Handler
	store     storage.Store
	tokens    *auth.Tokens
	uploadDir string
}

func newTestEnv(t *testing.T, overrides ...func(*Options)) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	tokens := auth.NewTokens("test-secret", "test-issuer", "test-audience", time.Hour)
	uploadDir := t.TempDir()
	local, err := media.NewLocalStore(uploadDir, "")
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{
		Store:              store,
		Tokens:             tokens,
		Media:              local,
		Uploads:            local.Handler(),
		MaxUploadSize:      1024,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
	for _, o := range overrides {
		o(&opts)
	}
	mux, err := NewMux(opts)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{t: t, mux: mux, store: store, tokens: tokens, uploadDir: uploadDir}
}

// countFiles counts the regular files stored under dir.
func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			n++
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// account stores an account directly and returns a bearer token for it.
func (e *testEnv) account(username string, role model.Role) (model.Account, string) {
	e.t.Helper()
	a := model.Account{Username: username, Email: username + "@example.com", PasswordHash: "x", Role: role}
	if err := e.store.CreateAccount(context.Background(), &a); err != nil {
		e.t.Fatal(err)
	}
	token, err := e.tokens.Issue(a)
	if err != nil {
		e.t.Fatal(err)
	}
	return a, token
}

// response is the decoded envelope.
type response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Message string                 `json:"message"`
	Error   *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

func (e *testEnv) do(req *http.Request, token string) (*httptest.ResponseRecorder, response) {
	e.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)

	var body response
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			e.t.Fatalf("decode %s %s response: %v\n%s", req.Method, req.URL.Path, err, rr.Body.String())
		}
	}
	return rr, body
}

func (e *testEnv) json(method, path, body, token string) (*httptest.ResponseRecorder, response) {
	e.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, token)
}

type filePart struct {
	field, name, contentType string
	content                  []byte
}

func (e *testEnv) multipart(method, path string, fields map[string]string, files []filePart, token string) (*httptest.ResponseRecorder, response) {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			e.t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			e.t.Fatal(err)
		}
		if _, err := part.Write(f.content); err != nil {
			e.t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		e.t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req, token)
}

func (e *testEnv) createWork(token, title, category string) int64 {
	e.t.Helper()
	rr, body := e.json(http.MethodPost, "/api/works",
		fmt.Sprintf(`{"title":%q,"description":"desc","type":"video","category":%q,"videoUrl":"https://cdn.example.com/%d.mp4"}`,
			title, category, time.Now().UnixNano()), token)
	if rr.Code != http.StatusCreated {
		e.t.Fatalf("create work %q: status %d, body %s", title, rr.Code, rr.Body.String())
	}
	return int64(body.Data["work"].(map[string]interface{})["id"].(float64))
}

func TestHealthzEndpoint(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr, _ := env.do(httptest.NewRequest(http.MethodGet, path, nil), "")
		if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
			t.Errorf("%s = %d %q, want 200 ok", path, rr.Code, rr.Body.String())
		}
	}
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.json(http.MethodPost, "/api/auth/register",
		`{"username":"reader","email":"reader@example.com","password":"secret1"}`, "")
	if rr.Code != http.StatusCreated || !body.Success {
		t.Fatalf("register = %d %s", rr.Code, rr.Body.String())
	}
	if body.Data["token"] == "" || body.Data["user"].(map[string]interface{})["role"] != "user" {
		t.Errorf("register data = %+v", body.Data)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Error("register response leaks the password hash")
	}

	rr, body = env.json(http.MethodPost, "/api/auth/login", `{"email":"reader@example.com","password":"secret1"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login = %d %s", rr.Code, rr.Body.String())
	}
	token := body.Data["token"].(string)

	rr, body = env.do(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), token)
	if rr.Code != http.StatusOK {
		t.Fatalf("me = %d %s", rr.Code, rr.Body.String())
	}
	user := body.Data["user"].(map[string]interface{})
	if user["username"] != "reader" || user["stats"] == nil {
		t.Errorf("me = %+v", user)
	}

	rr, body = env.json(http.MethodPost, "/api/auth/login", `{"email":"reader@example.com","password":"nope"}`, "")
	if rr.Code != http.StatusUnauthorized || body.Error.Code != "CAT_AUTHN" {
		t.Errorf("bad login = %d %+v", rr.Code, body.Error)
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name, body string
		status     int
		code       string
	}{
		{"invalid JSON", `{"username":`, http.StatusBadRequest, "CAT_BAD_REQUEST"},
		{"short password", `{"username":"reader","email":"r@example.com","password":"123"}`, http.StatusBadRequest, "CAT_VALIDATION"},
		{"bad username", `{"username":"a b","email":"r@example.com","password":"secret1"}`, http.StatusBadRequest, "CAT_VALIDATION"},
		{"missing email", `{"username":"reader","password":"secret1"}`, http.StatusBadRequest, "CAT_VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := env.json(http.MethodPost, "/api/auth/register", tt.body, "")
			if rr.Code != tt.status || body.Error == nil || body.Error.Code != tt.code {
				t.Errorf("register = %d %s, want %d %s", rr.Code, rr.Body.String(), tt.status, tt.code)
			}
			if body.Error != nil && body.Error.CorrelationID == "" {
				t.Error("error response missing correlation id")
			}
		})
	}

	env.json(http.MethodPost, "/api/auth/register", `{"username":"taken","email":"taken@example.com","password":"secret1"}`, "")
	rr, body := env.json(http.MethodPost, "/api/auth/register", `{"username":"taken","email":"other@example.com","password":"secret1"}`, "")
	if rr.Code != http.StatusConflict || body.Error.Code != "CAT_CONFLICT" {
		t.Errorf("duplicate register = %d %s", rr.Code, rr.Body.String())
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.account("reader", model.RoleUser)

	rr, body := env.do(httptest.NewRequest(http.MethodGet, "/api/favorites", nil), "")
	if rr.Code != http.StatusUnauthorized || body.Error.Code != "CAT_AUTHN" {
		t.Errorf("anonymous favorites = %d %+v", rr.Code, body.Error)
	}
	rr, body = env.do(httptest.NewRequest(http.MethodGet, "/api/favorites", nil), "not-a-jwt")
	if rr.Code != http.StatusUnauthorized || body.Error.Code != "CAT_TOKEN_INVALID" {
		t.Errorf("garbage token = %d %+v", rr.Code, body.Error)
	}
	rr, body = env.do(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), userToken)
	if rr.Code != http.StatusForbidden || body.Error.Code != "CAT_AUTHZ" {
		t.Errorf("user on admin route = %d %+v", rr.Code, body.Error)
	}
	rr, _ = env.json(http.MethodPost, "/api/works", `{}`, userToken)
	if rr.Code != http.StatusForbidden {
		t.Errorf("user creating work = %d, want 403", rr.Code)
	}

	// Public reads stay open.
	rr, _ = env.do(httptest.NewRequest(http.MethodGet, "/api/works", nil), "")
	if rr.Code != http.StatusOK {
		t.Errorf("anonymous list = %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rr, body := env.do(httptest.NewRequest(http.MethodPatch, "/api/works", nil), "")
	if rr.Code != http.StatusMethodNotAllowed || body.Success {
		t.Errorf("PATCH /api/works = %d %s", rr.Code, rr.Body.String())
	}
	if allow := rr.Header().Get("Allow"); allow != "GET, POST" {
		t.Errorf("Allow = %q", allow)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/works", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr, _ := env.do(req, "")
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("preflight = %d, headers %v", rr.Code, rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/works", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr, _ = env.do(req, "")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Access-Control-Allow-Origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/works", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rr, _ = env.do(req, "")
	if rr.Header().Get("X-Correlation-Id") != "corr-123" {
		t.Errorf("correlation id not echoed: %q", rr.Header().Get("X-Correlation-Id"))
	}
}

func TestCatalogScenario(t *testing.T) {
	env := newTestEnv(t)
	admin, adminToken := env.account("admin", model.RoleAdmin)
	_, userToken := env.account("fan", model.RoleUser)

	aot := env.createWork(adminToken, "Attack on Titan", "Action")
	env.createWork(adminToken, "One Piece", "Adventure")

	rr, body := env.do(httptest.NewRequest(http.MethodGet, "/api/works?category=Action", nil), "")
	works := body.Data["works"].([]interface{})
	if rr.Code != http.StatusOK || len(works) != 1 {
		t.Fatalf("list category=Action = %d %s", rr.Code, rr.Body.String())
	}
	first := works[0].(map[string]interface{})
	if first["title"] != "Attack on Titan" || first["type"] != "video" || first["views"].(float64) != 0 {
		t.Errorf("listed work = %+v", first)
	}
	if creator := first["creator"].(map[string]interface{}); creator["username"] != admin.Username {
		t.Errorf("creator = %+v", creator)
	}

	path := fmt.Sprintf("/api/works/%d", aot)
	_, body = env.do(httptest.NewRequest(http.MethodGet, path, nil), "")
	if views := body.Data["work"].(map[string]interface{})["views"].(float64); views != 1 {
		t.Errorf("views after first detail fetch = %v, want 1", views)
	}

	rr, body = env.json(http.MethodPost, path+"/comments", `{"text":"Great show!"}`, userToken)
	if rr.Code != http.StatusCreated {
		t.Fatalf("comment = %d %s", rr.Code, rr.Body.String())
	}
	comment := body.Data["comment"].(map[string]interface{})
	if comment["text"] != "Great show!" || comment["user"].(map[string]interface{})["username"] != "fan" {
		t.Errorf("comment = %+v", comment)
	}

	for i, want := range []bool{true, false} {
		rr, body = env.json(http.MethodPost, path+"/favorite", ``, userToken)
		if rr.Code != http.StatusOK || body.Data["isFavorited"] != want {
			t.Errorf("toggle %d = %d %s, want isFavorited=%v", i+1, rr.Code, rr.Body.String(), want)
		}
	}

	_, body = env.do(httptest.NewRequest(http.MethodGet, path+"/comments", nil), "")
	if p := body.Data["pagination"].(map[string]interface{}); p["totalItems"].(float64) != 1 || p["itemsPerPage"].(float64) != 20 {
		t.Errorf("comment pagination = %+v", p)
	}

	rr, _ = env.do(httptest.NewRequest(http.MethodGet, "/api/works/999", nil), "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown work = %d, want 404", rr.Code)
	}
	rr, _ = env.do(httptest.NewRequest(http.MethodGet, "/api/works/abc", nil), "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id = %d, want 400", rr.Code)
	}
}

func TestSearchOrdersByViews(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin", model.RoleAdmin)

	quiet := env.createWork(adminToken, "Naruto", "Action")
	popular := env.createWork(adminToken, "Naruto Shippuden", "Action")
	for i := 0; i < 3; i++ {
		env.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/works/%d", popular), nil), "")
	}

	_, body := env.do(httptest.NewRequest(http.MethodGet, "/api/works/search?query=NARUTO", nil), "")
	works := body.Data["works"].([]interface{})
	if len(works) != 2 {
		t.Fatalf("search = %+v", body.Data)
	}
	if id := int64(works[0].(map[string]interface{})["id"].(float64)); id != popular {
		t.Errorf("first search hit = %d, want %d (quiet %d)", id, popular, quiet)
	}
}

func TestUploadWorkWithFiles(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin", model.RoleAdmin)

	fields := map[string]string{"title": "Death Note", "description": "notebook", "type": "novel", "category": "Thriller", "rating": "8.5"}
	rr, body := env.multipart(http.MethodPost, "/api/works", fields, []filePart{
		{field: "pdf", name: "dn.pdf", contentType: "application/pdf", content: []byte("%PDF-1.4 death note")},
		{field: "thumbnail", name: "dn.png", contentType: "image/png", content: []byte("png bytes")},
	}, adminToken)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", rr.Code, rr.Body.String())
	}
	work := body.Data["work"].(map[string]interface{})
	pdfURL, _ := work["pdfUrl"].(string)
	if !strings.HasPrefix(pdfURL, "/uploads/pdf/") || !strings.HasSuffix(pdfURL, ".pdf") || work["rating"].(float64) != 8.5 {
		t.Fatalf("uploaded work = %+v", work)
	}
	if work["videoUrl"] != nil {
		t.Errorf("novel carries a videoUrl: %+v", work)
	}

	rr, _ = env.do(httptest.NewRequest(http.MethodGet, pdfURL, nil), "")
	if rr.Code != http.StatusOK || rr.Body.String() != "%PDF-1.4 death note" {
		t.Errorf("GET %s = %d %q", pdfURL, rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cross-Origin-Resource-Policy") != "cross-origin" {
		t.Error("uploads missing Cross-Origin-Resource-Policy")
	}

	// Wrong content type for the slot.
	rr, body = env.multipart(http.MethodPost, "/api/works", fields, []filePart{
		{field: "pdf", name: "dn.exe", contentType: "application/octet-stream", content: []byte("MZ")},
	}, adminToken)
	if rr.Code != http.StatusBadRequest || body.Error.Code != "CAT_MEDIA_TYPE" {
		t.Errorf("bad type = %d %s", rr.Code, rr.Body.String())
	}

	// Over the 1 KiB limit configured for the test.
	rr, body = env.multipart(http.MethodPost, "/api/works", fields, []filePart{
		{field: "pdf", name: "big.pdf", contentType: "application/pdf", content: bytes.Repeat([]byte("x"), 2048)},
	}, adminToken)
	if rr.Code != http.StatusBadRequest || body.Error.Code != "CAT_MEDIA_SIZE" {
		t.Errorf("oversize = %d %s", rr.Code, rr.Body.String())
	}

	// Media of the other kind is refused before it reaches storage.
	uploadsBefore := countFiles(t, env.uploadDir)
	video := map[string]string{"title": "Death Note", "description": "anime", "type": "video", "category": "Thriller"}
	rr, body = env.multipart(http.MethodPost, "/api/works", video, []filePart{
		{field: "thumbnail", name: "dn2.png", contentType: "image/png", content: []byte("other png")},
		{field: "video", name: "dn.mp4", contentType: "video/mp4", content: []byte("mp4 bytes")},
		{field: "pdf", name: "dn.pdf", contentType: "application/pdf", content: []byte("%PDF-1.4 stray")},
	}, adminToken)
	if rr.Code != http.StatusBadRequest || body.Error.Code != "CAT_VALIDATION" {
		t.Errorf("video with pdf = %d %s", rr.Code, rr.Body.String())
	}
	if n := countFiles(t, env.uploadDir); n != uploadsBefore {
		t.Errorf("rejected upload stored %d files", n-uploadsBefore)
	}

	// A novel without its document is rejected.
	rr, body = env.multipart(http.MethodPost, "/api/works", fields, nil, adminToken)
	if rr.Code != http.StatusBadRequest || body.Error.Code != "CAT_VALIDATION" {
		t.Errorf("missing pdf = %d %s", rr.Code, rr.Body.String())
	}
}

func TestWorkUpdateAndEpisodes(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin", model.RoleAdmin)
	id := env.createWork(adminToken, "One Piece", "Adventure")
	path := fmt.Sprintf("/api/works/%d", id)

	// Switching kind without the new kind's media fails.
	rr, body := env.json(http.MethodPut, path, `{"type":"novel"}`, adminToken)
	if rr.Code != http.StatusBadRequest || body.Error.Code != "CAT_VALIDATION" {
		t.Errorf("kind switch without pdf = %d %s", rr.Code, rr.Body.String())
	}
	rr, body = env.json(http.MethodPut, path, `{"type":"novel","pdfUrl":"https://cdn.example.com/op.pdf","title":"One Piece (novel)"}`, adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("kind switch = %d %s", rr.Code, rr.Body.String())
	}
	if w := body.Data["work"].(map[string]interface{}); w["type"] != "novel" || w["title"] != "One Piece (novel)" || w["videoUrl"] != nil {
		t.Errorf("updated work = %+v", w)
	}

	for _, n := range []int{2, 1} {
		rr, _ = env.json(http.MethodPost, path+"/episodes",
			fmt.Sprintf(`{"title":"Chapter %d","episodeNumber":%d,"type":"novel","pdfUrl":"https://cdn.example.com/%d.pdf"}`, n, n, n), adminToken)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create episode %d = %d %s", n, rr.Code, rr.Body.String())
		}
	}
	rr, _ = env.json(http.MethodPost, path+"/episodes", `{"title":"Zero","episodeNumber":0,"type":"novel","pdfUrl":"x"}`, adminToken)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("episode number 0 = %d, want 400", rr.Code)
	}

	_, body = env.do(httptest.NewRequest(http.MethodGet, path+"/episodes", nil), "")
	eps := body.Data["episodes"].([]interface{})
	if len(eps) != 2 || eps[0].(map[string]interface{})["episodeNumber"].(float64) != 1 {
		t.Fatalf("episodes = %+v", eps)
	}
	epID := int64(eps[0].(map[string]interface{})["id"].(float64))

	rr, body = env.json(http.MethodPut, fmt.Sprintf("/api/episodes/%d", epID), `{"title":"Romance Dawn"}`, adminToken)
	if rr.Code != http.StatusOK || body.Data["episode"].(map[string]interface{})["title"] != "Romance Dawn" {
		t.Errorf("update episode = %d %s", rr.Code, rr.Body.String())
	}
	rr, _ = env.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/episodes/%d", epID), nil), adminToken)
	if rr.Code != http.StatusOK {
		t.Errorf("delete episode = %d", rr.Code)
	}

	rr, _ = env.do(httptest.NewRequest(http.MethodDelete, path, nil), adminToken)
	if rr.Code != http.StatusOK {
		t.Errorf("delete work = %d", rr.Code)
	}
	rr, _ = env.do(httptest.NewRequest(http.MethodGet, path+"/episodes", nil), "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("episodes of deleted work = %d, want 404", rr.Code)
	}
}

func TestProfileAndFavorites(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin", model.RoleAdmin)
	_, userToken := env.account("fan", model.RoleUser)
	id := env.createWork(adminToken, "Attack on Titan", "Action")

	env.json(http.MethodPost, fmt.Sprintf("/api/favorites/%d", id), ``, userToken)
	_, body := env.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/favorites/%d/status", id), nil), userToken)
	if body.Data["isFavorited"] != true {
		t.Errorf("status = %+v", body.Data)
	}
	_, body = env.do(httptest.NewRequest(http.MethodGet, "/api/favorites", nil), userToken)
	if works := body.Data["works"].([]interface{}); len(works) != 1 {
		t.Errorf("favorites = %+v", body.Data)
	}

	rr, body := env.multipart(http.MethodPut, "/api/user/profile", map[string]string{"username": "superfan"}, []filePart{
		{field: "avatar", name: "me.webp", contentType: "image/webp", content: []byte("webp")},
	}, userToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("update profile = %d %s", rr.Code, rr.Body.String())
	}
	user := body.Data["user"].(map[string]interface{})
	if user["username"] != "superfan" || !strings.HasPrefix(user["avatar"].(string), "/uploads/avatar/") {
		t.Errorf("profile = %+v", user)
	}

	rr, body = env.json(http.MethodPut, "/api/user/profile", `{"username":"admin"}`, userToken)
	if rr.Code != http.StatusConflict {
		t.Errorf("taken username = %d %s", rr.Code, rr.Body.String())
	}

	_, body = env.do(httptest.NewRequest(http.MethodGet, "/api/user/uploads", nil), adminToken)
	if p := body.Data["pagination"].(map[string]interface{}); p["totalItems"].(float64) != 1 {
		t.Errorf("admin uploads = %+v", body.Data)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	admin, adminToken := env.account("admin", model.RoleAdmin)
	user, userToken := env.account("fan", model.RoleUser)
	env.createWork(adminToken, "Attack on Titan", "Action")

	_, body := env.do(httptest.NewRequest(http.MethodGet, "/api/admin/users?role=user", nil), adminToken)
	if users := body.Data["users"].([]interface{}); len(users) != 1 {
		t.Errorf("users role=user = %+v", body.Data)
	}

	_, body = env.do(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), adminToken)
	overview := body.Data["overview"].(map[string]interface{})
	if overview["totalUsers"].(float64) != 2 || overview["totalVideos"].(float64) != 1 {
		t.Errorf("overview = %+v", overview)
	}
	if top := body.Data["topWorks"].([]interface{}); len(top) != 1 {
		t.Errorf("topWorks = %+v", top)
	}

	rr, body := env.json(http.MethodPut, fmt.Sprintf("/api/admin/users/%d", user.ID), `{"role":"admin"}`, adminToken)
	if rr.Code != http.StatusOK || body.Data["user"].(map[string]interface{})["role"] != "admin" {
		t.Errorf("promote = %d %s", rr.Code, rr.Body.String())
	}
	// The existing token now reaches admin routes.
	rr, _ = env.do(httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil), userToken)
	if rr.Code != http.StatusOK {
		t.Errorf("promoted token on admin route = %d", rr.Code)
	}

	rr, body = env.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", admin.ID), nil), adminToken)
	if rr.Code != http.StatusBadRequest || body.Error.Code != "CAT_VALIDATION" {
		t.Errorf("self delete = %d %s", rr.Code, rr.Body.String())
	}
	rr, _ = env.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", user.ID), nil), adminToken)
	if rr.Code != http.StatusOK {
		t.Errorf("delete user = %d", rr.Code)
	}
	rr, body = env.do(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), userToken)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("deleted account token = %d %s", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(httptest.NewRequest(http.MethodGet, "/api/works", nil), "")

	rr := httptest.NewRecorder()
	env.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `http_requests_total{method="GET",route="/api/works"`) {
		t.Error("metrics missing http_requests_total for /api/works")
	}
}

func TestSlowUploadOutlivesReadTimeout(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.ReadTimeout = 100 * time.Millisecond
		o.UploadTimeout = 10 * time.Second
	})
	_, adminToken := env.account("admin", model.RoleAdmin)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"title": "Mushishi", "description": "slow link", "type": "video", "category": "Drama"} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="video"; filename="ep1.mp4"`)
	h.Set("Content-Type", "video/mp4")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(bytes.Repeat([]byte("v"), 600)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	// Trickle the form well past the read timeout.
	pr, pw := io.Pipe()
	go func() {
		body := buf.Bytes()
		for len(body) > 0 {
			n := min(64, len(body))
			if _, err := pw.Write(body[:n]); err != nil {
				return
			}
			body = body[n:]
			time.Sleep(40 * time.Millisecond)
		}
		pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/works", pr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("slow upload = %d %s", resp.StatusCode, raw)
	}
}

func TestStalledBodyTimesOut(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.ReadTimeout = 100 * time.Millisecond
	})
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Promise a body and never finish it.
	fmt.Fprint(conn, "POST /api/auth/register HTTP/1.1\r\nHost: catalog\r\n"+
		"Content-Type: application/json\r\nContent-Length: 200\r\n\r\n{\"username\":")
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusRequestTimeout || body.Error == nil || body.Error.Code != "CAT_TIMEOUT" {
		t.Errorf("stalled body = %d %+v, want 408 CAT_TIMEOUT", resp.StatusCode, body.Error)
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin", model.RoleAdmin)

	rr, _ := env.do(httptest.NewRequest(http.MethodGet, "/api/works", nil), "")
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Errorf("/api/works %s = %q, want %q", k, got, v)
		}
	}

	rr, body := env.multipart(http.MethodPost, "/api/works",
		map[string]string{"title": "Monster", "description": "d", "type": "novel", "category": "Thriller"},
		[]filePart{{field: "pdf", name: "m.pdf", contentType: "application/pdf", content: []byte("%PDF-1.4")}}, adminToken)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", rr.Code, rr.Body.String())
	}
	pdfURL := body.Data["work"].(map[string]interface{})["pdfUrl"].(string)
	rr, _ = env.do(httptest.NewRequest(http.MethodGet, pdfURL, nil), "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cross-Origin-Resource-Policy") != "cross-origin" {
		t.Errorf("uploads headers = %v", rr.Header())
	}
}
