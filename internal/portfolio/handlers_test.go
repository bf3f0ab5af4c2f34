package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/admitkit"
	"github.com/nhalm/admitkit/store"
)

const adminToken = "test-admin-token"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	repo   Repository
	limits *admitkit.Registry
	router http.Handler
}

func newTestEnv(t *testing.T, repo Repository, opts ...admitkit.RegistryOption) *testEnv {
	t.Helper()

	opts = append([]admitkit.RegistryOption{
		admitkit.RegistryWithMemoryOptions(store.WithSweepInterval(0)),
	}, opts...)
	limits, err := admitkit.NewRegistry(opts...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(func() { limits.Close() })

	svc := NewService(repo, limits,
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	var seq int
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}

	r := chi.NewRouter()
	r.Use(admitkit.Handler())
	r.Use(admitkit.ResolveClientIP())
	svc.Mount(r, admitkit.StaticTokens(map[string]string{adminToken: "alice"}), admitkit.WithSessionCookie("session"))

	return &testEnv{repo: repo, limits: limits, router: r}
}

type request struct {
	method      string
	path        string
	body        string
	contentType string
	ip          string
	token       string
}

func (e *testEnv) do(req request) *httptest.ResponseRecorder {
	var body io.Reader = http.NoBody
	if req.body != "" {
		body = strings.NewReader(req.body)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	if req.body != "" {
		ct := req.contentType
		if ct == "" {
			ct = "application/json"
		}
		r.Header.Set("Content-Type", ct)
	}
	if req.ip != "" {
		r.Header.Set("X-Forwarded-For", req.ip)
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Code
}

func TestContact_JSON(t *testing.T) {
	repo := NewMemoryRepository()
	env := newTestEnv(t, repo)

	rec := env.do(request{
		method: "POST",
		path:   "/api/contact",
		body:   `{"name":"  Ada   Lovelace ","email":" Ada@Example.COM","subject":"Hi","message":"<b>Hello</b> there, I like your work."}`,
		ip:     "203.0.113.9",
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]string](t, rec)["id"]; got != "id-1" {
		t.Errorf("expected id-1, got %q", got)
	}

	msgs, _ := repo.ListMessages(context.Background())
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
	want := Message{
		ID:         "id-1",
		Name:       "Ada Lovelace",
		Email:      "ada@example.com",
		Subject:    "Hi",
		Body:       "Hello there, I like your work.",
		ClientIP:   "203.0.113.9",
		ReceivedAt: fixedNow,
	}
	if msgs[0] != want {
		t.Errorf("stored message mismatch:\n got %+v\nwant %+v", msgs[0], want)
	}
}

func TestContact_Form(t *testing.T) {
	repo := NewMemoryRepository()
	env := newTestEnv(t, repo)

	form := url.Values{
		"name":    {"Grace"},
		"email":   {"grace@example.com"},
		"message": {"Form posts work without JavaScript."},
	}
	rec := env.do(request{
		method:      "POST",
		path:        "/api/contact",
		body:        form.Encode(),
		contentType: "application/x-www-form-urlencoded",
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	msgs, _ := repo.ListMessages(context.Background())
	if len(msgs) != 1 || msgs[0].Name != "Grace" || msgs[0].ClientIP != admitkit.LoopbackIP {
		t.Errorf("unexpected stored messages %+v", msgs)
	}
}

func TestContact_Rejected(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
		wantCode    string
	}{
		{"missing fields", `{"name":"x"}`, "", http.StatusBadRequest, "invalid_request"},
		{"bad email", `{"name":"x","email":"nope","message":"long enough message"}`, "", http.StatusBadRequest, "invalid_request"},
		{"message only markup", `{"name":"x","email":"x@example.com","message":"<script>alert(1)</script>"}`, "", http.StatusBadRequest, "invalid_request"},
		{"malformed json", `{"name":`, "", http.StatusBadRequest, "bad_request"},
		{"wrong content type", `name=x`, "text/plain", http.StatusUnsupportedMediaType, "unsupported_media_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			env := newTestEnv(t, repo)

			rec := env.do(request{method: "POST", path: "/api/contact", body: tt.body, contentType: tt.contentType})

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, code)
			}
			if msgs, _ := repo.ListMessages(context.Background()); len(msgs) != 0 {
				t.Errorf("rejected request must not be stored, got %d messages", len(msgs))
			}
		})
	}
}

func TestContact_RateLimited(t *testing.T) {
	repo := NewMemoryRepository()
	env := newTestEnv(t, repo,
		admitkit.RegistryWithPolicy(admitkit.LimiterEmail, admitkit.Policy{MaxRequests: 2, Window: time.Hour}))

	body := `{"name":"Ada","email":"ada@example.com","message":"Hello there, nice site."}`
	for i := range 2 {
		if rec := env.do(request{method: "POST", path: "/api/contact", body: body, ip: "198.51.100.1"}); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, rec.Code)
		}
	}

	rec := env.do(request{method: "POST", path: "/api/contact", body: body, ip: "198.51.100.1"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	if rec := env.do(request{method: "POST", path: "/api/contact", body: body, ip: "198.51.100.2"}); rec.Code != http.StatusAccepted {
		t.Errorf("other client: expected 202, got %d", rec.Code)
	}

	msgs, _ := repo.ListMessages(context.Background())
	if len(msgs) != 3 {
		t.Errorf("expected 3 stored messages, got %d", len(msgs))
	}
}

func TestContact_InvalidRequestsCountTowardsLimit(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(),
		admitkit.RegistryWithPolicy(admitkit.LimiterEmail, admitkit.Policy{MaxRequests: 1, Window: time.Hour}))

	if rec := env.do(request{method: "POST", path: "/api/contact", body: `{}`}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec := env.do(request{method: "POST", path: "/api/contact", body: `{"name":"Ada","email":"ada@example.com","message":"Hello there, nice site."}`})
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the limit was spent, got %d", rec.Code)
	}
}

func TestContact_StoreFailure(t *testing.T) {
	env := newTestEnv(t, &failingRepository{MemoryRepository: NewMemoryRepository()})

	rec := env.do(request{method: "POST", path: "/api/contact", body: `{"name":"Ada","email":"ada@example.com","message":"Hello there, nice site."}`})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "internal" {
		t.Errorf("expected internal code, got %s", code)
	}
}

type failingRepository struct {
	*MemoryRepository
}

func (f *failingRepository) SaveMessage(context.Context, Message) error {
	return errors.New("disk full")
}

func TestVisits(t *testing.T) {
	repo := NewMemoryRepository()
	env := newTestEnv(t, repo,
		admitkit.RegistryWithPolicy(admitkit.LimiterVisitor, admitkit.Policy{MaxRequests: 3, Window: time.Minute}))

	for _, path := range []string{"/", "/projects", "/"} {
		rec := env.do(request{method: "POST", path: "/api/visits", body: fmt.Sprintf(`{"path":%q}`, path)})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
		}
	}

	if rec := env.do(request{method: "POST", path: "/api/visits", body: `{"path":"/"}`}); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 on fourth visit, got %d", rec.Code)
	}
	if rec := env.do(request{method: "POST", path: "/api/visits", body: `{"path":"no-slash"}`, ip: "192.0.2.7"}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for relative path, got %d", rec.Code)
	}

	counts, _ := repo.VisitCounts(context.Background())
	if counts["/"] != 2 || counts["/projects"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	rec := env.do(request{method: "GET", path: "/api/admin/visits", token: adminToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeBody[struct {
		Visits map[string]int `json:"visits"`
	}](t, rec)
	if got.Visits["/"] != 2 {
		t.Errorf("unexpected visits response %v", got.Visits)
	}
}

func TestListProjects(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	for i, tags := range [][]string{{"go"}, {"Go", "web"}, {"rust"}} {
		repo.CreateProject(ctx, Project{
			ID:        fmt.Sprintf("p%d", i),
			Title:     fmt.Sprintf("Project %d", i),
			Tags:      tags,
			CreatedAt: fixedNow.Add(time.Duration(i) * time.Hour),
		})
	}
	env := newTestEnv(t, repo)

	tests := []struct {
		query      string
		wantStatus int
		wantIDs    []string
	}{
		{"", http.StatusOK, []string{"p2", "p1", "p0"}},
		{"?tag=go", http.StatusOK, []string{"p1", "p0"}},
		{"?limit=1", http.StatusOK, []string{"p2"}},
		{"?tag=haskell", http.StatusOK, []string{}},
		{"?limit=500", http.StatusBadRequest, nil},
		{"?limit=abc", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(request{method: "GET", path: "/api/projects" + tt.query})
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantIDs == nil {
				return
			}

			got := decodeBody[struct {
				Projects []Project `json:"projects"`
			}](t, rec)
			ids := make([]string, 0, len(got.Projects))
			for _, p := range got.Projects {
				ids = append(ids, p.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("expected %v, got %v", tt.wantIDs, ids)
			}
		})
	}
}

func TestAdmin_Authentication(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository())

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no credentials", "", http.StatusUnauthorized},
		{"wrong token", "guess", http.StatusUnauthorized},
		{"admin token", adminToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(request{method: "GET", path: "/api/admin/messages", token: tt.token})
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("session cookie", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/admin/messages", http.NoBody)
		r.AddCookie(&http.Cookie{Name: "session", Value: adminToken})
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestAdmin_ProjectLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	env := newTestEnv(t, repo)

	rec := env.do(request{
		method: "POST",
		path:   "/api/admin/projects",
		body:   `{"title":"admitkit","summary":"<p>Fixed window limits</p>","url":"https://example.com/admitkit","tags":["go"," http "]}`,
		token:  adminToken,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[Project](t, rec)
	if created.ID != "id-1" || created.Summary != "Fixed window limits" || strings.Join(created.Tags, ",") != "go,http" {
		t.Errorf("unexpected created project %+v", created)
	}

	rec = env.do(request{
		method: "PUT",
		path:   "/api/admin/projects/id-1",
		body:   `{"title":"admitkit v2"}`,
		token:  adminToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[Project](t, rec)
	if updated.Title != "admitkit v2" || !updated.CreatedAt.Equal(fixedNow) || len(updated.Tags) != 0 {
		t.Errorf("unexpected updated project %+v", updated)
	}

	if rec := env.do(request{method: "PUT", path: "/api/admin/projects/missing", body: `{"title":"x"}`, token: adminToken}); rec.Code != http.StatusNotFound {
		t.Errorf("update missing: expected 404, got %d", rec.Code)
	}
	if rec := env.do(request{method: "POST", path: "/api/admin/projects", body: `{"url":"ftp://x"}`, token: adminToken}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid project: expected 400, got %d", rec.Code)
	}

	if rec := env.do(request{method: "DELETE", path: "/api/admin/projects/id-1", token: adminToken}); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = env.do(request{method: "DELETE", path: "/api/admin/projects/id-1", token: adminToken})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete again: expected 404, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "resource_not_found" {
		t.Errorf("expected resource_not_found, got %s", code)
	}

	if projects, _ := repo.ListProjects(context.Background(), ProjectFilter{}); len(projects) != 0 {
		t.Errorf("expected no projects, got %d", len(projects))
	}
}

func TestAdmin_RateLimitedAfterAuthentication(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(),
		admitkit.RegistryWithPolicy(admitkit.LimiterAPI, admitkit.Policy{MaxRequests: 2, Window: time.Minute}))

	// Rejected credentials never reach the limiter.
	for range 5 {
		env.do(request{method: "GET", path: "/api/admin/messages", token: "guess"})
	}

	for i := range 2 {
		if rec := env.do(request{method: "GET", path: "/api/admin/messages", token: adminToken}); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := env.do(request{method: "GET", path: "/api/admin/messages", token: adminToken})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "limit_exceeded" {
		t.Errorf("expected limit_exceeded, got %s", code)
	}
}

func TestAdmin_RateLimitStats(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository())

	env.do(request{method: "POST", path: "/api/visits", body: `{"path":"/"}`, ip: "192.0.2.1"})
	env.do(request{method: "POST", path: "/api/visits", body: `{"path":"/"}`, ip: "192.0.2.2"})

	rec := env.do(request{method: "GET", path: "/api/admin/ratelimit", token: adminToken, ip: "192.0.2.1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	stats := decodeBody[admitkit.RegistryStats](t, rec)
	if stats.Visitor.TotalEntries != 2 {
		t.Errorf("expected 2 visitor entries, got %+v", stats.Visitor)
	}
	if stats.API.TotalEntries != 1 || stats.Email.TotalEntries != 0 {
		t.Errorf("unexpected api/email stats %+v %+v", stats.API, stats.Email)
	}
}

func TestAdmin_ListMessagesNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.SaveMessage(ctx, Message{ID: "m1", Name: "first"})
	repo.SaveMessage(ctx, Message{ID: "m2", Name: "second"})
	env := newTestEnv(t, repo)

	rec := env.do(request{method: "GET", path: "/api/admin/messages", token: adminToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeBody[struct {
		Messages []Message `json:"messages"`
	}](t, rec)
	if len(got.Messages) != 2 || got.Messages[0].ID != "m2" {
		t.Errorf("unexpected order %+v", got.Messages)
	}
}
