package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/api/middleware"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memStore) Put(ctx context.Context, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = b
	return nil
}

func (s *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[key]
	if !ok {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type testServer struct {
	router *gin.Engine
	conn   *sql.DB
	auth   *middleware.AuthMiddleware
	store  *memStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth, err := middleware.NewAuthMiddleware(context.Background(), conn, "test-secret")
	if err != nil {
		t.Fatalf("NewAuthMiddleware() error = %v", err)
	}

	store := &memStore{files: make(map[string][]byte)}
	queue := core.NewQueueManager(conn, nil, nil, logger)
	prices := core.PriceTable{BWPerPageCents: 10, ColorPerPageCents: 50}
	dispatcher := core.NewDispatcher(core.DispatcherConfig{PollInterval: time.Hour}, queue, nil, nil, logger)
	t.Cleanup(func() { dispatcher.Stop(time.Second) })

	router := NewRouter(Dependencies{
		DB:          conn,
		Auth:        auth,
		Queue:       queue,
		Submission:  core.NewSubmission(conn, queue, store, prices, nil, logger),
		Terminator:  core.NewTerminator(conn, core.TerminatorConfig{LocalMethods: []string{"cash"}}, nil, nil, nil, logger),
		Dispatcher:  dispatcher,
		StopTimeout: time.Second,
		Logger:      logger,
	})

	return &testServer{router: router, conn: conn, auth: auth, store: store}
}

func (s *testServer) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := s.auth.IssueToken(subject, role)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, want, rec.Body.String())
	}
}

type submitResponse struct {
	Job   db.PrintJob    `json:"job"`
	Entry *db.QueueEntry `json:"entry"`
}

func (s *testServer) submit(t *testing.T, token string) submitResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/jobs", token, map[string]any{
		"file_name": "notes.pdf",
		"file_ref":  "uploads/notes.pdf",
		"pages":     4,
		"copies":    2,
	})
	expectStatus(t, rec, http.StatusCreated)
	var resp submitResponse
	decode(t, rec, &resp)
	return resp
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestRoutesRequireAuthentication(t *testing.T) {
	s := newTestServer(t)
	userToken := s.token(t, "user-1", middleware.RoleUser)

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/jobs", "", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/jobs", "garbage", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/queue", userToken, nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/jobs/x/terminate", userToken, nil), http.StatusForbidden)
}

func TestSubmitAndInspectJob(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-1", middleware.RoleUser)
	other := s.token(t, "user-2", middleware.RoleUser)
	admin := s.token(t, "admin", middleware.RoleAdmin)

	resp := s.submit(t, owner)
	if resp.Job.Status != string(core.JobStatusQueued) || resp.Entry == nil || resp.Entry.Position != 1 {
		t.Fatalf("submit = %+v", resp)
	}
	if resp.Job.UserID != "user-1" || resp.Job.CostCents != 80 {
		t.Errorf("job = %+v, want user-1 and 80 cents", resp.Job)
	}

	path := "/api/v1/jobs/" + resp.Job.ID

	rec := s.do(t, http.MethodGet, path, owner, nil)
	expectStatus(t, rec, http.StatusOK)
	var got struct {
		ID       string `json:"id"`
		Position int    `json:"position"`
	}
	decode(t, rec, &got)
	if got.ID != resp.Job.ID || got.Position != 1 {
		t.Errorf("GET job = %+v", got)
	}

	expectStatus(t, s.do(t, http.MethodGet, path, other, nil), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodGet, path, admin, nil), http.StatusOK)

	rec = s.do(t, http.MethodGet, path+"/position", owner, nil)
	expectStatus(t, rec, http.StatusOK)

	var list struct {
		Count int `json:"count"`
	}
	decode(t, s.do(t, http.MethodGet, "/api/v1/jobs", other, nil), &list)
	if list.Count != 0 {
		t.Errorf("other user sees %d jobs, want 0", list.Count)
	}
	decode(t, s.do(t, http.MethodGet, "/api/v1/jobs?user_id=user-1", admin, nil), &list)
	if list.Count != 1 {
		t.Errorf("admin sees %d jobs for user-1, want 1", list.Count)
	}
}

func TestSubmitMultipartUpload(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-1", middleware.RoleUser)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("pages", "2")
	_ = w.WriteField("color", "true")
	fw, err := w.CreateFormFile("file", "poster.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte("%PDF-1.7 poster"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+owner)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)

	var resp submitResponse
	decode(t, rec, &resp)
	if resp.Job.FileName != "poster.pdf" || !resp.Job.Color {
		t.Errorf("job = %+v", resp.Job)
	}
	if got := string(s.store.files[resp.Job.FileRef]); got != "%PDF-1.7 poster" {
		t.Errorf("stored file %q = %q", resp.Job.FileRef, got)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-1", middleware.RoleUser)

	rec := s.do(t, http.MethodPost, "/api/v1/jobs", owner, map[string]any{
		"file_name": "a.pdf", "file_ref": "a.pdf", "pages": 3, "paper_type": "Tabloid",
	})
	expectStatus(t, rec, http.StatusBadRequest)

	var e struct {
		Error string `json:"error"`
	}
	decode(t, rec, &e)
	if e.Error != "invalid_input" {
		t.Errorf("error = %q, want invalid_input", e.Error)
	}
}

func TestAdminQueueFlow(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-1", middleware.RoleUser)
	admin := s.token(t, "admin", middleware.RoleAdmin)

	job := s.submit(t, owner)

	rec := s.do(t, http.MethodPost, "/api/v1/queue/enqueue/"+job.Job.ID, admin, nil)
	expectStatus(t, rec, http.StatusConflict)

	var queue struct {
		Count int `json:"count"`
	}
	decode(t, s.do(t, http.MethodGet, "/api/v1/queue", admin, nil), &queue)
	if queue.Count != 1 {
		t.Fatalf("queue count = %d, want 1", queue.Count)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/queue/entries/"+job.Entry.ID+"/start", admin, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/queue/entries/"+job.Entry.ID+"/start", admin, nil), http.StatusConflict)

	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/queue/jobs/"+job.Job.ID+"/fail", admin, map[string]string{}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/queue/jobs/"+job.Job.ID+"/complete", admin, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/queue/jobs/"+job.Job.ID+"/complete", admin, nil), http.StatusNotFound)

	decode(t, s.do(t, http.MethodGet, "/api/v1/queue", admin, nil), &queue)
	if queue.Count != 0 {
		t.Errorf("queue count after completion = %d, want 0", queue.Count)
	}

	var stats core.QueueStats
	decode(t, s.do(t, http.MethodGet, "/api/v1/queue/stats", admin, nil), &stats)
	if stats.Jobs[string(core.JobStatusCompleted)] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	var cleanup struct {
		Removed int `json:"removed"`
	}
	decode(t, s.do(t, http.MethodPost, "/api/v1/queue/cleanup", admin, nil), &cleanup)
	if cleanup.Removed != 0 {
		t.Errorf("removed = %d, want 0", cleanup.Removed)
	}

	expectStatus(t, s.do(t, http.MethodDelete, "/api/v1/jobs/"+job.Job.ID, owner, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/jobs/"+job.Job.ID, owner, nil), http.StatusNotFound)
}

func TestTerminatePaidJob(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "user-1", middleware.RoleUser)
	admin := s.token(t, "admin", middleware.RoleAdmin)

	job := s.submit(t, owner)
	path := "/api/v1/jobs/" + job.Job.ID

	expectStatus(t, s.do(t, http.MethodPost, path+"/payment", owner, map[string]string{"method": "cash"}), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, path+"/payment", owner, map[string]string{"method": "cash"}), http.StatusConflict)

	// Queued jobs can't be withdrawn by their owner.
	expectStatus(t, s.do(t, http.MethodPost, path+"/cancel", owner, nil), http.StatusConflict)

	rec := s.do(t, http.MethodPost, path+"/terminate", admin, map[string]string{"reason": "paper jam"})
	expectStatus(t, rec, http.StatusOK)
	var result core.TerminationResult
	decode(t, rec, &result)
	if result.PaymentStatus != string(core.PaymentRefunded) || result.RefundCents != 80 || result.PreviousPosition != 1 {
		t.Errorf("result = %+v", result)
	}

	expectStatus(t, s.do(t, http.MethodPost, path+"/terminate", admin, nil), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodGet, path+"/position", owner, nil), http.StatusNotFound)

	var audit struct {
		Entries []db.AuditEntry `json:"entries"`
	}
	decode(t, s.do(t, http.MethodGet, "/api/v1/audit?target_id="+job.Job.ID, admin, nil), &audit)
	if len(audit.Entries) != 1 || audit.Entries[0].Actor != "admin" {
		t.Errorf("audit = %+v", audit.Entries)
	}

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/reconciliations", admin, nil), http.StatusOK)
}

func TestTerminateUnknownJob(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "admin", middleware.RoleAdmin)
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/jobs/missing/terminate", admin, nil), http.StatusNotFound)
}

func TestDispatcherSwitch(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, "admin", middleware.RoleAdmin)

	var st core.DispatcherStatus
	decode(t, s.do(t, http.MethodPost, "/api/v1/dispatcher/start", admin, nil), &st)
	if !st.Running {
		t.Errorf("status after start = %+v", st)
	}

	decode(t, s.do(t, http.MethodPost, "/api/v1/dispatcher/stop", admin, nil), &st)
	if st.Running {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestAuthSetupAndLogin(t *testing.T) {
	s := newTestServer(t)

	var status middleware.StatusResponse
	decode(t, s.do(t, http.MethodGet, "/api/auth/status", "", nil), &status)
	if !status.SetupRequired {
		t.Fatal("setup should be required on a fresh database")
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "whatever"}), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/setup", "", map[string]string{"password": "short"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/setup", "", map[string]string{"password": "hunter22"}), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/setup", "", map[string]string{"password": "hunter22"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "wrong-one"}), http.StatusUnauthorized)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "hunter22"})
	expectStatus(t, rec, http.StatusOK)
	var login middleware.LoginResponse
	decode(t, rec, &login)
	if login.Token == "" {
		t.Fatal("login returned no token")
	}

	decode(t, s.do(t, http.MethodGet, "/api/auth/status", login.Token, nil), &status)
	if !status.Authenticated || status.Role != middleware.RoleAdmin {
		t.Errorf("status = %+v", status)
	}

	rec = s.do(t, http.MethodPost, "/api/auth/tokens", login.Token, map[string]string{"user_id": "kiosk-user"})
	expectStatus(t, rec, http.StatusOK)
	var issued struct {
		Token string `json:"token"`
	}
	decode(t, rec, &issued)

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/jobs", issued.Token, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/queue", issued.Token, nil), http.StatusForbidden)
}

func TestGeneratedSecretPersists(t *testing.T) {
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "auth.db")})
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer conn.Close()

	first, err := middleware.NewAuthMiddleware(context.Background(), conn, "")
	if err != nil {
		t.Fatalf("NewAuthMiddleware() error = %v", err)
	}
	tok, err := first.IssueToken("user-1", middleware.RoleUser)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	second, err := middleware.NewAuthMiddleware(context.Background(), conn, "")
	if err != nil {
		t.Fatalf("NewAuthMiddleware() error = %v", err)
	}
	again, err := second.IssueToken("user-1", middleware.RoleUser)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if tok == "" || again == "" {
		t.Fatal("empty token")
	}

	r := gin.New()
	r.GET("/", second.RequireUser(), func(c *gin.Context) { c.String(http.StatusOK, middleware.UserID(c)) })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-1" {
		t.Errorf("token from first instance rejected by second: %d %s", rec.Code, rec.Body.String())
	}
}
