package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aawaaz/civic-reports/internal/auth"
	"github.com/aawaaz/civic-reports/internal/middleware"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/services"
	"github.com/aawaaz/civic-reports/internal/store"
	"github.com/aawaaz/civic-reports/internal/view"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeBlobs struct {
	mu    sync.Mutex
	names []string
}

func (b *fakeBlobs) Put(_ context.Context, name, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, name)
	return "https://blob/" + name, nil
}

// fakeIDP stands in for GoTrue; it only needs to cover sign-out here.
type fakeIDP struct{}

func (fakeIDP) SignIn(context.Context, string, string) (*auth.Session, error) {
	return nil, models.ErrAuth
}

func (fakeIDP) SignUp(context.Context, string, string, string) (*auth.Identity, error) {
	return nil, models.ErrAuth
}

func (fakeIDP) SignOut(context.Context, string) error { return nil }

type testEnv struct {
	srv          *httptest.Server
	store        *store.SQLiteStore
	blobs        *fakeBlobs
	registry     *view.Registry
	citizenToken string
	adminToken   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(ctx, t.TempDir()+"/civic.db", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	citizen := &models.Actor{ID: uuid.New(), DisplayName: "Asha", Email: "asha@example.com", Role: models.RoleCitizen}
	admin := &models.Actor{ID: uuid.New(), DisplayName: "Ward Officer", Email: "officer@example.com", Role: models.RoleAdmin}
	for _, a := range []*models.Actor{citizen, admin} {
		if err := st.CreateProfile(ctx, a); err != nil {
			t.Fatalf("CreateProfile: %v", err)
		}
	}

	const maxPhoto = 1 << 20
	blobs := &fakeBlobs{}
	verifier := auth.NewTokenVerifier("test-secret")
	activity := services.NewActivityLogService(st, logger)
	reports := services.NewReportService(st, st, blobs, activity, maxPhoto, logger)
	feedback := services.NewFeedbackService(st, activity, logger)
	lifecycle := services.NewLifecycleEngine(st, blobs, activity, maxPhoto, logger)
	accounts := services.NewAccountService(fakeIDP{}, st, logger)
	registry := view.NewRegistry(reports, logger)

	api := &API{
		Health:      NewHealthHandler(st, registry, logger),
		Auth:        NewAuthHandler(accounts, registry, logger),
		Reports:     NewReportHandler(reports, feedback, registry, maxPhoto, logger),
		Admin:       NewAdminHandler(lifecycle, reports, activity, registry, maxPhoto, logger),
		RequireAuth: middleware.RequireAuth(verifier, accounts, logger),
	}
	r := chi.NewRouter()
	r.Route("/api/v1", api.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ct, _ := verifier.Sign(citizen.ID, citizen.Email, time.Hour)
	at, _ := verifier.Sign(admin.ID, admin.Email, time.Hour)
	return &testEnv{srv: srv, store: st, blobs: blobs, registry: registry, citizenToken: ct, adminToken: at}
}

func (e *testEnv) do(t *testing.T, method, path, token, contentType string, body io.Reader) (int, map[string]json.RawMessage, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var obj map[string]json.RawMessage
	json.Unmarshal(raw, &obj)
	return resp.StatusCode, obj, raw
}

func multipartBody(t *testing.T, fields map[string]string, fileField string, file []byte) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="photo.png"`)
		h.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(file)
	}
	mw.Close()
	return mw.FormDataContentType(), &buf
}

func decodeReport(t *testing.T, raw []byte) models.Report {
	t.Helper()
	var r models.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("decode report: %v (%s)", err, raw)
	}
	return r
}

func (e *testEnv) submit(t *testing.T) models.Report {
	t.Helper()
	ct, body := multipartBody(t, map[string]string{
		"title":       "Overflowing drain",
		"description": "Water on the road since the rains",
		"category":    "Drainage",
		"location":    "5th Cross",
		"area":        "Ward 7",
		"latitude":    "12.9716",
		"longitude":   "77.5946",
	}, "before_image", pngBytes)
	code, _, raw := e.do(t, http.MethodPost, "/api/v1/reports", e.citizenToken, ct, body)
	if code != http.StatusCreated {
		t.Fatalf("submit status = %d (%s)", code, raw)
	}
	return decodeReport(t, raw)
}

func TestCitizenAdminFlow(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)
	if rep.Status != models.StatusReported || rep.BeforeImageURL == nil {
		t.Fatalf("submitted report = %+v", rep)
	}

	// The citizen's view already holds the new report.
	code, obj, raw := e.do(t, http.MethodGet, "/api/v1/reports", e.citizenToken, "", nil)
	if code != http.StatusOK {
		t.Fatalf("list status = %d (%s)", code, raw)
	}
	var counts models.StatusCounts
	json.Unmarshal(obj["counts"], &counts)
	if counts.Total != 1 || counts.Reported != 1 {
		t.Errorf("citizen counts = %+v", counts)
	}

	// Admin listing joins the reporter profile.
	code, obj, raw = e.do(t, http.MethodGet, "/api/v1/admin/reports?status=all", e.adminToken, "", nil)
	if code != http.StatusOK {
		t.Fatalf("admin list status = %d (%s)", code, raw)
	}
	var listed []models.Report
	json.Unmarshal(obj["reports"], &listed)
	if len(listed) != 1 || listed[0].Reporter == nil || listed[0].Reporter.DisplayName != "Asha" {
		t.Fatalf("admin listing = %s", obj["reports"])
	}

	statusPath := "/api/v1/admin/reports/" + rep.ID.String() + "/status"

	// Resolving without an after-image is refused and nothing changes.
	ct, body := multipartBody(t, map[string]string{"status": "Resolved"}, "", nil)
	if code, _, raw = e.do(t, http.MethodPost, statusPath, e.adminToken, ct, body); code != http.StatusBadRequest {
		t.Fatalf("resolve without image = %d (%s)", code, raw)
	}
	stored, _ := e.store.GetReport(context.Background(), rep.ID)
	if stored.Status != models.StatusReported {
		t.Fatalf("stored status = %s after refused transition", stored.Status)
	}

	ct, body = multipartBody(t, map[string]string{"status": "Resolved"}, "after_image", pngBytes)
	code, _, raw = e.do(t, http.MethodPost, statusPath, e.adminToken, ct, body)
	if code != http.StatusOK {
		t.Fatalf("resolve = %d (%s)", code, raw)
	}
	resolved := decodeReport(t, raw)
	if resolved.Status != models.StatusResolved || resolved.AfterImageURL == nil || resolved.ResolvedAt == nil {
		t.Fatalf("resolved report = %+v", resolved)
	}
	if !strings.Contains(*resolved.AfterImageURL, "after_") {
		t.Errorf("after_image_url = %s", *resolved.AfterImageURL)
	}
	if resolved.Reporter == nil {
		t.Error("reporter join lost after status change")
	}

	code, obj, _ = e.do(t, http.MethodGet, "/api/v1/admin/reports/stats", e.adminToken, "", nil)
	if code != http.StatusOK || string(obj["resolved"]) != "1" {
		t.Errorf("stats = %d %v", code, obj)
	}

	// The citizen reloads, then rates exactly once.
	if code, _, raw = e.do(t, http.MethodGet, "/api/v1/reports?refresh=true", e.citizenToken, "", nil); code != http.StatusOK {
		t.Fatalf("refresh = %d (%s)", code, raw)
	}
	feedbackPath := "/api/v1/reports/" + rep.ID.String() + "/feedback"
	code, _, raw = e.do(t, http.MethodPost, feedbackPath, e.citizenToken, "application/json",
		strings.NewReader(`{"satisfaction":"Satisfied","rating":4,"comment":"great"}`))
	if code != http.StatusOK {
		t.Fatalf("feedback = %d (%s)", code, raw)
	}
	rated := decodeReport(t, raw)
	if rated.SatisfactionRating == nil || *rated.SatisfactionRating != 4 {
		t.Errorf("rated report = %+v", rated)
	}
	code, _, _ = e.do(t, http.MethodPost, feedbackPath, e.citizenToken, "application/json",
		strings.NewReader(`{"satisfaction":"Not Satisfied","rating":1}`))
	if code != http.StatusBadRequest {
		t.Errorf("second feedback = %d, want 400", code)
	}

	code, _, raw = e.do(t, http.MethodGet, "/api/v1/admin/reports/"+rep.ID.String()+"/activity", e.adminToken, "", nil)
	var logs []models.ActivityLog
	json.Unmarshal(raw, &logs)
	if code != http.StatusOK || len(logs) != 3 {
		t.Errorf("activity = %d, %d entries (%s)", code, len(logs), raw)
	}
}

func TestAccessControl(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"anonymous citizen list", http.MethodGet, "/api/v1/reports", "", http.StatusUnauthorized},
		{"anonymous admin list", http.MethodGet, "/api/v1/admin/reports", "", http.StatusUnauthorized},
		{"citizen on admin", http.MethodGet, "/api/v1/admin/reports", e.citizenToken, http.StatusForbidden},
		{"garbage token", http.MethodGet, "/api/v1/reports", "nope", http.StatusUnauthorized},
		{"health is public", http.MethodGet, "/api/v1/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, obj, _ := e.do(t, tt.method, tt.path, tt.token, "", nil)
			if code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
			if code == http.StatusUnauthorized && string(obj["sign_in"]) != `"`+middleware.SignInPath+`"` {
				t.Errorf("sign_in = %s", obj["sign_in"])
			}
		})
	}
}

func TestFeedbackRejectsFractionalRating(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)
	code, _, raw := e.do(t, http.MethodPost, "/api/v1/reports/"+rep.ID.String()+"/feedback", e.citizenToken,
		"application/json", strings.NewReader(`{"satisfaction":"Satisfied","rating":4.5}`))
	if code != http.StatusBadRequest || !strings.Contains(string(raw), "whole number") {
		t.Errorf("status = %d (%s)", code, raw)
	}
}

func TestSubmitRequiresLocationAndPhoto(t *testing.T) {
	e := newTestEnv(t)
	ct, body := multipartBody(t, map[string]string{
		"title": "x", "description": "y", "category": "Roads", "location": "z",
	}, "before_image", pngBytes)
	if code, _, raw := e.do(t, http.MethodPost, "/api/v1/reports", e.citizenToken, ct, body); code != http.StatusBadRequest {
		t.Errorf("without coordinates = %d (%s)", code, raw)
	}

	ct, body = multipartBody(t, map[string]string{
		"title": "x", "description": "y", "category": "Roads", "location": "z",
		"latitude": "12.9", "longitude": "77.5",
	}, "", nil)
	if code, _, raw := e.do(t, http.MethodPost, "/api/v1/reports", e.citizenToken, ct, body); code != http.StatusBadRequest {
		t.Errorf("without photo = %d (%s)", code, raw)
	}
	if len(e.blobs.names) != 0 {
		t.Errorf("uploads = %v, want none", e.blobs.names)
	}
}

func TestAdminMapAndDetail(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)

	code, _, raw := e.do(t, http.MethodGet, "/api/v1/admin/reports/map?status=Reported", e.adminToken, "", nil)
	var mv view.MapView
	json.Unmarshal(raw, &mv)
	if code != http.StatusOK || len(mv.Markers) != 1 || mv.Markers[0].Color != "#EF4444" || mv.Markers[0].Subtitle != "Ward 7" {
		t.Fatalf("map = %d %s", code, raw)
	}

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/admin/reports/map?status=Closed", e.adminToken, "", nil)
	if code != http.StatusBadRequest {
		t.Errorf("unknown filter = %d, want 400", code)
	}

	code, _, _ = e.do(t, http.MethodGet, "/api/v1/admin/reports/"+uuid.NewString(), e.adminToken, "", nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", code)
	}

	code, obj, _ := e.do(t, http.MethodGet, "/api/v1/admin/reports/"+rep.ID.String(), e.adminToken, "", nil)
	var detail view.MapView
	json.Unmarshal(obj["map"], &detail)
	if code != http.StatusOK || len(detail.Markers) != 1 || detail.Bounds == nil {
		t.Errorf("detail = %d %v", code, obj)
	}
}

func TestBusyReportIsRejected(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)

	// Hold the admin's in-flight guard as a concurrent request would.
	var admin models.Actor
	code, obj, _ := e.do(t, http.MethodGet, "/api/v1/auth/session", e.adminToken, "", nil)
	json.Unmarshal(obj["user"], &admin)
	if code != http.StatusOK || !admin.IsAdmin() {
		t.Fatalf("session = %d %v", code, obj)
	}
	c := e.registry.For(admin)
	release, err := c.Acquire(rep.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ct, body := multipartBody(t, map[string]string{"status": "Processing"}, "", nil)
	code, _, _ = e.do(t, http.MethodPost, "/api/v1/admin/reports/"+rep.ID.String()+"/status", e.adminToken, ct, body)
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestLogoutDropsSessionView(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/api/v1/reports", e.citizenToken, "", nil)
	if e.registry.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", e.registry.Len())
	}
	code, _, _ := e.do(t, http.MethodPost, "/api/v1/auth/logout", e.citizenToken, "", nil)
	if code != http.StatusOK || e.registry.Len() != 0 {
		t.Errorf("logout = %d, sessions = %d", code, e.registry.Len())
	}
}

func TestReadiness(t *testing.T) {
	e := newTestEnv(t)
	code, obj, _ := e.do(t, http.MethodGet, "/api/v1/health/ready", "", "", nil)
	if code != http.StatusOK || string(obj["database"]) != `"connected"` {
		t.Errorf("ready = %d %v", code, obj)
	}
}

func (e *testEnv) setStatus(t *testing.T, id uuid.UUID, status string, image []byte) {
	t.Helper()
	ct, body := multipartBody(t, map[string]string{"status": status}, "after_image", image)
	code, _, raw := e.do(t, http.MethodPost, "/api/v1/admin/reports/"+id.String()+"/status", e.adminToken, ct, body)
	if code != http.StatusOK {
		t.Fatalf("set status %s = %d (%s)", status, code, raw)
	}
}

func TestFeedbackRejectedAfterReopen(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)
	e.setStatus(t, rep.ID, "Resolved", pngBytes)

	// The citizen sees the resolution, then an admin reopens the report.
	if code, _, raw := e.do(t, http.MethodGet, "/api/v1/reports?refresh=true", e.citizenToken, "", nil); code != http.StatusOK {
		t.Fatalf("refresh = %d (%s)", code, raw)
	}
	e.setStatus(t, rep.ID, "Reported", nil)

	code, _, raw := e.do(t, http.MethodPost, "/api/v1/reports/"+rep.ID.String()+"/feedback", e.citizenToken,
		"application/json", strings.NewReader(`{"satisfaction":"Satisfied","rating":5}`))
	if code != http.StatusBadRequest {
		t.Fatalf("feedback on reopened report = %d (%s), want 400", code, raw)
	}
	stored, _ := e.store.GetReport(context.Background(), rep.ID)
	if stored.Status != models.StatusReported || stored.HasFeedback() {
		t.Errorf("stored = status %s, feedback %v", stored.Status, stored.SatisfactionStatus)
	}
}

func TestCitizenSeesResolutionWithoutRefresh(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)
	if code, _, _ := e.do(t, http.MethodGet, "/api/v1/reports", e.citizenToken, "", nil); code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	e.setStatus(t, rep.ID, "Resolved", pngBytes)

	code, _, raw := e.do(t, http.MethodGet, "/api/v1/reports/"+rep.ID.String(), e.citizenToken, "", nil)
	if got := decodeReport(t, raw); code != http.StatusOK || got.Status != models.StatusResolved {
		t.Fatalf("detail = %d status %s, want Resolved", code, got.Status)
	}

	code, _, raw = e.do(t, http.MethodPost, "/api/v1/reports/"+rep.ID.String()+"/feedback", e.citizenToken,
		"application/json", strings.NewReader(`{"satisfaction":"Satisfied","rating":5}`))
	if code != http.StatusOK {
		t.Fatalf("feedback = %d (%s)", code, raw)
	}

	// The detail read folded the new status into the session's counts.
	_, obj, _ := e.do(t, http.MethodGet, "/api/v1/reports", e.citizenToken, "", nil)
	var counts models.StatusCounts
	json.Unmarshal(obj["counts"], &counts)
	if counts.Resolved != 1 || counts.Reported != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestCitizenCannotReadOthersReport(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)

	other := &models.Actor{ID: uuid.New(), DisplayName: "Ravi", Email: "ravi@example.com", Role: models.RoleCitizen}
	if err := e.store.CreateProfile(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	token, _ := auth.NewTokenVerifier("test-secret").Sign(other.ID, other.Email, time.Hour)

	if code, _, _ := e.do(t, http.MethodGet, "/api/v1/reports/"+rep.ID.String(), token, "", nil); code != http.StatusNotFound {
		t.Errorf("other citizen detail = %d, want 404", code)
	}
}

func TestActivityLimitValidation(t *testing.T) {
	e := newTestEnv(t)
	rep := e.submit(t)
	path := "/api/v1/admin/reports/" + rep.ID.String() + "/activity"

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?limit=5", http.StatusOK},
		{"?limit=abc", http.StatusBadRequest},
		{"?limit=-1", http.StatusBadRequest},
		{"?limit=2.5", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code, _, raw := e.do(t, http.MethodGet, path+tt.query, e.adminToken, "", nil); code != tt.want {
			t.Errorf("activity%s = %d (%s), want %d", tt.query, code, raw, tt.want)
		}
	}
}
