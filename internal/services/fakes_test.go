package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aawaaz/civic-reports/internal/auth"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/store"
	"github.com/google/uuid"
)

// memStore is an in-memory store.Store with switchable failures.
type memStore struct {
	mu         sync.Mutex
	reports    map[uuid.UUID]*models.Report
	profiles   map[uuid.UUID]*models.Actor
	activity   []models.ActivityLog
	updates    int
	inserts    int
	lookups    [][]uuid.UUID
	failList   error
	failInsert error
	failUpdate error
	failLookup error
	failLog    error
}

func newMemStore() *memStore {
	return &memStore{
		reports:  make(map[uuid.UUID]*models.Report),
		profiles: make(map[uuid.UUID]*models.Actor),
	}
}

func (m *memStore) put(r *models.Report) *models.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r.Clone()
	return r
}

func (m *memStore) get(id uuid.UUID) *models.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		return r.Clone()
	}
	return nil
}

func (m *memStore) ListReports(_ context.Context, q store.ReportQuery) ([]*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var out []*models.Report
	for _, r := range m.reports {
		if q.ReporterID != nil && r.ReporterID != *q.ReporterID {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) GetReport(_ context.Context, id uuid.UUID) (*models.Report, error) {
	if r := m.get(id); r != nil {
		return r, nil
	}
	return nil, store.ErrNoRows
}

func (m *memStore) InsertReport(_ context.Context, d *models.ReportDraft) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return nil, m.failInsert
	}
	m.inserts++
	r := &models.Report{
		ID:             uuid.New(),
		Title:          d.Title,
		Description:    d.Description,
		Category:       d.Category,
		Location:       d.Location,
		Area:           d.Area,
		Coordinates:    d.Coordinates,
		ReporterID:     d.ReporterID,
		Status:         models.StatusReported,
		CreatedAt:      time.Now().UTC(),
		BeforeImageURL: d.BeforeImageURL,
	}
	m.reports[r.ID] = r.Clone()
	return r, nil
}

func (m *memStore) UpdateReport(_ context.Context, id uuid.UUID, p models.ReportPatch) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return nil, m.failUpdate
	}
	r, ok := m.reports[id]
	if !ok {
		return nil, store.ErrNoRows
	}
	if p.TouchesFeedback() && r.HasFeedback() {
		return nil, store.ErrFeedbackExists
	}
	if p.TouchesFeedback() && r.Status != models.StatusResolved {
		return nil, store.ErrNotResolved
	}
	m.updates++
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ProcessingAt != nil {
		r.ProcessingAt = p.ProcessingAt
	}
	if p.ResolvedAt != nil {
		r.ResolvedAt = p.ResolvedAt
	}
	if p.AfterImageURL != nil {
		r.AfterImageURL = p.AfterImageURL
	}
	if p.SatisfactionStatus != nil {
		r.SatisfactionStatus = p.SatisfactionStatus
	}
	if p.SatisfactionRating != nil {
		r.SatisfactionRating = p.SatisfactionRating
	}
	if p.FeedbackText != nil {
		r.FeedbackText = p.FeedbackText
	}
	return r.Clone(), nil
}

func (m *memStore) LookupByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ReporterInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, ids)
	if m.failLookup != nil {
		return nil, m.failLookup
	}
	out := make(map[uuid.UUID]models.ReporterInfo)
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = models.ReporterInfo{DisplayName: p.DisplayName, Email: p.Email}
		}
	}
	return out, nil
}

func (m *memStore) GetProfile(_ context.Context, id uuid.UUID) (*models.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[id]; ok {
		c := *p
		return &c, nil
	}
	return nil, store.ErrNoRows
}

func (m *memStore) CreateProfile(_ context.Context, a *models.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.profiles[a.ID] = &c
	return nil
}

func (m *memStore) InsertActivity(_ context.Context, e *models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLog != nil {
		return m.failLog
	}
	m.activity = append(m.activity, *e)
	return nil
}

func (m *memStore) ListActivity(_ context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActivityLog
	for i := len(m.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if m.activity[i].ReportID == reportID {
			out = append(out, m.activity[i])
		}
	}
	return out, nil
}

// stubBlobs returns a fixed URL and remembers what it was given.
type stubBlobs struct {
	url   string
	err   error
	names []string
}

func (b *stubBlobs) Put(_ context.Context, name, _ string, _ []byte) (string, error) {
	b.names = append(b.names, name)
	if b.err != nil {
		return "", b.err
	}
	return b.url, nil
}

type stubIDP struct {
	session  *auth.Session
	identity *auth.Identity
	err      error
	signOuts []string
}

func (s *stubIDP) SignIn(context.Context, string, string) (*auth.Session, error) {
	return s.session, s.err
}

func (s *stubIDP) SignUp(context.Context, string, string, string) (*auth.Identity, error) {
	return s.identity, s.err
}

func (s *stubIDP) SignOut(_ context.Context, token string) error {
	s.signOuts = append(s.signOuts, token)
	return s.err
}

var errBoom = errors.New("boom")

// pngPhoto is a minimal photo that passes validation.
func pngPhoto(name string) *models.Photo {
	return &models.Photo{Name: name, ContentType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n")}
}

var (
	admin   = models.Actor{ID: uuid.New(), DisplayName: "Admin", Role: models.RoleAdmin}
	citizen = models.Actor{ID: uuid.New(), DisplayName: "Asha", Role: models.RoleCitizen}
)

func strPtr(s string) *string { return &s }

func seedReport(m *memStore, status models.Status) *models.Report {
	return m.put(&models.Report{
		ID:         uuid.New(),
		Title:      "Pothole",
		ReporterID: citizen.ID,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	})
}
