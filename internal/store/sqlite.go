package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed-width UTC so that text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store backed by SQLite for local development.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewSQLiteStore opens a SQLite database at the given path and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// --- Reports ---

func (s *SQLiteStore) ListReports(ctx context.Context, q ReportQuery) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM issues`
	var args []any
	if q.ReporterID != nil {
		query += ` WHERE user_id = ?`
		args = append(args, q.ReporterID.String())
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		r, err := s.scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func (s *SQLiteStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	return s.scanReport(s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM issues WHERE id = ?`, id.String()))
}

func (s *SQLiteStore) InsertReport(ctx context.Context, d *models.ReportDraft) (*models.Report, error) {
	id := uuid.New()
	lat, lng := coordinateArgs(d.Coordinates)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issues (id, title, description, category, location, area, latitude, longitude,
			user_id, status, created_at, before_image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), d.Title, d.Description, d.Category, d.Location, nullable(d.Area), lat, lng,
		d.ReporterID.String(), string(models.StatusReported), formatTime(time.Now()), nullable(d.BeforeImageURL))
	if err != nil {
		return nil, fmt.Errorf("insert issue: %w", err)
	}
	return s.GetReport(ctx, id)
}

func (s *SQLiteStore) UpdateReport(ctx context.Context, id uuid.UUID, patch models.ReportPatch) (*models.Report, error) {
	cols := patchColumns(patch)
	if len(cols) == 0 {
		return s.GetReport(ctx, id)
	}

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c.name+" = ?")
		if t, ok := c.value.(time.Time); ok {
			args = append(args, formatTime(t))
		} else {
			args = append(args, c.value)
		}
	}
	args = append(args, id.String())

	query := `UPDATE issues SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if patch.TouchesFeedback() {
		query += ` AND satisfaction_status IS NULL AND status = ?`
		args = append(args, string(models.StatusResolved))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update issue %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update issue %s: %w", id, err)
	}
	if n == 0 {
		current, err := s.GetReport(ctx, id)
		if err != nil {
			return nil, err
		}
		if patch.TouchesFeedback() {
			return nil, feedbackRejection(current)
		}
	}
	return s.GetReport(ctx, id)
}

func (s *SQLiteStore) scanReport(row scannable) (*models.Report, error) {
	var r reportRow
	var id, userID, createdAt string
	var processingAt, resolvedAt *string
	err := row.Scan(&id, &r.Title, &r.Description, &r.Category, &r.Location, &r.Area,
		&r.Latitude, &r.Longitude, &userID, &r.Status,
		&createdAt, &processingAt, &resolvedAt, &r.BeforeImage, &r.AfterImage,
		&r.Satisfaction, &r.Rating, &r.FeedbackText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scan issue: %w", err)
	}

	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse issue id %q: %w", id, err)
	}
	if r.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", userID, err)
	}
	if r.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	r.ProcessingAt = parseNullTime(processingAt)
	r.ResolvedAt = parseNullTime(resolvedAt)
	return r.toReport(s.logger)
}

// --- Profiles ---

func (s *SQLiteStore) LookupByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ReporterInfo, error) {
	out := make(map[uuid.UUID]models.ReporterInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(full_name, ''), COALESCE(email, '') FROM profiles WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawID string
		var info models.ReporterInfo
		if err := rows.Scan(&rawID, &info.DisplayName, &info.Email); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse profile id %q: %w", rawID, err)
		}
		out[id] = info
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Actor, error) {
	var a models.Actor
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(full_name, ''), COALESCE(email, ''), role FROM profiles WHERE id = ?`, id.String()).
		Scan(&a.DisplayName, &a.Email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	a.ID = id
	a.Role = models.Role(role)
	return &a, nil
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, a *models.Actor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, full_name, email, role) VALUES (?, ?, ?, ?)`,
		a.ID.String(), a.DisplayName, a.Email, string(a.Role))
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// --- Activity ---

func (s *SQLiteStore) InsertActivity(ctx context.Context, e *models.ActivityLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO report_activity (id, report_id, actor_id, activity_type, action_description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.ReportID.String(), e.ActorID.String(), string(e.Type), e.Description, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActivity(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, activity_type, action_description, created_at
		 FROM report_activity WHERE report_id = ? ORDER BY created_at DESC LIMIT ?`,
		reportID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var logs []models.ActivityLog
	for rows.Next() {
		var id, actorID, typ, createdAt string
		l := models.ActivityLog{ReportID: reportID}
		if err := rows.Scan(&id, &actorID, &typ, &l.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		l.ID, _ = uuid.Parse(id)
		l.ActorID, _ = uuid.Parse(actorID)
		l.Type = models.ActivityType(typ)
		l.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseNullTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(timeFormat, *s)
	if err != nil {
		return nil
	}
	return &t
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
