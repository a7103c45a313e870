package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore talks to the hosted Supabase schema through a pgx pool.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(db *pgxpool.Pool, logger *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// ListReports returns reports ordered by creation time, newest first
func (s *PostgresStore) ListReports(ctx context.Context, q ReportQuery) ([]*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM issues`
	var args []any
	if q.ReporterID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *q.ReporterID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		r, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return reports, nil
}

// GetReport fetches a single report by id
func (s *PostgresStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	row := s.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM issues WHERE id = $1`, id)
	return s.scan(row)
}

// InsertReport stores a new report with status Reported
func (s *PostgresStore) InsertReport(ctx context.Context, d *models.ReportDraft) (*models.Report, error) {
	lat, lng := coordinateArgs(d.Coordinates)
	query := `
		INSERT INTO issues (id, title, description, category, location, area, latitude, longitude,
			user_id, status, created_at, before_image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + reportColumns

	row := s.db.QueryRow(ctx, query,
		uuid.New(), d.Title, d.Description, d.Category, d.Location, d.Area, lat, lng,
		d.ReporterID, string(models.StatusReported), time.Now().UTC(), d.BeforeImageURL,
	)
	r, err := s.scan(row)
	if err != nil {
		return nil, fmt.Errorf("insert issue: %w", err)
	}
	return r, nil
}

// UpdateReport applies a partial update and returns the stored result
func (s *PostgresStore) UpdateReport(ctx context.Context, id uuid.UUID, patch models.ReportPatch) (*models.Report, error) {
	cols := patchColumns(patch)
	if len(cols) == 0 {
		return s.GetReport(ctx, id)
	}

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+1))
		args = append(args, c.value)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE issues SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if patch.TouchesFeedback() {
		args = append(args, string(models.StatusResolved))
		query += fmt.Sprintf(` AND satisfaction_status IS NULL AND status = $%d`, len(args))
	}
	query += ` RETURNING ` + reportColumns

	r, err := s.scan(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, ErrNoRows) && patch.TouchesFeedback() {
		if current, getErr := s.GetReport(ctx, id); getErr == nil {
			return nil, feedbackRejection(current)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("update issue %s: %w", id, err)
	}
	return r, nil
}

// LookupByIDs returns directory entries for the given profile ids
func (s *PostgresStore) LookupByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ReporterInfo, error) {
	out := make(map[uuid.UUID]models.ReporterInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	rows, err := s.db.Query(ctx, `SELECT id, full_name, email FROM profiles WHERE id = ANY($1::uuid[])`, strIDs)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name, email *string
		if err := rows.Scan(&id, &name, &email); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out[id] = models.ReporterInfo{DisplayName: deref(name), Email: deref(email)}
	}
	return out, rows.Err()
}

// GetProfile fetches one actor including its role
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Actor, error) {
	var a models.Actor
	var name, email *string
	var role string
	err := s.db.QueryRow(ctx, `SELECT id, full_name, email, role FROM profiles WHERE id = $1`, id).
		Scan(&a.ID, &name, &email, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	a.DisplayName, a.Email, a.Role = deref(name), deref(email), models.Role(role)
	return &a, nil
}

// CreateProfile inserts the profile row created at signup
func (s *PostgresStore) CreateProfile(ctx context.Context, a *models.Actor) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO profiles (id, full_name, email, role) VALUES ($1, $2, $3, $4)`,
		a.ID, a.DisplayName, a.Email, string(a.Role))
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// InsertActivity records one activity entry
func (s *PostgresStore) InsertActivity(ctx context.Context, e *models.ActivityLog) error {
	query := `
		INSERT INTO report_activity (id, report_id, actor_id, activity_type, action_description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query, e.ID, e.ReportID, e.ActorID, string(e.Type), e.Description, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns a report's activity, newest first
func (s *PostgresStore) ListActivity(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	query := `
		SELECT id, report_id, actor_id, activity_type, action_description, created_at
		FROM report_activity
		WHERE report_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var logs []models.ActivityLog
	for rows.Next() {
		var l models.ActivityLog
		var typ string
		if err := rows.Scan(&l.ID, &l.ReportID, &l.ActorID, &typ, &l.Description, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		l.Type = models.ActivityType(typ)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) scan(row pgx.Row) (*models.Report, error) {
	var r reportRow
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Category, &r.Location, &r.Area,
		&r.Latitude, &r.Longitude, &r.UserID, &r.Status,
		&r.CreatedAt, &r.ProcessingAt, &r.ResolvedAt, &r.BeforeImage, &r.AfterImage,
		&r.Satisfaction, &r.Rating, &r.FeedbackText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scan issue: %w", err)
	}
	return r.toReport(s.logger)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
