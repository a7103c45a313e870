// Package models defines the data structures used across the application.
// These map to the Supabase PostgreSQL schema (issues, profiles, report_activity).
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a report.
type Status string

const (
	StatusReported   Status = "Reported"
	StatusProcessing Status = "Processing"
	StatusResolved   Status = "Resolved"
)

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{StatusReported, StatusProcessing, StatusResolved}

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusReported, StatusProcessing, StatusResolved:
		return true
	}
	return false
}

// ParseStatus converts a raw store or request value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}

// Satisfaction is the citizen's verdict on a resolution.
type Satisfaction string

const (
	SatisfactionSatisfied    Satisfaction = "Satisfied"
	SatisfactionNotSatisfied Satisfaction = "Not Satisfied"
)

// Valid reports whether s is a submittable verdict.
func (s Satisfaction) Valid() bool {
	return s == SatisfactionSatisfied || s == SatisfactionNotSatisfied
}

// Role is assigned at signup and never changes.
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleAdmin   Role = "admin"
)

// Actor is an authenticated citizen or admin.
type Actor struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"full_name"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
}

// IsAdmin reports whether the actor may drive status transitions.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// ReporterInfo is the directory data joined onto a report at read time.
type ReporterInfo struct {
	DisplayName string `json:"full_name"`
	Email       string `json:"email"`
}

// Coordinates is a GPS fix. Latitude and longitude only exist as a pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinates builds a pair from nullable columns, returning nil unless
// both halves are present.
func NewCoordinates(lat, lng *float64) *Coordinates {
	if lat == nil || lng == nil {
		return nil
	}
	return &Coordinates{Latitude: *lat, Longitude: *lng}
}

// Validate checks the pair is on the globe.
func (c Coordinates) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrValidation, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrValidation, c.Longitude)
	}
	return nil
}

// Report is a citizen-submitted issue and its lifecycle state.
type Report struct {
	ID                 uuid.UUID     `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Category           string        `json:"category"`
	Location           string        `json:"location"`
	Area               *string       `json:"area,omitempty"`
	Coordinates        *Coordinates  `json:"coordinates,omitempty"`
	ReporterID         uuid.UUID     `json:"user_id"`
	Status             Status        `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	ProcessingAt       *time.Time    `json:"processing_at,omitempty"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"`
	BeforeImageURL     *string       `json:"before_image_url,omitempty"`
	AfterImageURL      *string       `json:"after_image_url,omitempty"`
	SatisfactionStatus *Satisfaction `json:"satisfaction_status,omitempty"`
	SatisfactionRating *int          `json:"satisfaction_rating,omitempty"`
	FeedbackText       *string       `json:"feedback_text,omitempty"`

	// Reporter is filled by the admin read-side join and never stored.
	Reporter *ReporterInfo `json:"profiles,omitempty"`
}

// HasFeedback reports whether the one-time rating was already given.
func (r *Report) HasFeedback() bool { return r.SatisfactionStatus != nil }

// Clone returns a deep copy so callers can never alias pointer fields of a
// report held by a collection.
func (r *Report) Clone() *Report {
	c := *r
	c.Area = clonePtr(r.Area)
	c.ProcessingAt = clonePtr(r.ProcessingAt)
	c.ResolvedAt = clonePtr(r.ResolvedAt)
	c.BeforeImageURL = clonePtr(r.BeforeImageURL)
	c.AfterImageURL = clonePtr(r.AfterImageURL)
	c.SatisfactionStatus = clonePtr(r.SatisfactionStatus)
	c.SatisfactionRating = clonePtr(r.SatisfactionRating)
	c.FeedbackText = clonePtr(r.FeedbackText)
	c.Coordinates = clonePtr(r.Coordinates)
	c.Reporter = clonePtr(r.Reporter)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ReportDraft is what a citizen submits; the store assigns status Reported.
type ReportDraft struct {
	Title          string
	Description    string
	Category       string
	Location       string
	Area           *string
	Coordinates    *Coordinates
	BeforeImageURL *string
	ReporterID     uuid.UUID
}

// ReportPatch is a partial update. Nil fields are left untouched.
type ReportPatch struct {
	Status             *Status
	ProcessingAt       *time.Time
	ResolvedAt         *time.Time
	AfterImageURL      *string
	SatisfactionStatus *Satisfaction
	SatisfactionRating *int
	FeedbackText       *string
}

// TouchesFeedback reports whether the patch writes the write-once feedback fields.
func (p ReportPatch) TouchesFeedback() bool {
	return p.SatisfactionStatus != nil || p.SatisfactionRating != nil || p.FeedbackText != nil
}

// Empty reports whether the patch writes nothing.
func (p ReportPatch) Empty() bool {
	return p.Status == nil && p.ProcessingAt == nil && p.ResolvedAt == nil &&
		p.AfterImageURL == nil && !p.TouchesFeedback()
}

// Photo is an evidence image received from an actor.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

// StatusCounts summarises a full collection, independent of any filter.
type StatusCounts struct {
	Total      int `json:"total"`
	Reported   int `json:"reported"`
	Processing int `json:"processing"`
	Resolved   int `json:"resolved"`
}

// ActivityType classifies report activity entries.
type ActivityType string

const (
	ActivitySubmission   ActivityType = "submission"
	ActivityStatusChange ActivityType = "status_change"
	ActivityFeedback     ActivityType = "feedback"
)

// ActivityLog is an accountability record of an action on a report.
type ActivityLog struct {
	ID          uuid.UUID    `json:"id"`
	ReportID    uuid.UUID    `json:"report_id"`
	ActorID     uuid.UUID    `json:"actor_id"`
	Type        ActivityType `json:"activity_type"`
	Description string       `json:"action_description"`
	CreatedAt   time.Time    `json:"created_at"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database,omitempty"`
	Sessions int    `json:"sessions,omitempty"`
}
