// Package auth is the session provider: it signs actors in and up against
// Supabase GoTrue and verifies the access tokens GoTrue issues.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
)

// Session is an authenticated GoTrue session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       uuid.UUID `json:"user_id"`
	Email        string    `json:"email"`
}

// Identity is the subject of a verified token or a fresh signup.
type Identity struct {
	ID    uuid.UUID
	Email string
}

// Supabase signs actors in and out through the project's GoTrue instance.
type Supabase struct {
	client gotrue.Client
}

// NewSupabase creates a client for the project at baseURL.
func NewSupabase(baseURL, anonKey string) *Supabase {
	client := gotrue.New("", anonKey).
		WithCustomGoTrueURL(strings.TrimRight(baseURL, "/") + "/auth/v1")
	return &Supabase{client: client}
}

// SignIn exchanges email and password for a session.
func (s *Supabase) SignIn(_ context.Context, email, password string) (*Session, error) {
	resp, err := s.client.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuth, err)
	}
	if resp.User.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: token response carries no user", models.ErrAuth)
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		UserID:       resp.User.ID,
		Email:        resp.User.Email,
	}, nil
}

// SignUp registers a new identity with displayName stored as full_name
// metadata.
func (s *Supabase) SignUp(_ context.Context, email, password, displayName string) (*Identity, error) {
	resp, err := s.client.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"full_name": displayName},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuth, err)
	}

	// With email confirmation off GoTrue answers with a session wrapping the
	// user instead of the bare user.
	u := resp.User
	if u.ID == uuid.Nil {
		u = resp.Session.User
	}
	if u.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: signup response carries no user", models.ErrAuth)
	}
	return &Identity{ID: u.ID, Email: u.Email}, nil
}

// SignOut revokes the session behind accessToken.
func (s *Supabase) SignOut(_ context.Context, accessToken string) error {
	if err := s.client.WithToken(accessToken).Logout(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuth, err)
	}
	return nil
}
