package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aawaaz/civic-reports/internal/auth"
	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/aawaaz/civic-reports/internal/store"
	"go.uber.org/zap"
)

// minPasswordLen matches the GoTrue default.
const minPasswordLen = 6

// IdentityProvider is the session provider consumed by AccountService.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) (*auth.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
}

// AccountService signs actors up and in and resolves their role.
type AccountService struct {
	idp       IdentityProvider
	directory store.DirectoryStore
	logger    *zap.SugaredLogger
}

// NewAccountService creates a new account service
func NewAccountService(idp IdentityProvider, directory store.DirectoryStore, logger *zap.SugaredLogger) *AccountService {
	return &AccountService{idp: idp, directory: directory, logger: logger}
}

// SignUp registers a citizen and creates their directory profile.
func (s *AccountService) SignUp(ctx context.Context, email, password, displayName string) (*models.Actor, error) {
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: a valid email is required", models.ErrValidation)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", models.ErrValidation, minPasswordLen)
	}

	ident, err := s.idp.SignUp(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}

	actor := &models.Actor{
		ID:          ident.ID,
		DisplayName: displayName,
		Email:       email,
		Role:        models.RoleCitizen,
	}
	if err := s.directory.CreateProfile(ctx, actor); err != nil {
		s.logger.Errorw("Profile creation failed", "user_id", ident.ID, "error", err)
		return nil, fmt.Errorf("%w: create profile: %v", models.ErrPersistence, err)
	}

	s.logger.Infow("Citizen signed up", "user_id", actor.ID)
	return actor, nil
}

// SignIn exchanges credentials for a session and the actor behind it.
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*auth.Session, *models.Actor, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, nil, fmt.Errorf("%w: email and password are required", models.ErrValidation)
	}
	sess, err := s.idp.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, nil, err
	}
	actor, err := s.Resolve(ctx, &auth.Identity{ID: sess.UserID, Email: sess.Email})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Infow("Actor signed in", "user_id", actor.ID, "role", actor.Role)
	return sess, actor, nil
}

// SignOut revokes the session behind accessToken.
func (s *AccountService) SignOut(ctx context.Context, accessToken string) error {
	return s.idp.SignOut(ctx, accessToken)
}

// Resolve looks up the actor for a verified identity. An identity without a
// profile row is treated as a citizen.
func (s *AccountService) Resolve(ctx context.Context, ident *auth.Identity) (*models.Actor, error) {
	actor, err := s.directory.GetProfile(ctx, ident.ID)
	if errors.Is(err, store.ErrNoRows) {
		return &models.Actor{ID: ident.ID, Email: ident.Email, Role: models.RoleCitizen}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: resolve profile: %v", models.ErrPersistence, err)
	}
	if actor.Email == "" {
		actor.Email = ident.Email
	}
	return actor, nil
}
