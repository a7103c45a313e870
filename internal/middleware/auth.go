package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aawaaz/civic-reports/internal/auth"
	"github.com/aawaaz/civic-reports/internal/models"
	"go.uber.org/zap"
)

// SignInPath is where unauthenticated callers are pointed.
const SignInPath = "/api/v1/auth/login"

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// ActorResolver turns a verified identity into an actor with a role.
type ActorResolver interface {
	Resolve(ctx context.Context, ident *auth.Identity) (*models.Actor, error)
}

type ctxKey int

const (
	actorKey ctxKey = iota
	tokenKey
)

// WithActor returns a context carrying actor and its access token.
func WithActor(ctx context.Context, actor models.Actor, token string) context.Context {
	ctx = context.WithValue(ctx, actorKey, actor)
	return context.WithValue(ctx, tokenKey, token)
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey).(models.Actor)
	return a, ok
}

// TokenFrom returns the bearer token of the authenticated request.
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Unauthorized writes a 401 that points the caller at the sign-in endpoint.
func Unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, map[string]string{"error": msg, "sign_in": SignInPath})
}

// RequireAuth validates the Supabase access token and resolves the actor
// behind it for protected routes
func RequireAuth(verifier TokenVerifier, resolver ActorResolver, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				Unauthorized(w, "Authorization required")
				return
			}

			ident, err := verifier.Verify(token)
			if err != nil {
				Unauthorized(w, "Invalid or expired token")
				return
			}

			actor, err := resolver.Resolve(r.Context(), ident)
			if err != nil {
				logger.Errorw("Actor resolution failed", "user_id", ident.ID, "error", err)
				status := http.StatusServiceUnavailable
				if errors.Is(err, models.ErrAuth) {
					status = http.StatusUnauthorized
				}
				writeError(w, status, map[string]string{"error": "Could not resolve your profile"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), *actor, token)))
		})
	}
}

// RequireAdmin rejects authenticated actors that are not administrators.
// It must run after RequireAuth.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				Unauthorized(w, "Authorization required")
				return
			}
			if !actor.IsAdmin() {
				writeError(w, http.StatusForbidden, map[string]string{"error": "Access denied. Admin only."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
