package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier("secret")
	id := uuid.New()

	good, err := v.Sign(id, "asha@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	expired, _ := v.Sign(id, "asha@example.com", -time.Minute)
	foreign, _ := NewTokenVerifier("other").Sign(id, "asha@example.com", time.Hour)
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": id.String(), "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "service_role", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", good, false},
		{"expired", expired, true},
		{"wrong secret", foreign, true},
		{"alg none", noneAlg, true},
		{"non-uuid subject", badSubject, true},
		{"garbage", "not.a.token", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident, err := v.Verify(tt.token)
			if tt.wantErr {
				if !errors.Is(err, models.ErrAuth) {
					t.Fatalf("err = %v, want ErrAuth", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if ident.ID != id || ident.Email != "asha@example.com" {
				t.Errorf("identity = %+v", ident)
			}
		})
	}
}

func TestSupabaseSignIn(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("apikey = %q", r.Header.Get("apikey"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "hunter22" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "tok",
			"refresh_token": "ref",
			"expires_in":    3600,
			"user":          map[string]any{"id": id.String(), "email": body["email"]},
		})
	}))
	defer srv.Close()

	c := NewSupabase(srv.URL, "anon")
	sess, err := c.SignIn(context.Background(), "asha@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.AccessToken != "tok" || sess.UserID != id || sess.Email != "asha@example.com" {
		t.Errorf("session = %+v", sess)
	}
	if time.Until(sess.ExpiresAt) < 59*time.Minute {
		t.Errorf("ExpiresAt = %v", sess.ExpiresAt)
	}

	_, err = c.SignIn(context.Background(), "asha@example.com", "wrong")
	if !errors.Is(err, models.ErrAuth) || !strings.Contains(err.Error(), "Invalid login credentials") {
		t.Fatalf("err = %v", err)
	}
}

func TestSupabaseSignUp(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		body string
	}{
		{"bare user", `{"id":"` + id.String() + `","email":"a@example.com"}`},
		{"session", `{"access_token":"t","user":{"id":"` + id.String() + `","email":"a@example.com"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var meta map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				json.NewDecoder(r.Body).Decode(&body)
				meta, _ = body["data"].(map[string]any)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ident, err := NewSupabase(srv.URL, "anon").SignUp(context.Background(), "a@example.com", "pw123456", "Asha")
			if err != nil {
				t.Fatalf("SignUp: %v", err)
			}
			if ident.ID != id {
				t.Errorf("ID = %v, want %v", ident.ID, id)
			}
			if meta["full_name"] != "Asha" {
				t.Errorf("metadata = %v", meta)
			}
		})
	}
}

func TestSupabaseSignOut(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewSupabase(srv.URL, "anon").SignOut(context.Background(), "tok"); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
