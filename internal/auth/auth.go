// Package auth verifies bearer tokens issued by the platform's account
// system and puts the resulting Actor on the request context. The core
// never issues tokens itself; it only validates them. An admin bootstrap
// key header covers provisioning before any admin user exists.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/relaydesk/helpdesk-core/internal/config"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
)

type contextKey string

const actorKey contextKey = "actor"

// Claims is the token payload the platform signs for its users.
type Claims struct {
	UserID         string  `json:"user_id"`
	OrganizationID *string `json:"org_id,omitempty"`
	Email          string  `json:"email"`
	Role           string  `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates request credentials.
type Verifier struct {
	secret   []byte
	adminKey string
}

// NewVerifier creates a token verifier from the auth config.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{secret: []byte(cfg.JWTSecret), adminKey: cfg.AdminBootstrapKey}
}

// Parse validates an HS256 token and returns the actor it names.
func (v *Verifier) Parse(tokenString string) (*domain.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}

	role := domain.UserRole(claims.Role)
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}
	return &domain.Actor{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		Email:          claims.Email,
		Role:           role,
	}, nil
}

// Sign issues a token for an actor. Used by tests and local tooling; in
// production the platform's account service signs with the shared secret.
func (v *Verifier) Sign(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         actor.UserID,
		OrganizationID: actor.OrganizationID,
		Email:          actor.Email,
		Role:           string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// isBootstrapAdmin checks the X-Admin-Key header in constant time.
func (v *Verifier) isBootstrapAdmin(r *http.Request) bool {
	if v.adminKey == "" {
		return false
	}
	got := r.Header.Get("X-Admin-Key")
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(v.adminKey)) == 1
}

// Middleware authenticates every request. Accepts a bearer token or the
// admin bootstrap key; everything else is 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.isBootstrapAdmin(r) {
			actor := &domain.Actor{UserID: "bootstrap-admin", Role: domain.RoleAdmin}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			httputil.Unauthorized(w, "missing bearer token")
			return
		}
		actor, err := v.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			httputil.Unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireAdmin gates a route group to admin actors. Must run after
// Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFrom(r.Context())
		if actor == nil || !actor.IsAdmin() {
			httputil.Forbidden(w, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a *domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFrom returns the authenticated actor, or nil outside Middleware.
func ActorFrom(ctx context.Context) *domain.Actor {
	a, _ := ctx.Value(actorKey).(*domain.Actor)
	return a
}
