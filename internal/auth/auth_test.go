package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaydesk/helpdesk-core/internal/config"
	"github.com/relaydesk/helpdesk-core/internal/domain"
)

func newTestVerifier() *Verifier {
	return NewVerifier(config.AuthConfig{JWTSecret: "test-jwt-secret"})
}

func TestSignParseRoundTrip(t *testing.T) {
	v := newTestVerifier()
	org := "org-1"
	tok, err := v.Sign(domain.Actor{
		UserID:         "u-1",
		OrganizationID: &org,
		Email:          "alice@example.com",
		Role:           domain.RoleAdmin,
	}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := v.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.UserID != "u-1" || actor.Email != "alice@example.com" {
		t.Fatalf("actor = %+v", actor)
	}
	if actor.OrganizationID == nil || *actor.OrganizationID != "org-1" {
		t.Fatalf("org = %v", actor.OrganizationID)
	}
	if !actor.IsAdmin() {
		t.Fatal("expected admin actor")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	other := NewVerifier(config.AuthConfig{JWTSecret: "other-secret"})
	tok, err := other.Sign(domain.Actor{UserID: "u-1", Role: domain.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestVerifier().Parse(tok); err == nil {
		t.Fatal("expected parse failure for foreign signature")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	v := newTestVerifier()
	tok, err := v.Sign(domain.Actor{UserID: "u-1", Role: domain.RoleUser}, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Parse(tok); err == nil {
		t.Fatal("expected parse failure for expired token")
	}
}

func TestParseRequiresExpiry(t *testing.T) {
	claims := Claims{UserID: "u-1", Role: "user"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("test-jwt-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestVerifier().Parse(tok); err == nil {
		t.Fatal("expected parse failure for token without exp")
	}
}

func TestParseRejectsUnsignedToken(t *testing.T) {
	claims := Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestVerifier().Parse(tok); err == nil {
		t.Fatal("expected parse failure for alg=none token")
	}
}

func TestUnknownRoleDowngradesToUser(t *testing.T) {
	claims := Claims{
		UserID: "u-1",
		Role:   "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("test-jwt-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	actor, err := newTestVerifier().Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Role != domain.RoleUser {
		t.Fatalf("role = %s, want user", actor.Role)
	}
}
