package httpapi

import (
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"posledger/backend/internal/domain"
)

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestParseUsersAcceptsBcryptEntries(t *testing.T) {
	hash := mustHashPassword(t, "s3cret-pass")
	users, err := ParseUsers("Alice:manager:" + hash + ", bob:cashier:" + hash)
	if err != nil {
		t.Fatalf("parse users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "Alice" || users[1].Role != RoleCashier {
		t.Fatalf("unexpected users %+v", users)
	}

	auth := NewAuthManager("secret", time.Hour, "739154", users)
	resp, err := auth.Login(domain.LoginRequest{Username: "alice", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != RoleManager {
		t.Fatalf("expected manager role, got %q", resp.Role)
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"}); err == nil {
		t.Fatalf("dev users must not be seeded when users are configured")
	}
}

func TestParseUsersRejectsPlainPasswordsAndUnknownRoles(t *testing.T) {
	hash := mustHashPassword(t, "pw")
	cases := []string{
		"carol:cashier:plaintext",
		"dave:owner:" + hash,
		"no-colons",
		":cashier:" + hash,
	}
	for _, raw := range cases {
		if _, err := ParseUsers(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
	users, err := ParseUsers("  ")
	if err != nil || users != nil {
		t.Fatalf("expected empty input to yield no users, got %v %v", users, err)
	}
}

func TestTokenRoundTripCarriesRole(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, "739154", nil)
	resp, err := auth.Login(domain.LoginRequest{Username: "cashier-1", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "cashier-1" || actor.Role != RoleCashier {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("another-secret", time.Hour, "739154", nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to fail")
	}
	if _, err := auth.ParseToken(resp.AccessToken + "x"); err == nil {
		t.Fatalf("expected tampered token to fail")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour, "246810", nil)
	if !isPasswordHash(auth.managerPIN) {
		t.Fatalf("expected manager PIN to be stored as hash")
	}
	if !auth.ValidateManagerPIN("246810") {
		t.Fatalf("expected valid manager PIN")
	}
	if auth.ValidateManagerPIN("000000") {
		t.Fatalf("expected invalid manager PIN to fail")
	}

	disabled := NewAuthManager("secret", time.Hour, "", nil)
	if disabled.ValidateManagerPIN("") {
		t.Fatalf("expected empty PIN to fail")
	}
}
