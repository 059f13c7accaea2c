package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"posledger/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/shifts/active?register_id=reg-1", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	want := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Access-Control-Allow-Headers": "Content-Type, Authorization, X-CSRF-Token",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Fatalf("%s: expected %q, got %q", header, value, got)
		}
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "cashier-1", Password: "guess"})

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.7:41000"
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	for i, code := range codes[:5] {
		if code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, code)
		}
	}
	if codes[5] != http.StatusTooManyRequests {
		t.Fatalf("attempt 6: expected 429, got %d", codes[5])
	}

	// Another terminal is not affected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.8:41000"
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from a fresh client, got %d", rec.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	cashier := newSession(t, api, "cashier-1", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/cash-operations", map[string]string{
		"shift_id":       "shift-1",
		"register_id":    "reg-1",
		"operation_type": "SALE",
		"amount":         "10",
		"payment_method": "CASH",
		"description":    strings.Repeat("x", (1<<20)+16),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	body, _ := json.Marshal(map[string]string{
		"shift_id":       "shift-nonexistent",
		"register_id":    "reg-1",
		"operation_type": "WITHDRAWAL",
		"amount":         "10",
		"payment_method": "CASH",
		"manager_pin":    "000000",
	})

	for i := 0; i < 9; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cash-operations", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestMutationWithoutCSRFTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	body, _ := json.Marshal(map[string]string{"register_id": "reg-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shifts/open", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	cashier := newSession(t, api, "cashier-1", "cashier123")

	rec := cashier.do(http.MethodPost, "/api/v1/shifts/open", map[string]any{
		"register_id":    "reg-1",
		"initial_amount": "100",
		"drawer_color":   "red",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestCashierCannotManageRegistersOrMethods(t *testing.T) {
	api := newTestAPI(t)
	cashier := newSession(t, api, "cashier-1", "cashier123")

	checks := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPatch, "/api/v1/registers/reg-1/status", map[string]string{"status": "MAINTENANCE"}},
		{http.MethodPost, "/api/v1/payment-methods", map[string]string{"shop_id": "main-shop", "name": "Tips", "kind": "CUSTOM"}},
		{http.MethodPost, "/api/v1/payment-methods/pm-bank/deposit", map[string]string{"amount": "10"}},
		{http.MethodPost, "/api/v1/inventory/adjust", map[string]string{"warehouse_product_id": "wp-rice", "target": "10"}},
		{http.MethodPost, "/api/v1/shifts/interrupt", map[string]string{"shift_id": "x", "reason": "power cut"}},
	}
	for _, c := range checks {
		if rec := cashier.do(c.method, c.path, c.body); rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403 for cashier, got %d", c.method, c.path, rec.Code)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	if payload["csrf_token"] == "" {
		t.Fatalf("csrf-token response carried no token")
	}
	return payload["csrf_token"]
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return login(t, api, "admin", "admin123")
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s: status %d", username, rec.Code)
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("login as %s returned no access token", username)
	}
	return payload.AccessToken
}
