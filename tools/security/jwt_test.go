package security

import (
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
)

var secret = []byte("unit-test-secret")

func TestVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions(secret)
	tok, exp, err := Generate(opts, "user-1", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry in the past: %v", exp)
	}

	claims, err := NewHMACVerifier(opts).Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	uid, err := ResolveUserID(claims)
	if err != nil || uid != "user-1" {
		t.Fatalf("ResolveUserID = %q, %v", uid, err)
	}
}

func TestVerifyFailures(t *testing.T) {
	v := NewHMACVerifier(DefaultOptions(secret))

	if _, err := v.Verify(""); !errs.IsCode(err, errs.UnauthorizedErrorCode) {
		t.Fatalf("empty token: err = %v", err)
	}
	if _, err := v.Verify("garbage.token.here"); !errs.IsCode(err, errs.UnauthorizedErrorCode) {
		t.Fatalf("garbage token: err = %v", err)
	}

	// wrong key
	other, _, err := Generate(DefaultOptions([]byte("other-secret")), "user-1", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := v.Verify(other); !errs.IsCode(err, errs.UnauthorizedErrorCode) {
		t.Fatalf("wrong key: err = %v", err)
	}

	// expired
	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := v.Verify(expired); !errs.IsCode(err, errs.UnauthorizedErrorCode) {
		t.Fatalf("expired token: err = %v", err)
	}
}

func TestResolveUserIDClaimPriority(t *testing.T) {
	cases := []struct {
		name   string
		claims jwtlib.MapClaims
		want   string
		ok     bool
	}{
		{"id wins over sub", jwtlib.MapClaims{"id": "a", "sub": "b"}, "a", true},
		{"uid next", jwtlib.MapClaims{"uid": "u", "sub": "b"}, "u", true},
		{"userId next", jwtlib.MapClaims{"userId": "x", "sub": "b"}, "x", true},
		{"sub fallback", jwtlib.MapClaims{"sub": "s"}, "s", true},
		{"empty string skipped", jwtlib.MapClaims{"id": "", "sub": "s"}, "s", true},
		{"non-string skipped", jwtlib.MapClaims{"id": 42, "sub": "s"}, "s", true},
		{"nothing resolvable", jwtlib.MapClaims{"scope": "chat"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveUserID(tc.claims)
			if tc.ok && (err != nil || got != tc.want) {
				t.Fatalf("got %q, %v; want %q", got, err, tc.want)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error, got %q", got)
			}
		})
	}
}

func TestBearerFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=qtok", nil)
	if got := BearerFromRequest(r); got != "qtok" {
		t.Fatalf("query token = %q", got)
	}

	r = httptest.NewRequest("GET", "/ws?auth=atok", nil)
	if got := BearerFromRequest(r); got != "atok" {
		t.Fatalf("auth field = %q", got)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer htok")
	if got := BearerFromRequest(r); got != "htok" {
		t.Fatalf("bearer header = %q", got)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "raw-token")
	if got := BearerFromRequest(r); got != "raw-token" {
		t.Fatalf("raw header = %q", got)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	if got := BearerFromRequest(r); got != "" {
		t.Fatalf("missing credential = %q, want empty", got)
	}
}
