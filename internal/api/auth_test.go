package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		jwtSecret: "test-secret",
		tokenTTL:  time.Hour,
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !checkPassword(hash, "correct horse battery staple") {
		t.Error("correct password must verify")
	}
	if checkPassword(hash, "wrong password") {
		t.Error("wrong password must not verify")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	s := testServer(t)
	userID := uuid.New()

	raw, err := s.issueToken(userID)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	got, err := s.parseToken(raw)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if got != userID {
		t.Errorf("subject = %s, want %s", got, userID)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	t.Parallel()
	s := testServer(t)
	s.tokenTTL = -time.Minute

	raw, err := s.issueToken(uuid.New())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := s.parseToken(raw); err == nil {
		t.Fatal("expired token must not parse")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	other := testServer(t)
	other.jwtSecret = "different-secret"
	raw, err := other.issueToken(uuid.New())
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := s.parseToken(raw); err == nil {
		t.Fatal("token signed with another secret must not parse")
	}
}

func TestParseTokenRejectsUnsignedAlgorithm(t *testing.T) {
	t.Parallel()
	s := testServer(t)

	claims := jwt.RegisteredClaims{
		Subject:   uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := s.parseToken(raw); err == nil {
		t.Fatal("alg=none token must not parse")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	t.Parallel()
	s := testServer(t)
	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := s.parseToken(raw); err == nil {
			t.Errorf("parseToken(%q) must fail", raw)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	s := testServer(t)
	userID := uuid.New()

	var gotUser uuid.UUID
	handler := s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		gotUser = userFrom(r)
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/signals", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/signals", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/signals", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		raw, err := s.issueToken(userID)
		if err != nil {
			t.Fatalf("issueToken: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/signals", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if gotUser != userID {
			t.Errorf("context user = %s, want %s", gotUser, userID)
		}
	})
}
