package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/annotator/internal/platform/workspace"
)

func newTestSessions(t *testing.T) *Sessions {
	t.Helper()
	s, err := NewSessions([]byte("test-signing-key-0123456789abcdef"), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestSessions_IssueAndVerify(t *testing.T) {
	s := newTestSessions(t)

	token, email, expiresAt, err := s.Issue("  Reader@Hospital.org ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "reader@hospital.org" {
		t.Errorf("expected normalized email, got %q", email)
	}
	if !expiresAt.After(time.Now()) {
		t.Errorf("expected expiry in the future, got %v", expiresAt)
	}

	got, err := s.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "reader@hospital.org" {
		t.Errorf("Verify = %q, want reader@hospital.org", got)
	}
}

func TestSessions_IssueRejectsInvalidEmail(t *testing.T) {
	s := newTestSessions(t)
	if _, _, _, err := s.Issue("not-an-email"); !errors.Is(err, workspace.ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestSessions_VerifyRejectsForeignKey(t *testing.T) {
	s := newTestSessions(t)
	other, err := NewSessions([]byte("another-key"), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, _, _, err := other.Issue("reader@hospital.org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Verify(token); err == nil {
		t.Error("expected token signed with another key to be rejected")
	}
}

func TestSessions_VerifyRejectsExpired(t *testing.T) {
	s := newTestSessions(t)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, _, err := s.Issue("reader@hospital.org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.now = time.Now
	if _, err := s.Verify(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestNewSessions_GeneratesKey(t *testing.T) {
	s, err := NewSessions(nil, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.key) != 32 {
		t.Errorf("expected 32 byte generated key, got %d", len(s.key))
	}

	if _, err := NewSessions(nil, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestSessionMiddleware_SetsUser(t *testing.T) {
	s := newTestSessions(t)
	token, _, _, _ := s.Issue("reader@hospital.org")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cases", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	handler := func(c echo.Context) error {
		seen = UserIDFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	if err := SessionMiddleware(s)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "reader@hospital.org" {
		t.Errorf("expected user on context, got %q", seen)
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	s := newTestSessions(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/cases", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			handler := func(c echo.Context) error {
				t.Error("handler should not run")
				return nil
			}

			err := SessionMiddleware(s)(handler)(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", httpErr.Code)
			}
		})
	}
}
