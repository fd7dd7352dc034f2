package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/chanhub/internal/config"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		AccessTokenSecret:  "access",
		RefreshTokenSecret: "refresh",
		BcryptCost:         4,
		MediaEndpoint:      "http://localhost:9000",
		MediaRegion:        "us-east-1",
		MediaBucket:        "media",
		MediaAccessKey:     "key",
		MediaSecretKey:     "secret",
		UploadDir:          t.TempDir(),
		UploadMaxBytes:     1 << 20,
		CORSAllowedOrigin:  "http://localhost:3000",
	}

	reg, collector := newRegistry()
	router, err := buildRouter(context.Background(), cfg, db, reg, collector)
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	return router
}

func TestBuildRouter_HealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, want := range []string{`chanhub_http_status_total{status_code="200"} 1`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestBuildRouter_ProtectedRouteRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/current-user", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("body = %s, want error envelope", rec.Body.String())
	}
}
