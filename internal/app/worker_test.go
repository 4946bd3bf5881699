package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/mermaidboard/internal/config"
	"github.com/hitoshi/mermaidboard/internal/metrics"
	"github.com/hitoshi/mermaidboard/internal/worker/cleanup"
)

func TestNewMetricsServer_Disabled(t *testing.T) {
	if server := newMetricsServer("", newRegistry()); server != nil {
		t.Errorf("newMetricsServer(\"\") = %+v, want nil", server)
	}
}

func TestNewMetricsServer_OnlyServesMetrics(t *testing.T) {
	server := newMetricsServer("9191", newRegistry())
	if server == nil {
		t.Fatal("newMetricsServer returned nil")
	}
	if server.Addr != ":9191" {
		t.Errorf("Addr = %q, want :9191", server.Addr)
	}

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/api/health status = %d, want 404", rec.Code)
	}
}

func TestWorker_PurgedRowsAreExported(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM t_sessions WHERE expires_at <= $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM t_refresh_tokens WHERE expires_at <= $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	cfg := &config.Config{
		JWTSecretKey:           "worker-test-secret-key-at-least-32-bytes",
		AccessTokenExpiresSec:  3600,
		RefreshTokenExpiresSec: 2592000,
	}
	reg := newRegistry()
	sessions := newSessionManager(cfg, db, metrics.NewCollector(reg))

	job := cleanup.NewCleanupJob(sessions, slog.New(slog.DiscardHandler))
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}

	rec := httptest.NewRecorder()
	newMetricsServer("9191", reg).Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`mermaidboard_purged_rows_total{kind="sessions"} 4`,
		`mermaidboard_purged_rows_total{kind="refresh_tokens"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics does not contain %q", want)
		}
	}
}
