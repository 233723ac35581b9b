package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/controller"
	httpdto "github.com/vibast-solutions/ms-go-stats-gateway/app/dto/http"
)

func TestHealth(t *testing.T) {
	ctrl := controller.NewHealthController(time.Second)
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	if err := ctrl.Health(ctx); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestReady_AllChecksPass(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	ctrl := controller.NewHealthController(time.Second,
		controller.ReadinessCheck{Name: "mysql", Check: db.PingContext},
		controller.ReadinessCheck{Name: "redis", Check: func(context.Context) error { return nil }},
	)
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/ready", nil), rec)

	if err := ctrl.Ready(ctx); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReady_FailingCheck(t *testing.T) {
	ctrl := controller.NewHealthController(time.Second,
		controller.ReadinessCheck{Name: "mysql", Check: func(context.Context) error { return nil }},
		controller.ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
	)
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/ready", nil), rec)

	if err := ctrl.Ready(ctx); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp httpdto.ReadyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Checks["mysql"] != "ok" || resp.Checks["redis"] != "unavailable" {
		t.Fatalf("unexpected checks: %+v", resp.Checks)
	}
}
