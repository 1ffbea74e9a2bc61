package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/deaddrop/internal/observability"
	"github.com/redis/go-redis/v9"
)

func TestHealth_Livez(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	if err := RegisterHealthRoutes(app, nil); err != nil {
		t.Fatalf("RegisterHealthRoutes() error = %v", err)
	}

	resp, _ := performRequest(t, app, http.MethodGet, "/livez", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
}

func TestHealth_Readyz(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	redisCheck := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

	testCases := []struct {
		name         string
		postgresErr  error
		wantStatus   int
		wantPostgres string
	}{
		{name: "all dependencies up", wantStatus: fiber.StatusOK, wantPostgres: "ok"},
		{name: "postgres down", postgresErr: errors.New("connection refused"), wantStatus: fiber.StatusServiceUnavailable, wantPostgres: "down"},
	}

	for _, tc := range testCases {
		app := fiber.New()
		checks := map[string]Check{
			"postgres": func(context.Context) error { return tc.postgresErr },
			"redis":    redisCheck,
		}
		if err := RegisterHealthRoutes(app, checks); err != nil {
			t.Fatalf("RegisterHealthRoutes() error = %v", err)
		}

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != tc.wantStatus {
			t.Fatalf("%s: status = %d, want %d (body=%s)", tc.name, resp.StatusCode, tc.wantStatus, body)
		}

		var payload struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		decodeJSON(t, body, &payload)
		if payload.Checks["postgres"] != tc.wantPostgres || payload.Checks["redis"] != "ok" {
			t.Fatalf("%s: checks = %v", tc.name, payload.Checks)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	metrics.IncDelivered()

	app := fiber.New()
	RegisterMetricsRoute(app, metrics)

	resp, body := performRequest(t, app, http.MethodGet, "/metrics", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if !strings.Contains(string(body), "deaddrop_notes_delivered_total 1") {
		t.Fatalf("metrics output missing delivered counter:\n%s", body)
	}
}
