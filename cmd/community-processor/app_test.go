package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthHandler_AllHealthy(t *testing.T) {
	h := healthHandler([]healthCheck{
		{name: "community", check: func(context.Context) error { return nil }},
		{name: "kafka", check: func(context.Context) error { return nil }},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, map[string]string{"community": "ok", "kafka": "ok"}, report)
}

func TestHealthHandler_FailingCheck(t *testing.T) {
	h := healthHandler([]healthCheck{
		{name: "community", check: func(context.Context) error { return nil }},
		{name: "kafka", check: func(context.Context) error { return errors.New("dial 127.0.0.1:9092: connection refused") }},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "ok", report["community"])
	require.Contains(t, report["kafka"], "connection refused")
}

func TestHealthHandler_ChecksAreBounded(t *testing.T) {
	h := healthHandler([]healthCheck{
		{name: "journal", check: func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			require.WithinDuration(t, time.Now().Add(healthTimeout), deadline, time.Second)
			return nil
		}},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

type replayRoutes struct{}

func (replayRoutes) RegisterRoutes(router chi.Router) {
	router.Route("/communities", func(r chi.Router) {
		r.Post("/reconcile", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})
}

func postReconcile(router http.Handler, authorization string) int {
	req := httptest.NewRequest(http.MethodPost, "/communities/reconcile", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestMountOperatorRoutes_RequiresBearer(t *testing.T) {
	router := chi.NewRouter()
	mountOperatorRoutes(router, replayRoutes{}, "ops-secret", zap.NewNop())

	require.Equal(t, http.StatusUnauthorized, postReconcile(router, ""))

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("guess"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, postReconcile(router, "Bearer "+forged))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("ops-secret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, postReconcile(router, "Bearer "+signed))
}

func TestMountOperatorRoutes_DisabledWithoutSecret(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mountOperatorRoutes(router, replayRoutes{}, "", zap.NewNop())

	require.Equal(t, http.StatusNotFound, postReconcile(router, ""))
}
