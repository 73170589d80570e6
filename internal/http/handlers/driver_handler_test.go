// README: Authorization and validation tests for the driver routes.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartline/internal/config"
	"smartline/internal/http/handlers"
	httpmiddleware "smartline/internal/http/middleware"
	"smartline/internal/infra"
	"smartline/internal/modules/dispatch"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/trip"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

// buildTestRouter wires a minimal engine with auth and the driver handler.
// Services carry nil stores; every request below fails in middleware or in
// request validation before any store method runs.
func buildTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	trips := trip.NewService(nil, nil, nil, nil, false, log)
	drivers := driver.NewService(nil, log)
	locations := location.NewService(nil, log)
	var disp *dispatch.Service

	h := handlers.NewDriverHandler(trips, disp, drivers, locations,
		config.DispatchConfig{SearchRadiusKm: 5}, config.QuotaConfig{}, log)

	r := gin.New()
	grp := r.Group("/api/driver", httpmiddleware.Auth(verifier), httpmiddleware.RequireRole("driver"))
	grp.POST("/ride/accept", h.Accept)
	grp.POST("/ride/start", h.Start)
	grp.GET("/ride/pending-ride-list", h.PendingList)
	return r
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAccept_Unauthenticated(t *testing.T) {
	r := buildTestRouter(makeVerifier("d1", "driver"))
	w := doRequest(r, http.MethodPost, "/api/driver/ride/accept",
		map[string]string{"trip_id": "t1"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAccept_WrongRole(t *testing.T) {
	r := buildTestRouter(makeVerifier("c1", "customer"))
	w := doRequest(r, http.MethodPost, "/api/driver/ride/accept",
		map[string]string{"trip_id": "t1"}, "Bearer tok")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestAccept_MissingTripID(t *testing.T) {
	r := buildTestRouter(makeVerifier("d1", "driver"))
	w := doRequest(r, http.MethodPost, "/api/driver/ride/accept",
		map[string]string{}, "Bearer tok")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStart_MissingTripID(t *testing.T) {
	r := buildTestRouter(makeVerifier("d1", "driver"))
	w := doRequest(r, http.MethodPost, "/api/driver/ride/start",
		map[string]string{"otp": "0000"}, "Bearer tok")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPendingList_MissingZoneHeader(t *testing.T) {
	r := buildTestRouter(makeVerifier("d1", "driver"))
	w := doRequest(r, http.MethodGet, "/api/driver/ride/pending-ride-list", nil, "Bearer tok")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without zoneId header, got %d", w.Code)
	}
}

func TestPendingList_InvalidPaging(t *testing.T) {
	r := buildTestRouter(makeVerifier("d1", "driver"))
	req := httptest.NewRequest(http.MethodGet, "/api/driver/ride/pending-ride-list?limit=abc", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("zoneId", "z1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric limit, got %d", w.Code)
	}
}
