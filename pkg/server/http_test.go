package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"smallbiznis-payout/pkg/config"
	"smallbiznis-payout/pkg/health"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRouterServesOpsEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(&config.Config{}, health.ProvideHealth(health.HealthParams{}))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}
