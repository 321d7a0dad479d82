package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konozy/ordersync/internal/interfaces/http/dto"
)

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: connection refused") }

	tests := []struct {
		name       string
		opts       []HealthOption
		wantStatus int
		want       string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all healthy", []HealthOption{WithHealthCheck("database", ok), WithHealthCheck("redis", ok)}, http.StatusOK, "ok"},
		{"one down", []HealthOption{WithHealthCheck("database", ok), WithHealthCheck("redis", down)}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", NewHealthHandler("1.2.3", tt.opts...).Health)

			w := serve(r, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp dto.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.Len(t, resp.Checks, len(tt.opts))
		})
	}

	t.Run("database stats", func(t *testing.T) {
		r := gin.New()
		r.GET("/health", NewHealthHandler("", WithDatabaseStats(func() dto.DatabaseStats {
			return dto.DatabaseStats{OpenConnections: 3, InUse: 1, Idle: 2}
		})).Health)

		w := serve(r, http.MethodGet, "/health", "")
		var resp dto.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Database)
		assert.Equal(t, 3, resp.Database.OpenConnections)
	})
}
