// Package testutil provides helpers shared by the integration tests: a fake
// Selling Partner API, service configuration for tests, and HTTP helpers.
package testutil

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestJWTSecret signs operator tokens in tests
const TestJWTSecret = "integration-test-secret-0123456789abcdef"

// NewTestConfig returns a configuration with every outbound integration
// disabled and an in-memory sqlite database. Point Marketplace at a
// FakeSellingPartner before bootstrapping.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App: config.AppConfig{Name: "konozy-ordersync", Env: "test", Port: "0"},
		Log: config.LogConfig{Level: "debug", Format: "console", Output: "stdout"},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			SQLitePath:   ":memory:",
			MaxOpenConns: 1,
		},
		HTTP: config.HTTPConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		JWT: config.JWTConfig{Secret: TestJWTSecret, Issuer: "konozy-ordersync"},
		Marketplace: config.MarketplaceConfig{
			MarketplaceID:   "ARBP9OOSHTCHU",
			ClientID:        "amzn1.application-oa2-client.test",
			ClientSecret:    "client-secret",
			RefreshToken:    "Atzr|refresh",
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
			Region:          "eu-west-1",
			RequestTimeout:  5 * time.Second,
			MaxAttempts:     2,
			BaseDelay:       10 * time.Millisecond,
			MaxDelay:        50 * time.Millisecond,
			PageSize:        2,
		},
		Sync: config.SyncConfig{Workers: 2, Statuses: []string{"Shipped"}, LockTTL: time.Minute},
		Scheduler: config.SchedulerConfig{
			Interval:   time.Hour,
			Lookback:   24 * time.Hour,
			JobTimeout: time.Minute,
			QueueSize:  2,
		},
	}
}

// Eventually polls cond every 20ms until it holds or timeout elapses
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
