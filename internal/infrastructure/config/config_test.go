package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "konozy-ordersync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "ordersync", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)
		assert.Equal(t, "konozy:events", cfg.Redis.StreamKey)
		assert.Equal(t, "ARBP9OOSHTCHU", cfg.Marketplace.MarketplaceID)
		assert.Equal(t, 3, cfg.Marketplace.MaxAttempts)
		assert.Equal(t, 4, cfg.Sync.Workers)
		assert.Equal(t, []string{"Shipped"}, cfg.Sync.Statuses)
		assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
		assert.Equal(t, 24*time.Hour, cfg.Scheduler.Lookback)
		assert.Zero(t, cfg.Scheduler.JobTimeout, "runs have no deadline unless configured")
		assert.Equal(t, "[KONOZY]", cfg.Notification.Prefix)
		assert.Equal(t, 20, cfg.Notification.MinSeverity)
		assert.Equal(t, "us-east-1", cfg.Storage.Region)
	})

	t.Run("loads values from environment variables with KONOZY prefix", func(t *testing.T) {
		t.Setenv("KONOZY_APP_PORT", "9000")
		t.Setenv("KONOZY_DATABASE_DRIVER", "sqlite")
		t.Setenv("KONOZY_DATABASE_SQLITE_PATH", "/tmp/sync.db")
		t.Setenv("KONOZY_MARKETPLACE_CLIENT_ID", "amzn1.application-oa2-client.x")
		t.Setenv("KONOZY_SYNC_WORKERS", "8")
		t.Setenv("KONOZY_ODOO_ENABLED", "true")
		t.Setenv("KONOZY_ODOO_URL", "https://odoo.example.com")
		t.Setenv("KONOZY_ODOO_DATABASE", "konozy")
		t.Setenv("KONOZY_ODOO_USERNAME", "bot@konozy.com")
		t.Setenv("KONOZY_ODOO_JOURNAL_ID", "7")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, "/tmp/sync.db", cfg.Database.SQLitePath)
		assert.Equal(t, "amzn1.application-oa2-client.x", cfg.Marketplace.ClientID)
		assert.Equal(t, 8, cfg.Sync.Workers)
		assert.True(t, cfg.Odoo.Enabled)
		assert.Equal(t, int64(7), cfg.Odoo.JournalID)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		t.Setenv("KONOZY_DATABASE_MAX_OPEN_CONNS", "10")
		t.Setenv("KONOZY_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("rejects unknown database driver", func(t *testing.T) {
		t.Setenv("KONOZY_DATABASE_DRIVER", "mysql")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.driver")
	})

	t.Run("rejects negative workers", func(t *testing.T) {
		t.Setenv("KONOZY_SYNC_WORKERS", "-1")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.workers")
	})

	t.Run("requires lookback to cover the interval", func(t *testing.T) {
		t.Setenv("KONOZY_SCHEDULER_ENABLED", "true")
		t.Setenv("KONOZY_SCHEDULER_INTERVAL", "2h")
		t.Setenv("KONOZY_SCHEDULER_LOOKBACK", "1h")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scheduler.lookback")
	})

	t.Run("requires odoo connection when enabled", func(t *testing.T) {
		t.Setenv("KONOZY_ODOO_ENABLED", "true")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "odoo.url")
	})

	t.Run("requires telegram credentials when enabled", func(t *testing.T) {
		t.Setenv("KONOZY_NOTIFICATION_TELEGRAM_ENABLED", "true")
		t.Setenv("KONOZY_NOTIFICATION_TELEGRAM_BOT_TOKEN", "123:abc")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telegram")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func(t *testing.T) {
		t.Setenv("KONOZY_APP_ENV", "production")
		t.Setenv("KONOZY_JWT_SECRET", "this-is-a-very-secure-jwt-secret-key-32chars")
		t.Setenv("KONOZY_DATABASE_PASSWORD", "secure-password")
		t.Setenv("KONOZY_DATABASE_SSLMODE", "require")
	}

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"requires jwt.secret", map[string]string{"KONOZY_JWT_SECRET": ""}, "jwt.secret is required in production"},
		{"requires long jwt.secret", map[string]string{"KONOZY_JWT_SECRET": "short-secret"}, "at least 32 characters"},
		{"requires database.password", map[string]string{"KONOZY_DATABASE_PASSWORD": ""}, "database.password is required in production"},
		{"requires SSL", map[string]string{"KONOZY_DATABASE_SSLMODE": "disable"}, "database.sslmode cannot be 'disable'"},
		{"forbids full SQL in traces", map[string]string{"KONOZY_TELEMETRY_DB_LOG_FULL_SQL": "true"}, "db_log_full_sql"},
		{"valid", nil, ""},
		{"sqlite skips database checks", map[string]string{"KONOZY_DATABASE_DRIVER": "sqlite", "KONOZY_DATABASE_PASSWORD": ""}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidProductionBase(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "production", cfg.App.Env)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "/testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.local", Port: 6380}
	assert.Equal(t, "cache.local:6380", cfg.Addr())
}

func TestFromViper_FeeAccounts(t *testing.T) {
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
[odoo.fee_accounts]
COMMISSION = 6110
FBA_PICK_AND_PACK = 6120
SHIPPING_CHARGE = "4150"
OTHER_FEE = 0
`)))

	cfg := fromViper(v)
	assert.Equal(t, map[string]int{
		"COMMISSION":        6110,
		"FBA_PICK_AND_PACK": 6120,
		"SHIPPING_CHARGE":   4150,
	}, cfg.Odoo.FeeAccounts)

	assert.Nil(t, fromViper(viper.New()).Odoo.FeeAccounts)
}
