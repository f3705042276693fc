package config

import (
	"os"
	"testing"
	"time"

	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/storage"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "OG_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "OG_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true string", "true", false, true},
		{"one", "1", false, true},
		{"upper case", "TRUE", false, true},
		{"false string", "false", true, false},
		{"garbage", "yes", true, false},
		{"unset keeps default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("OG_TEST_BOOL", tt.envValue)
			}
			if got := getEnvBool("OG_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvIntAndDuration(t *testing.T) {
	t.Setenv("OG_TEST_INT", "42")
	t.Setenv("OG_TEST_BAD_INT", "forty")
	t.Setenv("OG_TEST_DURATION", "90s")

	if got := getEnvInt("OG_TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("OG_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %d, want default 7", got)
	}
	if got := getEnvDuration("OG_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("OG_TEST_DURATION_UNSET", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() default = %v, want 1s", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]observability.LogLevel{
		"debug":   observability.DebugLevel,
		"INFO":    observability.InfoLevel,
		"warning": observability.WarnLevel,
		"warn":    observability.WarnLevel,
		"error":   observability.ErrorLevel,
		"verbose": observability.InfoLevel,
	}
	for input, want := range tests {
		if got := parseLogLevel(input); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Server.Port != "8080" {
			t.Errorf("Port = %s, want 8080", cfg.Server.Port)
		}
		if cfg.Storage.Driver != storage.DriverSQLite {
			t.Errorf("Driver = %s, want %s", cfg.Storage.Driver, storage.DriverSQLite)
		}
		if cfg.Groups.PurgeSchedule != "@hourly" {
			t.Errorf("PurgeSchedule = %s, want @hourly", cfg.Groups.PurgeSchedule)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("OG_PORT", "8181")
		t.Setenv("OG_DATABASE_DRIVER", "postgres")
		t.Setenv("OG_DATABASE_URL", "postgres://localhost/og")
		t.Setenv("OG_REDIS_URL", "redis://localhost:6379/1")
		t.Setenv("OG_SNAPSHOT_TTL", "2m")
		t.Setenv("OG_ROLE_CACHE_SIZE", "64")
		t.Setenv("OG_SETTINGS_PATH", "/etc/og/settings.yaml")
		t.Setenv("OG_LOG_LEVEL", "debug")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Server.Port != "8181" {
			t.Errorf("Port = %s, want 8181", cfg.Server.Port)
		}
		if cfg.Storage.Driver != storage.DriverPostgres || cfg.Storage.DatabaseURL != "postgres://localhost/og" {
			t.Errorf("unexpected storage config: %+v", cfg.Storage)
		}
		if cfg.Storage.RedisURL != "redis://localhost:6379/1" {
			t.Errorf("RedisURL = %s", cfg.Storage.RedisURL)
		}
		if cfg.Storage.CacheTTL["snapshot"] != 2*time.Minute {
			t.Errorf("snapshot TTL = %v, want 2m", cfg.Storage.CacheTTL["snapshot"])
		}
		if cfg.Storage.RoleCacheSize != 64 {
			t.Errorf("RoleCacheSize = %d, want 64", cfg.Storage.RoleCacheSize)
		}
		if cfg.Groups.SettingsPath != "/etc/og/settings.yaml" {
			t.Errorf("SettingsPath = %s", cfg.Groups.SettingsPath)
		}
		if cfg.Observability.LogLevel != observability.DebugLevel {
			t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
		}
	})

	t.Run("invalid driver fails validation", func(t *testing.T) {
		t.Setenv("OG_DATABASE_DRIVER", "mysql")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error for mysql driver")
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
			Storage: storage.DefaultConfig(),
			Groups:  GroupsConfig{PurgeSchedule: "*/5 * * * *"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, true},
		{"missing database url", func(c *Config) { c.Storage.DatabaseURL = "" }, true},
		{"bad cron", func(c *Config) { c.Groups.PurgeSchedule = "every tuesday" }, true},
		{"purge disabled", func(c *Config) { c.Groups.PurgeSchedule = "" }, false},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "og"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMain(m *testing.M) {
	for _, key := range []string{"OG_PORT", "OG_DATABASE_DRIVER", "OG_DATABASE_URL", "OG_PURGE_SCHEDULE"} {
		os.Unsetenv(key)
	}
	os.Exit(m.Run())
}
