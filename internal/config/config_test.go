package config

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is empty")
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")
	t.Setenv("REDIS_ENABLED", "yes")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AppEnv != "development" || !cfg.IsDevelopment() {
		t.Fatalf("expected development env, got %q", cfg.AppEnv)
	}
	if cfg.WSSendBuffer != 32 {
		t.Fatalf("expected default send buffer 32, got %d", cfg.WSSendBuffer)
	}
	if !cfg.RedisEnabled {
		t.Fatalf("expected redis to be enabled")
	}
	if cfg.PublicBaseURL != "http://127.0.0.1:9090" {
		t.Fatalf("unexpected public base url %q", cfg.PublicBaseURL)
	}
	if cfg.SupabaseEnabled() {
		t.Fatalf("expected supabase to be disabled without credentials")
	}
}

func TestLoadConfigReadsPoolAndInstanceSettings(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_MAX_CONNS", "40")
	t.Setenv("DB_MIN_CONNS", "-1")
	t.Setenv("DB_MAX_CONN_LIFETIME", "2h")
	t.Setenv("DB_MAX_CONN_IDLE_TIME", "soon")
	t.Setenv("INSTANCE_ID", "relay-a")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	pool := cfg.DBPool()
	if pool.MaxConns != 40 || pool.MinConns != 2 {
		t.Fatalf("unexpected pool size: max=%d min=%d", pool.MaxConns, pool.MinConns)
	}
	if pool.MaxConnLifetime != 2*time.Hour {
		t.Fatalf("expected 2h lifetime, got %s", pool.MaxConnLifetime)
	}
	if pool.MaxConnIdleTime != 30*time.Minute {
		t.Fatalf("expected the default idle time for an unparsable value, got %s", pool.MaxConnIdleTime)
	}
	if cfg.InstanceID != "relay-a" {
		t.Fatalf("unexpected instance id %q", cfg.InstanceID)
	}
}

func TestNormalizeEnv(t *testing.T) {
	cases := map[string]string{
		"PROD":    "production",
		" stage ": "staging",
		"testing": "test",
		"qa":      "qa",
	}
	for input, want := range cases {
		if got := normalizeEnv(input); got != want {
			t.Errorf("normalizeEnv(%q) = %q, want %q", input, got, want)
		}
	}
}
