package config_test

import (
	"os"
	"testing"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/config"
)

func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("ENV", "test")
	os.Setenv("ORCH_DEFAULT_MONTHLY_QUOTA_WTU", "500")
	defer func() {
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("ENV")
		os.Unsetenv("ORCH_DEFAULT_MONTHLY_QUOTA_WTU")
	}()

	cfg := config.Load()
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("expected REDIS_URL to be loaded, got %s", cfg.RedisURL)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected ENV=test, got %s", cfg.Env)
	}
	if cfg.DefaultMonthlyQuotaWTU != 500 {
		t.Fatalf("expected quota 500, got %d", cfg.DefaultMonthlyQuotaWTU)
	}
}

func TestProviderTimeoutFallback(t *testing.T) {
	cfg := config.Load()
	if cfg.ProviderTimeout("unknown-provider") != cfg.DefaultTimeout {
		t.Fatalf("expected fallback to default timeout for unknown provider")
	}
}
