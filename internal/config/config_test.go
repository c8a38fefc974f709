package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadUsesDefaultsAndYAMLOverrides(t *testing.T) {
	clearConfigEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	yaml := `
storage:
  driver: memory
gateway:
  mode: fake
  timeout: 12s
settlement:
  platform_fee_bps: 250
  remainder_policy: platform
  send_timeout: 20s
reconcile:
  grace_period: 30m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Storage.Driver != StorageDriverMemory {
		t.Fatalf("unexpected storage driver: %s", cfg.Storage.Driver)
	}
	if cfg.Gateway.Mode != GatewayModeFake {
		t.Fatalf("unexpected gateway mode: %s", cfg.Gateway.Mode)
	}
	if cfg.Gateway.Timeout != 12*time.Second {
		t.Fatalf("unexpected gateway timeout: %s", cfg.Gateway.Timeout)
	}
	if cfg.Settlement.PlatformFeeBps != 250 {
		t.Fatalf("unexpected platform fee: %d", cfg.Settlement.PlatformFeeBps)
	}
	if cfg.Settlement.RemainderPolicy != "platform" {
		t.Fatalf("unexpected remainder policy: %s", cfg.Settlement.RemainderPolicy)
	}
	if cfg.Settlement.SendTimeout != 20*time.Second {
		t.Fatalf("unexpected send timeout: %s", cfg.Settlement.SendTimeout)
	}
	if cfg.Reconcile.GracePeriod != 30*time.Minute {
		t.Fatalf("unexpected grace period: %s", cfg.Reconcile.GracePeriod)
	}

	if cfg.Settlement.DailyBatchLimit != 2 {
		t.Fatalf("daily_batch_limit default should stay 2, got %d", cfg.Settlement.DailyBatchLimit)
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config with missing file: %v", err)
	}

	if cfg.Settlement.PlatformFeeBps != 500 {
		t.Fatalf("unexpected default platform fee: %d", cfg.Settlement.PlatformFeeBps)
	}
	if cfg.Storage.Driver != StorageDriverPostgres {
		t.Fatalf("unexpected default storage driver: %s", cfg.Storage.Driver)
	}
	if cfg.Reconcile.GracePeriod != 15*time.Minute {
		t.Fatalf("unexpected default grace period: %s", cfg.Reconcile.GracePeriod)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PLATFORM_FEE_BPS", "1000")
	t.Setenv("WITHDRAW_DAILY_LIMIT", "3")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("WITHDRAW_SEND_TIMEOUT", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Settlement.PlatformFeeBps != 1000 {
		t.Fatalf("unexpected fee override: %d", cfg.Settlement.PlatformFeeBps)
	}
	if cfg.Settlement.DailyBatchLimit != 3 {
		t.Fatalf("unexpected daily limit override: %d", cfg.Settlement.DailyBatchLimit)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Fatalf("unexpected storage override: %s", cfg.Storage.Driver)
	}
	if cfg.Settlement.SendTimeout != 5*time.Second {
		t.Fatalf("unexpected send timeout override: %s", cfg.Settlement.SendTimeout)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "fee above 100%", key: "PLATFORM_FEE_BPS", val: "10001"},
		{name: "negative fee", key: "PLATFORM_FEE_BPS", val: "-1"},
		{name: "zero daily limit", key: "WITHDRAW_DAILY_LIMIT", val: "0"},
		{name: "unknown storage", key: "STORAGE_DRIVER", val: "sqlite"},
		{name: "bad duration", key: "WITHDRAW_SEND_TIMEOUT", val: "soon"},
		{name: "unknown remainder policy", key: "REMAINDER_POLICY", val: "burn"},
		{name: "grace shorter than send", key: "RECONCILE_GRACE_PERIOD", val: "30s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.val)
			}
		})
	}
}

func TestLoadRejectsFakeGatewayInProduction(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "prod-secret")
	t.Setenv("GATEWAY_MODE", "fake")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when fake gateway is configured in production")
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV",
		"HTTP_ADDR",
		"HTTP_READ_TIMEOUT",
		"HTTP_WRITE_TIMEOUT",
		"HTTP_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"STORAGE_DRIVER",
		"POSTGRES_DSN",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"JWT_SECRET",
		"JWT_ACCESS_TTL",
		"GATEWAY_MODE",
		"ESCROW_BASE_URL",
		"ESCROW_API_KEY",
		"ESCROW_TIMEOUT",
		"PLATFORM_FEE_BPS",
		"REMAINDER_POLICY",
		"WITHDRAW_DAILY_LIMIT",
		"WITHDRAW_SEND_TIMEOUT",
		"TOKEN_MINT",
		"RECONCILE_INTERVAL",
		"RECONCILE_GRACE_PERIOD",
	} {
		t.Setenv(key, "")
	}
}
