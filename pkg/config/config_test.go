package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout)
	}
	loc, err := cfg.Quota.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Location = %v, %v", loc, err)
	}
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":9000"
database:
  driver: memory
openai:
  model: gpt-4o
quota:
  timezone: Asia/Tokyo
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Database.Driver != DriverMemory || cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.OpenAI.APIKey != "sk-test" || cfg.Identity.JWTSecret != "s3cret" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	loc, err := cfg.Quota.Location()
	if err != nil || loc.String() != "Asia/Tokyo" {
		t.Errorf("Location = %v, %v", loc, err)
	}
}

func TestDatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app:pw@db.internal:6543/viralyze?sslmode=require")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DatabaseConfig{
		Driver:   DriverPostgres,
		Host:     "db.internal",
		Port:     6543,
		User:     "app",
		Password: "pw",
		DBName:   "viralyze",
		SSLMode:  "require",
	}
	if cfg.Database != want {
		t.Errorf("database = %+v, want %+v", cfg.Database, want)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("VIRALYZE_DATABASE_DRIVER", "oracle")
	if _, err := LoadConfig(""); err == nil {
		t.Error("want error for unknown driver")
	}

	t.Setenv("VIRALYZE_DATABASE_DRIVER", "")
	t.Setenv("VIRALYZE_QUOTA_TIMEZONE", "Mars/Olympus")
	if _, err := LoadConfig(""); err == nil {
		t.Error("want error for unknown timezone")
	}
}
