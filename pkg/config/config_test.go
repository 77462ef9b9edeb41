package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp moves the test into a fresh temp directory so Load() resolves
// config.yaml there instead of the repo root.
func chdirTemp(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
	return tmpDir
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := chdirTemp(t)

	yamlContent := `
port: "3443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
collector:
  batch_size: 200
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Clear env vars that might interfere with test
	os.Unsetenv("PGHOST")
	os.Unsetenv("COLLECTOR_BATCH_SIZE")

	// Set env vars to override YAML values
	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify env vars override YAML
	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}

	// Verify version was set
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}

	// Verify YAML value used for database host (proves YAML was read)
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Collector.BatchSize != 200 {
		t.Errorf("expected Collector.BatchSize=200 (from yaml), got %d", cfg.Collector.BatchSize)
	}
}

func TestLoad_MissingYAMLUsesDefaults(t *testing.T) {
	chdirTemp(t)

	os.Unsetenv("PGHOST")
	os.Unsetenv("PORT")
	os.Unsetenv("COLLECTOR_BATCH_SIZE")
	os.Unsetenv("COLLECTOR_DOWNLOAD_TIMEOUT")

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "3080" {
		t.Errorf("expected default Port=3080, got %s", cfg.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("expected default Database.Host=localhost, got %s", cfg.Database.Host)
	}
	if cfg.Database.MaxConnections != 25 {
		t.Errorf("expected default MaxConnections=25, got %d", cfg.Database.MaxConnections)
	}
	if cfg.Collector.BatchSize != 500 {
		t.Errorf("expected default BatchSize=500, got %d", cfg.Collector.BatchSize)
	}
	if cfg.Collector.DownloadTimeout != 5*time.Minute {
		t.Errorf("expected default DownloadTimeout=5m, got %v", cfg.Collector.DownloadTimeout)
	}
	if cfg.Collector.MaxRedirects != 10 {
		t.Errorf("expected default MaxRedirects=10, got %d", cfg.Collector.MaxRedirects)
	}
}

func TestLoad_PasswordComesFromEnvOnly(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PGPASSWORD", "env-secret")

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.Password != "env-secret" {
		t.Errorf("expected Database.Password from env, got %s", cfg.Database.Password)
	}
}

func TestLoad_RejectsNonPositiveBatchSize(t *testing.T) {
	chdirTemp(t)

	t.Setenv("COLLECTOR_BATCH_SIZE", "0")

	_, err := Load("dev")
	if err == nil {
		t.Fatal("expected error for batch_size=0, got nil")
	}
	if !strings.Contains(err.Error(), "batch_size must be positive") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConnectionString(t *testing.T) {
	dbCfg := &DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "costref",
		Password: "secret",
		Database: "costref_engine",
		SSLMode:  "require",
	}

	got := dbCfg.ConnectionString()
	want := "host=db.internal port=5433 user=costref password=secret dbname=costref_engine sslmode=require"
	if got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
