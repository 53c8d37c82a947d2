package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  host: "127.0.0.1"
  port: 8080
  mode: "debug"
database:
  host: "localhost"
  port: 5432
  user: "portal"
  password: "secret"
  db_name: "loanportal"
redis:
  enabled: true
  addr: "localhost:6379"
kafka:
  enabled: true
  brokers: ["localhost:9092"]
  group_id: "portal-worker"
crm:
  base_url: "https://example.amocrm.ru"
  access_token: "token"
engine:
  review_window: 20m
  penalty_rate: 0.001
  default_term_days: 30
  timezone: "Europe/Moscow"
log:
  level: "debug"
  format: "console"
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile_ValidConfig(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "portal", cfg.Database.User)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://example.amocrm.ru", cfg.CRM.BaseURL)
	assert.Equal(t, 20*time.Minute, cfg.Engine.ReviewWindow)
	assert.Equal(t, "console", cfg.Log.Format)

	loc, err := cfg.Engine.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestLoad_FromFile_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_FromFile_InvalidYAML(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "server: [\n"))
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	yaml := validConfigYAML + "\nworker:\n  page_size: 500\n"
	_, err := Load(createTempConfigFile(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.page_size")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LOANPORTAL_SERVER_PORT", "9999")
	t.Setenv("LOANPORTAL_CRM_ACCESS_TOKEN", "from-env")

	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.CRM.AccessToken)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOANPORTAL_DATABASE_USER", "portal")
	t.Setenv("LOANPORTAL_CRM_BASE_URL", "https://env.amocrm.ru")
	t.Setenv("LOANPORTAL_ENGINE_REVIEW_WINDOW", "600s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "portal", cfg.Database.User)
	assert.Equal(t, "https://env.amocrm.ru", cfg.CRM.BaseURL)
	assert.Equal(t, 600*time.Second, cfg.Engine.ReviewWindow)
	assert.Equal(t, DefaultPenaltyRate, cfg.Engine.PenaltyRate)
}

func TestLoadFromEnv_MissingRequired(t *testing.T) {
	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.user")
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) })
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(filepath.Join(t.TempDir(), "nope.yaml"), func(*Config) {}, nil)
	assert.Error(t, err)
}
