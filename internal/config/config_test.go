package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Source.Driver)
	assert.Equal(t, "civicrm_value_", cfg.Source.ExtensionPrefix)
	assert.Equal(t, 4, cfg.Source.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.Source.ConnMaxLifetime)
	assert.Equal(t, int32(4), cfg.Destination.MaxConns)
	assert.Equal(t, 0, cfg.Extract.Limit)
	assert.Equal(t, 300, cfg.Extract.SampleOffset)
	assert.Equal(t, "Individual", cfg.Extract.ContactType)
	assert.Equal(t, DefaultMemberFlags, cfg.Extract.MemberFlags)
	assert.Equal(t, "donations__dashboard_data", cfg.Extract.LedgerField)
	assert.Equal(t, "No data", cfg.Extract.LedgerSentinel)
	assert.Equal(t, DefaultDateFields, cfg.Extract.DateFields)
	assert.Equal(t, 1, cfg.Policy.FiscalYear.Month)
	assert.Equal(t, 1, cfg.Policy.FiscalYear.Day)
	assert.InDelta(t, 10.0, cfg.Policy.DefaultPledgePercentage, 0.001)
	assert.Equal(t, "membershipstatus__giving_what_we_can_member", cfg.Policy.CoreMemberFlag)
	assert.Equal(t, "pledgedamounts__pledge_percentage", cfg.Policy.PledgePercentageField)
	assert.Equal(t, int64(1), cfg.Policy.IncomeOffsetMs)
	assert.Equal(t, "data", cfg.Output.Dir)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
source:
  driver: sqlite
  dsn: /tmp/civicrm.db
  conn_max_lifetime: 90s
extract:
  limit: 25
policy:
  fiscal_year:
    month: 7
    day: 1
  default_pledge_percentage: 5
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Source.Driver)
	assert.Equal(t, "/tmp/civicrm.db", cfg.Source.DSN)
	assert.Equal(t, 90*time.Second, cfg.Source.ConnMaxLifetime)
	assert.Equal(t, 25, cfg.Extract.Limit)
	assert.Equal(t, 7, cfg.Policy.FiscalYear.Month)
	assert.InDelta(t, 5.0, cfg.Policy.DefaultPledgePercentage, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 300, cfg.Extract.SampleOffset)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
source:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("MIGRATE_SOURCE_DRIVER", "mysql")
	t.Setenv("MIGRATE_LOG_LEVEL", "warn")
	t.Setenv("MIGRATE_DESTINATION_DATABASE_URL", "postgres://localhost/pledges")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Source.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://localhost/pledges", cfg.Destination.DatabaseURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("source: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Source.Driver = "mysql"
	cfg.Source.DSN = "user:pass@tcp(localhost:3306)/civicrm"
	cfg.Destination.DatabaseURL = "postgres://localhost/pledges"
	cfg.Extract.LedgerField = "donations__dashboard_data"
	cfg.Policy.FiscalYear = FiscalYearConfig{Month: 1, Day: 1}
	return cfg
}

func TestValidate_Run(t *testing.T) {
	assert.NoError(t, validConfig().Validate("run"))
}

func TestValidate_ExtractMissingSource(t *testing.T) {
	cfg := validConfig()
	cfg.Source.DSN = ""
	cfg.Source.Driver = "oracle"
	cfg.Policy.FiscalYear.Month = 13

	err := cfg.Validate("extract")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.dsn is required")
	assert.Contains(t, err.Error(), `source.driver "oracle" is not supported`)
	assert.Contains(t, err.Error(), "policy.fiscal_year.month must be 1-12")
}

func TestValidate_LoadOnlyNeedsDestination(t *testing.T) {
	cfg := &Config{}
	cfg.Destination.DatabaseURL = "postgres://localhost/pledges"
	assert.NoError(t, cfg.Validate("load"))

	cfg.Destination.DatabaseURL = ""
	err := cfg.Validate("load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination.database_url is required")
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validConfig().Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
