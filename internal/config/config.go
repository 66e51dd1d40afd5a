package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Destination DestinationConfig `yaml:"destination" mapstructure:"destination"`
	Extract     ExtractConfig     `yaml:"extract" mapstructure:"extract"`
	Policy      PolicyConfig      `yaml:"policy" mapstructure:"policy"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// SourceConfig configures the legacy CRM database.
type SourceConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DSN             string `yaml:"dsn" mapstructure:"dsn"`
	ExtensionPrefix string `yaml:"extension_prefix" mapstructure:"extension_prefix"`
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`

	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// DestinationConfig configures the target Postgres database.
type DestinationConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ExtractConfig configures which contacts are extracted and how rows are read.
type ExtractConfig struct {
	Limit          int      `yaml:"limit" mapstructure:"limit"`
	SampleOffset   int      `yaml:"sample_offset" mapstructure:"sample_offset"`
	ContactType    string   `yaml:"contact_type" mapstructure:"contact_type"`
	MemberFlags    []string `yaml:"member_flags" mapstructure:"member_flags"`
	LedgerField    string   `yaml:"ledger_field" mapstructure:"ledger_field"`
	LedgerSentinel string   `yaml:"ledger_sentinel" mapstructure:"ledger_sentinel"`
	DateFields     []string `yaml:"date_fields" mapstructure:"date_fields"`
}

// PolicyConfig holds the business heuristics applied while splitting ledgers.
type PolicyConfig struct {
	FiscalYear              FiscalYearConfig `yaml:"fiscal_year" mapstructure:"fiscal_year"`
	DefaultPledgePercentage float64          `yaml:"default_pledge_percentage" mapstructure:"default_pledge_percentage"`
	CoreMemberFlag          string           `yaml:"core_member_flag" mapstructure:"core_member_flag"`
	PledgePercentageField   string           `yaml:"pledge_percentage_field" mapstructure:"pledge_percentage_field"`
	JoiningDateField        string           `yaml:"joining_date_field" mapstructure:"joining_date_field"`
	IncomeOffsetMs          int64            `yaml:"income_offset_ms" mapstructure:"income_offset_ms"`
}

// FiscalYearConfig is the fallback fiscal-year anchor (1-based month).
type FiscalYearConfig struct {
	Month int `yaml:"month" mapstructure:"month"`
	Day   int `yaml:"day" mapstructure:"day"`
}

// OutputConfig configures the JSON dump directory.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// RetryConfig configures retries while connecting to either database.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultDateFields are the contact fields rewritten as canonical timestamps.
var DefaultDateFields = []string{
	"birth_date",
	"dates__joining_date",
	"dates__left_date_former_members_",
	"dates__end_date_try_out_givers_",
	"dates__start_date_trying_giving_",
	"outreach__date_started",
	"outreach__date_finished",
	"outreach__next_contact_date",
	"legacydata__date_old_pledge_form_submitted",
}

// DefaultMemberFlags select the contacts that are migrated.
var DefaultMemberFlags = []string{
	"membershipstatus__giving_what_we_can_member",
	"membershipstatus__trying_out_giving",
	"membershipstatus__my_giving_user",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("source.driver", "mysql")
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.extension_prefix", "civicrm_value_")
	v.SetDefault("source.max_open_conns", 4)
	v.SetDefault("source.conn_max_lifetime", "30m")
	v.SetDefault("destination.database_url", "")
	v.SetDefault("destination.max_conns", 4)
	v.SetDefault("extract.limit", 0)
	v.SetDefault("extract.sample_offset", 300)
	v.SetDefault("extract.contact_type", "Individual")
	v.SetDefault("extract.member_flags", DefaultMemberFlags)
	v.SetDefault("extract.ledger_field", "donations__dashboard_data")
	v.SetDefault("extract.ledger_sentinel", "No data")
	v.SetDefault("extract.date_fields", DefaultDateFields)
	v.SetDefault("policy.fiscal_year.month", 1)
	v.SetDefault("policy.fiscal_year.day", 1)
	v.SetDefault("policy.default_pledge_percentage", 10)
	v.SetDefault("policy.core_member_flag", "membershipstatus__giving_what_we_can_member")
	v.SetDefault("policy.pledge_percentage_field", "pledgedamounts__pledge_percentage")
	v.SetDefault("policy.joining_date_field", "dates__joining_date")
	v.SetDefault("policy.income_offset_ms", 1)
	v.SetDefault("output.dir", "data")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "extract",
// "load" or "run"; run requires both halves.
func (c *Config) Validate(mode string) error {
	var errs []string

	needSource := mode == "extract" || mode == "run"
	needDest := mode == "load" || mode == "run"

	if needSource {
		switch c.Source.Driver {
		case "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("source.driver %q is not supported (mysql, sqlite)", c.Source.Driver))
		}
		if c.Source.DSN == "" {
			errs = append(errs, "source.dsn is required")
		}
		if c.Extract.Limit < 0 {
			errs = append(errs, "extract.limit must not be negative")
		}
		if c.Extract.SampleOffset < 0 {
			errs = append(errs, "extract.sample_offset must not be negative")
		}
		if c.Extract.LedgerField == "" {
			errs = append(errs, "extract.ledger_field is required")
		}
		if c.Policy.FiscalYear.Month < 1 || c.Policy.FiscalYear.Month > 12 {
			errs = append(errs, fmt.Sprintf("policy.fiscal_year.month must be 1-12, got %d", c.Policy.FiscalYear.Month))
		}
		if c.Policy.FiscalYear.Day < 1 || c.Policy.FiscalYear.Day > 31 {
			errs = append(errs, fmt.Sprintf("policy.fiscal_year.day must be 1-31, got %d", c.Policy.FiscalYear.Day))
		}
	}

	if needDest && c.Destination.DatabaseURL == "" {
		errs = append(errs, "destination.database_url is required")
	}

	if !needSource && !needDest {
		errs = append(errs, fmt.Sprintf("unknown validation mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
