package config

import (
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/viper"

	"github.com/goliatone/go-accounts"
)

const EnvPrefix = "ACCOUNTS"

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	MetricsAddress string `mapstructure:"metrics_address"`
	Debug          bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`
}

type AuthConfig struct {
	SigningKey          string   `mapstructure:"signing_key"`
	SigningMethod       string   `mapstructure:"signing_method"`
	TokenExpiration     int      `mapstructure:"token_expiration"`
	Issuer              string   `mapstructure:"issuer"`
	Audience            []string `mapstructure:"audience"`
	RevealAccountStatus bool     `mapstructure:"reveal_account_status"`
}

type AccountsConfig struct {
	AutoApprove       bool          `mapstructure:"auto_approve"`
	ReviewerEmail     string        `mapstructure:"reviewer_email"`
	ReviewURL         string        `mapstructure:"review_url"`
	LoginURL          string        `mapstructure:"login_url"`
	ResetURL          string        `mapstructure:"reset_url"`
	ResetWindow       time.Duration `mapstructure:"reset_window"`
	MinPasswordLength int           `mapstructure:"min_password_length"`
	PhoneRegion       string        `mapstructure:"phone_region"`
	SiteName          string        `mapstructure:"site_name"`
	ActivityRetention time.Duration `mapstructure:"activity_retention"`
	PurgeInterval     time.Duration `mapstructure:"purge_interval"`
}

// AdminConfig describes the administrator ensured at startup, skipped when
// Email is empty
type AdminConfig struct {
	Email       string `mapstructure:"email"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DisplayName string `mapstructure:"display_name"`
	CompanyName string `mapstructure:"company_name"`
	TaxID       string `mapstructure:"tax_id"`
	Role        string `mapstructure:"role"`
}

// Message returns the registration payload used to bootstrap the admin
func (a AdminConfig) Message() accounts.RegisterAccountMessage {
	return accounts.RegisterAccountMessage{
		Email:       a.Email,
		Username:    a.Username,
		Password:    a.Password,
		DisplayName: a.DisplayName,
		CompanyName: a.CompanyName,
		TaxID:       a.TaxID,
		Role:        accounts.AccountRole(a.Role),
	}
}

type SMTPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	FromName   string `mapstructure:"from_name"`
	Encryption string `mapstructure:"encryption"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

type LogConfig struct {
	// Level is trace, debug, info, warn or error
	Level string `mapstructure:"level"`
	// Format is pretty, console or json
	Format string `mapstructure:"format"`
}

// LevelFor returns the configured level, raised to trace in debug mode
func (l LogConfig) LevelFor(debug bool) string {
	if debug {
		return "trace"
	}
	return strings.ToLower(strings.TrimSpace(l.Level))
}

// Config is the accountsd configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Admin    AdminConfig    `mapstructure:"admin"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

var _ accounts.Config = AuthConfig{}

func (a AuthConfig) GetSigningKey() string    { return a.SigningKey }
func (a AuthConfig) GetSigningMethod() string { return a.SigningMethod }
func (a AuthConfig) GetTokenExpiration() int  { return a.TokenExpiration }
func (a AuthConfig) GetIssuer() string        { return a.Issuer }
func (a AuthConfig) GetAudience() []string    { return a.Audience }

// Service returns the options for accounts.NewAccountService
func (a AccountsConfig) Service() accounts.ServiceConfig {
	return accounts.ServiceConfig{
		AutoApprove:       a.AutoApprove,
		ReviewerEmail:     a.ReviewerEmail,
		ReviewURL:         a.ReviewURL,
		LoginURL:          a.LoginURL,
		MinPasswordLength: a.MinPasswordLength,
		PhoneRegion:       a.PhoneRegion,
	}
}

// Recovery returns the options for accounts.NewPasswordRecovery
func (a AccountsConfig) Recovery() accounts.RecoveryConfig {
	return accounts.RecoveryConfig{
		ResetURL:          a.ResetURL,
		ResetWindow:       a.ResetWindow,
		MinPasswordLength: a.MinPasswordLength,
	}
}

// Load reads path when given, otherwise an optional accounts.yaml in the
// working directory, then overlays ACCOUNTS_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("accounts")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the binary can not start without
func (c *Config) Validate() error {
	fields := map[string]string{}

	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		fields["auth.signing_key"] = "is required"
	}

	if _, ok := accounts.SigningMethod(c.Auth.SigningMethod); !ok {
		fields["auth.signing_method"] = "must be HS256, HS384 or HS512"
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		fields["log.level"] = "must be trace, debug, info, warn or error"
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "pretty", "console", "text", "json":
	default:
		fields["log.format"] = "must be pretty, console or json"
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		fields["database.driver"] = "must be sqlite or postgres"
	}

	if c.Database.DSN == "" {
		fields["database.dsn"] = "is required"
	}

	if c.Admin.Email != "" && c.Admin.Password == "" {
		fields["admin.password"] = "is required when admin.email is set"
	}

	if c.SMTP.Enabled && (c.SMTP.Host == "" || c.SMTP.From == "") {
		fields["smtp"] = "host and from are required when enabled"
	}

	if len(fields) > 0 {
		return goerrors.NewValidationFromMap("invalid configuration", fields)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.debug", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:accounts.db?cache=shared")
	v.SetDefault("database.debug", false)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.signing_method", "HS256")
	v.SetDefault("auth.token_expiration", 24)
	v.SetDefault("auth.issuer", "go-accounts")
	v.SetDefault("auth.audience", []string{"accounts"})
	v.SetDefault("auth.reveal_account_status", false)

	v.SetDefault("accounts.auto_approve", false)
	v.SetDefault("accounts.reviewer_email", "")
	v.SetDefault("accounts.review_url", "http://localhost:8080/admin/accounts")
	v.SetDefault("accounts.login_url", "http://localhost:8080/login")
	v.SetDefault("accounts.reset_url", "http://localhost:8080/password-reset")
	v.SetDefault("accounts.reset_window", accounts.DefaultResetWindow)
	v.SetDefault("accounts.min_password_length", accounts.DefaultMinPasswordLength)
	v.SetDefault("accounts.phone_region", accounts.DefaultPhoneRegion)
	v.SetDefault("accounts.site_name", "Accounts")
	v.SetDefault("accounts.activity_retention", accounts.DefaultActivityRetention)
	v.SetDefault("accounts.purge_interval", 24*time.Hour)

	v.SetDefault("admin.email", "")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.display_name", "Administrator")
	v.SetDefault("admin.company_name", "Accounts")
	v.SetDefault("admin.tax_id", "00000000000")
	v.SetDefault("admin.role", string(accounts.RoleDesigner))

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.from_name", "")
	v.SetDefault("smtp.encryption", "starttls")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_attempts", 5)
	v.SetDefault("redis.window", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pretty")
}
