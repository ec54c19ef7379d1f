package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"edudesk.io/internal/auth"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EDUDESK"

const minBootstrapPassword = 8

// Config is the process configuration.
type Config struct {
	HTTPAddr      string        `mapstructure:"http_addr"`
	GRPCAddr      string        `mapstructure:"grpc_addr"`
	PGDSN         string        `mapstructure:"pg_dsn"`
	LogLevel      string        `mapstructure:"log_level"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	JWTExpiresIn  time.Duration `mapstructure:"jwt_expires_in"`
	WebURL        string        `mapstructure:"web_url"`
	ResetTTL      time.Duration `mapstructure:"reset_ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	MailQueue     string        `mapstructure:"mail_queue"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	// RevealUnknownEmail makes forgot-password answer 404 for unknown emails.
	RevealUnknownEmail bool    `mapstructure:"reveal_unknown_email"`
	SweepSchedule      string  `mapstructure:"sweep_schedule"`
	RateBurst          int     `mapstructure:"rate_burst"`
	RatePerSec         float64 `mapstructure:"rate_per_sec"`
	MaxBodyBytes       int64   `mapstructure:"max_body_bytes"`
	// CORSOrigins is a comma separated list of browser origins.
	CORSOrigins string `mapstructure:"cors_origins"`
	// TrustedProxies is a comma separated list of CIDRs whose
	// X-Forwarded-For header is believed.
	TrustedProxies string `mapstructure:"trusted_proxies"`

	// BootstrapEmail, when set, provisions a platform super-admin at start.
	BootstrapEmail    string `mapstructure:"bootstrap_email"`
	BootstrapName     string `mapstructure:"bootstrap_name"`
	BootstrapPassword string `mapstructure:"bootstrap_password"`
}

var defaults = map[string]any{
	"http_addr":            ":8080",
	"grpc_addr":            ":9090",
	"pg_dsn":               "",
	"log_level":            "info",
	"jwt_secret":           "",
	"jwt_issuer":           "edudesk",
	"jwt_expires_in":       "24h",
	"web_url":              "http://localhost:3000/",
	"reset_ttl":            "1h",
	"redis_addr":           "",
	"mail_queue":           "edudesk:mail",
	"notify_timeout":       "5s",
	"reveal_unknown_email": true,
	"sweep_schedule":       "@every 15m",
	"rate_burst":           20,
	"rate_per_sec":         5.0,
	"max_body_bytes":       1 << 20,
	"cors_origins":         "",
	"trusted_proxies":      "",
	"bootstrap_email":      "",
	"bootstrap_name":       "",
	"bootstrap_password":   "",
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	envFile    string
	configFile string
}

// WithEnvFile preloads variables from a dotenv file. Variables already set in
// the environment win.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithConfigFile reads a YAML/JSON/TOML file beneath the environment.
func WithConfigFile(path string) Option {
	return func(l *loader) { l.configFile = path }
}

// Load reads configuration from defaults, an optional config file and
// EDUDESK_* environment variables, in increasing precedence.
func Load(opts ...Option) (Config, error) {
	var l loader
	for _, opt := range opts {
		opt(&l)
	}
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", l.configFile, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required keys and value ranges.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("%s_JWT_SECRET is required", EnvPrefix))
	}
	if c.JWTExpiresIn <= 0 {
		errs = append(errs, errors.New("jwt_expires_in must be positive"))
	}
	if c.ResetTTL <= 0 {
		errs = append(errs, errors.New("reset_ttl must be positive"))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("notify_timeout must be positive"))
	}
	if c.RatePerSec < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if strings.TrimSpace(c.BootstrapEmail) != "" && len(c.BootstrapPassword) < minBootstrapPassword {
		errs = append(errs, fmt.Errorf("%s_BOOTSTRAP_PASSWORD must be at least %d characters", EnvPrefix, minBootstrapPassword))
	}
	return errors.Join(errs...)
}

// TokenConfig returns the immutable signing configuration.
func (c Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret: []byte(c.JWTSecret),
		Issuer: c.JWTIssuer,
		TTL:    c.JWTExpiresIn,
	}
}

// ResetConfig returns the password reset settings.
func (c Config) ResetConfig() auth.ResetConfig {
	return auth.ResetConfig{
		WebURL:           c.WebURL,
		TTL:              c.ResetTTL,
		NotifyTimeout:    c.NotifyTimeout,
		HideUnknownEmail: !c.RevealUnknownEmail,
	}
}

// AllowedOrigins splits CORSOrigins into a list.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

// TrustedProxyList splits TrustedProxies into a list.
func (c Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
