package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`

	Server struct {
		Port            string        `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		AllowedOrigins  []string      `yaml:"allowed_origins" default:"[\"*\"]"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"text"`
	} `yaml:"log"`

	Database struct {
		URL             string        `yaml:"url"`
		MaxOpenConns    int           `yaml:"max_open_conns" default:"25"`
		MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	} `yaml:"database"`

	Auth struct {
		SecretKey    string        `yaml:"secret_key"`
		SessionTTL   time.Duration `yaml:"session_ttl" default:"168h"`
		CookieSecure bool          `yaml:"cookie_secure"`
	} `yaml:"auth"`

	Admin struct {
		Email    string `yaml:"email" default:"admin@stockalerts.local"`
		Username string `yaml:"username" default:"admin"`
		Password string `yaml:"password" default:"changeme123"`
	} `yaml:"admin"`

	Stripe struct {
		SecretKey     string            `yaml:"secret_key"`
		WebhookSecret string            `yaml:"webhook_secret"`
		SuccessURL    string            `yaml:"success_url" default:"http://localhost:3000/billing/success"`
		CancelURL     string            `yaml:"cancel_url" default:"http://localhost:3000/billing/cancel"`
		Prices        map[string]string `yaml:"prices"`
	} `yaml:"stripe"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port" default:"587"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from" default:"alerts@stockalerts.local"`
	} `yaml:"smtp"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Stream struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"stream"`

	Alerts struct {
		ScanInterval    time.Duration `yaml:"scan_interval" default:"0s"`
		NearingTTL      time.Duration `yaml:"nearing_ttl" default:"30s"`
		SummaryTTL      time.Duration `yaml:"summary_ttl" default:"15s"`
		DispatchTimeout time.Duration `yaml:"dispatch_timeout" default:"30s"`
	} `yaml:"alerts"`
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

// Load reads .env, applies defaults, the optional CONFIG_FILE and then environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("APP_ENV", &c.Environment)
	setString("SERVER_PORT", &c.Server.Port)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString("DB_URL", &c.Database.URL)
	setString("SECRET_KEY", &c.Auth.SecretKey)
	setString("ADMIN_EMAIL", &c.Admin.Email)
	setString("ADMIN_USERNAME", &c.Admin.Username)
	setString("ADMIN_PASSWORD", &c.Admin.Password)
	setString("STRIPE_SECRET_KEY", &c.Stripe.SecretKey)
	setString("STRIPE_WEBHOOK_SECRET", &c.Stripe.WebhookSecret)
	setString("STRIPE_SUCCESS_URL", &c.Stripe.SuccessURL)
	setString("STRIPE_CANCEL_URL", &c.Stripe.CancelURL)
	setString("SMTP_HOST", &c.SMTP.Host)
	setString("SMTP_USERNAME", &c.SMTP.Username)
	setString("SMTP_PASSWORD", &c.SMTP.Password)
	setString("SMTP_FROM", &c.SMTP.From)
	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setString("STREAM_API_KEY", &c.Stream.APIKey)
	setString("STREAM_API_SECRET", &c.Stream.APISecret)

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		c.Auth.CookieSecure = secure
	}
	if v := os.Getenv("ALERT_SCAN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ALERT_SCAN_INTERVAL: %w", err)
		}
		c.Alerts.ScanInterval = d
	}

	// STRIPE_PRICE_PAID=price_123 maps the paid tier to a Stripe price.
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "STRIPE_PRICE_") || value == "" {
			continue
		}
		if c.Stripe.Prices == nil {
			c.Stripe.Prices = make(map[string]string)
		}
		c.Stripe.Prices[strings.ToLower(strings.TrimPrefix(key, "STRIPE_PRICE_"))] = value
	}
	return nil
}

// Validate checks the settings that cannot have a usable default.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Auth.SecretKey == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("auth.secret_key is required outside development")
		}
		c.Auth.SecretKey = "development-secret"
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe.webhook_secret is required when stripe.secret_key is set")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	return nil
}
