package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// AuthSecret signs and verifies API bearer tokens. Empty is only
	// acceptable in development mode, where auth is bypassed entirely.
	AuthSecret string `mapstructure:"AUTH_SECRET"`

	// AutoApproveThreshold is the default tolerance (percent) under which a
	// disputed value is accepted without human review. Zero disables
	// auto-approval for verifications created without an explicit threshold.
	AutoApproveThreshold float64 `mapstructure:"AUTO_APPROVE_THRESHOLD"`

	// NotifierURL receives fire-and-forget webhook posts after core
	// mutations. Empty disables outbound notifications.
	NotifierURL string `mapstructure:"NOTIFIER_URL"`

	// PaymentDueDays is the payment term applied to a billing batch when it
	// is completed, used by the late-payment bookkeeping job.
	PaymentDueDays int `mapstructure:"PAYMENT_DUE_DAYS"`

	// Rendered notification channels. Each channel stays off until both its
	// transport and its default recipient are configured.
	SMTPAddr      string `mapstructure:"SMTP_ADDR"`
	SMTPFrom      string `mapstructure:"SMTP_FROM"`
	SMSGatewayURL string `mapstructure:"SMS_GATEWAY_URL"`
	NotifyEmailTo string `mapstructure:"NOTIFY_EMAIL_TO"`
	NotifySMSTo   string `mapstructure:"NOTIFY_SMS_TO"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AUTO_APPROVE_THRESHOLD", 5.0)
	v.SetDefault("PAYMENT_DUE_DAYS", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("AUTO_APPROVE_THRESHOLD")
	v.BindEnv("NOTIFIER_URL")
	v.BindEnv("PAYMENT_DUE_DAYS")
	v.BindEnv("SMTP_ADDR")
	v.BindEnv("SMTP_FROM")
	v.BindEnv("SMS_GATEWAY_URL")
	v.BindEnv("NOTIFY_EMAIL_TO")
	v.BindEnv("NOTIFY_SMS_TO")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsProduction() && cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required in production")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Auth is bypassed: all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
