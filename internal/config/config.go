package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	AuthSecret    string   `mapstructure:"AUTH_SECRET"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	DefaultCenter string   `mapstructure:"DEFAULT_CENTER"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// Billing
	Currency           string  `mapstructure:"CURRENCY"`
	InvoicePrefix      string  `mapstructure:"INVOICE_PREFIX"`
	OPConsultFee       float64 `mapstructure:"OP_CONSULT_FEE"`
	IPConsultFee       float64 `mapstructure:"IP_CONSULT_FEE"`
	FollowupWindowDays int     `mapstructure:"FOLLOWUP_WINDOW_DAYS"`
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
	v.SetDefault("DEFAULT_CENTER", "main")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CURRENCY", "INR")
	v.SetDefault("OP_CONSULT_FEE", 850)
	v.SetDefault("IP_CONSULT_FEE", 1050)
	v.SetDefault("FOLLOWUP_WINDOW_DAYS", 7)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("DEFAULT_CENTER")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("CURRENCY")
	v.BindEnv("INVOICE_PREFIX")
	v.BindEnv("OP_CONSULT_FEE")
	v.BindEnv("IP_CONSULT_FEE")
	v.BindEnv("FOLLOWUP_WINDOW_DAYS")

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

	// Invoice numbers default their prefix to the center code.
	if cfg.InvoicePrefix == "" {
		cfg.InvoicePrefix = strings.ToUpper(cfg.DefaultCenter)
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get admin access.")
		log.Println("WARNING: Set ENV=production and configure AUTH_SECRET or AUTH_ISSUER for production.")
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

// OPFee returns the outpatient consultation fee tier as a decimal.
func (c *Config) OPFee() decimal.Decimal {
	return decimal.NewFromFloat(c.OPConsultFee)
}

// IPFee returns the inpatient consultation fee tier as a decimal.
func (c *Config) IPFee() decimal.Decimal {
	return decimal.NewFromFloat(c.IPConsultFee)
}

// Validate checks that the configuration is safe to run. Outside development
// either a shared HMAC secret or a JWKS endpoint must be configured so that
// real JWT authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSecret == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_SECRET or AUTH_JWKS_URL must be set when ENV=%q; refusing to start without authentication configuration", c.Env)
	}
	if c.FollowupWindowDays <= 0 {
		return fmt.Errorf("FOLLOWUP_WINDOW_DAYS must be positive, got %d", c.FollowupWindowDays)
	}
	if c.OPConsultFee < 0 || c.IPConsultFee < 0 {
		return fmt.Errorf("consultation fee tiers must be non-negative")
	}
	return nil
}
