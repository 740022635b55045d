package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration required by the API process.
// All values come from env; a .env file in the working directory is loaded
// first and never overrides variables already set.
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	Stripe  StripeConfig
	Billing BillingConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin, used for carrier
	// callback URLs and signature checks.
	PublicBaseURL string

	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// ValidateSignatures rejects webhooks without a valid X-Twilio-Signature.
	// Defaults to on in production.
	ValidateSignatures bool

	// CallerIDPool is "number:weight:prefix,..."; see routing.ParsePool.
	CallerIDPool string
}

type StripeConfig struct {
	SecretKey string
	Currency  string

	// Packages is the auto top-up catalog, "id:credits:price_cents,...".
	Packages string
}

// BillingConfig carries the pricing constants and matching windows.
type BillingConfig struct {
	RatePerMinute  decimal.Decimal
	Surcharge      decimal.Decimal
	Multiplier     decimal.Decimal
	MinCallBalance decimal.Decimal

	PricingTimeout time.Duration
	ChargeTimeout  time.Duration

	SiblingWindow     time.Duration
	ProvisionalMaxAge time.Duration
	SessionHintTTL    time.Duration
}

var (
	defaultRatePerMinute  = decimal.RequireFromString("0.015")
	defaultSurcharge      = decimal.RequireFromString("0.004")
	defaultMultiplier     = decimal.NewFromInt(200)
	defaultMinCallBalance = decimal.RequireFromString("0.05")
)

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from the process environment only.
func FromEnv() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.App.AutoMigrate, parseErrs = optBool(parseErrs, "DB_AUTO_MIGRATE", false)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL, parseErrs = optDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optDuration(parseErrs, "JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.ValidateSignatures, parseErrs = optBool(parseErrs, "TWILIO_VALIDATE_SIGNATURES", c.App.Env == "production")
	c.Twilio.CallerIDPool = strings.TrimSpace(os.Getenv("CALLER_ID_POOL"))

	c.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	c.Stripe.Currency = strings.ToLower(strings.TrimSpace(os.Getenv("STRIPE_CURRENCY")))
	c.Stripe.Packages = strings.TrimSpace(os.Getenv("TOPUP_PACKAGES"))

	c.Billing.RatePerMinute, parseErrs = optDecimal(parseErrs, "BILLING_RATE_PER_MINUTE", defaultRatePerMinute)
	c.Billing.Surcharge, parseErrs = optDecimal(parseErrs, "BILLING_SURCHARGE", defaultSurcharge)
	c.Billing.Multiplier, parseErrs = optDecimal(parseErrs, "BILLING_MULTIPLIER", defaultMultiplier)
	c.Billing.MinCallBalance, parseErrs = optDecimal(parseErrs, "BILLING_MIN_CALL_BALANCE", defaultMinCallBalance)
	c.Billing.PricingTimeout, parseErrs = optDuration(parseErrs, "BILLING_PRICING_TIMEOUT")
	c.Billing.ChargeTimeout, parseErrs = optDuration(parseErrs, "TOPUP_CHARGE_TIMEOUT")
	c.Billing.SiblingWindow, parseErrs = optDuration(parseErrs, "MATCH_SIBLING_WINDOW")
	c.Billing.ProvisionalMaxAge, parseErrs = optDuration(parseErrs, "MATCH_PROVISIONAL_MAX_AGE")
	c.Billing.SessionHintTTL, parseErrs = optDuration(parseErrs, "SESSION_HINT_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadAuth reads only the JWT settings. Used by operator tooling that must
// not need database or Redis settings.
func LoadAuth() (AuthConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return AuthConfig{}, fmt.Errorf("load .env: %w", err)
	}
	var errs []error
	a := AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
	}
	a.AccessTokenTTL, errs = optDuration(errs, "JWT_ACCESS_TTL")
	a.RefreshTokenTTL, errs = optDuration(errs, "JWT_REFRESH_TTL")
	if a.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if a.AccessTokenTTL <= 0 {
		a.AccessTokenTTL = 15 * time.Minute
	}
	if a.RefreshTokenTTL <= 0 {
		a.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	return a, joinErrors(errs)
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.ValidateSignatures {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when signature validation is on"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required when signature validation is on"))
		}
	}

	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}

	c.Billing.applyDefaults()
	if !c.Billing.RatePerMinute.IsPositive() {
		errs = append(errs, errors.New("BILLING_RATE_PER_MINUTE must be positive"))
	}
	if c.Billing.Surcharge.IsNegative() {
		errs = append(errs, errors.New("BILLING_SURCHARGE must not be negative"))
	}
	if !c.Billing.Multiplier.IsPositive() {
		errs = append(errs, errors.New("BILLING_MULTIPLIER must be positive"))
	}
	if c.Billing.MinCallBalance.IsNegative() {
		errs = append(errs, errors.New("BILLING_MIN_CALL_BALANCE must not be negative"))
	}

	return joinErrors(errs)
}

func (b *BillingConfig) applyDefaults() {
	if b.RatePerMinute.IsZero() {
		b.RatePerMinute = defaultRatePerMinute
	}
	if b.Multiplier.IsZero() {
		b.Multiplier = defaultMultiplier
	}
	if b.PricingTimeout <= 0 {
		b.PricingTimeout = 3 * time.Second
	}
	if b.ChargeTimeout <= 0 {
		b.ChargeTimeout = 5 * time.Second
	}
	if b.SiblingWindow <= 0 {
		b.SiblingWindow = 10 * time.Minute
	}
	if b.SessionHintTTL <= 0 {
		b.SessionHintTTL = 2 * time.Hour
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, append(errs, fmt.Errorf("%s must be a duration like 30s or 10m, got %q", key, v))
	}
	return d, errs
}

func optDecimal(errs []error, key string, def decimal.Decimal) (decimal.Decimal, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be a decimal number, got %q", key, v))
	}
	return d, errs
}

func optBool(errs []error, key string, def bool) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be true or false, got %q", key, v))
	}
	return b, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
