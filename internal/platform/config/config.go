package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "privacyhub"

// Development placeholders. Load refuses to start in production while either is in use.
const (
	devTokenSecret = "dev-tracking-secret-change-in-production"
	devHashKey     = "dev-ip-hash-key-change-in-production"
)

// Config is the full runtime configuration, read from PRIVACYHUB_* environment variables.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	PolicyFile  string `envconfig:"POLICY_FILE"`

	Server   Server
	Database Database
	Redis    Redis
	Kafka    Kafka
	Security Security
	DSR      DSR
	Reports  Reports
	Tracing  Tracing

	// Policy is loaded from PolicyFile (or defaults) and is not read from the environment.
	Policy Policy `ignored:"true"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s"`
	TrustedProxies  []string      `envconfig:"TRUSTED_PROXIES"`
}

type Database struct {
	URL             string        `envconfig:"URL"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"5m"`
}

type Redis struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

type Kafka struct {
	Brokers         string        `envconfig:"BROKERS"`
	Acks            string        `envconfig:"ACKS" default:"all"`
	Retries         int           `envconfig:"RETRIES" default:"3"`
	DeliveryTimeout time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"30s"`
	EventsTopic     string        `envconfig:"EVENTS_TOPIC" default:"privacyhub.events"`
	ConsentTopic    string        `envconfig:"CONSENT_TOPIC" default:"privacyhub.consent"`
	MailTopic       string        `envconfig:"MAIL_TOPIC" default:"privacyhub.mail"`
	OutboxInterval  time.Duration `envconfig:"OUTBOX_INTERVAL" default:"500ms"`
}

// Security holds secrets and the admin gate.
type Security struct {
	TokenSecret string `envconfig:"TOKEN_SECRET"`
	IPHashKey   string `envconfig:"IP_HASH_KEY"`
	AdminToken  string `envconfig:"ADMIN_TOKEN"`
}

type DSR struct {
	VerificationTTL     time.Duration `envconfig:"VERIFICATION_TTL" default:"48h"`
	TrackingTTL         time.Duration `envconfig:"TRACKING_TTL" default:"8760h"`
	ThrottleWindow      time.Duration `envconfig:"THROTTLE_WINDOW" default:"5m"`
	ThrottleLimit       int           `envconfig:"THROTTLE_LIMIT" default:"1"`
	OverdueSchedule     string        `envconfig:"OVERDUE_SCHEDULE" default:"@every 15m"`
	RequireManualReview bool          `envconfig:"REQUIRE_MANUAL_REVIEW" default:"false"`
	VerifyBaseURL       string        `envconfig:"VERIFY_BASE_URL" default:"http://localhost:8080/dsr/verify"`
}

// Reports configures the per-IP throttle on cookie scan reports.
type Reports struct {
	PerMinute int `envconfig:"PER_MINUTE" default:"30"`
	Burst     int `envconfig:"BURST" default:"10"`
}

// Tracing selects the span exporter. Disabled by default.
type Tracing struct {
	Enabled     bool    `envconfig:"ENABLED" default:"false"`
	Exporter    string  `envconfig:"EXPORTER" default:"stdout"`
	SampleRatio float64 `envconfig:"SAMPLE_RATIO" default:"1"`
}

// Load reads an optional .env file, then the environment, then the policy file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	cfg.Policy = *policy

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) applyDefaults() error {
	if c.IsProduction() {
		if c.Security.TokenSecret == "" || c.Security.IPHashKey == "" {
			return errors.New("PRIVACYHUB_SECURITY_TOKEN_SECRET and PRIVACYHUB_SECURITY_IP_HASH_KEY are required in production")
		}
	}
	if c.Security.TokenSecret == "" {
		c.Security.TokenSecret = devTokenSecret
	}
	if c.Security.IPHashKey == "" {
		c.Security.IPHashKey = devHashKey
	}
	if len(c.Security.TokenSecret) < 32 && c.IsProduction() {
		return errors.New("token secret must be at least 32 bytes")
	}
	if c.DSR.VerificationTTL <= 0 || c.DSR.TrackingTTL <= 0 {
		return errors.New("DSR token TTLs must be positive")
	}
	if c.DSR.ThrottleLimit <= 0 {
		c.DSR.ThrottleLimit = 1
	}
	return nil
}
