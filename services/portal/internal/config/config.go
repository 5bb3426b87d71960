package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageS3     = "s3"
)

// Config holds runtime configuration for the portal and portalctl.
type Config struct {
	Addr          string `env:"ADDR,default=:8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`

	// DBDSN selects the Postgres stores; empty runs on in-memory stores.
	DBDSN       string `env:"DB_DSN"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE,default=true"`

	StorageBackend string        `env:"STORAGE_BACKEND,default=memory"`
	StorageDir     string        `env:"STORAGE_DIR,default=./data/uploads"`
	S3Bucket       string        `env:"S3_BUCKET"`
	FileURLTTL     time.Duration `env:"FILE_URL_TTL,default=15m"`
	UploadMaxBytes int64         `env:"UPLOAD_MAX_BYTES,default=5242880"`
	UploadMaxFiles int           `env:"UPLOAD_MAX_FILES,default=5"`
	AgeRecipients  string        `env:"AGE_RECIPIENTS"`
	AgeIdentity    string        `env:"AGE_IDENTITY"`

	NATSURL string `env:"NATS_URL"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM,default=noreply@talencor.com"`
	SMTPInsecure bool   `env:"SMTP_INSECURE,default=false"`

	OTLPEndpoint       string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins     []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	RateLimitPerMinute int      `env:"RATE_LIMIT_PER_MINUTE,default=100"`

	SweepEnabled  bool          `env:"SWEEP_ENABLED,default=true"`
	SweepGrace    time.Duration `env:"SWEEP_GRACE,default=24h"`
	SweepLookback time.Duration `env:"SWEEP_LOOKBACK,default=720h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=1h"`

	ExportSecretKey string `env:"EXPORT_AGE_SECRET_KEY"`
	ExportPublicKey string `env:"EXPORT_AGE_PUBLIC_KEY"`

	LogFormat string `env:"LOG_FORMAT,default=console"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.StorageDir) == "" {
			errs = append(errs, errors.New("STORAGE_DIR is required for local storage"))
		}
	case StorageS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	if (c.AgeRecipients == "") != (c.AgeIdentity == "") {
		errs = append(errs, errors.New("AGE_RECIPIENTS and AGE_IDENTITY must be set together"))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be positive"))
	}
	if c.UploadMaxFiles <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_FILES must be positive"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.PublicBaseURL == "" {
		errs = append(errs, errors.New("PUBLIC_BASE_URL is required"))
	}

	return errors.Join(errs...)
}

// Sealed reports whether uploads are encrypted at rest.
func (c Config) Sealed() bool {
	return c.AgeRecipients != "" && c.AgeIdentity != ""
}
