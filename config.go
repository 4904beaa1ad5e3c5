package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the label server.
type Config struct {
	Addr          string `env:"ADDR,default=:8081"`
	GinMode       string `env:"GIN_MODE,default=release"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	ProfilesFile  string `env:"LABEL_PROFILES_FILE"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`

	Store         string `env:"ARTIFACT_STORE,default=memory"`
	DBDSN         string `env:"DB_DSN"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE,default=true"`

	S3Bucket         string `env:"S3_BUCKET"`
	S3Region         string `env:"S3_REGION"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3Prefix         string `env:"S3_PREFIX"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=false"`
	S3AccessKey      string `env:"S3_ACCESS_KEY"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`

	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT,default=labels.updated"`

	DropDir     string `env:"LABEL_DROP_DIR"`
	DropWorkers int    `env:"LABEL_DROP_WORKERS,default=0"`

	JWTSecret      string `env:"JWT_SECRET"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES,default=10485760"`
}

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeS3       = "s3"
)

// loadConfig reads the environment through l and validates the result.
func loadConfig(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case storeMemory:
	case storePostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required when ARTIFACT_STORE=%s", storePostgres)
		}
	case storeS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ARTIFACT_STORE=%s", storeS3)
		}
	default:
		return fmt.Errorf("unknown ARTIFACT_STORE %q (want memory, postgres or s3)", c.Store)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.DropWorkers < 0 {
		return fmt.Errorf("LABEL_DROP_WORKERS must not be negative")
	}
	return nil
}
