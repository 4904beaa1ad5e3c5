package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"totelabel/pkg/artifact"
)

func openDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// migrateDB runs AutoMigrate. Permission errors are reported, not fatal, so a
// read-only role can still serve an existing schema.
func migrateDB(db *gorm.DB) {
	if err := artifact.Migrate(db); err != nil {
		log.Warn().Err(err).Msg("migration warning (label_artifacts)")
	}
}

// openStore returns the artifact backend selected by ARTIFACT_STORE.
func openStore(ctx context.Context, cfg Config) (artifact.Store, error) {
	switch cfg.Store {
	case storePostgres:
		db, err := openDB(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		if cfg.DBAutoMigrate {
			migrateDB(db)
		}
		return artifact.NewGormStore(db, nil), nil
	case storeS3:
		return artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			Prefix:         cfg.S3Prefix,
			ForcePathStyle: cfg.S3ForcePathStyle,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
		})
	default:
		return artifact.NewMemoryStore(nil), nil
	}
}
