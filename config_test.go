package main

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Store != storeMemory || cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.DBAutoMigrate || cfg.NATSSubject != "labels.updated" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(context.Background(), envconfig.MapLookuper(map[string]string{
		"ARTIFACT_STORE":      " S3 ",
		"S3_BUCKET":           "labels",
		"S3_FORCE_PATH_STYLE": "true",
		"PUBLIC_BASE_URL":     "https://labels.example.com/",
		"DB_AUTO_MIGRATE":     "false",
		"LABEL_DROP_WORKERS":  "3",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != storeS3 || !cfg.S3ForcePathStyle || cfg.DBAutoMigrate || cfg.DropWorkers != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.PublicBaseURL != "https://labels.example.com" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.PublicBaseURL)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without dsn": {"ARTIFACT_STORE": "postgres"},
		"s3 without bucket":    {"ARTIFACT_STORE": "s3"},
		"unknown store":        {"ARTIFACT_STORE": "redis"},
		"zero upload cap":      {"MAX_UPLOAD_BYTES": "0"},
		"bad number":           {"MAX_UPLOAD_BYTES": "lots"},
	}
	for name, env := range cases {
		if _, err := loadConfig(context.Background(), envconfig.MapLookuper(env)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
