package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"totelabel/models"
)

// GormStore persists artifacts in Postgres through gorm.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore wraps an open gorm handle. The label_artifacts table must exist
// (see Migrate).
func NewGormStore(db *gorm.DB, now func() time.Time) *GormStore {
	if now == nil {
		now = time.Now
	}
	return &GormStore{db: db, now: now}
}

// Migrate creates or updates the artifact table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.LabelArtifact{})
}

// Commit upserts every artifact and soft-deletes profiles no longer in the
// set, all inside one transaction. A transaction-scoped advisory lock on the tote id
// serializes commits for the same tote across processes.
func (s *GormStore) Commit(ctx context.Context, toteID string, arts []Artifact) ([]Artifact, error) {
	if err := validateSet(toteID, arts); err != nil {
		return nil, fmt.Errorf("commit %s: %w", toteID, err)
	}
	out := make([]Artifact, len(arts))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", toteID).Error; err != nil {
			return fmt.Errorf("lock tote: %w", err)
		}
		var existing []models.LabelArtifact
		// soft-deleted rows still carry the last version handed out
		if err := tx.Unscoped().Select("profile_name", "version").Where("tote_id = ?", toteID).Find(&existing).Error; err != nil {
			return fmt.Errorf("load versions: %w", err)
		}
		prev := make(map[string]Version, len(existing))
		for _, row := range existing {
			prev[row.ProfileName] = Version(row.Version)
		}

		now := s.now().UTC()
		names := make([]string, 0, len(arts))
		for i, a := range arts {
			a.ToteID = toteID
			a.Version = nextVersion(prev[a.Profile], now)
			a.UpdatedAt = now
			row := toRow(a)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tote_id"}, {Name: "profile_name"}},
				DoUpdates: clause.AssignmentColumns([]string{"pixel_format", "width", "height", "content_type", "data", "version", "updated_at", "deleted_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("upsert %s/%s: %w", toteID, a.Profile, err)
			}
			out[i] = a
			names = append(names, a.Profile)
		}
		if err := tx.Where("tote_id = ? AND profile_name NOT IN ?", toteID, names).Delete(&models.LabelArtifact{}).Error; err != nil {
			return fmt.Errorf("prune stale profiles: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, toteID, profile string) (Artifact, error) {
	var row models.LabelArtifact
	err := s.db.WithContext(ctx).Where("tote_id = ? AND profile_name = ?", toteID, profile).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, err
	}
	return fromRow(row), nil
}

// VersionOf selects only the version column.
func (s *GormStore) VersionOf(ctx context.Context, toteID, profile string) (Version, error) {
	var row models.LabelArtifact
	err := s.db.WithContext(ctx).Select("version").Where("tote_id = ? AND profile_name = ?", toteID, profile).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return Version(row.Version), nil
}

// Close releases the underlying sql.DB.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(a Artifact) models.LabelArtifact {
	return models.LabelArtifact{
		UpdatedAt:   a.UpdatedAt,
		ToteID:      a.ToteID,
		ProfileName: a.Profile,
		PixelFormat: string(a.Format),
		Width:       a.Width,
		Height:      a.Height,
		ContentType: a.ContentType,
		Data:        a.Data,
		Version:     int64(a.Version),
	}
}

func fromRow(row models.LabelArtifact) Artifact {
	return Artifact{
		ToteID:      row.ToteID,
		Profile:     row.ProfileName,
		Format:      PixelFormat(row.PixelFormat),
		Width:       row.Width,
		Height:      row.Height,
		ContentType: row.ContentType,
		Data:        row.Data,
		Version:     Version(row.Version),
		UpdatedAt:   row.UpdatedAt,
	}
}
