package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftforge/draftforge/internal/store/model"
)

type Output interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Output, error)
	// GetByStage resolves the stable output identity for (project, stage).
	GetByStage(ctx context.Context, projectID uuid.UUID, stage string) (*model.Output, error)
	Create(ctx context.Context, output model.Output) (*model.Output, error)
	List(ctx context.Context, filter *OutputQueryFilter) (model.OutputList, error)
	// AddVersion appends a new version with the next sequence number. The
	// unique (output_id, version) index guards against concurrent appends.
	AddVersion(ctx context.Context, outputID uuid.UUID, version model.OutputVersion) (*model.OutputVersion, error)
	GetVersion(ctx context.Context, versionID uuid.UUID) (*model.OutputVersion, error)
	LatestVersion(ctx context.Context, outputID uuid.UUID) (*model.OutputVersion, error)
	ListVersions(ctx context.Context, outputID uuid.UUID) ([]model.OutputVersion, error)
	// Approve promotes one version and demotes any previously approved
	// version of the same output in the caller's transaction, keeping the
	// at-most-one-approved invariant.
	Approve(ctx context.Context, outputID uuid.UUID, versionID uuid.UUID) (*model.OutputVersion, error)
}

type OutputStore struct {
	db *gorm.DB
}

// Make sure we conform to Output interface
var _ Output = (*OutputStore)(nil)

func NewOutputStore(db *gorm.DB) Output {
	return &OutputStore{db: db}
}

func (s *OutputStore) Get(ctx context.Context, id uuid.UUID) (*model.Output, error) {
	var output model.Output
	result := s.getDB(ctx).Preload("Versions", func(db *gorm.DB) *gorm.DB {
		return db.Order("output_versions.version DESC")
	}).First(&output, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &output, nil
}

func (s *OutputStore) GetByStage(ctx context.Context, projectID uuid.UUID, stage string) (*model.Output, error) {
	var output model.Output
	result := s.getDB(ctx).Preload("Versions", func(db *gorm.DB) *gorm.DB {
		return db.Order("output_versions.version DESC")
	}).First(&output, "project_id = ? AND stage = ?", projectID, stage)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &output, nil
}

func (s *OutputStore) Create(ctx context.Context, output model.Output) (*model.Output, error) {
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&output)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &output, nil
}

func (s *OutputStore) List(ctx context.Context, filter *OutputQueryFilter) (model.OutputList, error) {
	var outputs model.OutputList
	tx := s.getDB(ctx).Model(&outputs).Order("created_at DESC")

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&outputs)
	if result.Error != nil {
		return nil, result.Error
	}
	return outputs, nil
}

func (s *OutputStore) AddVersion(ctx context.Context, outputID uuid.UUID, version model.OutputVersion) (*model.OutputVersion, error) {
	var next int
	if err := s.getDB(ctx).Model(&model.OutputVersion{}).
		Where("output_id = ?", outputID).
		Select("COALESCE(MAX(version), 0) + 1").
		Scan(&next).Error; err != nil {
		return nil, err
	}

	version.OutputID = outputID
	version.Version = next
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}

	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&version)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &version, nil
}

func (s *OutputStore) GetVersion(ctx context.Context, versionID uuid.UUID) (*model.OutputVersion, error) {
	var version model.OutputVersion
	result := s.getDB(ctx).First(&version, "id = ?", versionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &version, nil
}

func (s *OutputStore) LatestVersion(ctx context.Context, outputID uuid.UUID) (*model.OutputVersion, error) {
	var version model.OutputVersion
	result := s.getDB(ctx).
		Where("output_id = ?", outputID).
		Order("version DESC").
		First(&version)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &version, nil
}

func (s *OutputStore) ListVersions(ctx context.Context, outputID uuid.UUID) ([]model.OutputVersion, error) {
	var versions []model.OutputVersion
	result := s.getDB(ctx).
		Where("output_id = ?", outputID).
		Order("version DESC").
		Find(&versions)
	if result.Error != nil {
		return nil, result.Error
	}
	return versions, nil
}

func (s *OutputStore) Approve(ctx context.Context, outputID uuid.UUID, versionID uuid.UUID) (*model.OutputVersion, error) {
	// demote whatever is currently approved first, then promote the target.
	// Run inside the caller's transaction to keep the invariant atomic.
	if err := s.getDB(ctx).Model(&model.OutputVersion{}).
		Where("output_id = ? AND status = ?", outputID, model.VersionStatusApproved).
		Update("status", model.VersionStatusObsolete).Error; err != nil {
		return nil, err
	}

	tx := s.getDB(ctx).Model(&model.OutputVersion{}).
		Where("id = ? AND output_id = ?", versionID, outputID).
		Update("status", model.VersionStatusApproved)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	return s.GetVersion(ctx, versionID)
}

func (s *OutputStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
