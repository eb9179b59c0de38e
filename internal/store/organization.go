package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftforge/draftforge/internal/store/model"
)

type Organization interface {
	Get(ctx context.Context, id string) (*model.Organization, error)
	Create(ctx context.Context, org model.Organization) (*model.Organization, error)
	// ConsumeTokens increments the monthly usage counter. Callers must run it
	// in the same transaction as the usage ledger write.
	ConsumeTokens(ctx context.Context, id string, billedTokens int64) error
	AddBonusTokens(ctx context.Context, id string, tokens int64) error
	ResetBillingCycle(ctx context.Context, id string, cycleStart time.Time) error
}

type OrganizationStore struct {
	db *gorm.DB
}

// Make sure we conform to Organization interface
var _ Organization = (*OrganizationStore)(nil)

func NewOrganizationStore(db *gorm.DB) Organization {
	return &OrganizationStore{db: db}
}

func (s *OrganizationStore) Get(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	result := s.getDB(ctx).First(&org, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &org, nil
}

func (s *OrganizationStore) Create(ctx context.Context, org model.Organization) (*model.Organization, error) {
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&org)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &org, nil
}

func (s *OrganizationStore) ConsumeTokens(ctx context.Context, id string, billedTokens int64) error {
	tx := s.getDB(ctx).Model(&model.Organization{}).
		Where("id = ?", id).
		Update("monthly_tokens_used", gorm.Expr("monthly_tokens_used + ?", billedTokens))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *OrganizationStore) AddBonusTokens(ctx context.Context, id string, tokens int64) error {
	tx := s.getDB(ctx).Model(&model.Organization{}).
		Where("id = ?", id).
		Update("bonus_tokens", gorm.Expr("bonus_tokens + ?", tokens))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *OrganizationStore) ResetBillingCycle(ctx context.Context, id string, cycleStart time.Time) error {
	tx := s.getDB(ctx).Model(&model.Organization{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"monthly_tokens_used": 0,
			"billing_cycle_start": cycleStart,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *OrganizationStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}

type Project interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Project, error)
	Create(ctx context.Context, project model.Project) (*model.Project, error)
	List(ctx context.Context, orgID string) ([]model.Project, error)
}

type ProjectStore struct {
	db *gorm.DB
}

// Make sure we conform to Project interface
var _ Project = (*ProjectStore)(nil)

func NewProjectStore(db *gorm.DB) Project {
	return &ProjectStore{db: db}
}

func (s *ProjectStore) Get(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var project model.Project
	result := s.getDB(ctx).First(&project, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &project, nil
}

func (s *ProjectStore) Create(ctx context.Context, project model.Project) (*model.Project, error) {
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&project)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &project, nil
}

func (s *ProjectStore) List(ctx context.Context, orgID string) ([]model.Project, error) {
	var projects []model.Project
	result := s.getDB(ctx).Where("org_id = ?", orgID).Order("created_at DESC").Find(&projects)
	if result.Error != nil {
		return nil, result.Error
	}
	return projects, nil
}

func (s *ProjectStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
