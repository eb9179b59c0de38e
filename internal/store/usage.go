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

type Usage interface {
	Create(ctx context.Context, record model.UsageRecord) (*model.UsageRecord, error)
	List(ctx context.Context, filter *UsageQueryFilter) (model.UsageRecordList, error)
	// SumBilledSince returns the billed tokens recorded for an org after the
	// cutoff. Used for audit against the organization counter.
	SumBilledSince(ctx context.Context, orgID string, since time.Time) (int64, error)
}

type UsageStore struct {
	db *gorm.DB
}

// Make sure we conform to Usage interface
var _ Usage = (*UsageStore)(nil)

func NewUsageStore(db *gorm.DB) Usage {
	return &UsageStore{db: db}
}

func (s *UsageStore) Create(ctx context.Context, record model.UsageRecord) (*model.UsageRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	return &record, nil
}

func (s *UsageStore) List(ctx context.Context, filter *UsageQueryFilter) (model.UsageRecordList, error) {
	var records model.UsageRecordList
	tx := s.getDB(ctx).Model(&records).Order("created_at DESC")

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}

func (s *UsageStore) SumBilledSince(ctx context.Context, orgID string, since time.Time) (int64, error) {
	var total int64
	err := s.getDB(ctx).Model(&model.UsageRecord{}).
		Where("org_id = ? AND created_at >= ?", orgID, since).
		Select("COALESCE(SUM(billed_tokens), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *UsageStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}

type Purchase interface {
	Create(ctx context.Context, purchase model.TokenPurchase) (*model.TokenPurchase, error)
	Get(ctx context.Context, id uuid.UUID) (*model.TokenPurchase, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.TokenPurchase, error)
	// Complete transitions pending -> completed. A second confirmation
	// observes zero affected rows and gets ErrRecordNotFound.
	Complete(ctx context.Context, id uuid.UUID) error
}

type PurchaseStore struct {
	db *gorm.DB
}

// Make sure we conform to Purchase interface
var _ Purchase = (*PurchaseStore)(nil)

func NewPurchaseStore(db *gorm.DB) Purchase {
	return &PurchaseStore{db: db}
}

func (s *PurchaseStore) Create(ctx context.Context, purchase model.TokenPurchase) (*model.TokenPurchase, error) {
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&purchase)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &purchase, nil
}

func (s *PurchaseStore) Get(ctx context.Context, id uuid.UUID) (*model.TokenPurchase, error) {
	var purchase model.TokenPurchase
	result := s.getDB(ctx).First(&purchase, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &purchase, nil
}

func (s *PurchaseStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.TokenPurchase, error) {
	var purchase model.TokenPurchase
	result := s.getDB(ctx).First(&purchase, "idempotency_key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &purchase, nil
}

func (s *PurchaseStore) Complete(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	tx := s.getDB(ctx).Model(&model.TokenPurchase{}).
		Where("id = ? AND status = ?", id, model.PurchaseStatusPending).
		Updates(map[string]any{
			"status":       model.PurchaseStatusCompleted,
			"completed_at": now,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PurchaseStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
