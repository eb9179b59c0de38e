package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TokenPurchase status constants
const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusCancelled = "cancelled"
)

// UsageRecord is an immutable ledger entry for one metered consumption
// event. Written once inside the same transaction as the effect it meters,
// never updated.
type UsageRecord struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	CreatedAt time.Time `gorm:"not null;default:now();index:usage_records_created_at_idx"`

	OrgID string     `gorm:"not null;index:usage_records_org_id_idx"`
	JobID *uuid.UUID `gorm:"type:TEXT"`
	Stage string     `gorm:"type:VARCHAR(100)"`

	Provider string `gorm:"type:VARCHAR(100)"`
	Model    string `gorm:"type:VARCHAR(255)"`

	TokensIn    int64 `gorm:"not null;default:0"`
	TokensOut   int64 `gorm:"not null;default:0"`
	TokensTotal int64 `gorm:"not null;default:0"`

	Preset       string `gorm:"type:VARCHAR(100)"`
	Multiplier   float64
	BilledTokens int64 `gorm:"not null;default:0"`
}

// TokenPurchase is an intent to buy bonus tokens, created idempotently by
// a caller-supplied key and credited exactly once on confirmation.
type TokenPurchase struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	CreatedAt time.Time `gorm:"not null;default:now()"`

	OrgID          string `gorm:"not null;index:token_purchases_org_id_idx"`
	IdempotencyKey string `gorm:"not null;uniqueIndex:token_purchases_idempotency_key"`
	Tokens         int64  `gorm:"not null"`
	Status         string `gorm:"not null;type:VARCHAR(100)"`
	CompletedAt    *time.Time
}

type UsageRecordList []UsageRecord

func (u UsageRecord) String() string {
	val, _ := json.Marshal(u)
	return string(val)
}

func (p TokenPurchase) String() string {
	val, _ := json.Marshal(p)
	return string(val)
}
