package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	ID        string    `gorm:"primaryKey;type:VARCHAR(255)"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt *time.Time
	Name      string `gorm:"not null"`
	Tier      string `gorm:"not null;type:VARCHAR(100);default:'free'"`

	// Prepaid token budget. MonthlyTokensUsed only grows inside a billing
	// cycle and is reset on the cycle boundary. BonusTokens are credited by
	// completed purchases and counted as extra headroom.
	MonthlyTokenLimit int64     `gorm:"not null;default:0"`
	MonthlyTokensUsed int64     `gorm:"not null;default:0"`
	BonusTokens       int64     `gorm:"not null;default:0"`
	BillingCycleStart time.Time `gorm:"not null;default:now()"`

	Projects []Project `gorm:"foreignKey:OrgID;references:ID;constraint:OnDelete:CASCADE;"`
}

type Project struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt *time.Time
	Name      string `gorm:"not null"`
	OrgID     string `gorm:"not null;index:projects_org_id_idx"`

	Outputs []Output `gorm:"foreignKey:ProjectID;references:ID;constraint:OnDelete:CASCADE;"`
}

func (o Organization) String() string {
	val, _ := json.Marshal(o)
	return string(val)
}

func (p Project) String() string {
	val, _ := json.Marshal(p)
	return string(val)
}
