package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutputVersion type constants
const (
	VersionTypeGenerated = "generated"
	VersionTypeEdited    = "edited"
)

// OutputVersion status constants
const (
	VersionStatusGenerated = "generated"
	VersionStatusApproved  = "approved"
	VersionStatusObsolete  = "obsolete"
)

// Output is the stable identity of the generated artifact for one stage of
// a project. Content lives in its append-only version history.
type Output struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt *time.Time

	ProjectID uuid.UUID `gorm:"not null;uniqueIndex:outputs_project_id_stage;type:TEXT"`
	Stage     string    `gorm:"not null;uniqueIndex:outputs_project_id_stage;type:VARCHAR(100)"`

	Versions []OutputVersion `gorm:"foreignKey:OutputID;references:ID;constraint:OnDelete:CASCADE;"`
}

type OutputVersion struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	CreatedAt time.Time `gorm:"not null;default:now()"`

	OutputID uuid.UUID `gorm:"not null;uniqueIndex:output_versions_output_id_version;type:TEXT"`
	Version  int       `gorm:"not null;uniqueIndex:output_versions_output_id_version"`

	Content []byte `gorm:"type:jsonb;not null"`

	Provider string `gorm:"type:VARCHAR(100)"`
	Model    string `gorm:"type:VARCHAR(255)"`
	Type     string `gorm:"not null;type:VARCHAR(100)"`
	Status   string `gorm:"not null;type:VARCHAR(100);index:output_versions_status_idx"`

	// Generation metadata kept for audit and analytics.
	LatencyMs    int64
	TokensIn     int64
	TokensOut    int64
	Preset       string `gorm:"type:VARCHAR(100)"`
	Multiplier   float64
	BilledTokens int64
}

type OutputList []Output

func (o Output) String() string {
	val, _ := json.Marshal(o)
	return string(val)
}

func (v OutputVersion) String() string {
	val, _ := json.Marshal(v)
	return string(val)
}
