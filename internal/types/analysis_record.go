package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnalysisRecord is one uploaded auscultation recording plus everything
// derived from it. The binary asset itself lives in object storage; AssetKey
// is the opaque reference.
type AnalysisRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`

	AssetKey  string `gorm:"column:asset_key;not null" json:"asset_key"`
	Filename  string `gorm:"column:filename;not null" json:"filename"`
	MediaType string `gorm:"column:media_type" json:"media_type"`
	SizeBytes int64  `gorm:"column:size_bytes" json:"size_bytes"`

	Title       string `gorm:"column:title" json:"title,omitempty"`
	ContentHash string `gorm:"column:content_hash;index" json:"content_hash,omitempty"`

	// Features is required at creation and only changes by explicit replacement.
	Features datatypes.JSON `gorm:"column:features;type:jsonb;not null" json:"features"`
	// Adv holds clinical-style metrics, filled in lazily by enrichment or a patch.
	Adv          datatypes.JSON `gorm:"column:adv;type:jsonb" json:"adv,omitempty"`
	SpecAssetRef string         `gorm:"column:spec_asset_ref" json:"spec_asset_ref,omitempty"`

	// AI is the per-language report state (see AIState). Writers must go through
	// the ai_version compare-and-swap so concurrent languages merge instead of
	// clobbering each other.
	AI        datatypes.JSON `gorm:"column:ai;type:jsonb" json:"ai,omitempty"`
	AIVersion int64          `gorm:"column:ai_version;not null;default:0" json:"-"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (AnalysisRecord) TableName() string { return "analysis_record" }
