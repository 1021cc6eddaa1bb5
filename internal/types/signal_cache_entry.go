package types

import (
	"time"

	"gorm.io/datatypes"
)

// SignalCacheEntry lets identical audio content (same SHA-256 of the raw
// bytes) reuse derived artifacts across owners. Upserts merge field-wise:
// a partial update never erases a field it did not carry.
type SignalCacheEntry struct {
	ContentHash  string         `gorm:"column:content_hash;primaryKey;size:64" json:"content_hash"`
	SpecAssetRef string         `gorm:"column:spec_asset_ref" json:"spec_asset_ref,omitempty"`
	Adv          datatypes.JSON `gorm:"column:adv;type:jsonb" json:"adv,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (SignalCacheEntry) TableName() string { return "signal_cache_entry" }
