package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/types"
)

type SignalCacheRepo interface {
	GetByHash(ctx context.Context, tx *gorm.DB, contentHash string) (*types.SignalCacheEntry, error)
	Upsert(ctx context.Context, tx *gorm.DB, partial *types.SignalCacheEntry) (*types.SignalCacheEntry, error)
}

type signalCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSignalCacheRepo(db *gorm.DB, baseLog *logger.Logger) SignalCacheRepo {
	return &signalCacheRepo{
		db:  db,
		log: baseLog.With("repo", "SignalCacheRepo"),
	}
}

func (r *signalCacheRepo) GetByHash(ctx context.Context, tx *gorm.DB, contentHash string) (*types.SignalCacheEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if contentHash == "" {
		return nil, nil
	}
	var entry types.SignalCacheEntry
	err := transaction.WithContext(ctx).
		Where("content_hash = ?", contentHash).
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ContentHash == "" {
		return nil, nil
	}
	return &entry, nil
}

// Upsert merges field-wise: last non-null wins per field, so partial updates
// with disjoint fields commute. updated_at is bumped on every call.
func (r *signalCacheRepo) Upsert(ctx context.Context, tx *gorm.DB, partial *types.SignalCacheEntry) (*types.SignalCacheEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if partial == nil || partial.ContentHash == "" {
		return nil, nil
	}

	var merged *types.SignalCacheEntry
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var existing types.SignalCacheEntry
		if err := txx.
			Where("content_hash = ?", partial.ContentHash).
			Limit(1).
			Find(&existing).Error; err != nil {
			return err
		}

		now := time.Now()
		if existing.ContentHash == "" {
			existing = types.SignalCacheEntry{
				ContentHash: partial.ContentHash,
				CreatedAt:   now,
			}
		}
		if partial.SpecAssetRef != "" {
			existing.SpecAssetRef = partial.SpecAssetRef
		}
		if len(partial.Adv) > 0 {
			existing.Adv = partial.Adv
		}
		existing.UpdatedAt = now

		if err := txx.Save(&existing).Error; err != nil {
			return err
		}
		merged = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}
