package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/repos"
	"github.com/pulsenote/pulsenote-backend/internal/types"
)

// CachePartial is the updatable slice of a cache entry. Nil fields are left
// untouched, so upserts with disjoint fields commute.
type CachePartial struct {
	Adv          map[string]any `json:"adv"`
	SpecAssetRef string         `json:"specAssetRef"`
}

// CacheService is the cross-user artifact cache keyed by content hash. Any
// authenticated caller may read or write: identical audio bytes yield the same
// artifacts no matter who uploaded them.
type CacheService interface {
	Get(ctx context.Context, contentHash string) (*types.SignalCacheEntry, error)
	Upsert(ctx context.Context, contentHash string, partial CachePartial) (*types.SignalCacheEntry, error)
}

type cacheService struct {
	db        *gorm.DB
	log       *logger.Logger
	cacheRepo repos.SignalCacheRepo
}

func NewCacheService(db *gorm.DB, log *logger.Logger, cacheRepo repos.SignalCacheRepo) CacheService {
	return &cacheService{
		db:        db,
		log:       log.With("service", "CacheService"),
		cacheRepo: cacheRepo,
	}
}

func (cs *cacheService) Get(ctx context.Context, contentHash string) (*types.SignalCacheEntry, error) {
	hash := strings.ToLower(strings.TrimSpace(contentHash))
	if hash == "" {
		return nil, apierr.InvalidInput(fmt.Errorf("content hash is required"))
	}
	entry, err := cs.cacheRepo.GetByHash(ctx, nil, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}
	if entry == nil {
		return nil, apierr.NotFound(fmt.Errorf("no cache entry for hash %s", hash))
	}
	return entry, nil
}

func (cs *cacheService) Upsert(ctx context.Context, contentHash string, partial CachePartial) (*types.SignalCacheEntry, error) {
	hash := strings.ToLower(strings.TrimSpace(contentHash))
	if hash == "" {
		return nil, apierr.InvalidInput(fmt.Errorf("content hash is required"))
	}

	entry := &types.SignalCacheEntry{
		ContentHash:  hash,
		SpecAssetRef: strings.TrimSpace(partial.SpecAssetRef),
	}
	if partial.Adv != nil {
		raw, err := json.Marshal(partial.Adv)
		if err != nil {
			return nil, apierr.InvalidInput(fmt.Errorf("adv not serializable: %w", err))
		}
		entry.Adv = datatypes.JSON(raw)
	}

	merged, err := cs.cacheRepo.Upsert(ctx, nil, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return merged, nil
}
