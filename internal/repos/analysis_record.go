package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/types"
)

// AnalysisRecordRepo scopes every read and write by owner so that "not owned"
// and "does not exist" are the same (nil, nil) answer. The AI column has a
// dedicated compare-and-swap writer because its nested per-language state must
// be merged, never patched field-wise.
type AnalysisRecordRepo interface {
	Create(ctx context.Context, tx *gorm.DB, records []*types.AnalysisRecord) ([]*types.AnalysisRecord, error)
	GetByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, recordID uuid.UUID) (*types.AnalysisRecord, error)
	GetByID(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (*types.AnalysisRecord, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) ([]*types.AnalysisRecord, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, ownerUserID, recordID uuid.UUID, updates map[string]interface{}) (int64, error)
	SwapAIState(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, expectedVersion int64, ai datatypes.JSON) (bool, error)
	FullDeleteByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, recordID uuid.UUID) (bool, error)
}

type analysisRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRecordRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRecordRepo {
	return &analysisRecordRepo{
		db:  db,
		log: baseLog.With("repo", "AnalysisRecordRepo"),
	}
}

func (r *analysisRecordRepo) Create(ctx context.Context, tx *gorm.DB, records []*types.AnalysisRecord) ([]*types.AnalysisRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return []*types.AnalysisRecord{}, nil
	}
	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).Create(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *analysisRecordRepo) GetByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, recordID uuid.UUID) (*types.AnalysisRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil || recordID == uuid.Nil {
		return nil, nil
	}
	var rec types.AnalysisRecord
	err := transaction.WithContext(ctx).
		Where("id = ? AND owner_user_id = ?", recordID, ownerUserID).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == uuid.Nil {
		return nil, nil
	}
	return &rec, nil
}

func (r *analysisRecordRepo) GetByID(ctx context.Context, tx *gorm.DB, recordID uuid.UUID) (*types.AnalysisRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if recordID == uuid.Nil {
		return nil, nil
	}
	var rec types.AnalysisRecord
	err := transaction.WithContext(ctx).
		Where("id = ?", recordID).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == uuid.Nil {
		return nil, nil
	}
	return &rec, nil
}

func (r *analysisRecordRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) ([]*types.AnalysisRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.AnalysisRecord
	if ownerUserID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateFields applies a set-if-present partial update: only the keys in the
// map are touched. Returns the number of rows matched so callers can map zero
// to not-found.
func (r *analysisRecordRepo) UpdateFields(ctx context.Context, tx *gorm.DB, ownerUserID, recordID uuid.UUID, updates map[string]interface{}) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if recordID == uuid.Nil || len(updates) == 0 {
		return 0, nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(ctx).Model(&types.AnalysisRecord{})
	if ownerUserID != uuid.Nil {
		q = q.Where("id = ? AND owner_user_id = ?", recordID, ownerUserID)
	} else {
		q = q.Where("id = ?", recordID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// SwapAIState replaces the whole ai object iff ai_version still matches the
// version the caller read. False means a concurrent writer won; re-read and
// retry.
func (r *analysisRecordRepo) SwapAIState(ctx context.Context, tx *gorm.DB, recordID uuid.UUID, expectedVersion int64, ai datatypes.JSON) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if recordID == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).Model(&types.AnalysisRecord{}).
		Where("id = ? AND ai_version = ?", recordID, expectedVersion).
		Updates(map[string]interface{}{
			"ai":         ai,
			"ai_version": expectedVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *analysisRecordRepo) FullDeleteByIDForOwner(ctx context.Context, tx *gorm.DB, ownerUserID, recordID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ownerUserID == uuid.Nil || recordID == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Unscoped().
		Where("id = ? AND owner_user_id = ?", recordID, ownerUserID).
		Delete(&types.AnalysisRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
