package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/clients/gcp"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/repos"
	"github.com/pulsenote/pulsenote-backend/internal/requestdata"
	"github.com/pulsenote/pulsenote-backend/internal/sse"
	"github.com/pulsenote/pulsenote-backend/internal/types"
)

// ContentHashAuto asks the backend to compute the hash itself from the stored
// asset instead of trusting a client-supplied value.
const ContentHashAuto = "auto"

type CreateRecordInput struct {
	AssetKey    string         `json:"assetKey"`
	Filename    string         `json:"filename"`
	MediaType   string         `json:"mediaType"`
	SizeBytes   int64          `json:"sizeBytes"`
	Title       string         `json:"title"`
	ContentHash string         `json:"contentHash"`
	Features    map[string]any `json:"features"`
}

// RecordPatch applies set-if-present semantics: nil pointers and nil maps mean
// "leave unchanged", never "clear".
type RecordPatch struct {
	Title        *string        `json:"title"`
	Adv          map[string]any `json:"adv"`
	SpecAssetRef *string        `json:"specAssetRef"`
	AI           map[string]any `json:"ai"`
	ContentHash  *string        `json:"contentHash"`
}

func (p RecordPatch) empty() bool {
	return p.Title == nil && p.Adv == nil && p.SpecAssetRef == nil && p.AI == nil && p.ContentHash == nil
}

// RecordView is a record plus derived presentation fields.
type RecordView struct {
	*types.AnalysisRecord
	AssetURL string `json:"asset_url,omitempty"`
}

type RecordService interface {
	Create(ctx context.Context, input CreateRecordInput) (*RecordView, error)
	List(ctx context.Context) ([]*RecordView, error)
	Get(ctx context.Context, recordID uuid.UUID) (*RecordView, error)
	Patch(ctx context.Context, recordID uuid.UUID, patch RecordPatch) (*RecordView, error)
	Delete(ctx context.Context, recordID uuid.UUID) error
}

type recordService struct {
	db           *gorm.DB
	log          *logger.Logger
	recordRepo   repos.AnalysisRecordRepo
	cacheService CacheService
	notifier     RecordNotifier
	hub          *sse.SSEHub
	bucket       gcp.BucketService
}

func NewRecordService(
	db *gorm.DB,
	log *logger.Logger,
	recordRepo repos.AnalysisRecordRepo,
	cacheService CacheService,
	notifier RecordNotifier,
	hub *sse.SSEHub,
	bucket gcp.BucketService,
) RecordService {
	return &recordService{
		db:           db,
		log:          log.With("service", "RecordService"),
		recordRepo:   recordRepo,
		cacheService: cacheService,
		notifier:     notifier,
		hub:          hub,
		bucket:       bucket,
	}
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, apierr.Unauthorized(fmt.Errorf("no authenticated caller in context"))
	}
	return rd.UserID, nil
}

func isContentHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func (rs *recordService) Create(ctx context.Context, input CreateRecordInput) (*RecordView, error) {
	owner, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.AssetKey) == "" {
		return nil, apierr.InvalidInput(fmt.Errorf("assetKey is required"))
	}
	if strings.TrimSpace(input.Filename) == "" {
		return nil, apierr.InvalidInput(fmt.Errorf("filename is required"))
	}
	if len(input.Features) == 0 {
		return nil, apierr.InvalidInput(fmt.Errorf("features is required"))
	}

	contentHash := strings.ToLower(strings.TrimSpace(input.ContentHash))
	switch {
	case contentHash == "":
	case contentHash == ContentHashAuto:
		computed, hErr := rs.hashStoredAsset(ctx, input.AssetKey)
		if hErr != nil {
			return nil, hErr
		}
		contentHash = computed
	case !isContentHash(contentHash):
		return nil, apierr.InvalidInput(fmt.Errorf("contentHash must be 64 hex characters or %q", ContentHashAuto))
	}

	featuresJSON, err := json.Marshal(input.Features)
	if err != nil {
		return nil, apierr.InvalidInput(fmt.Errorf("features not serializable: %w", err))
	}

	record := &types.AnalysisRecord{
		OwnerUserID: owner,
		AssetKey:    input.AssetKey,
		Filename:    input.Filename,
		MediaType:   input.MediaType,
		SizeBytes:   input.SizeBytes,
		Title:       strings.TrimSpace(input.Title),
		ContentHash: contentHash,
		Features:    datatypes.JSON(featuresJSON),
	}

	created, err := rs.recordRepo.Create(ctx, nil, []*types.AnalysisRecord{record})
	if err != nil {
		rs.log.Error("Failed to create analysis record", "error", err)
		return nil, fmt.Errorf("failed to create analysis record: %w", err)
	}
	return rs.view(created[0]), nil
}

// hashStoredAsset downloads the raw asset bytes and hashes them server-side.
func (rs *recordService) hashStoredAsset(ctx context.Context, assetKey string) (string, error) {
	if rs.bucket == nil {
		return "", apierr.InvalidInput(fmt.Errorf("contentHash %q requires asset storage to be configured", ContentHashAuto))
	}
	reader, err := rs.bucket.DownloadFile(ctx, assetKey)
	if err != nil {
		return "", apierr.Downstream(fmt.Errorf("failed to download asset for hashing: %w", err))
	}
	defer reader.Close()

	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", apierr.Downstream(fmt.Errorf("failed to read asset for hashing: %w", err))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (rs *recordService) List(ctx context.Context) ([]*RecordView, error) {
	owner, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	records, err := rs.recordRepo.ListByOwner(ctx, nil, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis records: %w", err)
	}
	views := make([]*RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, rs.view(rec))
	}
	return views, nil
}

func (rs *recordService) Get(ctx context.Context, recordID uuid.UUID) (*RecordView, error) {
	owner, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	record, err := rs.recordRepo.GetByIDForOwner(ctx, nil, owner, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis record: %w", err)
	}
	if record == nil {
		return nil, apierr.NotFound(fmt.Errorf("record %s not found", recordID))
	}
	return rs.view(record), nil
}

func (rs *recordService) Patch(ctx context.Context, recordID uuid.UUID, patch RecordPatch) (*RecordView, error) {
	owner, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, apierr.InvalidInput(fmt.Errorf("patch must set at least one field"))
	}

	updates := map[string]interface{}{}
	if patch.Title != nil {
		updates["title"] = strings.TrimSpace(*patch.Title)
	}
	if patch.Adv != nil {
		raw, mErr := json.Marshal(patch.Adv)
		if mErr != nil {
			return nil, apierr.InvalidInput(fmt.Errorf("adv not serializable: %w", mErr))
		}
		updates["adv"] = datatypes.JSON(raw)
	}
	if patch.SpecAssetRef != nil {
		updates["spec_asset_ref"] = strings.TrimSpace(*patch.SpecAssetRef)
	}
	if patch.AI != nil {
		raw, mErr := json.Marshal(patch.AI)
		if mErr != nil {
			return nil, apierr.InvalidInput(fmt.Errorf("ai not serializable: %w", mErr))
		}
		updates["ai"] = datatypes.JSON(raw)
		// Direct ai replacement must invalidate in-flight CAS writers.
		updates["ai_version"] = gorm.Expr("ai_version + 1")
	}
	if patch.ContentHash != nil {
		hash := strings.ToLower(strings.TrimSpace(*patch.ContentHash))
		if hash != "" && !isContentHash(hash) {
			return nil, apierr.InvalidInput(fmt.Errorf("contentHash must be 64 hex characters"))
		}
		updates["content_hash"] = hash
	}

	rows, err := rs.recordRepo.UpdateFields(ctx, nil, owner, recordID, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to patch analysis record: %w", err)
	}
	if rows == 0 {
		return nil, apierr.NotFound(fmt.Errorf("record %s not found", recordID))
	}

	record, err := rs.recordRepo.GetByIDForOwner(ctx, nil, owner, recordID)
	if err != nil || record == nil {
		return nil, fmt.Errorf("failed to reload patched record: %w", err)
	}

	rs.afterPatch(ctx, record, patch)
	return rs.view(record), nil
}

// afterPatch fans out the side effects of a successful patch: artifact-ready
// events for viewers and a shared-cache upsert when the record has a content
// hash to key it by.
func (rs *recordService) afterPatch(ctx context.Context, record *types.AnalysisRecord, patch RecordPatch) {
	if patch.Adv != nil && rs.notifier != nil {
		rs.notifier.ClinicalReady(record.ID, patch.Adv)
	}
	if patch.SpecAssetRef != nil && rs.notifier != nil {
		rs.notifier.SpectrogramReady(record.ID, record.SpecAssetRef)
	}

	if record.ContentHash == "" || (patch.Adv == nil && patch.SpecAssetRef == nil) {
		return
	}
	if rs.cacheService == nil {
		return
	}
	partial := CachePartial{}
	if patch.Adv != nil {
		partial.Adv = patch.Adv
	}
	if patch.SpecAssetRef != nil {
		partial.SpecAssetRef = record.SpecAssetRef
	}
	if _, err := rs.cacheService.Upsert(ctx, record.ContentHash, partial); err != nil {
		rs.log.Warn("Cache upsert after patch failed", "record_id", record.ID, "content_hash", record.ContentHash, "error", err)
	}
}

func (rs *recordService) Delete(ctx context.Context, recordID uuid.UUID) error {
	owner, err := callerID(ctx)
	if err != nil {
		return err
	}
	record, err := rs.recordRepo.GetByIDForOwner(ctx, nil, owner, recordID)
	if err != nil {
		return fmt.Errorf("failed to load analysis record: %w", err)
	}
	if record == nil {
		return apierr.NotFound(fmt.Errorf("record %s not found", recordID))
	}

	deleted, err := rs.recordRepo.FullDeleteByIDForOwner(ctx, nil, owner, recordID)
	if err != nil {
		return fmt.Errorf("failed to delete analysis record: %w", err)
	}
	if !deleted {
		return apierr.NotFound(fmt.Errorf("record %s not found", recordID))
	}

	if rs.hub != nil {
		rs.hub.CloseChannel(sse.RecordChannel(recordID))
	}
	if rs.bucket != nil && record.AssetKey != "" {
		if dErr := rs.bucket.DeleteFile(ctx, record.AssetKey); dErr != nil {
			rs.log.Warn("Best-effort asset delete failed", "record_id", recordID, "asset_key", record.AssetKey, "error", dErr)
		}
	}
	return nil
}

func (rs *recordService) view(record *types.AnalysisRecord) *RecordView {
	v := &RecordView{AnalysisRecord: record}
	if rs.bucket != nil && record.AssetKey != "" {
		v.AssetURL = rs.bucket.GetPublicURL(record.AssetKey)
	}
	return v
}
