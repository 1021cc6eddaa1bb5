package repos

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pulsenote/pulsenote-backend/internal/db"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return gdb
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func seedRecord(t *testing.T, repo AnalysisRecordRepo, owner uuid.UUID) *types.AnalysisRecord {
	t.Helper()
	rec := &types.AnalysisRecord{
		OwnerUserID: owner,
		AssetKey:    "recordings/" + uuid.NewString() + ".wav",
		Filename:    "heart.wav",
		MediaType:   "audio/wav",
		SizeBytes:   2048,
		Features:    []byte(`{"sampleRate":4000,"durationSec":1.5}`),
	}
	created, err := repo.Create(context.Background(), nil, []*types.AnalysisRecord{rec})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created[0]
}

func TestCreateAssignsID(t *testing.T) {
	repo := NewAnalysisRecordRepo(newTestDB(t), newTestLogger(t))
	rec := seedRecord(t, repo, uuid.New())
	if rec.ID == uuid.Nil {
		t.Fatalf("Create should assign a uuid")
	}
}

func TestGetByIDForOwnerScopesOwnership(t *testing.T) {
	repo := NewAnalysisRecordRepo(newTestDB(t), newTestLogger(t))
	owner := uuid.New()
	rec := seedRecord(t, repo, owner)
	ctx := context.Background()

	got, err := repo.GetByIDForOwner(ctx, nil, owner, rec.ID)
	if err != nil {
		t.Fatalf("GetByIDForOwner: %v", err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("owner should see own record")
	}

	// Another user gets the same answer as for a nonexistent record.
	other, err := repo.GetByIDForOwner(ctx, nil, uuid.New(), rec.ID)
	if err != nil {
		t.Fatalf("GetByIDForOwner other: %v", err)
	}
	if other != nil {
		t.Fatalf("non-owner must not see the record")
	}
	missing, err := repo.GetByIDForOwner(ctx, nil, owner, uuid.New())
	if err != nil {
		t.Fatalf("GetByIDForOwner missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing record should be nil")
	}
}

func TestUpdateFieldsTouchesOnlyGivenColumns(t *testing.T) {
	repo := NewAnalysisRecordRepo(newTestDB(t), newTestLogger(t))
	owner := uuid.New()
	rec := seedRecord(t, repo, owner)
	ctx := context.Background()

	rows, err := repo.UpdateFields(ctx, nil, owner, rec.ID, map[string]interface{}{
		"title": "late diastolic murmur candidate",
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if rows != 1 {
		t.Fatalf("rows: want=1 got=%d", rows)
	}

	got, err := repo.GetByIDForOwner(ctx, nil, owner, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Title != "late diastolic murmur candidate" {
		t.Fatalf("title not updated: %q", got.Title)
	}
	if got.Filename != rec.Filename || string(got.Features) == "" {
		t.Fatalf("untouched columns must keep their values")
	}

	rows, err = repo.UpdateFields(ctx, nil, uuid.New(), rec.ID, map[string]interface{}{"title": "x"})
	if err != nil {
		t.Fatalf("UpdateFields other owner: %v", err)
	}
	if rows != 0 {
		t.Fatalf("non-owner update should match zero rows")
	}
}

func TestSwapAIStateCAS(t *testing.T) {
	repo := NewAnalysisRecordRepo(newTestDB(t), newTestLogger(t))
	owner := uuid.New()
	rec := seedRecord(t, repo, owner)
	ctx := context.Background()

	swapped, err := repo.SwapAIState(ctx, nil, rec.ID, 0, []byte(`{"model":"m1"}`))
	if err != nil {
		t.Fatalf("SwapAIState: %v", err)
	}
	if !swapped {
		t.Fatalf("first swap at version 0 should win")
	}

	// A second writer still holding version 0 must lose.
	swapped, err = repo.SwapAIState(ctx, nil, rec.ID, 0, []byte(`{"model":"m2"}`))
	if err != nil {
		t.Fatalf("SwapAIState stale: %v", err)
	}
	if swapped {
		t.Fatalf("stale version must not swap")
	}

	got, err := repo.GetByID(ctx, nil, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	if got.AIVersion != 1 {
		t.Fatalf("ai_version: want=1 got=%d", got.AIVersion)
	}
	state, err := types.DecodeAIState(got.AI)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Model != "m1" {
		t.Fatalf("winning write should persist: got model=%q", state.Model)
	}

	// Re-read then retry succeeds at the new version.
	swapped, err = repo.SwapAIState(ctx, nil, rec.ID, got.AIVersion, []byte(`{"model":"m1","languages":{"en":{"status":"pending"}}}`))
	if err != nil || !swapped {
		t.Fatalf("retry at fresh version should win: swapped=%v err=%v", swapped, err)
	}
}

func TestFullDeleteByIDForOwner(t *testing.T) {
	repo := NewAnalysisRecordRepo(newTestDB(t), newTestLogger(t))
	owner := uuid.New()
	rec := seedRecord(t, repo, owner)
	ctx := context.Background()

	deleted, err := repo.FullDeleteByIDForOwner(ctx, nil, uuid.New(), rec.ID)
	if err != nil {
		t.Fatalf("FullDelete other owner: %v", err)
	}
	if deleted {
		t.Fatalf("non-owner must not delete")
	}

	deleted, err = repo.FullDeleteByIDForOwner(ctx, nil, owner, rec.ID)
	if err != nil || !deleted {
		t.Fatalf("owner delete: deleted=%v err=%v", deleted, err)
	}

	got, err := repo.GetByID(ctx, nil, rec.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got != nil {
		t.Fatalf("record should be gone")
	}
}

func TestListByOwnerNewestFirst(t *testing.T) {
	repo := NewAnalysisRecordRepo(newTestDB(t), newTestLogger(t))
	owner := uuid.New()
	seedRecord(t, repo, owner)
	seedRecord(t, repo, owner)
	seedRecord(t, repo, uuid.New())

	list, err := repo.ListByOwner(context.Background(), nil, owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len: want=2 got=%d", len(list))
	}
	if list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Fatalf("list should be newest first")
	}
}
