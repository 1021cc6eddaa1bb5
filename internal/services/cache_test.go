package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/repos"
)

func newCacheService(t *testing.T, gdb *gorm.DB) CacheService {
	t.Helper()
	log := newTestLogger(t)
	return NewCacheService(gdb, log, repos.NewSignalCacheRepo(gdb, log))
}

func TestCacheRequiresHash(t *testing.T) {
	cache := newCacheService(t, newTestDB(t))
	ctx := context.Background()

	if _, err := cache.Get(ctx, "  "); !apierr.IsInvalidInput(err) {
		t.Fatalf("blank hash get: want invalid_input, got %v", err)
	}
	if _, err := cache.Upsert(ctx, "", CachePartial{}); !apierr.IsInvalidInput(err) {
		t.Fatalf("blank hash upsert: want invalid_input, got %v", err)
	}
	if _, err := cache.Get(ctx, testHash); !apierr.IsNotFound(err) {
		t.Fatalf("missing entry: want not_found, got %v", err)
	}
}

func TestCacheUpsertMergesDisjointFields(t *testing.T) {
	cache := newCacheService(t, newTestDB(t))
	ctx := context.Background()

	// adv first, then spec.
	hashA := testHash
	if _, err := cache.Upsert(ctx, hashA, CachePartial{Adv: map[string]any{"heartRateBPM": 70.0}}); err != nil {
		t.Fatalf("upsert adv: %v", err)
	}
	if _, err := cache.Upsert(ctx, hashA, CachePartial{SpecAssetRef: "spectrograms/a.png"}); err != nil {
		t.Fatalf("upsert spec: %v", err)
	}

	// Same fields in the opposite order on a second hash.
	hashB := strings.Repeat("cd", 32)
	if _, err := cache.Upsert(ctx, hashB, CachePartial{SpecAssetRef: "spectrograms/b.png"}); err != nil {
		t.Fatalf("upsert spec: %v", err)
	}
	if _, err := cache.Upsert(ctx, hashB, CachePartial{Adv: map[string]any{"heartRateBPM": 70.0}}); err != nil {
		t.Fatalf("upsert adv: %v", err)
	}

	for _, hash := range []string{hashA, hashB} {
		entry, err := cache.Get(ctx, hash)
		if err != nil {
			t.Fatalf("get %s: %v", hash, err)
		}
		if entry.SpecAssetRef == "" {
			t.Fatalf("%s: specAssetRef lost in merge", hash)
		}
		adv := map[string]any{}
		if err := json.Unmarshal(entry.Adv, &adv); err != nil || adv["heartRateBPM"] != 70.0 {
			t.Fatalf("%s: adv lost in merge: %v %v", hash, err, adv)
		}
	}
}

func TestCacheUpsertKeepsExistingFieldOnPartialWrite(t *testing.T) {
	cache := newCacheService(t, newTestDB(t))
	ctx := context.Background()

	if _, err := cache.Upsert(ctx, testHash, CachePartial{
		Adv:          map[string]any{"heartRateBPM": 72.0},
		SpecAssetRef: "spectrograms/v1.png",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A later adv-only write must not clear the spectrogram reference.
	merged, err := cache.Upsert(ctx, testHash, CachePartial{Adv: map[string]any{"heartRateBPM": 71.0}})
	if err != nil {
		t.Fatalf("partial upsert: %v", err)
	}
	if merged.SpecAssetRef != "spectrograms/v1.png" {
		t.Fatalf("specAssetRef should survive an adv-only write, got %q", merged.SpecAssetRef)
	}
}

func TestCacheHashIsCaseInsensitive(t *testing.T) {
	cache := newCacheService(t, newTestDB(t))
	ctx := context.Background()

	upper := strings.ToUpper(testHash)
	if _, err := cache.Upsert(ctx, upper, CachePartial{SpecAssetRef: "spectrograms/x.png"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	entry, err := cache.Get(ctx, testHash)
	if err != nil {
		t.Fatalf("lowercase get after uppercase write: %v", err)
	}
	if entry.ContentHash != testHash {
		t.Fatalf("stored hash should be normalized lowercase, got %q", entry.ContentHash)
	}
}
