package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pulsenote/pulsenote-backend/internal/clients/dsp"
	"github.com/pulsenote/pulsenote-backend/internal/db"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/repos"
	"github.com/pulsenote/pulsenote-backend/internal/requestdata"
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

func authedCtx(userID uuid.UUID) context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
}

func seedRecord(t *testing.T, repo repos.AnalysisRecordRepo, owner uuid.UUID, contentHash string) *types.AnalysisRecord {
	t.Helper()
	rec := &types.AnalysisRecord{
		OwnerUserID: owner,
		AssetKey:    "recordings/" + uuid.NewString() + ".wav",
		Filename:    "lung.wav",
		MediaType:   "audio/wav",
		SizeBytes:   4096,
		ContentHash: contentHash,
		Features:    []byte(`{"sampleRate":8000,"durationSec":2.0}`),
	}
	created, err := repo.Create(context.Background(), nil, []*types.AnalysisRecord{rec})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return created[0]
}

// waitForLanguage polls until the record's slot for lang reaches a terminal
// status, failing the test if the background task does not settle in time.
func waitForLanguage(t *testing.T, repo repos.AnalysisRecordRepo, recordID uuid.UUID, lang string) *types.AILanguage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := repo.GetByID(context.Background(), nil, recordID)
		if err != nil {
			t.Fatalf("reload record: %v", err)
		}
		if rec != nil {
			state, err := types.DecodeAIState(rec.AI)
			if err != nil {
				t.Fatalf("decode ai state: %v", err)
			}
			if ls, ok := state.Languages[lang]; ok && ls.Status != types.AILanguagePending {
				return ls
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("language %s never reached a terminal status", lang)
	return nil
}

type fakeDSP struct {
	mu            sync.Mutex
	signalCalls   int
	clinicalCalls int
	signal        map[string]any
	clinical      map[string]any
	signalErr     error
	clinicalErr   error

	// When set, both calls park here until the channel closes.
	gate chan struct{}
}

func (f *fakeDSP) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeDSP) SignalMetrics(ctx context.Context, req dsp.MetricsRequest) (map[string]any, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.signalCalls++
	f.mu.Unlock()
	if f.signalErr != nil {
		return nil, f.signalErr
	}
	if f.signal != nil {
		return f.signal, nil
	}
	return map[string]any{"rms": 0.21, "zeroCrossingRate": 0.07}, nil
}

func (f *fakeDSP) ClinicalMetrics(ctx context.Context, req dsp.MetricsRequest) (map[string]any, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.clinicalCalls++
	f.mu.Unlock()
	if f.clinicalErr != nil {
		return nil, f.clinicalErr
	}
	if f.clinical != nil {
		return f.clinical, nil
	}
	return map[string]any{"heartRateBPM": 72.0, "s1s2Ratio": 1.4}, nil
}

func (f *fakeDSP) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signalCalls, f.clinicalCalls
}

type fakeLLM struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeLLM) GenerateText(ctx context.Context, system string, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	text := f.text
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}
	return "Overview: regular rhythm with no prominent adventitious sounds.", nil
}

func (f *fakeLLM) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not used in tests")
}

func (f *fakeLLM) ModelID() string { return "test-model" }

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type notifierCall struct {
	recordID uuid.UUID
	event    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
}

func (f *fakeNotifier) ClinicalReady(recordID uuid.UUID, adv map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifierCall{recordID: recordID, event: "clinical"})
}

func (f *fakeNotifier) SpectrogramReady(recordID uuid.UUID, specAssetRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifierCall{recordID: recordID, event: "spectrogram"})
}

func (f *fakeNotifier) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.event)
	}
	return out
}

type fakeBucket struct {
	mu       sync.Mutex
	contents map[string]string
	deleted  []string
}

func (f *fakeBucket) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.contents[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBucket) DeleteFile(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (f *fakeBucket) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}
