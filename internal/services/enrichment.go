package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/clients/dsp"
	"github.com/pulsenote/pulsenote-backend/internal/clients/openai"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/normalization"
	"github.com/pulsenote/pulsenote-backend/internal/repos"
	"github.com/pulsenote/pulsenote-backend/internal/types"
)

const casMaxAttempts = 8

type StartEnrichmentInput struct {
	Language   string    `json:"language"`
	SampleRate int       `json:"sampleRate"`
	Samples    []float64 `json:"samples"`
}

// StartResult tells the caller what happened to its request: exactly one of
// Started, Already, Pending is true.
type StartResult struct {
	Started bool `json:"started"`
	Already bool `json:"already,omitempty"`
	Pending bool `json:"pending,omitempty"`
}

// EnrichmentService runs the idempotent per-(record, language) report
// pipeline. Start returns as soon as the pending reservation is durable; the
// generation itself happens in a background task whose failures land in the
// record's ai state, never in the caller's response.
type EnrichmentService interface {
	Start(ctx context.Context, recordID uuid.UUID, input StartEnrichmentInput) (*StartResult, error)
}

type enrichmentService struct {
	db              *gorm.DB
	log             *logger.Logger
	recordRepo      repos.AnalysisRecordRepo
	cacheService    CacheService
	dspClient       dsp.Client
	llmClient       openai.Client
	notifier        RecordNotifier
	timeout         time.Duration
	pendingStale    time.Duration
	defaultLanguage string

	locks keyedMutex
}

func NewEnrichmentService(
	db *gorm.DB,
	log *logger.Logger,
	recordRepo repos.AnalysisRecordRepo,
	cacheService CacheService,
	dspClient dsp.Client,
	llmClient openai.Client,
	notifier RecordNotifier,
	timeout time.Duration,
	pendingStale time.Duration,
	defaultLanguage string,
) EnrichmentService {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if pendingStale <= 0 {
		pendingStale = 10 * time.Minute
	}
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	return &enrichmentService{
		db:              db,
		log:             log.With("service", "EnrichmentService"),
		recordRepo:      recordRepo,
		cacheService:    cacheService,
		dspClient:       dspClient,
		llmClient:       llmClient,
		notifier:        notifier,
		timeout:         timeout,
		pendingStale:    pendingStale,
		defaultLanguage: defaultLanguage,
	}
}

// keyedMutex serializes in-process work per (record, language) key so the
// check-then-set on the pending flag is atomic within one instance; the
// ai_version compare-and-swap covers the cross-instance race.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	refs int
	mu   sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*keyedMutexEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &keyedMutexEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

func (es *enrichmentService) Start(ctx context.Context, recordID uuid.UUID, input StartEnrichmentInput) (*StartResult, error) {
	owner, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	record, err := es.recordRepo.GetByIDForOwner(ctx, nil, owner, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis record: %w", err)
	}
	if record == nil {
		return nil, apierr.NotFound(fmt.Errorf("record %s not found", recordID))
	}

	lang := normalization.ParseLanguageTag(input.Language)
	if lang == "" {
		lang = es.defaultLanguage
	}

	unlock := es.locks.lock(recordID.String() + "|" + lang)
	defer unlock()

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		current, err := es.recordRepo.GetByID(ctx, nil, recordID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload analysis record: %w", err)
		}
		if current == nil {
			return nil, apierr.NotFound(fmt.Errorf("record %s not found", recordID))
		}

		state, err := types.DecodeAIState(current.AI)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ai state: %w", err)
		}

		if ls, ok := state.Languages[lang]; ok && ls != nil {
			if ls.Status == types.AILanguageComplete && ls.Text != "" {
				return &StartResult{Already: true}, nil
			}
			if ls.Status == types.AILanguagePending && ls.StartedAt != nil && time.Since(*ls.StartedAt) < es.pendingStale {
				return &StartResult{Pending: true}, nil
			}
			// failed, or a pending left behind by a dead process: reclaim.
		}

		now := time.Now().UTC()
		slot := state.Language(lang)
		slot.Status = types.AILanguagePending
		slot.StartedAt = &now

		encoded, err := state.Encode()
		if err != nil {
			return nil, fmt.Errorf("failed to encode ai state: %w", err)
		}
		swapped, err := es.recordRepo.SwapAIState(ctx, nil, recordID, current.AIVersion, encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve enrichment slot: %w", err)
		}
		if !swapped {
			continue
		}

		snapshot := *current
		go es.run(&snapshot, lang, input.SampleRate, input.Samples)
		return &StartResult{Started: true}, nil
	}

	return nil, apierr.Downstream(fmt.Errorf("could not reserve enrichment slot for record %s language %s", recordID, lang))
}

// run is the background generation task. It owns its context; the HTTP request
// that triggered it is long gone.
func (es *enrichmentService) run(record *types.AnalysisRecord, lang string, sampleRate int, samples []float64) {
	ctx, cancel := context.WithTimeout(context.Background(), es.timeout)
	defer cancel()

	runLog := es.log.With("record_id", record.ID, "language", lang)

	metricsReq := dsp.MetricsRequest{
		RecordID:   record.ID,
		AssetKey:   record.AssetKey,
		SampleRate: sampleRate,
		Samples:    samples,
	}

	var (
		signalMetrics   map[string]any
		clinicalMetrics map[string]any
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := es.dspClient.SignalMetrics(gctx, metricsReq)
		if err != nil {
			return fmt.Errorf("signal metrics: %w", err)
		}
		signalMetrics = m
		return nil
	})
	g.Go(func() error {
		m, err := es.resolveClinicalMetrics(gctx, record, metricsReq)
		if err != nil {
			return fmt.Errorf("clinical metrics: %w", err)
		}
		clinicalMetrics = m
		return nil
	})
	if err := g.Wait(); err != nil {
		// Anything already persisted (adv, cache) stays; only the report slot
		// is marked failed.
		runLog.Warn("Enrichment metrics stage failed", "error", err)
		es.fail(record.ID, lang, err)
		return
	}

	basicFeatures := map[string]any{}
	if len(record.Features) > 0 {
		if err := json.Unmarshal(record.Features, &basicFeatures); err != nil {
			runLog.Warn("Failed to decode record features for prompt", "error", err)
		}
	}

	// The conflict policy is declarative: the model reconciles overlapping
	// values rather than us merging the maps.
	metricsContext := map[string]any{
		"clinicalMetrics": clinicalMetrics,
		"signalMetrics":   signalMetrics,
		"basicFeatures":   basicFeatures,
		"conflictPolicy":  "prefer clinicalMetrics",
	}

	system, user, err := buildReportPrompt(lang, metricsContext)
	if err != nil {
		es.fail(record.ID, lang, err)
		return
	}

	text, err := es.llmClient.GenerateText(ctx, system, user)
	if err != nil {
		runLog.Warn("Report generation failed", "error", err)
		es.fail(record.ID, lang, fmt.Errorf("report generation: %w", err))
		return
	}

	if err := es.complete(record.ID, lang, text, metricsContext); err != nil {
		runLog.Error("Failed to persist completed report", "error", err)
		return
	}
	runLog.Info("Enrichment complete")
}

// resolveClinicalMetrics finds clinical-style metrics in resolution order:
// already on the record, cached for identical content, or freshly computed.
// Computed (or cache-borrowed) metrics are persisted onto the record and
// announced immediately, so they survive even if the report stage later fails.
func (es *enrichmentService) resolveClinicalMetrics(ctx context.Context, record *types.AnalysisRecord, metricsReq dsp.MetricsRequest) (map[string]any, error) {
	if len(record.Adv) > 0 {
		existing := map[string]any{}
		if err := json.Unmarshal(record.Adv, &existing); err == nil && len(existing) > 0 {
			return existing, nil
		}
	}

	if record.ContentHash != "" && es.cacheService != nil {
		entry, err := es.cacheService.Get(ctx, record.ContentHash)
		if err == nil && entry != nil && len(entry.Adv) > 0 {
			cached := map[string]any{}
			if uErr := json.Unmarshal(entry.Adv, &cached); uErr == nil && len(cached) > 0 {
				es.persistClinicalMetrics(ctx, record, cached, false)
				return cached, nil
			}
		} else if err != nil && !apierr.IsNotFound(err) {
			es.log.Warn("Cache lookup failed; computing clinical metrics", "record_id", record.ID, "error", err)
		}
	}

	computed, err := es.dspClient.ClinicalMetrics(ctx, metricsReq)
	if err != nil {
		return nil, err
	}
	es.persistClinicalMetrics(ctx, record, computed, true)
	return computed, nil
}

func (es *enrichmentService) persistClinicalMetrics(ctx context.Context, record *types.AnalysisRecord, metrics map[string]any, shareToCache bool) {
	raw, err := json.Marshal(metrics)
	if err != nil {
		es.log.Warn("Clinical metrics not serializable", "record_id", record.ID, "error", err)
		return
	}
	if _, err := es.recordRepo.UpdateFields(ctx, nil, uuid.Nil, record.ID, map[string]interface{}{
		"adv": datatypes.JSON(raw),
	}); err != nil {
		es.log.Warn("Failed to persist clinical metrics", "record_id", record.ID, "error", err)
	}

	if shareToCache && record.ContentHash != "" && es.cacheService != nil {
		if _, err := es.cacheService.Upsert(ctx, record.ContentHash, CachePartial{Adv: metrics}); err != nil {
			es.log.Warn("Cache upsert of clinical metrics failed", "record_id", record.ID, "error", err)
		}
	}

	if es.notifier != nil {
		es.notifier.ClinicalReady(record.ID, metrics)
	}
}

func buildReportPrompt(lang string, metricsContext map[string]any) (string, string, error) {
	metricsJSON, err := json.MarshalIndent(metricsContext, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("metrics context not serializable: %w", err)
	}

	system := "You are an assistant that summarizes acoustic analysis of physiological " +
		"sound recordings for clinicians. You describe signal characteristics and " +
		"computed metrics in cautious, descriptive language. You never diagnose, never " +
		"recommend treatment, and explicitly note that findings require professional " +
		"interpretation. Structure the report with short titled sections: overview, " +
		"signal quality, notable metrics, and limitations. Write the entire report in " +
		"the language with tag \"" + lang + "\"."

	user := "Write the structured report for the following analysis results. Where " +
		"clinicalMetrics and signalMetrics disagree, follow the conflictPolicy.\n\n" +
		string(metricsJSON)

	return system, user, nil
}

// complete marks the language slot done. Record-wide model and metrics
// snapshot are first-generation-wins; later languages only add their own slot.
func (es *enrichmentService) complete(recordID uuid.UUID, lang string, text string, metricsContext map[string]any) error {
	return es.swapAI(recordID, func(state *types.AIState) {
		now := time.Now().UTC()
		slot := state.Language(lang)
		slot.Status = types.AILanguageComplete
		slot.Text = text
		slot.GeneratedAt = &now
		slot.StartedAt = nil
		slot.LastError = ""
		if state.Model == "" {
			state.Model = es.llmClient.ModelID()
		}
		if state.MetricsSnapshot == nil {
			state.MetricsSnapshot = metricsContext
		}
	})
}

func (es *enrichmentService) fail(recordID uuid.UUID, lang string, cause error) {
	err := es.swapAI(recordID, func(state *types.AIState) {
		slot := state.Language(lang)
		slot.Status = types.AILanguageFailed
		slot.StartedAt = nil
		slot.LastError = cause.Error()
	})
	if err != nil {
		es.log.Error("Failed to record enrichment failure", "record_id", recordID, "language", lang, "cause", cause, "error", err)
	}
}

// swapAI applies mutate under the ai_version compare-and-swap, re-reading and
// retrying until the write lands on an unchanged version.
func (es *enrichmentService) swapAI(recordID uuid.UUID, mutate func(state *types.AIState)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		record, err := es.recordRepo.GetByID(ctx, nil, recordID)
		if err != nil {
			return fmt.Errorf("failed to reload analysis record: %w", err)
		}
		if record == nil {
			// Deleted mid-flight; nothing to write.
			return nil
		}

		state, err := types.DecodeAIState(record.AI)
		if err != nil {
			return fmt.Errorf("failed to decode ai state: %w", err)
		}
		mutate(state)

		encoded, err := state.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode ai state: %w", err)
		}
		swapped, err := es.recordRepo.SwapAIState(ctx, nil, recordID, record.AIVersion, encoded)
		if err != nil {
			return fmt.Errorf("failed to swap ai state: %w", err)
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("ai state contention exceeded %d attempts for record %s", casMaxAttempts, recordID)
}
