package dsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
)

// MetricsRequest identifies the audio to analyze. Either Samples carries the
// raw signal inline, or AssetKey points at the stored recording and the DSP
// service fetches it itself.
type MetricsRequest struct {
	RecordID   uuid.UUID `json:"recordId"`
	AssetKey   string    `json:"assetKey,omitempty"`
	SampleRate int       `json:"sampleRate,omitempty"`
	Samples    []float64 `json:"samples,omitempty"`
}

// Client talks to the signal-processing service that computes the hard
// algorithmic metrics and the clinical-style metric set.
type Client interface {
	SignalMetrics(ctx context.Context, req MetricsRequest) (map[string]any, error)
	ClinicalMetrics(ctx context.Context, req MetricsRequest) (map[string]any, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	baseURL := strings.TrimSpace(os.Getenv("DSP_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing DSP_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 90
	if v := os.Getenv("DSP_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        log.With("service", "DSPClient"),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

func (c *client) SignalMetrics(ctx context.Context, req MetricsRequest) (map[string]any, error) {
	return c.post(ctx, "/v1/metrics/signal", req)
}

func (c *client) ClinicalMetrics(ctx context.Context, req MetricsRequest) (map[string]any, error) {
	return c.post(ctx, "/v1/metrics/clinical", req)
}

func (c *client) post(ctx context.Context, path string, body MetricsRequest) (map[string]any, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dsp request %s: %w", path, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dsp http %d on %s: %s", resp.StatusCode, path, string(raw))
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("dsp decode error: %w; raw=%s", err, string(raw))
	}
	return out, nil
}
