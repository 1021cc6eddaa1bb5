package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/pulsenote/pulsenote-backend/internal/clients/dsp"
	"github.com/pulsenote/pulsenote-backend/internal/clients/gcp"
	"github.com/pulsenote/pulsenote-backend/internal/clients/openai"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/sse/bus"
)

type Clients struct {
	GcpBucket    gcp.BucketService
	OpenaiClient openai.Client
	DSPClient    dsp.Client
	SSEBus       bus.Bus
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	dspClient, err := dsp.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init dsp client: %w", err)
	}

	// Optional: without a bucket, asset URLs, asset deletes and server-side
	// hashing are unavailable but record CRUD still works.
	var bucket gcp.BucketService
	if strings.TrimSpace(os.Getenv("RECORDING_GCS_BUCKET_NAME")) != "" {
		bucket, err = gcp.NewBucketService(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init bucket service: %w", err)
		}
	} else {
		log.Warn("RECORDING_GCS_BUCKET_NAME not set; asset storage disabled")
	}

	// Optional: without Redis the SSE hub is per-instance only.
	var sseBus bus.Bus
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		sseBus, err = bus.NewRedisBus(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis sse bus: %w", err)
		}
	} else {
		log.Warn("REDIS_ADDR not set; SSE events stay in-process")
	}

	return Clients{
		GcpBucket:    bucket,
		OpenaiClient: openaiClient,
		DSPClient:    dspClient,
		SSEBus:       sseBus,
	}, nil
}
