package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/sse"
	"github.com/pulsenote/pulsenote-backend/internal/sse/bus"
)

// RecordNotifier publishes a record's artifact-ready events. With a bus
// configured the publish goes through Redis and comes back to every instance's
// hub (including this one); without it the event goes straight to the local
// hub.
type RecordNotifier interface {
	ClinicalReady(recordID uuid.UUID, adv map[string]any)
	SpectrogramReady(recordID uuid.UUID, specAssetRef string)
}

type recordNotifier struct {
	log *logger.Logger
	hub *sse.SSEHub
	bus bus.Bus
}

func NewRecordNotifier(log *logger.Logger, hub *sse.SSEHub, b bus.Bus) RecordNotifier {
	return &recordNotifier{
		log: log.With("service", "RecordNotifier"),
		hub: hub,
		bus: b,
	}
}

func (n *recordNotifier) ClinicalReady(recordID uuid.UUID, adv map[string]any) {
	if n == nil || recordID == uuid.Nil {
		return
	}
	n.publish(sse.SSEMessage{
		Channel: sse.RecordChannel(recordID),
		Event:   sse.SSEEventClinicalReady,
		Data: map[string]any{
			"record_id": recordID,
			"adv":       adv,
		},
	})
}

func (n *recordNotifier) SpectrogramReady(recordID uuid.UUID, specAssetRef string) {
	if n == nil || recordID == uuid.Nil {
		return
	}
	n.publish(sse.SSEMessage{
		Channel: sse.RecordChannel(recordID),
		Event:   sse.SSEEventSpectrogramReady,
		Data: map[string]any{
			"record_id":      recordID,
			"spec_asset_ref": specAssetRef,
		},
	})
}

func (n *recordNotifier) publish(msg sse.SSEMessage) {
	if n.bus != nil {
		if err := n.bus.Publish(context.Background(), msg); err == nil {
			return
		} else {
			n.log.Warn("SSE bus publish failed; falling back to local hub", "channel", msg.Channel, "error", err)
		}
	}
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
}
