package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Dispatcher decouples callers from publish latency. Enqueue never blocks;
// events are dropped with a warning when the buffer is full.
type Dispatcher struct {
	publisher EventPublisher
	metrics   MetricsCollector
	queue     chan SessionEvent
	timeout   time.Duration
}

func NewDispatcher(publisher EventPublisher, metrics MetricsCollector, buffer int) *Dispatcher {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Dispatcher{
		publisher: NewMetricPublisher(publisher, metrics),
		metrics:   metrics,
		queue:     make(chan SessionEvent, buffer),
		timeout:   5 * time.Second,
	}
}

// Enqueue marshals the payload and queues the event for publishing
func (d *Dispatcher) Enqueue(eventType, roundID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal session event")
		return
	}

	event := SessionEvent{
		ID:        uuid.New(),
		RoundID:   roundID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case d.queue <- event:
	default:
		d.metrics.RecordEventDropped(eventType)
		log.Warn().Str("event_type", eventType).Msg("publish queue full, dropping session event")
	}
}

// Run publishes queued events until the context is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().Msg("session event dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session event dispatcher shutting down")
			return
		case event := <-d.queue:
			pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.publisher.Publish(pubCtx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_type", event.EventType).
					Str("round_id", event.RoundID).
					Msg("failed to publish session event")
			}
			cancel()
		}
	}
}
