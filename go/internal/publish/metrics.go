package publish

import (
	"context"
	"sync"
	"time"
)

// MetricsCollector defines the interface for collecting publish metrics
type MetricsCollector interface {
	RecordEventPublished(eventType string, success bool, duration time.Duration)
	RecordEventDropped(eventType string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventPublished(eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordEventDropped(eventType string) {}

// CountingMetrics keeps in-process counters for the health endpoint
type CountingMetrics struct {
	mu            sync.Mutex
	published     uint64
	failed        uint64
	dropped       uint64
	lastPublished time.Time
}

func NewCountingMetrics() *CountingMetrics {
	return &CountingMetrics{}
}

func (m *CountingMetrics) RecordEventPublished(eventType string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.published++
		m.lastPublished = time.Now()
		return
	}
	m.failed++
}

func (m *CountingMetrics) RecordEventDropped(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

// Stats is a point-in-time copy of the counters
type Stats struct {
	Published     uint64    `json:"published"`
	Failed        uint64    `json:"failed"`
	Dropped       uint64    `json:"dropped"`
	LastPublished time.Time `json:"last_published,omitempty"`
}

func (m *CountingMetrics) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Published:     m.published,
		Failed:        m.failed,
		Dropped:       m.dropped,
		LastPublished: m.lastPublished,
	}
}

// MetricPublisher wraps an EventPublisher with metrics collection
type MetricPublisher struct {
	publisher EventPublisher
	metrics   MetricsCollector
}

func NewMetricPublisher(publisher EventPublisher, metrics MetricsCollector) *MetricPublisher {
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event SessionEvent) error {
	start := time.Now()

	err := p.publisher.Publish(ctx, event)

	p.metrics.RecordEventPublished(event.EventType, err == nil, time.Since(start))
	return err
}
