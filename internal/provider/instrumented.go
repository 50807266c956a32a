package provider

import (
	"context"
	"errors"
	"time"

	"github.com/UnknownOlympus/quadrant/internal/metrics"
	"github.com/UnknownOlympus/quadrant/internal/models"
)

// Instrumented records request latency and errors of a Provider.
type Instrumented struct {
	next    Provider
	name    string
	metrics *metrics.Metrics
}

// NewInstrumented wraps next, labelling its metrics with name.
func NewInstrumented(next Provider, name string, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, name: name, metrics: m}
}

// Submit delegates and observes the call.
func (ip *Instrumented) Submit(ctx context.Context, task models.Task) (string, error) {
	start := time.Now()
	jobID, err := ip.next.Submit(ctx, task)
	ip.observe("submit", start, err)
	return jobID, err
}

// Poll delegates and observes the call. In-progress answers are not errors.
func (ip *Instrumented) Poll(ctx context.Context, jobID string) ([]models.Place, error) {
	start := time.Now()
	places, err := ip.next.Poll(ctx, jobID)
	ip.observe("poll", start, err)
	return places, err
}

func (ip *Instrumented) observe(stage string, start time.Time, err error) {
	ip.metrics.RequestSeconds.WithLabelValues(ip.name, stage).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrInProgress) {
		ip.metrics.ProviderErrors.WithLabelValues(ip.name, stage).Inc()
	}
}
