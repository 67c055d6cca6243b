package pipeline

import (
	"errors"

	"github.com/mbd888/sentinel/internal/approval"
	"github.com/mbd888/sentinel/internal/metrics"
)

// ErrQueueFull is returned when the intake queue cannot accept more events.
var ErrQueueFull = errors.New("pipeline: queue full")

// Enqueue hands an event to the worker pool without blocking the caller.
// The intake response path must never wait on classification or execution.
func (p *Pipeline) Enqueue(ev *approval.Event) error {
	select {
	case p.queue <- ev:
		metrics.PipelineQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.PipelineQueueRejectedTotal.Inc()
		return ErrQueueFull
	}
}
