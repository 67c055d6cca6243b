// Package pipeline wires event intake to classification and revocation.
// Intake returns immediately; everything downstream runs on a bounded
// queue drained by worker goroutines.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mbd888/sentinel/internal/approval"
	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/revoker"
	"github.com/mbd888/sentinel/internal/syncutil"
	"github.com/mbd888/sentinel/internal/threat"
	"github.com/mbd888/sentinel/internal/traces"
)

// Pipeline outcomes, one per processed event.
const (
	OutcomeSelfResolved   = "self_resolved"
	OutcomeSafe           = "safe"
	OutcomeDegraded       = "degraded"
	OutcomeRevoked        = "revoked"
	OutcomeAlreadyCleared = "already_cleared"
	OutcomeFailed         = "failed"
	OutcomeSkipped        = "skipped"
)

// Classifier produces a verdict for a non-zero approval.
type Classifier interface {
	Classify(ctx context.Context, ev *approval.Event) *threat.Verdict
}

// Executor revokes a malicious approval.
type Executor interface {
	Revoke(ctx context.Context, ev *approval.Event) (*revoker.Outcome, error)
}

// Broadcaster pushes pipeline outcomes to live subscribers. May be nil.
type Broadcaster interface {
	Broadcast(eventType string, payload any)
}

// Config tunes the queue and worker pool.
type Config struct {
	QueueSize int
	Workers   int
}

// Pipeline coordinates classification and revocation for approval events.
type Pipeline struct {
	queue      chan *approval.Event
	classifier Classifier
	executor   Executor
	inflight   *syncutil.Inflight
	broadcast  Broadcaster
	logger     *slog.Logger
	workers    int
	wg         sync.WaitGroup
}

// New creates a pipeline. Call Start to launch the workers.
func New(classifier Classifier, executor Executor, broadcast Broadcaster, cfg Config, logger *slog.Logger) *Pipeline {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	return &Pipeline{
		queue:      make(chan *approval.Event, queueSize),
		classifier: classifier,
		executor:   executor,
		inflight:   syncutil.NewInflight(),
		broadcast:  broadcast,
		logger:     logger,
		workers:    workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// the queue is closed.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop closes the queue and waits for in-flight work to drain.
func (p *Pipeline) Stop() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.PipelineQueueDepth.Set(float64(len(p.queue)))
			p.Process(ctx, ev)
		}
	}
}

// Process runs one event through classification and, if needed, revocation.
// It returns the final outcome. Exposed for the workers and for tests.
func (p *Pipeline) Process(ctx context.Context, ev *approval.Event) string {
	ctx, span := traces.StartSpan(ctx, "pipeline.process",
		traces.ApprovalID(ev.ApprovalID),
		traces.Owner(ev.Owner),
		traces.Spender(ev.Spender),
		traces.Token(ev.Token),
	)
	defer span.End()

	outcome, detail := p.process(ctx, ev)
	span.SetAttributes(traces.Outcome(outcome))
	metrics.ApprovalEventsTotal.WithLabelValues(outcome).Inc()

	p.publish(ev, outcome, detail)
	return outcome
}

func (p *Pipeline) process(ctx context.Context, ev *approval.Event) (string, any) {
	log := p.logger.With(
		"approval_id", ev.ApprovalID,
		"owner", ev.Owner,
		"token", ev.Token,
		"spender", ev.Spender,
	)

	// Zero-amount approvals clear themselves. Hard rule, not score-based.
	if ev.IsRevocation() {
		log.Info("approval self-resolved, no action needed")
		return OutcomeSelfResolved, nil
	}

	verdict := p.classifier.Classify(ctx, ev)
	log = log.With("risk_score", verdict.RiskScore, "rule", verdict.Rule)

	if !verdict.IsMalicious {
		if verdict.Degraded {
			log.Warn("analysis degraded, event flagged for manual review",
				"reasons", verdict.Reasons)
			return OutcomeDegraded, verdict
		}
		log.Info("approval classified safe")
		return OutcomeSafe, verdict
	}

	log.Warn("malicious approval detected", "reasons", verdict.Reasons)

	// At most one in-flight revocation per (owner, token, spender).
	key := ev.Key()
	if !p.inflight.TryBegin(key) {
		log.Info("revocation already in flight for this approval, skipping")
		return OutcomeSkipped, verdict
	}
	defer p.inflight.Done(key)

	metrics.InflightRevocations.Inc()
	defer metrics.InflightRevocations.Dec()

	result, err := p.executor.Revoke(ctx, ev)
	if err != nil {
		log.Error("revocation failed", "error", err)
		return OutcomeFailed, verdict
	}

	log.Info("revocation complete",
		"tx_hash", result.TxHash, "status", result.Status)

	if result.Status == revoker.OutcomeAlreadyCleared {
		return OutcomeAlreadyCleared, result
	}
	return OutcomeRevoked, result
}

func (p *Pipeline) publish(ev *approval.Event, outcome string, detail any) {
	if p.broadcast == nil {
		return
	}
	p.broadcast.Broadcast("approval_outcome", map[string]any{
		"approvalId": ev.ApprovalID,
		"owner":      ev.Owner,
		"token":      ev.Token,
		"spender":    ev.Spender,
		"outcome":    outcome,
		"detail":     detail,
	})
}
