package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/approval"
	"github.com/mbd888/sentinel/internal/revoker"
	"github.com/mbd888/sentinel/internal/threat"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type fakeClassifier struct {
	verdict *threat.Verdict
	calls   int
	mu      sync.Mutex
}

func (f *fakeClassifier) Classify(_ context.Context, _ *approval.Event) *threat.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.verdict
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeExecutor struct {
	outcome *revoker.Outcome
	err     error
	calls   int
	mu      sync.Mutex
	block   chan struct{} // when set, Revoke blocks until closed
}

func (f *fakeExecutor) Revoke(_ context.Context, _ *approval.Event) (*revoker.Outcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.outcome, f.err
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func event(amount *big.Int) *approval.Event {
	return &approval.Event{
		ApprovalID: "1-100-0",
		Owner:      "0xaaa0000000000000000000000000000000000001",
		Token:      "0xbbb0000000000000000000000000000000000002",
		Spender:    "0xccc0000000000000000000000000000000000003",
		Amount:     amount,
	}
}

func maliciousVerdict() *threat.Verdict {
	return &threat.Verdict{IsMalicious: true, RiskScore: 92, Rule: threat.RuleAI, Reasons: []string{"bad"}}
}

func newTestPipeline(c Classifier, e Executor) *Pipeline {
	return New(c, e, nil, Config{QueueSize: 8, Workers: 1}, slog.Default())
}

func TestProcess_SelfResolved(t *testing.T) {
	classifier := &fakeClassifier{}
	executor := &fakeExecutor{}
	p := newTestPipeline(classifier, executor)

	outcome := p.Process(context.Background(), event(big.NewInt(0)))
	assert.Equal(t, OutcomeSelfResolved, outcome)
	assert.Zero(t, classifier.callCount(), "classifier never runs for zero amounts")
	assert.Zero(t, executor.callCount())
}

func TestProcess_Safe(t *testing.T) {
	classifier := &fakeClassifier{verdict: &threat.Verdict{IsMalicious: false, RiskScore: 10, Rule: threat.RuleAI}}
	executor := &fakeExecutor{}
	p := newTestPipeline(classifier, executor)

	outcome := p.Process(context.Background(), event(big.NewInt(100)))
	assert.Equal(t, OutcomeSafe, outcome)
	assert.Zero(t, executor.callCount())
}

func TestProcess_Degraded(t *testing.T) {
	classifier := &fakeClassifier{verdict: &threat.Verdict{
		IsMalicious: false, RiskScore: threat.ScoreDegraded, Rule: threat.RuleDegraded, Degraded: true,
	}}
	executor := &fakeExecutor{}
	p := newTestPipeline(classifier, executor)

	outcome := p.Process(context.Background(), event(big.NewInt(100)))
	assert.Equal(t, OutcomeDegraded, outcome)
	assert.Zero(t, executor.callCount(), "degraded verdicts must not auto-revoke")
}

func TestProcess_MaliciousRevoked(t *testing.T) {
	classifier := &fakeClassifier{verdict: maliciousVerdict()}
	executor := &fakeExecutor{outcome: &revoker.Outcome{Status: revoker.OutcomeConfirmed, TxHash: "0xabc"}}
	p := newTestPipeline(classifier, executor)

	outcome := p.Process(context.Background(), event(maxUint256))
	assert.Equal(t, OutcomeRevoked, outcome)
	assert.Equal(t, 1, executor.callCount())
}

func TestProcess_AlreadyCleared(t *testing.T) {
	classifier := &fakeClassifier{verdict: maliciousVerdict()}
	executor := &fakeExecutor{outcome: &revoker.Outcome{Status: revoker.OutcomeAlreadyCleared, TxHash: "0xabc"}}
	p := newTestPipeline(classifier, executor)

	outcome := p.Process(context.Background(), event(big.NewInt(100)))
	assert.Equal(t, OutcomeAlreadyCleared, outcome)
}

func TestProcess_ExecutorFailure(t *testing.T) {
	classifier := &fakeClassifier{verdict: maliciousVerdict()}
	executor := &fakeExecutor{err: errors.New("submission failed")}
	p := newTestPipeline(classifier, executor)

	outcome := p.Process(context.Background(), event(big.NewInt(100)))
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestProcess_DuplicateTripleSkipped(t *testing.T) {
	// Two identical malicious events processed concurrently: exactly one
	// may submit, the other must skip without a second transaction.
	classifier := &fakeClassifier{verdict: maliciousVerdict()}
	executor := &fakeExecutor{
		outcome: &revoker.Outcome{Status: revoker.OutcomeConfirmed, TxHash: "0xabc"},
		block:   make(chan struct{}),
	}
	p := newTestPipeline(classifier, executor)

	first := make(chan string, 1)
	go func() {
		first <- p.Process(context.Background(), event(big.NewInt(100)))
	}()

	// Wait until the first revocation is in flight.
	require.Eventually(t, func() bool {
		return executor.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	second := p.Process(context.Background(), event(big.NewInt(100)))
	assert.Equal(t, OutcomeSkipped, second)

	close(executor.block)
	assert.Equal(t, OutcomeRevoked, <-first)
	assert.Equal(t, 1, executor.callCount(), "only one transaction for the triple")
}

func TestEnqueue_QueueFull(t *testing.T) {
	classifier := &fakeClassifier{verdict: maliciousVerdict()}
	p := New(classifier, &fakeExecutor{}, nil, Config{QueueSize: 1, Workers: 1}, slog.Default())
	// Workers not started: the queue fills up.

	require.NoError(t, p.Enqueue(event(big.NewInt(0))))
	assert.ErrorIs(t, p.Enqueue(event(big.NewInt(0))), ErrQueueFull)
}

func TestStartStop_DrainsQueue(t *testing.T) {
	classifier := &fakeClassifier{}
	executor := &fakeExecutor{}
	p := New(classifier, executor, nil, Config{QueueSize: 8, Workers: 2}, slog.Default())

	ctx := context.Background()
	p.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Enqueue(event(big.NewInt(0))))
	}

	p.Stop()
	// All five were zero-amount: nothing should have reached the executor.
	assert.Zero(t, executor.callCount())
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (c *captureBroadcaster) Broadcast(eventType string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
}

func TestProcess_BroadcastsOutcome(t *testing.T) {
	b := &captureBroadcaster{}
	classifier := &fakeClassifier{verdict: maliciousVerdict()}
	executor := &fakeExecutor{outcome: &revoker.Outcome{Status: revoker.OutcomeConfirmed}}
	p := New(classifier, executor, b, Config{QueueSize: 8, Workers: 1}, slog.Default())

	p.Process(context.Background(), event(big.NewInt(100)))

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.events, 1)
	assert.Equal(t, "approval_outcome", b.events[0])
}
