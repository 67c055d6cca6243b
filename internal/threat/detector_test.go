package threat

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/approval"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type fakeCodeReader struct {
	code map[string][]byte
	err  error
}

func (f *fakeCodeReader) CodeAt(_ context.Context, addr string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.code[addr], nil
}

type fakeAnalyzer struct {
	result *AIResult
	err    error
	calls  int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ *AnalyzeRequest) (*AIResult, error) {
	f.calls++
	return f.result, f.err
}

func testEvent(spender string, amount *big.Int) *approval.Event {
	return &approval.Event{
		ApprovalID: "1-100-0",
		Owner:      "0xaaa0000000000000000000000000000000000001",
		Token:      "0xbbb0000000000000000000000000000000000002",
		Spender:    spender,
		Amount:     amount,
	}
}

func newTestDetector(code *fakeCodeReader, analyzer Analyzer) *Detector {
	return NewDetector(NewDenylist(nil), code, analyzer, slog.Default())
}

func TestClassify_DenylistedSpender(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	d := newTestDetector(&fakeCodeReader{}, analyzer)

	v := d.Classify(context.Background(), testEvent("0x1234567890123456789012345678901234567890", big.NewInt(100)))
	assert.True(t, v.IsMalicious)
	assert.Equal(t, ScoreDenylist, v.RiskScore)
	assert.Equal(t, RuleDenylist, v.Rule)
	assert.Contains(t, v.Reasons, "known malicious spender")
	assert.Zero(t, analyzer.calls, "denylist must short-circuit before any lookup")
}

func TestClassify_EOASpender(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	d := newTestDetector(&fakeCodeReader{code: map[string][]byte{}}, analyzer)

	v := d.Classify(context.Background(), testEvent("0xccc0000000000000000000000000000000000003", big.NewInt(100)))
	assert.True(t, v.IsMalicious)
	assert.Equal(t, ScoreEOA, v.RiskScore)
	assert.Contains(t, v.Reasons, "approval granted to a non-contract account")
	assert.Zero(t, analyzer.calls)
}

func TestClassify_UnlimitedToEOA(t *testing.T) {
	// The code check precedes deep analysis: an unlimited approval to a
	// plain account is terminally malicious without any AI call.
	analyzer := &fakeAnalyzer{}
	d := newTestDetector(&fakeCodeReader{code: map[string][]byte{}}, analyzer)

	v := d.Classify(context.Background(), testEvent("0xccc0000000000000000000000000000000000003", maxUint256))
	assert.True(t, v.IsMalicious)
	assert.Equal(t, ScoreEOA, v.RiskScore)
	assert.Contains(t, v.Reasons, "unlimited approval")
	assert.Contains(t, v.Reasons, "approval granted to a non-contract account")
	assert.Zero(t, analyzer.calls)
}

func TestClassify_UnlimitedToContract_NoAICall(t *testing.T) {
	spender := "0xccc0000000000000000000000000000000000003"
	analyzer := &fakeAnalyzer{result: &AIResult{IsMalicious: true, RiskScore: 99, Reasons: []string{"x"}, ContractType: "Malicious"}}
	d := newTestDetector(&fakeCodeReader{code: map[string][]byte{spender: {0x60, 0x80}}}, analyzer)

	v := d.Classify(context.Background(), testEvent(spender, maxUint256))
	assert.False(t, v.IsMalicious, "unlimited alone is suspicious, not fatal")
	assert.Equal(t, ScoreUnlimited, v.RiskScore)
	assert.Equal(t, RuleUnlimited, v.Rule)
	assert.Contains(t, v.Reasons, "unlimited approval")
	assert.Zero(t, analyzer.calls, "unlimited amounts never reach the model")
}

func TestClassify_AIVerdictMalicious(t *testing.T) {
	spender := "0xccc0000000000000000000000000000000000003"
	analyzer := &fakeAnalyzer{result: &AIResult{
		IsMalicious:  true,
		RiskScore:    92,
		Reasons:      []string{"unrestricted transferFrom"},
		ContractType: "Malicious",
	}}
	d := newTestDetector(&fakeCodeReader{code: map[string][]byte{spender: {0x60, 0x80}}}, analyzer)

	v := d.Classify(context.Background(), testEvent(spender, big.NewInt(100)))
	assert.True(t, v.IsMalicious)
	assert.Equal(t, 92, v.RiskScore)
	assert.Equal(t, RuleAI, v.Rule)
	assert.Equal(t, 1, analyzer.calls)
}

func TestClassify_AIScoreThreshold(t *testing.T) {
	// riskScore >= 70 decides malicious even when the boolean disagrees
	spender := "0xccc0000000000000000000000000000000000003"
	analyzer := &fakeAnalyzer{result: &AIResult{
		IsMalicious:  false,
		RiskScore:    70,
		Reasons:      []string{"owner-only token movement"},
		ContractType: "Unknown",
	}}
	d := newTestDetector(&fakeCodeReader{code: map[string][]byte{spender: {0x60, 0x80}}}, analyzer)

	v := d.Classify(context.Background(), testEvent(spender, big.NewInt(100)))
	assert.True(t, v.IsMalicious)
}

func TestClassify_AISafe(t *testing.T) {
	spender := "0xccc0000000000000000000000000000000000003"
	analyzer := &fakeAnalyzer{result: &AIResult{
		IsMalicious:  false,
		RiskScore:    10,
		Reasons:      []string{"standard DEX router"},
		ContractType: "DEX",
	}}
	d := newTestDetector(&fakeCodeReader{code: map[string][]byte{spender: {0x60, 0x80}}}, analyzer)

	v := d.Classify(context.Background(), testEvent(spender, big.NewInt(100)))
	assert.False(t, v.IsMalicious)
	assert.False(t, v.Degraded)
	assert.Equal(t, 10, v.RiskScore)
}

func TestClassify_AIFailureDegrades(t *testing.T) {
	spender := "0xccc0000000000000000000000000000000000003"
	analyzer := &fakeAnalyzer{err: errors.New("timeout")}
	d := newTestDetector(&fakeCodeReader{code: map[string][]byte{spender: {0x60, 0x80}}}, analyzer)

	v := d.Classify(context.Background(), testEvent(spender, big.NewInt(100)))
	require.NotNil(t, v)
	assert.False(t, v.IsMalicious, "infrastructure failure must not auto-revoke")
	assert.Equal(t, ScoreDegraded, v.RiskScore)
	assert.True(t, v.Degraded)
	assert.Equal(t, RuleDegraded, v.Rule)
}

func TestClassify_CodeFetchFailureDegrades(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	d := newTestDetector(&fakeCodeReader{err: errors.New("rpc down")}, analyzer)

	v := d.Classify(context.Background(), testEvent("0xccc0000000000000000000000000000000000003", big.NewInt(100)))
	assert.True(t, v.Degraded)
	assert.False(t, v.IsMalicious)
	assert.Zero(t, analyzer.calls)
}

func TestDenylist_ExtraAddressesAndCase(t *testing.T) {
	dl := NewDenylist([]string{"0xABCDEF0000000000000000000000000000000001", ""})
	assert.True(t, dl.Contains("0xabcdef0000000000000000000000000000000001"))
	assert.True(t, dl.Contains("0xDEADBEEFDEADBEEFDEADBEEFDEADBEEFDEADBEEF"))
	assert.False(t, dl.Contains("0x0000000000000000000000000000000000000042"))
	assert.Equal(t, 3, dl.Len())
}
