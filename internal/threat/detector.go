package threat

import (
	"context"
	"encoding/hex"
	"log/slog"

	"github.com/mbd888/sentinel/internal/approval"
	"github.com/mbd888/sentinel/internal/metrics"
)

// CodeReader fetches deployed bytecode. Satisfied by chain.Reader.
type CodeReader interface {
	CodeAt(ctx context.Context, addr string) ([]byte, error)
}

// Detector runs the ordered classification checks for non-zero approvals.
type Detector struct {
	denylist *Denylist
	code     CodeReader
	analyzer Analyzer
	logger   *slog.Logger
}

// NewDetector creates a detector. The analyzer may be nil, in which case
// every deep analysis degrades.
func NewDetector(denylist *Denylist, code CodeReader, analyzer Analyzer, logger *slog.Logger) *Detector {
	return &Detector{
		denylist: denylist,
		code:     code,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Classify produces a verdict for an approval event. It never returns an
// error: infrastructure failures yield a conservative degraded verdict so
// the pipeline does not auto-revoke on a broken dependency.
//
// Ordered checks:
//  1. unlimited amount: suspicious, non-terminal, and skips the AI call
//  2. denylisted spender: terminal malicious
//  3. spender code lookup: no code means the spender is a plain account
//     and the verdict is terminal malicious
//  4. AI bytecode analysis for everything else
func (d *Detector) Classify(ctx context.Context, ev *approval.Event) *Verdict {
	var (
		reasons   []string
		unlimited = ev.IsUnlimited()
	)

	if unlimited {
		reasons = append(reasons, "unlimited approval")
	}

	if d.denylist.Contains(ev.Spender) {
		return d.record(&Verdict{
			IsMalicious: true,
			RiskScore:   ScoreDenylist,
			Reasons:     append(reasons, "known malicious spender"),
			Rule:        RuleDenylist,
		})
	}

	code, err := d.code.CodeAt(ctx, ev.Spender)
	if err != nil {
		d.logger.Warn("bytecode fetch failed, degrading analysis",
			"approval_id", ev.ApprovalID, "spender", ev.Spender, "error", err)
		return d.record(degradedVerdict(reasons))
	}

	if len(code) == 0 {
		return d.record(&Verdict{
			IsMalicious: true,
			RiskScore:   ScoreEOA,
			Reasons:     append(reasons, "approval granted to a non-contract account"),
			Rule:        RuleEOA,
		})
	}

	// An unlimited amount to a real contract is suspicious on its own but
	// never triggers the model: the verdict is deterministic.
	if unlimited {
		return d.record(&Verdict{
			IsMalicious: false,
			RiskScore:   ScoreUnlimited,
			Reasons:     reasons,
			Rule:        RuleUnlimited,
		})
	}

	if d.analyzer == nil {
		return d.record(degradedVerdict(reasons))
	}

	result, err := d.analyzer.Analyze(ctx, &AnalyzeRequest{
		ApprovalID:   ev.ApprovalID,
		UserAddress:  ev.Owner,
		TokenAddress: ev.Token,
		Spender:      ev.Spender,
		Amount:       ev.Amount.String(),
		Bytecode:     "0x" + hex.EncodeToString(code),
	})
	if err != nil {
		metrics.AICallsTotal.WithLabelValues("error").Inc()
		d.logger.Warn("AI analysis failed, degrading",
			"approval_id", ev.ApprovalID, "spender", ev.Spender, "error", err)
		return d.record(degradedVerdict(reasons))
	}
	metrics.AICallsTotal.WithLabelValues("ok").Inc()

	return d.record(&Verdict{
		IsMalicious: result.IsMalicious || result.RiskScore >= MaliciousThreshold,
		RiskScore:   result.RiskScore,
		Reasons:     append(reasons, result.Reasons...),
		Rule:        RuleAI,
	})
}

func degradedVerdict(reasons []string) *Verdict {
	return &Verdict{
		IsMalicious: false,
		RiskScore:   ScoreDegraded,
		Reasons: append(reasons,
			"deep analysis unavailable",
			"manual review recommended"),
		Rule:     RuleDegraded,
		Degraded: true,
	}
}

func (d *Detector) record(v *Verdict) *Verdict {
	result := "safe"
	if v.IsMalicious {
		result = "malicious"
	}
	metrics.VerdictsTotal.WithLabelValues(result, v.Rule).Inc()
	return v
}
