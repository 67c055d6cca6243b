// Package threat classifies approval events. Fast deterministic rules run
// first so obviously dangerous approvals never wait on a slow model call;
// an external AI bytecode analysis is the fallback for everything else.
package threat

// Rule names, used in verdicts and metrics labels.
const (
	RuleUnlimited = "unlimited"
	RuleDenylist  = "denylist"
	RuleEOA       = "eoa"
	RuleAI        = "ai"
	RuleDegraded  = "degraded"
)

// Risk scores assigned by the deterministic rules. Unlimited approvals are
// suspicious but not automatically fatal, so their score stays below the
// auto-malicious threshold.
const (
	ScoreUnlimited = 40
	ScoreDenylist  = 90
	ScoreEOA       = 85
	ScoreDegraded  = 30

	// MaliciousThreshold reconciles the AI's independent boolean and
	// numeric signals: riskScore at or above this is malicious.
	MaliciousThreshold = 70
)

// Verdict is the output of classification.
type Verdict struct {
	IsMalicious bool     `json:"isMalicious"`
	RiskScore   int      `json:"riskScore"`
	Reasons     []string `json:"reasons"`

	// Rule names the check that decided the verdict.
	Rule string `json:"rule"`

	// Degraded marks a verdict produced while the AI service was
	// unavailable. Degraded verdicts are never malicious but must stay
	// distinguishable from genuine safe verdicts for manual review.
	Degraded bool `json:"degraded,omitempty"`
}
