package domain

// Signal is one detector's continuous per-entity output: a risk
// contribution in [0,1] plus ordered human-readable evidence.
// A Signal with zero risk and no evidence is never emitted; detectors
// omit empty results rather than zero-filling.
type Signal struct {
	Detector string   `json:"detector"`
	EntityID string   `json:"entityId"`
	Score    float64  `json:"score"` // 0.0 to 1.0
	Evidence []string `json:"evidence"`
}

// Severity labels a discrete rule-style alert.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// SeverityPoints is the additive-mode point value for each severity.
var SeverityPoints = map[Severity]int{
	SeverityCritical: 40,
	SeverityHigh:     25,
	SeverityMedium:   10,
	SeverityLow:      5,
}

// Points returns the additive point value for the severity, 0 if unknown.
func (s Severity) Points() int {
	return SeverityPoints[s]
}

// Alert is one detector's discrete rule-style output. Detectors differ
// in which identifier fields they can populate: transaction-based
// detectors know the account, login-based detectors only the username,
// core-banking detectors only the member number.
type Alert struct {
	AccountID    string   `json:"accountId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	MemberNumber string   `json:"memberNumber,omitempty"`
	FraudType    string   `json:"fraudType"`
	Severity     Severity `json:"severity"`
	Points       int      `json:"points"`
	Evidence     string   `json:"evidence"`
}

// Tier is the discrete risk bucket derived from a composite score.
type Tier string

const (
	TierCritical Tier = "CRITICAL"
	TierHigh     Tier = "HIGH"
	TierMedium   Tier = "MEDIUM"
	TierLow      Tier = "LOW"
)

// CompositeRecord is the aggregator's per-entity output: one composite
// score, a tier, the triggering detectors, and concatenated evidence.
// Records are created once per aggregation run and never mutated.
type CompositeRecord struct {
	EntityKey    string   `json:"entityKey"` // best-available identifier, prefixed by kind
	AccountID    string   `json:"accountId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	MemberNumber string   `json:"memberNumber,omitempty"`
	Score        float64  `json:"score"` // canonical [0,1] scale
	Points       int      `json:"points,omitempty"`
	Tier         Tier     `json:"tier"`
	Detectors    []string `json:"detectors"`
	FraudTypes   []string `json:"fraudTypes,omitempty"`
	AlertCount   int      `json:"alertCount,omitempty"`
	Evidence     string   `json:"evidence"`
}
