package domain

// RuleConfig defines an operator-authored screening rule. The CEL
// expression is evaluated once per entity against aggregate activation
// variables derived from the transaction dataset; a truthy result
// emits a discrete Alert with the configured fraud type and severity.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is the CEL predicate, e.g.
	// "transfer_total > 50000.0 && distinct_channels >= 3"
	Expression string `json:"expression"`

	FraudType string   `json:"fraudType"`
	Severity  Severity `json:"severity"`

	Enabled bool `json:"enabled"`
}
