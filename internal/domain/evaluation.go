package domain

import "time"

// AggregationMode selects how detector outputs are reconciled.
type AggregationMode string

const (
	// ModeWeighted min-max normalizes each detector's continuous
	// signals and combines them as a weighted mean on [0,1].
	ModeWeighted AggregationMode = "weighted"

	// ModeAdditive sums discrete severity points per entity, capped
	// at 100.
	ModeAdditive AggregationMode = "additive"
)

// AssessmentRun records one batch execution of the detection pipeline.
type AssessmentRun struct {
	ID          string          `json:"id"`
	Mode        AggregationMode `json:"mode"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	Detectors   []string        `json:"detectors"`
	SignalCount int             `json:"signalCount"`
	AlertCount  int             `json:"alertCount"`
	EntityCount int             `json:"entityCount"`
}

// RunSummary is the per-tier breakdown of a finished run.
type RunSummary struct {
	Run     *AssessmentRun    `json:"run"`
	ByTier  map[Tier]int      `json:"byTier"`
	TopRisk []CompositeRecord `json:"topRisk,omitempty"`
}
