// Package pipeline orchestrates one batch assessment: fan detectors
// out in parallel, reconcile their outputs through the aggregator,
// persist the run, and publish lifecycle events.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfinsec/kestrel/internal/detect"
	"github.com/openfinsec/kestrel/internal/domain"
	"github.com/openfinsec/kestrel/internal/scoring"
)

// Pipeline runs detectors over input datasets and aggregates the
// results. Repository and bus are optional; a nil repository skips
// persistence and a nil bus skips event publication.
type Pipeline struct {
	detectors  []detect.Detector
	aggregator scoring.Aggregator
	repo       domain.Repository
	bus        domain.EventBus
}

// New creates a pipeline over the given detectors.
func New(detectors []detect.Detector, aggregator scoring.Aggregator, repo domain.Repository, bus domain.EventBus) *Pipeline {
	return &Pipeline{
		detectors:  detectors,
		aggregator: aggregator,
		repo:       repo,
		bus:        bus,
	}
}

// RunResult is everything one pipeline execution produced.
type RunResult struct {
	Run     *domain.AssessmentRun
	Records []domain.CompositeRecord
	Outputs []scoring.Output
}

// Run executes every detector in parallel, aggregates, persists, and
// publishes. The same inputs always produce the same records.
func (p *Pipeline) Run(ctx context.Context, in *detect.Inputs) (*RunResult, error) {
	run := &domain.AssessmentRun{
		ID:        uuid.NewString(),
		Mode:      p.aggregator.Mode(),
		StartedAt: time.Now().UTC(),
	}
	for _, d := range p.detectors {
		run.Detectors = append(run.Detectors, d.Name())
	}

	p.publish(ctx, domain.TopicRunStarted, run)
	slog.Info("assessment run started",
		"run_id", run.ID,
		"mode", run.Mode,
		"detectors", len(p.detectors),
	)

	outputs := p.fanOut(ctx, in)

	for _, out := range outputs {
		run.SignalCount += len(out.Result.Signals)
		run.AlertCount += len(out.Result.Alerts)
	}

	records := p.aggregator.Aggregate(outputs)
	run.EntityCount = len(records)
	run.FinishedAt = time.Now().UTC()

	if p.repo != nil {
		if err := p.repo.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
		if err := p.repo.SaveAssessments(ctx, run.ID, records); err != nil {
			return nil, fmt.Errorf("failed to save assessments: %w", err)
		}
	}

	p.publishAlerts(ctx, run, records)
	p.publish(ctx, domain.TopicRunCompleted, run)

	slog.Info("assessment run completed",
		"run_id", run.ID,
		"entities", run.EntityCount,
		"signals", run.SignalCount,
		"alerts", run.AlertCount,
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	)
	return &RunResult{Run: run, Records: records, Outputs: outputs}, nil
}

// fanOut runs the detectors concurrently. A panicking detector is
// logged and contributes an empty result; it cannot sink the run.
func (p *Pipeline) fanOut(ctx context.Context, in *detect.Inputs) []scoring.Output {
	outputs := make([]scoring.Output, len(p.detectors))
	var wg sync.WaitGroup
	for i, d := range p.detectors {
		wg.Add(1)
		go func(idx int, det detect.Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("detector panicked",
						"detector", det.Name(),
						"panic", r,
					)
					outputs[idx] = scoring.Output{Detector: det.Name()}
				}
			}()
			start := time.Now()
			result := det.Detect(ctx, in)
			outputs[idx] = scoring.Output{Detector: det.Name(), Result: result}
			slog.Debug("detector finished",
				"detector", det.Name(),
				"signals", len(result.Signals),
				"alerts", len(result.Alerts),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}(i, d)
	}
	wg.Wait()
	return outputs
}

// publishAlerts emits one alert event per HIGH or CRITICAL composite.
func (p *Pipeline) publishAlerts(ctx context.Context, run *domain.AssessmentRun, records []domain.CompositeRecord) {
	if p.bus == nil {
		return
	}
	for _, rec := range records {
		if rec.Tier != domain.TierHigh && rec.Tier != domain.TierCritical {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"runId":  run.ID,
			"record": rec,
		})
		if err != nil {
			continue
		}
		if err := p.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Warn("failed to publish alert event",
				"run_id", run.ID,
				"entity", rec.EntityKey,
				"error", err,
			)
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, topic string, run *domain.AssessmentRun) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish run event", "topic", topic, "error", err)
	}
}

// Summarize builds the per-tier breakdown for a finished run.
func Summarize(run *domain.AssessmentRun, records []domain.CompositeRecord, topN int) *domain.RunSummary {
	summary := &domain.RunSummary{
		Run:    run,
		ByTier: make(map[domain.Tier]int),
	}
	for _, rec := range records {
		summary.ByTier[rec.Tier]++
	}
	if topN < 0 {
		topN = 0
	}
	if topN > len(records) {
		topN = len(records)
	}
	summary.TopRisk = append(summary.TopRisk, records[:topN]...)
	return summary
}
