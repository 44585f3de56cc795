package detect

import (
	"context"
	"log/slog"
	"sort"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Anomaly flags accounts whose overall transaction behavior is an
// outlier against the population, using a seeded isolation forest
// over standardized behavioral features. It catches patterns no
// hand-written rule describes.
type Anomaly struct {
	cfg domain.AnomalyConfig
}

// NewAnomaly creates an anomaly detector.
func NewAnomaly(cfg domain.AnomalyConfig) *Anomaly {
	return &Anomaly{cfg: cfg}
}

func (a *Anomaly) Name() string { return "behavioral_anomaly" }

// Detect profiles every account, fits the forest, and reports the
// contamination fraction with the highest anomaly scores. Signal
// scores are min-max normalized over the population so the worst
// outlier lands at 1.0.
func (a *Anomaly) Detect(ctx context.Context, in *Inputs) Result {
	if in.Transactions.Empty() {
		slog.Warn("anomaly: empty transaction dataset")
		return Result{}
	}

	features := prebuiltFeatures(in.Transactions, in.resolver())
	if features != nil {
		slog.Info("anomaly: dataset is already a feature matrix", "features", len(features.names))
	} else {
		view, err := dataset.Transactions(in.Transactions, in.resolver())
		if err != nil {
			slog.Error("anomaly: cannot resolve required fields", "error", err)
			return Result{}
		}
		features = buildFeatures(view)
	}
	if len(features.entities) < 3 {
		slog.Info("anomaly: too few entities to profile", "entities", len(features.entities))
		return Result{}
	}

	rows := features.standardized()
	forest := fitIsolationForest(rows, a.cfg.Trees, a.cfg.Seed)

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = forest.score(row)
	}

	cutoff := quantile(scores, 1-a.cfg.Contamination)
	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores {
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}
	spread := maxScore - minScore

	var signals []domain.Signal
	for i, s := range scores {
		if s < cutoff || spread == 0 {
			continue
		}
		norm := clamp01((s - minScore) / spread)
		if norm == 0 {
			continue
		}
		signals = append(signals, domain.Signal{
			Detector: a.Name(),
			EntityID: features.entities[i],
			Score:    norm,
			Evidence: features.explain(i, a.cfg.TopFeatures),
		})
	}
	sort.Slice(signals, func(x, y int) bool {
		if signals[x].Score != signals[y].Score {
			return signals[x].Score > signals[y].Score
		}
		return signals[x].EntityID < signals[y].EntityID
	})

	slog.Info("anomaly: detection finished",
		"entities", len(features.entities),
		"flagged", len(signals),
	)
	return Result{Signals: signals}
}

// prebuiltFeatures recognizes a dataset that is already a per-entity
// feature matrix rather than a transaction log: an entity id leading
// column followed by at least three all-numeric feature columns. Such
// datasets feed the forest as-is, skipping feature extraction.
func prebuiltFeatures(d *dataset.Dataset, r *dataset.Resolver) *featureMatrix {
	cols := d.Columns()
	if len(cols) < 4 {
		return nil
	}
	idCol, ok := r.ResolveOptional(d, "account_id")
	if !ok || idCol != 0 {
		return nil
	}

	m := &featureMatrix{names: cols[1:]}
	for i := 0; i < d.Len(); i++ {
		entity := d.Cell(i, 0)
		if entity == "" {
			return nil
		}
		row := make([]float64, len(cols)-1)
		for c := 1; c < len(cols); c++ {
			v, numeric := dataset.ParseAmount(d.Cell(i, c))
			if !numeric {
				return nil
			}
			row[c-1] = v
		}
		m.entities = append(m.entities, entity)
		m.raw = append(m.raw, row)
	}
	if len(m.entities) == 0 {
		return nil
	}
	m.computeColumnStats()
	return m
}
