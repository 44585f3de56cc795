package detect

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// normalPopulation builds n accounts with small, regular activity and
// one whale moving large sums daily.
func anomalyDataset(n int) *dataset.Dataset {
	var rows [][]string
	for i := 0; i < n; i++ {
		rows = append(rows,
			[]string{fmt.Sprintf("ACC-%03d", i), "2024-01-05", "45.00"},
			[]string{fmt.Sprintf("ACC-%03d", i), "2024-01-18", "52.00"},
		)
	}
	for day := 1; day <= 20; day++ {
		rows = append(rows, []string{"ACC-WHALE", fmt.Sprintf("2024-01-%02d", day), "9500.00"})
	}
	return dataset.New([]string{"account_id", "transaction_date", "amount"}, rows)
}

func TestAnomalyEmptyAndTinyInput(t *testing.T) {
	det := NewAnomaly(domain.DefaultConfig().Detectors.Anomaly)
	if res := det.Detect(context.Background(), NewInputs()); !res.Empty() {
		t.Fatalf("expected empty result on empty input, got %+v", res)
	}

	in := NewInputs()
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount"},
		[][]string{
			{"ACC-1", "2024-01-01", "10.00"},
			{"ACC-2", "2024-01-01", "20.00"},
		},
	)
	if res := det.Detect(context.Background(), in); !res.Empty() {
		t.Fatalf("two entities are too few to profile, got %+v", res)
	}
}

func TestAnomalyFlagsTheOutlier(t *testing.T) {
	det := NewAnomaly(domain.DefaultConfig().Detectors.Anomaly)
	in := NewInputs()
	in.Transactions = anomalyDataset(40)

	res := det.Detect(context.Background(), in)
	if len(res.Signals) == 0 {
		t.Fatal("expected at least one anomaly signal")
	}
	top := res.Signals[0]
	if top.EntityID != "ACC-WHALE" {
		t.Fatalf("expected ACC-WHALE as top outlier, got %q", top.EntityID)
	}
	if math.Abs(top.Score-1.0) > 1e-9 {
		t.Fatalf("worst outlier should normalize to 1.0, got %v", top.Score)
	}
	if len(top.Evidence) == 0 || len(top.Evidence) > 3 {
		t.Fatalf("expected 1..3 feature evidence lines, got %v", top.Evidence)
	}
	if !hasEvidenceContaining(top.Evidence, "unusually high") {
		t.Fatalf("expected a direction on the evidence: %v", top.Evidence)
	}
}

func TestAnomalyPrebuiltMatrix(t *testing.T) {
	det := NewAnomaly(domain.DefaultConfig().Detectors.Anomaly)
	in := NewInputs()
	// An id column followed by numeric feature columns is consumed
	// as-is, no transaction_date required.
	var rows [][]string
	for i := 0; i < 30; i++ {
		rows = append(rows, []string{fmt.Sprintf("ACC-%03d", i), "10", "1.5", "0.2", "3"})
	}
	rows = append(rows, []string{"ACC-ODD", "900", "80.0", "45.0", "60"})
	in.Transactions = dataset.New(
		[]string{"account_id", "txn_count", "amount_mean", "amount_std", "active_days"},
		rows,
	)

	res := det.Detect(context.Background(), in)
	if len(res.Signals) == 0 {
		t.Fatal("expected at least one anomaly signal")
	}
	top := res.Signals[0]
	if top.EntityID != "ACC-ODD" {
		t.Fatalf("expected ACC-ODD as top outlier, got %q", top.EntityID)
	}
	if !hasEvidenceContaining(top.Evidence, "txn_count") &&
		!hasEvidenceContaining(top.Evidence, "amount_mean") {
		t.Fatalf("evidence should name the matrix columns: %v", top.Evidence)
	}
}

func TestAnomalyIsDeterministic(t *testing.T) {
	det := NewAnomaly(domain.DefaultConfig().Detectors.Anomaly)
	in := NewInputs()
	in.Transactions = anomalyDataset(30)

	first := det.Detect(context.Background(), in)
	second := det.Detect(context.Background(), in)
	if len(first.Signals) != len(second.Signals) {
		t.Fatalf("signal counts differ: %d vs %d", len(first.Signals), len(second.Signals))
	}
	for i := range first.Signals {
		if first.Signals[i].EntityID != second.Signals[i].EntityID ||
			first.Signals[i].Score != second.Signals[i].Score {
			t.Fatalf("run %d diverged: %+v vs %+v", i, first.Signals[i], second.Signals[i])
		}
	}
}

func TestIsolationForestSeparatesObviousOutlier(t *testing.T) {
	var rows [][]float64
	for i := 0; i < 100; i++ {
		rows = append(rows, []float64{float64(i%3) - 1, float64(i%5) / 5})
	}
	rows = append(rows, []float64{50, 50})

	f := fitIsolationForest(rows, 100, 42)
	outlier := f.score(rows[len(rows)-1])
	inlier := f.score(rows[0])
	if outlier <= inlier {
		t.Fatalf("outlier score %.3f should exceed inlier score %.3f", outlier, inlier)
	}
	if outlier < 0.5 {
		t.Fatalf("clear outlier should score at least 0.5, got %.3f", outlier)
	}
}

func TestAvgPathLength(t *testing.T) {
	if got := avgPathLength(1); got != 0 {
		t.Fatalf("avgPathLength(1) = %v, want 0", got)
	}
	// c(2) = 2*(ln(1)+gamma) - 2*1/2 = 2*gamma - 1.
	want := 2*0.5772156649 - 1
	if got := avgPathLength(2); math.Abs(got-want) > 1e-9 {
		t.Fatalf("avgPathLength(2) = %v, want %v", got, want)
	}
}
