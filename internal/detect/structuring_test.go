package detect

import (
	"context"
	"strings"
	"testing"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

func txDataset(rows [][]string) *dataset.Dataset {
	return dataset.New(
		[]string{"account_id", "transaction_date", "amount", "transaction_type"},
		rows,
	)
}

func TestStructuringEmptyInput(t *testing.T) {
	det := NewStructuring(domain.DefaultConfig().Detectors.Structuring)
	in := NewInputs()
	res := det.Detect(context.Background(), in)
	if len(res.Signals) != 0 || len(res.Alerts) != 0 {
		t.Fatalf("expected empty result, got %d signals %d alerts", len(res.Signals), len(res.Alerts))
	}
}

func TestStructuringNearThresholdScoring(t *testing.T) {
	det := NewStructuring(domain.DefaultConfig().Detectors.Structuring)
	in := NewInputs()
	in.Transactions = txDataset([][]string{
		{"ACC-1", "2024-01-01", "9500.00", "cash"},
		{"ACC-1", "2024-01-02", "9800.00", "deposit"},
		{"ACC-1", "2024-01-03", "9200.00", "cash"},
		{"ACC-2", "2024-01-01", "120.00", "debit"},
	})

	res := det.Detect(context.Background(), in)
	if len(res.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(res.Signals))
	}
	sig := res.Signals[0]
	if sig.EntityID != "ACC-1" {
		t.Fatalf("expected ACC-1 flagged, got %q", sig.EntityID)
	}
	if sig.Score <= 0 || sig.Score > 1 {
		t.Fatalf("score out of range: %v", sig.Score)
	}
	if len(sig.Evidence) == 0 {
		t.Fatal("expected evidence lines")
	}
}

func TestStructuringSplitDay(t *testing.T) {
	det := NewStructuring(domain.DefaultConfig().Detectors.Structuring)
	in := NewInputs()
	// Three deposits the same day totalling > $10K, each below it.
	in.Transactions = txDataset([][]string{
		{"ACC-9", "2024-03-10 09:00:00", "4000.00", "cash"},
		{"ACC-9", "2024-03-10 12:00:00", "4000.00", "cash"},
		{"ACC-9", "2024-03-10 16:00:00", "3500.00", "cash"},
	})

	res := det.Detect(context.Background(), in)
	if len(res.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(res.Signals))
	}
	if !hasEvidenceContaining(res.Signals[0].Evidence, "no single txn over") {
		t.Fatalf("missing split-day evidence: %v", res.Signals[0].Evidence)
	}
}

func TestStructuringRepeatedAmountForcesFlag(t *testing.T) {
	det := NewStructuring(domain.DefaultConfig().Detectors.Structuring)
	in := NewInputs()
	// $2,500 is outside the near-threshold band and the daily totals
	// never cross the reporting line, so every weighted sub-signal is
	// zero. The repeat pattern alone must still flag the account.
	in.Transactions = txDataset([][]string{
		{"ACC-7", "2024-05-01", "2500.00", "cash"},
		{"ACC-7", "2024-05-03", "2500.00", "cash"},
		{"ACC-7", "2024-05-05", "2500.00", "cash"},
	})

	res := det.Detect(context.Background(), in)
	if len(res.Signals) != 1 {
		t.Fatalf("expected repeated-amount flag, got %d signals", len(res.Signals))
	}
	if !hasEvidenceContaining(res.Signals[0].Evidence, "$2500.00 repeated") {
		t.Fatalf("evidence does not reference the repeated amount: %v", res.Signals[0].Evidence)
	}
}

func TestStructuringNoTypeColumnUsesAllRows(t *testing.T) {
	det := NewStructuring(domain.DefaultConfig().Detectors.Structuring)
	in := NewInputs()
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount"},
		[][]string{
			{"ACC-3", "2024-02-01", "9900.00"},
			{"ACC-3", "2024-02-02", "9700.00"},
		},
	)

	res := det.Detect(context.Background(), in)
	if len(res.Signals) != 1 {
		t.Fatalf("expected signal without type column, got %d", len(res.Signals))
	}
}

func TestStructuringRoundNumberBias(t *testing.T) {
	det := NewStructuring(domain.DefaultConfig().Detectors.Structuring)
	in := NewInputs()
	in.Transactions = txDataset([][]string{
		{"ACC-4", "2024-04-01", "9500.00", "cash"},
		{"ACC-4", "2024-04-02", "9000.00", "cash"},
		{"ACC-4", "2024-04-03", "9300.00", "cash"},
	})

	res := det.Detect(context.Background(), in)
	if len(res.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(res.Signals))
	}
	if !hasEvidenceContaining(res.Signals[0].Evidence, "round numbers") {
		t.Fatalf("missing round-number evidence: %v", res.Signals[0].Evidence)
	}
}

func hasEvidenceContaining(evidence []string, substr string) bool {
	for _, line := range evidence {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestIsRoundHundred(t *testing.T) {
	cases := []struct {
		amount float64
		want   bool
	}{
		{9000, true},
		{9500, true},
		{9501.50, false},
		{8999.99, false},
	}
	for _, tc := range cases {
		if got := isRoundHundred(tc.amount); got != tc.want {
			t.Errorf("isRoundHundred(%v) = %v, want %v", tc.amount, got, tc.want)
		}
	}
}
