package rules

import (
	"context"
	"testing"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/detect"
	"github.com/openfinsec/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine()

	rule := &domain.RuleConfig{
		ID:         "velocity-001",
		Name:       "High transfer volume",
		Expression: "transfer_total > 50000.0",
		Severity:   domain.SeverityHigh,
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine()

	rule := &domain.RuleConfig{
		ID:         "invalid-rule",
		Name:       "Invalid Rule",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err == nil {
		t.Fatal("expected compile error for invalid expression")
	}
}

func TestValidateRuleDoesNotLoad(t *testing.T) {
	engine, _ := NewEngine()

	rule := &domain.RuleConfig{
		ID:         "check-only",
		Expression: "txn_count > 10",
		Enabled:    true,
	}
	if err := engine.ValidateRule(rule); err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("validate must not load, got %d rules", engine.RulesCount())
	}
}

func TestLoadRulesSkipsDisabled(t *testing.T) {
	engine, _ := NewEngine()

	err := engine.LoadRules([]*domain.RuleConfig{
		{ID: "a", Expression: "amount_max > 100.0", Enabled: true},
		{ID: "b", Expression: "txn_count > 5", Enabled: false},
	})
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected only the enabled rule, got %d", engine.RulesCount())
	}
}

func TestDetectMatchesAggregates(t *testing.T) {
	engine, _ := NewEngine()
	err := engine.LoadRules([]*domain.RuleConfig{
		{
			ID:         "big-mover",
			Name:       "Large total volume",
			Expression: "amount_total > 10000.0 && txn_count >= 2",
			FraudType:  "volume_screen",
			Severity:   domain.SeverityHigh,
			Enabled:    true,
		},
	})
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	in := detect.NewInputs()
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount"},
		[][]string{
			{"ACC-1", "2024-01-01", "8000.00"},
			{"ACC-1", "2024-01-02", "9000.00"},
			{"ACC-2", "2024-01-01", "50.00"},
		},
	)

	res := engine.Detect(context.Background(), in)
	if len(res.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(res.Alerts))
	}
	alert := res.Alerts[0]
	if alert.AccountID != "ACC-1" {
		t.Errorf("expected ACC-1, got %q", alert.AccountID)
	}
	if alert.FraudType != "volume_screen" || alert.Severity != domain.SeverityHigh {
		t.Errorf("unexpected alert metadata: %+v", alert)
	}
	if alert.Points != 25 {
		t.Errorf("HIGH alert should carry 25 points, got %d", alert.Points)
	}
}

func TestDetectNoRulesIsQuiet(t *testing.T) {
	engine, _ := NewEngine()

	in := detect.NewInputs()
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount"},
		[][]string{{"ACC-1", "2024-01-01", "10.00"}},
	)
	if res := engine.Detect(context.Background(), in); !res.Empty() {
		t.Fatalf("no loaded rules should produce no output, got %+v", res)
	}
}
