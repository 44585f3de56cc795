// Package rules provides the CEL-Go based screening rule engine.
// Screening rules are operator-authored predicates evaluated once per
// entity against aggregate transaction behavior, sitting alongside
// the built-in detectors as a configurable detection surface.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/detect"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Engine compiles and evaluates screening rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledRule
}

// CompiledRule pairs a rule config with its compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a screening rule engine with the per-entity
// aggregate variables declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("txn_count", cel.IntType),
		cel.Variable("amount_total", cel.DoubleType),
		cel.Variable("amount_max", cel.DoubleType),
		cel.Variable("amount_mean", cel.DoubleType),
		cel.Variable("active_days", cel.IntType),
		cel.Variable("distinct_channels", cel.IntType),
		cel.Variable("distinct_devices", cel.IntType),
		cel.Variable("distinct_recipients", cel.IntType),
		cel.Variable("transfer_total", cel.DoubleType),
		cel.Variable("transfer_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{env: env, compiled: make(map[string]*CompiledRule)}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, err := e.compile(cfg)
	return err
}

// LoadRule compiles and loads one rule.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}
	e.compiled[cfg.ID] = compiled
	return nil
}

// LoadRules loads every enabled rule, replacing the current set.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	e.compiled = make(map[string]*CompiledRule)
	e.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := e.LoadRule(cfg); err != nil {
			return fmt.Errorf("rule %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

func (e *Engine) compile(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.Expression == "" {
		return nil, fmt.Errorf("rule %s has no expression", cfg.ID)
	}
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for rule %s: %w", cfg.ID, err)
	}
	return &CompiledRule{Config: cfg, Program: program}, nil
}

// Name satisfies the detector interface so the engine can run inside
// the standard detector fan-out.
func (e *Engine) Name() string { return "screening_rules" }

// Detect evaluates every loaded rule against each entity's aggregate
// activation. Rule evaluation errors are logged and skipped; one bad
// expression must not sink the batch.
func (e *Engine) Detect(ctx context.Context, in *detect.Inputs) detect.Result {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiled))
	for _, r := range e.compiled {
		rules = append(rules, r)
	}
	e.mu.RUnlock()
	if len(rules) == 0 || in.Transactions.Empty() {
		return detect.Result{}
	}
	sort.Slice(rules, func(a, b int) bool { return rules[a].Config.ID < rules[b].Config.ID })

	resolver := in.Resolver
	if resolver == nil {
		resolver = dataset.NewResolver(nil)
	}
	view, err := dataset.Transactions(in.Transactions, resolver)
	if err != nil {
		slog.Error("screening: cannot resolve transaction fields", "error", err)
		return detect.Result{}
	}

	activations := buildActivations(view)

	var alerts []domain.Alert
	for _, entity := range activations.order {
		vars := activations.byEntity[entity]
		for _, rule := range rules {
			out, _, err := rule.Program.Eval(vars)
			if err != nil {
				slog.Warn("screening: rule evaluation failed",
					"rule", rule.Config.ID, "entity", entity, "error", err)
				continue
			}
			if !truthy(out) {
				continue
			}
			alerts = append(alerts, domain.Alert{
				AccountID: entity,
				FraudType: ruleFraudType(rule.Config),
				Severity:  ruleSeverity(rule.Config),
				Points:    ruleSeverity(rule.Config).Points(),
				Evidence: fmt.Sprintf("Rule %s (%s) matched: %s",
					rule.Config.ID, rule.Config.Name, rule.Config.Expression),
			})
		}
	}

	slog.Info("screening: evaluation finished",
		"rules", len(rules),
		"entities", len(activations.order),
		"alerts", len(alerts),
	)
	return detect.Result{Alerts: alerts}
}

func ruleFraudType(cfg *domain.RuleConfig) string {
	if cfg.FraudType != "" {
		return cfg.FraudType
	}
	return "screening_rule"
}

func ruleSeverity(cfg *domain.RuleConfig) domain.Severity {
	if cfg.Severity != "" {
		return cfg.Severity
	}
	return domain.SeverityMedium
}

// truthy converts a CEL result to a boolean match.
func truthy(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) > 0
	case types.Int:
		return int64(v) > 0
	default:
		return false
	}
}
