// Package detect implements the fraud pattern detectors. Each
// detector is a pure function of its input datasets: it resolves the
// fields it needs, degrades gracefully when optional fields are
// absent, and returns an empty result (never an error) when required
// fields are missing or the input is empty.
package detect

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Inputs carries the materialized datasets a run operates on. Any of
// them may be nil; detectors use what is present.
type Inputs struct {
	Transactions  *dataset.Dataset
	Logins        *dataset.Dataset
	ProfileEvents *dataset.Dataset
	CoreAccounts  *dataset.Dataset
	Associations  *dataset.Dataset
	Users         *dataset.Dataset

	Resolver *dataset.Resolver
}

// NewInputs creates an Inputs with the default schema resolver.
func NewInputs() *Inputs {
	return &Inputs{Resolver: dataset.NewResolver(nil)}
}

func (in *Inputs) resolver() *dataset.Resolver {
	if in.Resolver == nil {
		in.Resolver = dataset.NewResolver(nil)
	}
	return in.Resolver
}

// Result is one detector's output in either alert shape: continuous
// per-entity signals, discrete rule-style alerts, or both.
type Result struct {
	Signals []domain.Signal
	Alerts  []domain.Alert
}

// Empty reports whether the detector found nothing.
func (r Result) Empty() bool {
	return len(r.Signals) == 0 && len(r.Alerts) == 0
}

// Detector is the common detector interface. Detect never returns an
// error: missing required schema and empty inputs yield an empty
// Result with a log line.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in *Inputs) Result
}

// severityRank orders severities for max-accretion.
var severityRank = map[domain.Severity]int{
	domain.SeverityLow:      1,
	domain.SeverityMedium:   2,
	domain.SeverityHigh:     3,
	domain.SeverityCritical: 4,
}

func maxSeverity(a, b domain.Severity) domain.Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// accumulator collects rule hits per entity and builds one enriched
// alert per entity afterward, instead of mutating already-built
// alerts when a later rule fires.
type accumulator struct {
	order []string
	hits  map[string]*draft
}

type draft struct {
	accountID    string
	userID       string
	memberNumber string
	fraudType    string
	severity     domain.Severity
	evidence     []string
}

func newAccumulator() *accumulator {
	return &accumulator{hits: make(map[string]*draft)}
}

// add records a rule hit for an entity. Severity accretes by max;
// evidence lines append in hit order and deduplicate exactly.
func (a *accumulator) add(key string, d draft) {
	existing, ok := a.hits[key]
	if !ok {
		a.order = append(a.order, key)
		cp := d
		a.hits[key] = &cp
		return
	}
	existing.severity = maxSeverity(existing.severity, d.severity)
	if existing.accountID == "" {
		existing.accountID = d.accountID
	}
	if existing.userID == "" {
		existing.userID = d.userID
	}
	if existing.memberNumber == "" {
		existing.memberNumber = d.memberNumber
	}
	for _, line := range d.evidence {
		if !containsString(existing.evidence, line) {
			existing.evidence = append(existing.evidence, line)
		}
	}
}

func (a *accumulator) seen(key string) bool {
	_, ok := a.hits[key]
	return ok
}

// alerts builds the final one-alert-per-entity slice in first-hit
// order.
func (a *accumulator) alerts() []domain.Alert {
	out := make([]domain.Alert, 0, len(a.order))
	for _, key := range a.order {
		d := a.hits[key]
		out = append(out, domain.Alert{
			AccountID:    d.accountID,
			UserID:       d.userID,
			MemberNumber: d.memberNumber,
			FraudType:    d.fraudType,
			Severity:     d.severity,
			Points:       d.severity.Points(),
			Evidence:     joinEvidence(d.evidence),
		})
	}
	return out
}

func joinEvidence(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += " | "
		}
		out += line
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// transferKeywords marks the transaction types that move money
// between accounts. Shared by the kiting graph and the takeover
// behavioral checks.
var transferKeywords = []string{"transfer", "wire", "ach", "eft", "send", "check", "cheque"}

func isTransferType(txnType string) bool {
	normed := strings.ToLower(strings.TrimSpace(txnType))
	if normed == "" {
		return false
	}
	for _, kw := range transferKeywords {
		if strings.Contains(normed, kw) {
			return true
		}
	}
	return false
}

// dayOf truncates a timestamp to its calendar day in UTC.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// quantile returns the q-quantile (0..1) of xs by linear
// interpolation over the sorted values.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
