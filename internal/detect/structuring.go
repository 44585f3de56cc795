package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Sub-signal weights for the composite structuring score.
const (
	weightProximity = 0.30
	weightRolling   = 0.30
	weightSplitDay  = 0.25
	weightRound     = 0.15
)

// cashKeywords classify transaction types as cash-like.
var cashKeywords = []string{"cash", "deposit", "dep", "credit", "cr", "atm"}

// Structuring detects cash-splitting patterns near the currency
// reporting threshold: near-threshold amounts, split-day aggregation,
// rolling-window frequency, and round-number bias, combined into one
// risk score per account.
type Structuring struct {
	cfg domain.StructuringConfig
}

// NewStructuring creates a structuring detector.
func NewStructuring(cfg domain.StructuringConfig) *Structuring {
	return &Structuring{cfg: cfg}
}

func (s *Structuring) Name() string { return "structuring" }

type structuringStats struct {
	nearCount   int
	nearMax     float64
	nearRound   int
	splitDays   int
	rollingDays int
	repeatLines []string
	recurLines  []string
}

// Detect runs the structuring detector over the transaction dataset.
func (s *Structuring) Detect(ctx context.Context, in *Inputs) Result {
	if in.Transactions.Empty() {
		slog.Warn("structuring: empty transaction dataset")
		return Result{}
	}

	view, err := dataset.Transactions(in.Transactions, in.resolver())
	if err != nil {
		slog.Error("structuring: cannot resolve required fields", "error", err)
		return Result{}
	}
	if !view.Caps.Type {
		slog.Info("structuring: no transaction_type column; treating all rows as cash-eligible")
	}

	byEntity := make(map[string][]domain.TransactionRecord)
	var entities []string
	for _, rec := range view.Records {
		if _, ok := byEntity[rec.EntityID]; !ok {
			entities = append(entities, rec.EntityID)
		}
		byEntity[rec.EntityID] = append(byEntity[rec.EntityID], rec)
	}

	stats := make(map[string]*structuringStats, len(entities))
	maxRolling := 0
	for _, entity := range entities {
		st := s.entityStats(byEntity[entity], view.Caps.Type)
		stats[entity] = st
		if st.rollingDays > maxRolling {
			maxRolling = st.rollingDays
		}
	}

	s.markSystemRecurrence(byEntity, stats)

	var signals []domain.Signal
	for _, entity := range entities {
		st := stats[entity]
		score, evidence := s.score(st, maxRolling)
		if score <= 0 {
			continue
		}
		signals = append(signals, domain.Signal{
			Detector: s.Name(),
			EntityID: entity,
			Score:    clamp01(score),
			Evidence: evidence,
		})
	}

	sort.SliceStable(signals, func(a, b int) bool {
		return signals[a].Score > signals[b].Score
	})
	slog.Info("structuring: detection finished",
		"flagged", len(signals),
		"entities", len(entities),
	)
	return Result{Signals: signals}
}

// entityStats computes the per-entity sub-signal inputs.
func (s *Structuring) entityStats(recs []domain.TransactionRecord, hasType bool) *structuringStats {
	st := &structuringStats{}

	dailyTotal := make(map[time.Time]float64)
	dailyMax := make(map[time.Time]float64)
	nearDaySet := make(map[time.Time]struct{})

	for _, rec := range recs {
		if hasType && !isCashLike(rec.Type) {
			continue
		}
		amt := rec.Amount
		day := dayOf(rec.Timestamp)
		dailyTotal[day] += amt
		if amt > dailyMax[day] {
			dailyMax[day] = amt
		}
		if amt >= s.cfg.NearLow && amt <= s.cfg.NearHigh {
			st.nearCount++
			if amt > st.nearMax {
				st.nearMax = amt
			}
			nearDaySet[day] = struct{}{}
			if isRoundHundred(amt) {
				st.nearRound++
			}
		}
	}

	for day, total := range dailyTotal {
		if total > s.cfg.ReportingThreshold && dailyMax[day] < s.cfg.ReportingThreshold {
			st.splitDays++
		}
	}

	st.rollingDays = maxDaysInWindow(nearDaySet, s.cfg.RollingDays)
	st.repeatLines = s.repeatedAmounts(recs)
	return st
}

// repeatedAmounts scans for the same exact amount recurring at least
// RepeatCount times within the repeat window, regardless of band.
func (s *Structuring) repeatedAmounts(recs []domain.TransactionRecord) []string {
	byAmount := make(map[float64][]time.Time)
	for _, rec := range recs {
		byAmount[rec.Amount] = append(byAmount[rec.Amount], rec.Timestamp)
	}

	window := time.Duration(s.cfg.RepeatWindowDays) * 24 * time.Hour
	var lines []string
	for amt, times := range byAmount {
		if len(times) < s.cfg.RepeatCount {
			continue
		}
		sort.Slice(times, func(a, b int) bool { return times[a].Before(times[b]) })
		for i := 0; i+s.cfg.RepeatCount-1 < len(times); i++ {
			if times[i+s.cfg.RepeatCount-1].Sub(times[i]) <= window {
				lines = append(lines, fmt.Sprintf(
					"Amount $%.2f repeated %d time(s) within %d days",
					amt, len(times), s.cfg.RepeatWindowDays,
				))
				break
			}
		}
	}
	sort.Strings(lines)
	return lines
}

// markSystemRecurrence flags amounts that recur with unusually high
// frequency across the whole dataset and attaches evidence to every
// entity using them. An amount counts as unusual at five or more
// occurrences spread over at least two entities.
func (s *Structuring) markSystemRecurrence(byEntity map[string][]domain.TransactionRecord, stats map[string]*structuringStats) {
	const minOccurrences = 5

	amountCount := make(map[float64]int)
	amountEntities := make(map[float64]map[string]struct{})
	for entity, recs := range byEntity {
		for _, rec := range recs {
			amountCount[rec.Amount]++
			if amountEntities[rec.Amount] == nil {
				amountEntities[rec.Amount] = make(map[string]struct{})
			}
			amountEntities[rec.Amount][entity] = struct{}{}
		}
	}

	for amt, count := range amountCount {
		if count < minOccurrences || len(amountEntities[amt]) < 2 {
			continue
		}
		line := fmt.Sprintf(
			"Amount $%.2f recurs %d time(s) system-wide across %d entities",
			amt, count, len(amountEntities[amt]),
		)
		for entity := range amountEntities[amt] {
			stats[entity].recurLines = append(stats[entity].recurLines, line)
		}
	}
}

// score combines the sub-signals with fixed weights and renders the
// evidence lines.
func (s *Structuring) score(st *structuringStats, maxRolling int) (float64, []string) {
	var score float64
	var evidence []string

	if st.nearCount > 0 {
		prox := (st.nearMax - s.cfg.NearLow) / (s.cfg.ReportingThreshold - s.cfg.NearLow)
		score += weightProximity * clamp01(prox)
		evidence = append(evidence, fmt.Sprintf(
			"%d cash transaction(s) in $%.0f-$%.0f range (max $%.2f)",
			st.nearCount, s.cfg.NearLow, s.cfg.ReportingThreshold, st.nearMax,
		))
	}

	if st.rollingDays > 0 && maxRolling > 0 {
		gated := st.rollingDays - s.cfg.MinDays + 1
		if gated < 0 {
			gated = 0
		}
		maxGated := maxRolling - s.cfg.MinDays + 1
		if maxGated > 0 {
			score += weightRolling * clamp01(float64(gated)/float64(maxGated))
		}
		if st.rollingDays >= s.cfg.MinDays {
			evidence = append(evidence, fmt.Sprintf(
				"Near-threshold deposits on %d days within a %d-day window",
				st.rollingDays, s.cfg.RollingDays,
			))
		}
	}

	if st.splitDays > 0 {
		capped := st.splitDays
		if capped > s.cfg.SplitDayCap {
			capped = s.cfg.SplitDayCap
		}
		score += weightSplitDay * float64(capped) / float64(s.cfg.SplitDayCap)
		evidence = append(evidence, fmt.Sprintf(
			"Daily cash total exceeded $%.0f on %d day(s) with no single txn over the threshold",
			s.cfg.ReportingThreshold, st.splitDays,
		))
	}

	if st.nearCount > 0 {
		frac := float64(st.nearRound) / float64(st.nearCount)
		score += weightRound * clamp01(frac)
		if frac > 0.5 {
			evidence = append(evidence, fmt.Sprintf(
				"%.0f%% of near-threshold amounts are round numbers", frac*100,
			))
		}
	}

	// Repeated-amount and system-wide recurrence merge into the same
	// entity's evidence; a small bonus guarantees emission when the
	// banded sub-signals are all zero.
	for _, line := range st.repeatLines {
		evidence = append(evidence, line)
	}
	for _, line := range st.recurLines {
		if !containsString(evidence, line) {
			evidence = append(evidence, line)
		}
	}
	if len(st.repeatLines) > 0 {
		score += 0.10
	}
	if len(st.recurLines) > 0 && score == 0 {
		score = 0.05
	}

	return score, evidence
}

// maxDaysInWindow returns the maximum count of distinct active days
// inside any sliding window of windowDays.
func maxDaysInWindow(daySet map[time.Time]struct{}, windowDays int) int {
	if len(daySet) == 0 {
		return 0
	}
	days := make([]time.Time, 0, len(daySet))
	for d := range daySet {
		days = append(days, d)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })

	span := time.Duration(windowDays-1) * 24 * time.Hour
	best := 0
	for i := range days {
		count := 0
		for j := i; j < len(days) && days[j].Sub(days[i]) <= span; j++ {
			count++
		}
		if count > best {
			best = count
		}
	}
	return best
}

func isCashLike(txType string) bool {
	normed := strings.ToLower(strings.TrimSpace(txType))
	for _, kw := range cashKeywords {
		if normed == kw {
			return true
		}
	}
	return strings.Contains(normed, "cash")
}

var hundred = decimal.NewFromInt(100)

// isRoundHundred reports whether an amount is exactly divisible by
// 100, using decimal arithmetic to avoid float modulo artifacts.
func isRoundHundred(amount float64) bool {
	return decimal.NewFromFloat(amount).Mod(hundred).IsZero()
}
