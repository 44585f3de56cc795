package detect

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Kiting detects check-kiting style circular fund flows: money moving
// around a closed loop of accounts inside the clearing window to
// simulate balances that do not exist.
type Kiting struct {
	cfg domain.KitingConfig
}

// NewKiting creates a kiting detector.
func NewKiting(cfg domain.KitingConfig) *Kiting {
	return &Kiting{cfg: cfg}
}

func (k *Kiting) Name() string { return "kiting" }

// edgeFlow summarizes all transfers along one directed edge.
type edgeFlow struct {
	count int
	total float64
	first time.Time
	last  time.Time
}

// Detect builds the transfer graph, enumerates cycles, and scores
// each account by the most suspicious cycle it participates in.
func (k *Kiting) Detect(ctx context.Context, in *Inputs) Result {
	if in.Transactions.Empty() {
		slog.Warn("kiting: empty transaction dataset")
		return Result{}
	}
	view, err := dataset.Transactions(in.Transactions, in.resolver())
	if err != nil {
		slog.Error("kiting: cannot resolve required fields", "error", err)
		return Result{}
	}
	if !view.Caps.Destination {
		slog.Info("kiting: no destination column; nothing to trace")
		return Result{}
	}

	// Only transfer-like rows enter the graph. A cash deposit with a
	// stray recipient column is not a fund movement between accounts.
	records := view.Records
	if view.Caps.Type {
		var transfers []domain.TransactionRecord
		for _, rec := range records {
			if isTransferType(rec.Type) {
				transfers = append(transfers, rec)
			}
		}
		records = transfers
		if len(records) == 0 {
			slog.Info("kiting: no transfer-like transactions")
			return Result{}
		}
	}

	graph := newTransferGraph()
	flows := make(map[[2]string]*edgeFlow)
	for _, rec := range records {
		if rec.Source == "" || rec.Destination == "" || rec.Source == rec.Destination {
			continue
		}
		graph.addEdge(rec.Source, rec.Destination)
		key := [2]string{rec.Source, rec.Destination}
		f, ok := flows[key]
		if !ok {
			f = &edgeFlow{first: rec.Timestamp, last: rec.Timestamp}
			flows[key] = f
		}
		f.count++
		f.total += rec.Amount
		if rec.Timestamp.Before(f.first) {
			f.first = rec.Timestamp
		}
		if rec.Timestamp.After(f.last) {
			f.last = rec.Timestamp
		}
	}

	cycles := graph.simpleCycles(k.cfg.MaxCycleLength)
	if len(cycles) == 0 {
		slog.Info("kiting: no cycles found", "accounts", len(graph.nodes))
		return Result{}
	}

	// Each account inherits its worst cycle's score, but evidence from
	// every cycle it sits in, deduplicated.
	scores := make(map[string]float64)
	evidence := make(map[string][]string)
	for _, cycle := range cycles {
		score, lines := k.scoreCycle(cycle, flows, view.Owners)
		for _, acct := range cycle {
			if score > scores[acct] {
				scores[acct] = score
			}
			for _, line := range lines {
				if !containsString(evidence[acct], line) {
					evidence[acct] = append(evidence[acct], line)
				}
			}
		}
	}

	signals := make([]domain.Signal, 0, len(scores))
	for acct, score := range scores {
		if score <= 0 {
			continue
		}
		signals = append(signals, domain.Signal{
			Detector: k.Name(),
			EntityID: acct,
			Score:    score,
			Evidence: evidence[acct],
		})
	}
	sort.Slice(signals, func(a, b int) bool {
		if signals[a].Score != signals[b].Score {
			return signals[a].Score > signals[b].Score
		}
		return signals[a].EntityID < signals[b].EntityID
	})

	slog.Info("kiting: detection finished", "cycles", len(cycles), "flagged", len(signals))
	return Result{Signals: signals}
}

// scoreCycle rates one cycle as the mean of its sub-scores: length
// (shorter loops are tighter kites, floored at 0.1), timing (1.0
// inside the clearing window, then decaying linearly to 0 over 30
// days), amount (log scale), repetition (only when the pattern
// recurs), and shared ownership when an ownership column is present.
func (k *Kiting) scoreCycle(cycle []string, flows map[[2]string]*edgeFlow, owners map[string]string) (float64, []string) {
	var total float64
	edgeEvents := 0
	var earliest, latest time.Time
	for i := range cycle {
		key := [2]string{cycle[i], cycle[(i+1)%len(cycle)]}
		f := flows[key]
		if f == nil {
			continue
		}
		total += f.total
		edgeEvents += f.count
		if earliest.IsZero() || f.first.Before(earliest) {
			earliest = f.first
		}
		if f.last.After(latest) {
			latest = f.last
		}
	}

	spanDays := latest.Sub(earliest).Hours() / 24
	windowDays := float64(k.cfg.ClearingWindowDays)

	lengthScore := 1.0
	if k.cfg.MaxCycleLength > 2 {
		lengthScore = 1 - float64(len(cycle)-2)/float64(k.cfg.MaxCycleLength-2)
	}
	if lengthScore < 0.1 {
		lengthScore = 0.1
	}

	timingScore := 1.0
	if spanDays > windowDays {
		timingScore = 1 - (spanDays-windowDays)/30
		if timingScore < 0 {
			timingScore = 0
		}
	}

	amountScore := 0.0
	if total > 1 {
		amountScore = clamp01(math.Log10(total) / 6)
	}

	subs := []float64{lengthScore, timingScore, amountScore}

	// Occurrence count: how many times the edge pattern recurs across
	// the cycle. Counted only when it recurs at all.
	occurrences := edgeEvents / len(cycle)
	if occurrences > 10 {
		occurrences = 10
	}
	recursLine := ""
	if occurrences > 1 {
		subs = append(subs, clamp01(float64(occurrences)/5))
		recursLine = fmt.Sprintf("Cycle pattern observed ~%d time(s)", occurrences)
	}

	ownerLine := ""
	if len(owners) > 0 {
		distinct := make(map[string]struct{})
		known := 0
		for _, acct := range cycle {
			if owner, ok := owners[acct]; ok && owner != "" {
				distinct[owner] = struct{}{}
				known++
			}
		}
		if known >= 2 {
			ownershipScore := clamp01(1 - float64(len(distinct)-1)/float64(known-1))
			subs = append(subs, ownershipScore)
			if len(distinct) == 1 {
				ownerLine = "All cycle accounts share one owner"
			}
		}
	}

	score := clamp01(mean(subs))

	evidence := []string{
		fmt.Sprintf("Circular flow %s (length %d, $%.2f total)",
			strings.Join(append(append([]string{}, cycle...), cycle[0]), " -> "),
			len(cycle), total),
		fmt.Sprintf("Cycle completed over %.1f day(s) against a %d-day clearing window",
			spanDays, k.cfg.ClearingWindowDays),
	}
	if recursLine != "" {
		evidence = append(evidence, recursLine)
	}
	if ownerLine != "" {
		evidence = append(evidence, ownerLine)
	}
	return score, evidence
}
