package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Intrinsic reactivation sub-signal weights, plus the coordinated
// wave bonus added on top of the weighted base.
const (
	weightGap       = 0.30
	weightLargeRe   = 0.25
	weightRapidPair = 0.25
	weightProfile   = 0.20

	clusterBonusPerMember = 0.1
	clusterBonusCap       = 0.3
)

// Dormancy detects long-dormant accounts that spring back to life.
// With core-banking statuses it cross-references dormant members
// against digital activity; from transactions alone it finds long
// gaps followed by large, rapid in-and-out, or profile-edit-laced
// movement, and boosts accounts that reactivate in a coordinated
// wave.
type Dormancy struct {
	cfg domain.DormancyConfig
}

// NewDormancy creates a dormancy detector.
func NewDormancy(cfg domain.DormancyConfig) *Dormancy {
	return &Dormancy{cfg: cfg}
}

func (d *Dormancy) Name() string { return "dormant_account" }

// Detect runs both the cross-system and the intrinsic analyses.
func (d *Dormancy) Detect(ctx context.Context, in *Inputs) Result {
	var res Result

	var view *dataset.TransactionView
	if !in.Transactions.Empty() {
		v, err := dataset.Transactions(in.Transactions, in.resolver())
		if err != nil {
			slog.Error("dormancy: cannot resolve transaction fields", "error", err)
		} else {
			view = v
		}
	}

	refTime := d.referenceTime(view)

	if !in.CoreAccounts.Empty() {
		res.Alerts = d.crossSystem(in, view, refTime)
	}
	if view != nil {
		res.Signals = d.reactivations(view, d.profileEvents(in))
	}

	slog.Info("dormancy: detection finished",
		"alerts", len(res.Alerts),
		"signals", len(res.Signals),
	)
	return res
}

// referenceTime anchors dormancy math at the newest observed
// transaction so reruns over historical data stay deterministic.
func (d *Dormancy) referenceTime(view *dataset.TransactionView) time.Time {
	if view != nil && len(view.Records) > 0 {
		return view.Records[len(view.Records)-1].Timestamp
	}
	return time.Now().UTC()
}

type dormantMember struct {
	account      domain.CoreAccountStatus
	dormantDays  int
	digitalTotal float64
	digitalCount int
}

// crossSystem matches dormant core members against digital-channel
// activity recorded after their last core activity. Without an
// association mapping there is nothing to cross-reference, so the
// severely dormant go on a bounded watchlist instead.
func (d *Dormancy) crossSystem(in *Inputs, view *dataset.TransactionView, refTime time.Time) []domain.Alert {
	accounts, err := dataset.CoreAccounts(in.CoreAccounts, in.resolver())
	if err != nil {
		slog.Error("dormancy: cannot resolve core account fields", "error", err)
		return nil
	}

	var dormant []dormantMember
	for _, acct := range accounts {
		days := int(refTime.Sub(acct.LastActivity).Hours() / 24)
		if days < d.cfg.DormancyDays {
			continue
		}
		dormant = append(dormant, dormantMember{account: acct, dormantDays: days})
	}

	memberAccounts := d.memberAccountIndex(in)
	if len(memberAccounts) == 0 {
		return d.fallbackWatchlist(dormant)
	}

	acc := newAccumulator()
	for i := range dormant {
		dm := &dormant[i]
		if view != nil {
			linked := memberAccounts[dm.account.AccountNumber]
			for _, rec := range view.Records {
				if rec.EntityID != dm.account.AccountNumber && !containsString(linked, rec.EntityID) {
					continue
				}
				if rec.Timestamp.After(dm.account.LastActivity) {
					dm.digitalCount++
					dm.digitalTotal += rec.Amount
				}
			}
		}
		if dm.digitalCount == 0 {
			continue
		}
		severity := domain.SeverityHigh
		years := float64(dm.dormantDays) / 365
		if years > float64(d.cfg.SevereDormancyYears) && dm.digitalTotal > d.cfg.DigitalDollarFloor {
			severity = domain.SeverityCritical
		}
		acc.add(dm.account.AccountNumber, draft{
			memberNumber: dm.account.AccountNumber,
			fraudType:    d.Name(),
			severity:     severity,
			evidence: []string{fmt.Sprintf(
				"Core account dormant %d day(s) yet %d digital transaction(s) totalling $%.2f",
				dm.dormantDays, dm.digitalCount, dm.digitalTotal,
			)},
		})
	}
	return acc.alerts()
}

// fallbackWatchlist surfaces the members dormant beyond the severe
// line, worst first, bounded to a small sample.
func (d *Dormancy) fallbackWatchlist(dormant []dormantMember) []domain.Alert {
	severeDays := d.cfg.SevereDormancyYears * 365
	var severe []dormantMember
	for _, dm := range dormant {
		if dm.dormantDays > severeDays {
			severe = append(severe, dm)
		}
	}
	sort.Slice(severe, func(a, b int) bool {
		return severe[a].dormantDays > severe[b].dormantDays
	})
	if len(severe) > d.cfg.FallbackSample {
		severe = severe[:d.cfg.FallbackSample]
	}

	acc := newAccumulator()
	for _, dm := range severe {
		acc.add(dm.account.AccountNumber, draft{
			memberNumber: dm.account.AccountNumber,
			fraudType:    d.Name(),
			severity:     domain.SeverityMedium,
			evidence: []string{fmt.Sprintf(
				"Core account dormant %d day(s) with no association mapping to cross-reference (watchlist)",
				dm.dormantDays,
			)},
		})
	}
	return acc.alerts()
}

// memberAccountIndex maps a member number to its linked digital
// account ids through the association table.
func (d *Dormancy) memberAccountIndex(in *Inputs) map[string][]string {
	idx := make(map[string][]string)
	if in.Associations.Empty() {
		return idx
	}
	assocs, err := dataset.Associations(in.Associations, in.resolver())
	if err != nil {
		slog.Warn("dormancy: cannot resolve association fields", "error", err)
		return idx
	}
	for _, a := range assocs {
		if a.MemberNumber == "" {
			continue
		}
		if a.AccountID != "" {
			idx[a.MemberNumber] = append(idx[a.MemberNumber], a.AccountID)
		}
		if a.UserID != "" {
			idx[a.MemberNumber] = append(idx[a.MemberNumber], a.UserID)
		}
	}
	return idx
}

type reactivation struct {
	entity       string
	gapStart     time.Time
	gapDays      float64
	at           time.Time
	firstAmt     float64
	priorMean    float64
	rapidPairs   int
	profileEdits int
}

func (d *Dormancy) profileEvents(in *Inputs) map[string][]domain.ProfileEvent {
	byEntity := make(map[string][]domain.ProfileEvent)
	if in.ProfileEvents.Empty() {
		return byEntity
	}
	events, err := dataset.ProfileEvents(in.ProfileEvents, in.resolver())
	if err != nil {
		slog.Warn("dormancy: cannot resolve profile fields", "error", err)
		return byEntity
	}
	for _, ev := range events {
		byEntity[ev.EntityID] = append(byEntity[ev.EntityID], ev)
	}
	return byEntity
}

// reactivations finds dormancy gaps inside the transaction history
// itself and scores each account's most suspicious reactivation.
func (d *Dormancy) reactivations(view *dataset.TransactionView, profile map[string][]domain.ProfileEvent) []domain.Signal {
	byEntity := make(map[string][]domain.TransactionRecord)
	var entities []string
	for _, rec := range view.Records {
		if _, ok := byEntity[rec.EntityID]; !ok {
			entities = append(entities, rec.EntityID)
		}
		byEntity[rec.EntityID] = append(byEntity[rec.EntityID], rec)
	}

	var events []reactivation
	for _, entity := range entities {
		recs := byEntity[entity]
		var best *reactivation
		for i := 1; i < len(recs); i++ {
			gap := recs[i].Timestamp.Sub(recs[i-1].Timestamp).Hours() / 24
			if gap < float64(d.cfg.DormancyDays) {
				continue
			}
			ev := reactivation{
				entity:    entity,
				gapStart:  recs[i-1].Timestamp,
				gapDays:   gap,
				at:        recs[i].Timestamp,
				firstAmt:  abs(recs[i].Amount),
				priorMean: meanAbsAmount(recs[:i]),
			}
			ev.rapidPairs = d.countRapidPairs(recs[i:])
			ev.profileEdits = d.countProfileEdits(profile[entity], ev)
			if best == nil || ev.gapDays > best.gapDays {
				cp := ev
				best = &cp
			}
		}
		if best != nil {
			events = append(events, *best)
		}
	}
	if len(events) == 0 {
		return nil
	}

	clusterSizes := d.clusterSizes(events)

	var signals []domain.Signal
	for _, ev := range events {
		score, evidence := d.scoreReactivation(ev, clusterSizes[ev.entity])
		signals = append(signals, domain.Signal{
			Detector: d.Name(),
			EntityID: ev.entity,
			Score:    clamp01(score),
			Evidence: evidence,
		})
	}
	sort.Slice(signals, func(a, b int) bool {
		if signals[a].Score != signals[b].Score {
			return signals[a].Score > signals[b].Score
		}
		return signals[a].EntityID < signals[b].EntityID
	})
	return signals
}

// countRapidPairs counts deposit-then-withdrawal pairs after the
// reactivation transaction, each deposit matched against the first
// withdrawal inside the pair window.
func (d *Dormancy) countRapidPairs(post []domain.TransactionRecord) int {
	pairs := 0
	for i, dep := range post {
		if dep.Amount <= 0 {
			continue
		}
		for _, wd := range post[i+1:] {
			if wd.Timestamp.Sub(dep.Timestamp) > d.cfg.RapidPairWindow {
				break
			}
			if wd.Amount < 0 {
				pairs++
				break
			}
		}
	}
	return pairs
}

// countProfileEdits counts contact or credential edits made during
// the dormancy gap or in the first week after reactivation. Editing
// a profile nobody is using is a takeover tell.
func (d *Dormancy) countProfileEdits(events []domain.ProfileEvent, ev reactivation) int {
	until := ev.at.Add(7 * 24 * time.Hour)
	n := 0
	for _, pe := range events {
		if pe.Timestamp.After(ev.gapStart) && !pe.Timestamp.After(until) {
			n++
		}
	}
	return n
}

// clusterSizes groups reactivations by single-linkage chaining on
// the reactivation date: sorted dates belong to one cluster while
// each consecutive pair falls inside the cluster window. Coordinated
// waves of reactivations score above a lone comeback.
func (d *Dormancy) clusterSizes(events []reactivation) map[string]int {
	window := time.Duration(d.cfg.ClusterWindowDays) * 24 * time.Hour

	sorted := make([]reactivation, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(a, b int) bool {
		return sorted[a].at.Before(sorted[b].at)
	})

	sizes := make(map[string]int, len(events))
	start := 0
	flush := func(end int) {
		for _, ev := range sorted[start:end] {
			sizes[ev.entity] = end - start
		}
		start = end
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].at.Sub(sorted[i-1].at) > window {
			flush(i)
		}
	}
	flush(len(sorted))
	return sizes
}

func (d *Dormancy) scoreReactivation(ev reactivation, clusterSize int) (float64, []string) {
	gapScore := clamp01(ev.gapDays / float64(4*d.cfg.DormancyDays))

	largeScore := 0.0
	if ev.priorMean > 0 && ev.firstAmt >= d.cfg.LargeFirstMultiple*ev.priorMean {
		largeScore = clamp01(ev.firstAmt / (d.cfg.LargeFirstMultiple * ev.priorMean) / 2)
	}

	pairScore := clamp01(float64(ev.rapidPairs) / 3)
	profileScore := clamp01(float64(ev.profileEdits) / 2)

	score := weightGap*gapScore + weightLargeRe*largeScore +
		weightRapidPair*pairScore + weightProfile*profileScore
	if clusterSize > 1 {
		bonus := clusterBonusPerMember * float64(clusterSize)
		if bonus > clusterBonusCap {
			bonus = clusterBonusCap
		}
		score += bonus
	}

	evidence := []string{fmt.Sprintf(
		"Reactivated after %.0f day(s) dormant with a $%.2f transaction",
		ev.gapDays, ev.firstAmt,
	)}
	if largeScore > 0 {
		evidence = append(evidence, fmt.Sprintf(
			"First transaction is %.1fx the prior average of $%.2f",
			ev.firstAmt/ev.priorMean, ev.priorMean,
		))
	}
	if ev.rapidPairs > 0 {
		evidence = append(evidence, fmt.Sprintf(
			"%d deposit-and-withdrawal pair(s) within %s of each other after reactivation",
			ev.rapidPairs, d.cfg.RapidPairWindow,
		))
	}
	if ev.profileEdits > 0 {
		evidence = append(evidence, fmt.Sprintf(
			"%d profile edit(s) during or just after the dormancy gap", ev.profileEdits,
		))
	}
	if clusterSize > 1 {
		evidence = append(evidence, fmt.Sprintf(
			"%d account(s) reactivated within the same %d-day window",
			clusterSize, d.cfg.ClusterWindowDays,
		))
	}
	return score, evidence
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func meanAbsAmount(recs []domain.TransactionRecord) float64 {
	if len(recs) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range recs {
		sum += abs(r.Amount)
	}
	return sum / float64(len(recs))
}
