// Package scoring reconciles detector outputs into one composite
// record per entity. Two aggregation modes share the interface: a
// weighted mean over normalized continuous signals, and an additive
// severity-point tally. Both express their composite on the canonical
// [0,1] scale so downstream consumers never branch on mode.
package scoring

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/openfinsec/kestrel/internal/detect"
	"github.com/openfinsec/kestrel/internal/domain"
)

// Output pairs a detector name with its result, in pipeline order.
type Output struct {
	Detector string
	Result   detect.Result
}

// Aggregator folds detector outputs into per-entity composites.
type Aggregator interface {
	Mode() domain.AggregationMode
	Aggregate(outputs []Output) []domain.CompositeRecord
}

// New returns the aggregator for the configured mode. Unknown modes
// fall back to weighted.
func New(cfg domain.ScoringConfig) Aggregator {
	if cfg.Mode == domain.ModeAdditive {
		return &additiveAggregator{}
	}
	return &weightedAggregator{cfg: cfg}
}

// entity accumulates everything the detectors said about one subject
// while alerts and signals are folded in.
type entity struct {
	key          string
	accountID    string
	userID       string
	memberNumber string

	contributions map[string]float64 // detector -> best normalized score
	points        int
	detectors     []string
	fraudTypes    []string
	evidence      []string
	alertCount    int
}

// entityIndex reconciles the detectors' differing identifier fields
// onto one key per subject: account first, then username, then member
// number. Output order follows first appearance.
type entityIndex struct {
	order []string
	byKey map[string]*entity
}

func newEntityIndex() *entityIndex {
	return &entityIndex{byKey: make(map[string]*entity)}
}

func entityKey(accountID, userID, memberNumber string) string {
	switch {
	case accountID != "":
		return "acct:" + accountID
	case userID != "":
		return "user:" + userID
	case memberNumber != "":
		return "member:" + memberNumber
	}
	return "anon:" + uuid.NewString()
}

func (idx *entityIndex) get(accountID, userID, memberNumber string) *entity {
	key := entityKey(accountID, userID, memberNumber)
	e, ok := idx.byKey[key]
	if !ok {
		e = &entity{
			key:           key,
			accountID:     accountID,
			userID:        userID,
			memberNumber:  memberNumber,
			contributions: make(map[string]float64),
		}
		idx.byKey[key] = e
		idx.order = append(idx.order, key)
	}
	if e.accountID == "" {
		e.accountID = accountID
	}
	if e.userID == "" {
		e.userID = userID
	}
	if e.memberNumber == "" {
		e.memberNumber = memberNumber
	}
	return e
}

func (e *entity) contribute(detector string, score float64) {
	if score > e.contributions[detector] {
		e.contributions[detector] = score
	}
	if !containsString(e.detectors, detector) {
		e.detectors = append(e.detectors, detector)
	}
}

func (e *entity) note(lines ...string) {
	for _, line := range lines {
		if line != "" && !containsString(e.evidence, line) {
			e.evidence = append(e.evidence, line)
		}
	}
}

func (e *entity) noteFraudType(ft string) {
	if ft != "" && !containsString(e.fraudTypes, ft) {
		e.fraudTypes = append(e.fraudTypes, ft)
	}
}

// weightedAggregator normalizes each detector's signals against the
// detector's own best score in the run, folds discrete alerts in on
// the severity scale, and combines per-entity contributions as a
// weighted mean.
type weightedAggregator struct {
	cfg domain.ScoringConfig
}

func (w *weightedAggregator) Mode() domain.AggregationMode { return domain.ModeWeighted }

func (w *weightedAggregator) Aggregate(outputs []Output) []domain.CompositeRecord {
	idx := newEntityIndex()

	// Per-detector best signal, for normalization. The floor stays at
	// zero: signals already live on [0,1] and a lone 1.0 must remain
	// 1.0 rather than collapse to nothing.
	best := make(map[string]float64)
	for _, out := range outputs {
		for _, sig := range out.Result.Signals {
			if sig.Score > best[out.Detector] {
				best[out.Detector] = sig.Score
			}
		}
	}

	for _, out := range outputs {
		for _, sig := range out.Result.Signals {
			if best[out.Detector] <= 0 {
				continue
			}
			e := idx.get(sig.EntityID, "", "")
			e.contribute(out.Detector, sig.Score/best[out.Detector])
			e.note(sig.Evidence...)
		}
		for _, alert := range out.Result.Alerts {
			e := idx.get(alert.AccountID, alert.UserID, alert.MemberNumber)
			contribution := float64(alert.Points) / float64(domain.SeverityPoints[domain.SeverityCritical])
			if contribution > 1 {
				contribution = 1
			}
			e.contribute(out.Detector, contribution)
			e.noteFraudType(alert.FraudType)
			e.note(alert.Evidence)
			e.alertCount++
		}
	}

	// The denominator is the weight of every detector in the run, not
	// just the ones that reported an entity. A detector that stayed
	// silent on an entity contributes zero, so a lone hit dilutes
	// against the full detector set.
	var runWeight float64
	seen := make(map[string]struct{}, len(outputs))
	for _, out := range outputs {
		if _, ok := seen[out.Detector]; ok {
			continue
		}
		seen[out.Detector] = struct{}{}
		runWeight += w.weight(out.Detector)
	}
	if runWeight == 0 {
		return nil
	}

	records := make([]domain.CompositeRecord, 0, len(idx.order))
	for _, key := range idx.order {
		e := idx.byKey[key]
		if len(e.contributions) == 0 {
			continue
		}
		var weighted float64
		for detector, score := range e.contributions {
			weighted += w.weight(detector) * score
		}
		score := weighted / runWeight

		// Only detectors over the trigger threshold are listed as
		// having fired; weaker contributions still shape the score.
		triggered := make([]string, 0, len(e.detectors))
		for _, detector := range e.detectors {
			if e.contributions[detector] >= w.cfg.TriggerThreshold {
				triggered = append(triggered, detector)
			}
		}

		records = append(records, domain.CompositeRecord{
			EntityKey:    e.key,
			AccountID:    e.accountID,
			UserID:       e.userID,
			MemberNumber: e.memberNumber,
			Score:        score,
			Tier:         scoreTier(score),
			Detectors:    triggered,
			FraudTypes:   e.fraudTypes,
			AlertCount:   e.alertCount,
			Evidence:     strings.Join(e.evidence, " | "),
		})
	}
	sortRecords(records)
	return records
}

func (w *weightedAggregator) weight(detector string) float64 {
	if wgt, ok := w.cfg.DetectorWeights[detector]; ok && wgt > 0 {
		return wgt
	}
	return 1.0
}

// scoreTier buckets a canonical [0,1] composite.
func scoreTier(score float64) domain.Tier {
	switch {
	case score >= 0.75:
		return domain.TierCritical
	case score >= 0.5:
		return domain.TierHigh
	case score >= 0.25:
		return domain.TierMedium
	}
	return domain.TierLow
}

// additiveAggregator tallies severity points per entity, capped at
// 100. Continuous signals convert to points through the tier ladder
// so signal-only detectors still count.
type additiveAggregator struct{}

func (a *additiveAggregator) Mode() domain.AggregationMode { return domain.ModeAdditive }

func (a *additiveAggregator) Aggregate(outputs []Output) []domain.CompositeRecord {
	idx := newEntityIndex()

	for _, out := range outputs {
		for _, sig := range out.Result.Signals {
			e := idx.get(sig.EntityID, "", "")
			pts := signalPoints(sig.Score)
			if pts == 0 {
				continue
			}
			e.points += pts
			e.contribute(out.Detector, sig.Score)
			e.note(sig.Evidence...)
		}
		for _, alert := range out.Result.Alerts {
			e := idx.get(alert.AccountID, alert.UserID, alert.MemberNumber)
			e.points += alert.Points
			e.contribute(out.Detector, float64(alert.Points)/100)
			e.noteFraudType(alert.FraudType)
			e.note(alert.Evidence)
			e.alertCount++
		}
	}

	records := make([]domain.CompositeRecord, 0, len(idx.order))
	for _, key := range idx.order {
		e := idx.byKey[key]
		if e.points <= 0 {
			continue
		}
		points := e.points
		if points > 100 {
			points = 100
		}
		records = append(records, domain.CompositeRecord{
			EntityKey:    e.key,
			AccountID:    e.accountID,
			UserID:       e.userID,
			MemberNumber: e.memberNumber,
			Score:        float64(points) / 100,
			Points:       points,
			Tier:         pointsTier(points),
			Detectors:    e.detectors,
			FraudTypes:   e.fraudTypes,
			AlertCount:   e.alertCount,
			Evidence:     strings.Join(e.evidence, " | "),
		})
	}
	sortRecords(records)
	return records
}

// signalPoints maps a continuous score onto the severity point
// ladder.
func signalPoints(score float64) int {
	switch {
	case score >= 0.75:
		return domain.SeverityPoints[domain.SeverityCritical]
	case score >= 0.5:
		return domain.SeverityPoints[domain.SeverityHigh]
	case score >= 0.25:
		return domain.SeverityPoints[domain.SeverityMedium]
	case score > 0:
		return domain.SeverityPoints[domain.SeverityLow]
	}
	return 0
}

// pointsTier buckets an additive point total.
func pointsTier(points int) domain.Tier {
	switch {
	case points >= 80:
		return domain.TierCritical
	case points >= 50:
		return domain.TierHigh
	case points >= 25:
		return domain.TierMedium
	}
	return domain.TierLow
}

func sortRecords(records []domain.CompositeRecord) {
	sort.SliceStable(records, func(a, b int) bool {
		if records[a].Score != records[b].Score {
			return records[a].Score > records[b].Score
		}
		return records[a].EntityKey < records[b].EntityKey
	})
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
