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

// Behavioral family tuning. Each entity's history splits into a
// historical and a recent slice; the recent slice is what a fresh
// compromise would distort.
const (
	historyShare      = 0.8
	minBehavioralRows = 5
	nightShiftFloor   = 0.3
	profilePairCap    = 3
)

// Takeover detects account-takeover through two signal families.
// From login telemetry: brute-force bursts, rapid-fire failures,
// source-address velocity, and credential-stuffing style all-failure
// sequences. From transactions and profile events: profile changes
// followed by transfers, channels and devices that only appear in
// recent activity, a swing toward night-hour transactions, and large
// transfers to recipients the history has never paid.
type Takeover struct {
	cfg domain.TakeoverConfig
}

// NewTakeover creates an account-takeover detector.
func NewTakeover(cfg domain.TakeoverConfig) *Takeover {
	return &Takeover{cfg: cfg}
}

func (t *Takeover) Name() string { return "account_takeover" }

// Detect runs both signal families over whatever inputs are present.
// The families stay independent: auth rules emit discrete alerts
// keyed by username, the behavioral checks emit continuous signals
// keyed by account, and the aggregator takes the max of the two per
// entity rather than summing the same compromise twice.
func (t *Takeover) Detect(ctx context.Context, in *Inputs) Result {
	acc := newAccumulator()

	if !in.Logins.Empty() {
		events, err := dataset.Logins(in.Logins, in.resolver())
		if err != nil {
			slog.Error("takeover: cannot resolve login fields", "error", err)
		} else {
			byUser := groupLogins(events)
			t.bruteForce(byUser, acc)
			t.rapidFire(byUser, acc)
			t.ipVelocity(byUser, acc)
			t.allFailures(byUser, acc)
		}
	}

	var signals []domain.Signal
	if !in.Transactions.Empty() {
		signals = t.behavioral(in)
	}

	alerts := acc.alerts()
	slog.Info("takeover: detection finished", "alerts", len(alerts), "signals", len(signals))
	return Result{Alerts: alerts, Signals: signals}
}

func groupLogins(events []domain.LoginEvent) map[string][]domain.LoginEvent {
	byUser := make(map[string][]domain.LoginEvent)
	for _, ev := range events {
		byUser[ev.Username] = append(byUser[ev.Username], ev)
	}
	return byUser
}

// bruteForce flags usernames whose failure rate exceeds half of all
// attempts with at least the configured number of failures. Double
// the failure floor escalates to critical.
func (t *Takeover) bruteForce(byUser map[string][]domain.LoginEvent, acc *accumulator) {
	for _, user := range userKeys(byUser) {
		events := byUser[user]
		fails := 0
		for _, ev := range events {
			if !ev.Success {
				fails++
			}
		}
		if fails < t.cfg.BruteForceFailures {
			continue
		}
		rate := float64(fails) / float64(len(events))
		if rate <= 0.5 {
			continue
		}
		severity := domain.SeverityHigh
		if fails >= 2*t.cfg.BruteForceFailures {
			severity = domain.SeverityCritical
		}
		acc.add(user, draft{
			userID:    user,
			fraudType: t.Name(),
			severity:  severity,
			evidence: []string{fmt.Sprintf(
				"%d failed login(s) out of %d attempts (%.0f%% failure rate)",
				fails, len(events), rate*100,
			)},
		})
	}
}

// rapidFire flags a burst of failures inside the rapid-fire window.
func (t *Takeover) rapidFire(byUser map[string][]domain.LoginEvent, acc *accumulator) {
	for _, user := range userKeys(byUser) {
		var failTimes []time.Time
		for _, ev := range byUser[user] {
			if !ev.Success {
				failTimes = append(failTimes, ev.Timestamp)
			}
		}
		if len(failTimes) < t.cfg.BruteForceFailures {
			continue
		}
		sort.Slice(failTimes, func(a, b int) bool { return failTimes[a].Before(failTimes[b]) })
		for i := 0; i+t.cfg.BruteForceFailures-1 < len(failTimes); i++ {
			j := i + t.cfg.BruteForceFailures - 1
			if failTimes[j].Sub(failTimes[i]) <= t.cfg.RapidFireWindow {
				acc.add(user, draft{
					userID:    user,
					fraudType: t.Name(),
					severity:  domain.SeverityCritical,
					evidence: []string{fmt.Sprintf(
						"%d failed login(s) within %s (automated attack pattern)",
						t.cfg.BruteForceFailures, t.cfg.RapidFireWindow,
					)},
				})
				break
			}
		}
	}
}

// ipVelocity flags usernames attempted from too many source addresses.
func (t *Takeover) ipVelocity(byUser map[string][]domain.LoginEvent, acc *accumulator) {
	for _, user := range userKeys(byUser) {
		ips := make(map[string]struct{})
		for _, ev := range byUser[user] {
			if ev.SourceIP != "" {
				ips[ev.SourceIP] = struct{}{}
			}
		}
		if len(ips) <= t.cfg.IPVelocityLimit {
			continue
		}
		severity := domain.SeverityMedium
		if len(ips) >= t.cfg.IPVelocityLimit+2 {
			severity = domain.SeverityHigh
		}
		acc.add(user, draft{
			userID:    user,
			fraudType: t.Name(),
			severity:  severity,
			evidence: []string{fmt.Sprintf(
				"Login attempts from %d distinct source addresses", len(ips),
			)},
		})
	}
}

// allFailures flags usernames with no successful login at all, the
// signature of credential testing against accounts the attacker does
// not control.
func (t *Takeover) allFailures(byUser map[string][]domain.LoginEvent, acc *accumulator) {
	for _, user := range userKeys(byUser) {
		events := byUser[user]
		if len(events) < 3 {
			continue
		}
		allFailed := true
		for _, ev := range events {
			if ev.Success {
				allFailed = false
				break
			}
		}
		if !allFailed {
			continue
		}
		acc.add(user, draft{
			userID:    user,
			fraudType: t.Name(),
			severity:  domain.SeverityMedium,
			evidence: []string{fmt.Sprintf(
				"All %d login attempt(s) failed (credential testing)", len(events),
			)},
		})
	}
}

// behavioral scores each account's transaction history for
// compromise-shaped shifts. Every sub-score with sufficient data
// contributes, zero or not; the entity score is their mean, and
// entities scoring zero are dropped.
func (t *Takeover) behavioral(in *Inputs) []domain.Signal {
	view, err := dataset.Transactions(in.Transactions, in.resolver())
	if err != nil {
		slog.Error("takeover: cannot resolve transaction fields", "error", err)
		return nil
	}
	changes := t.profileChanges(in)

	byEntity := make(map[string][]domain.TransactionRecord)
	var entities []string
	for _, rec := range view.Records {
		if _, ok := byEntity[rec.EntityID]; !ok {
			entities = append(entities, rec.EntityID)
		}
		byEntity[rec.EntityID] = append(byEntity[rec.EntityID], rec)
	}
	sort.Strings(entities)

	var signals []domain.Signal
	for _, entity := range entities {
		recs := byEntity[entity]
		var subs []float64
		var evidence []string

		if list := changes[entity]; len(list) > 0 {
			score, line := t.profileThenTransfer(recs, list, view.Caps.Type)
			subs = append(subs, score)
			if line != "" {
				evidence = append(evidence, line)
			}
		}

		if len(recs) >= minBehavioralRows {
			split := int(float64(len(recs)) * historyShare)
			hist, recent := recs[:split], recs[split:]

			if view.Caps.Channel || view.Caps.Device {
				score, line := noveltyScore(hist, recent)
				subs = append(subs, score)
				if line != "" {
					evidence = append(evidence, line)
				}
			}

			score, line := t.nightShift(hist, recent)
			subs = append(subs, score)
			if line != "" {
				evidence = append(evidence, line)
			}

			if view.Caps.Destination {
				if score, line, ok := t.newRecipientTransfers(recs, view.Caps.Type); ok {
					subs = append(subs, score)
					if line != "" {
						evidence = append(evidence, line)
					}
				}
			}
		}

		if len(subs) == 0 {
			continue
		}
		score := clamp01(mean(subs))
		if score == 0 {
			continue
		}
		signals = append(signals, domain.Signal{
			Detector: t.Name(),
			EntityID: entity,
			Score:    score,
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

func (t *Takeover) profileChanges(in *Inputs) map[string][]domain.ProfileEvent {
	byEntity := make(map[string][]domain.ProfileEvent)
	if in.ProfileEvents.Empty() {
		return byEntity
	}
	events, err := dataset.ProfileEvents(in.ProfileEvents, in.resolver())
	if err != nil {
		slog.Warn("takeover: cannot resolve profile fields", "error", err)
		return byEntity
	}
	for _, ev := range events {
		byEntity[ev.EntityID] = append(byEntity[ev.EntityID], ev)
	}
	return byEntity
}

// profileThenTransfer counts profile changes followed by a
// transfer-like transaction inside the profile window. The score
// scales with the pair count and saturates at three pairs.
func (t *Takeover) profileThenTransfer(recs []domain.TransactionRecord, changes []domain.ProfileEvent, hasType bool) (float64, string) {
	pairs := 0
	for _, change := range changes {
		for _, rec := range recs {
			gap := rec.Timestamp.Sub(change.Timestamp)
			if gap < 0 || gap > t.cfg.ProfileWindow {
				continue
			}
			if hasType && !isTransferType(rec.Type) {
				continue
			}
			pairs++
			break
		}
	}
	if pairs == 0 {
		return 0, ""
	}
	if pairs > profilePairCap {
		pairs = profilePairCap
	}
	return float64(pairs) / profilePairCap, fmt.Sprintf(
		"%d profile change(s) followed by a transfer within %s",
		pairs, t.cfg.ProfileWindow,
	)
}

// noveltyScore flags channel and device values that appear only in
// the recent slice of an entity's history.
func noveltyScore(hist, recent []domain.TransactionRecord) (float64, string) {
	known := make(map[string]struct{})
	for _, r := range hist {
		if r.Channel != "" {
			known["c:"+r.Channel] = struct{}{}
		}
		if r.Device != "" {
			known["d:"+r.Device] = struct{}{}
		}
	}
	novel := make(map[string]struct{})
	for _, r := range recent {
		if r.Channel != "" {
			if _, ok := known["c:"+r.Channel]; !ok {
				novel["c:"+r.Channel] = struct{}{}
			}
		}
		if r.Device != "" {
			if _, ok := known["d:"+r.Device]; !ok {
				novel["d:"+r.Device] = struct{}{}
			}
		}
	}
	if len(novel) == 0 {
		return 0, ""
	}
	score := clamp01(float64(len(novel)) / float64(len(recent)))
	return score, fmt.Sprintf(
		"%d channel/device value(s) seen only in the most recent activity",
		len(novel),
	)
}

// nightShift compares the recent night-hour transaction fraction
// against the historical one. Fires only when the recent fraction
// clears the floor and is at least double the historical fraction.
func (t *Takeover) nightShift(hist, recent []domain.TransactionRecord) (float64, string) {
	histFrac := t.nightFraction(hist)
	recentFrac := t.nightFraction(recent)
	if recentFrac <= nightShiftFloor || recentFrac < 2*histFrac {
		return 0, ""
	}
	return clamp01(recentFrac), fmt.Sprintf(
		"Night-hour activity rose to %.0f%% of recent transactions (historically %.0f%%)",
		recentFrac*100, histFrac*100,
	)
}

func (t *Takeover) nightFraction(recs []domain.TransactionRecord) float64 {
	if len(recs) == 0 {
		return 0
	}
	night := 0
	for _, r := range recs {
		if t.isNightHour(r.Timestamp) {
			night++
		}
	}
	return float64(night) / float64(len(recs))
}

// newRecipientTransfers flags recent transfers at or above the
// entity's large-transfer quantile sent to recipients absent from the
// historical recipient set. Returns ok=false when the entity has too
// few transfers to split.
func (t *Takeover) newRecipientTransfers(recs []domain.TransactionRecord, hasType bool) (float64, string, bool) {
	var transfers []domain.TransactionRecord
	for _, r := range recs {
		if r.Destination == "" {
			continue
		}
		if hasType && !isTransferType(r.Type) {
			continue
		}
		transfers = append(transfers, r)
	}
	if len(transfers) < minBehavioralRows {
		return 0, "", false
	}

	amounts := make([]float64, len(transfers))
	for i, r := range transfers {
		amounts[i] = abs(r.Amount)
	}
	floor := quantile(amounts, t.cfg.LargeQuantile)

	split := int(float64(len(transfers)) * historyShare)
	hist, recent := transfers[:split], transfers[split:]
	known := make(map[string]struct{})
	for _, r := range hist {
		known[r.Destination] = struct{}{}
	}

	flagged := 0
	for _, r := range recent {
		if abs(r.Amount) < floor {
			continue
		}
		if _, ok := known[r.Destination]; ok {
			continue
		}
		flagged++
	}
	if flagged == 0 {
		return 0, "", true
	}
	score := clamp01(float64(flagged) / float64(len(recent)))
	return score, fmt.Sprintf(
		"%d large transfer(s) to recipient(s) never paid before", flagged,
	), true
}

func (t *Takeover) isNightHour(ts time.Time) bool {
	h := ts.Hour()
	return h >= t.cfg.NightStartHour && h < t.cfg.NightEndHour
}

// userKeys returns the usernames in deterministic order so alert
// ordering is stable across runs.
func userKeys(byUser map[string][]domain.LoginEvent) []string {
	keys := make([]string, 0, len(byUser))
	for user := range byUser {
		keys = append(keys, user)
	}
	sort.Strings(keys)
	return keys
}
