package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

// domainFolds collapses provider aliases so name@googlemail.com and
// name@gmail.com cluster together.
var domainFolds = map[string]string{
	"googlemail.com": "gmail.com",
	"ymail.com":      "yahoo.com",
	"rocketmail.com": "yahoo.com",
}

// Identity detects one person operating many digital identities:
// clusters of accounts behind variants of the same email address,
// bursts of identity creation, and distinct usernames authenticating
// from one address in a tight window.
type Identity struct {
	cfg domain.IdentityConfig
}

// NewIdentity creates a multi-identity detector.
func NewIdentity(cfg domain.IdentityConfig) *Identity {
	return &Identity{cfg: cfg}
}

func (id *Identity) Name() string { return "multi_identity" }

// Detect runs the email-clustering and shared-address rules over
// whichever inputs are present.
func (id *Identity) Detect(ctx context.Context, in *Inputs) Result {
	acc := newAccumulator()

	if !in.Users.Empty() {
		users, err := dataset.Users(in.Users, in.resolver())
		if err != nil {
			slog.Error("identity: cannot resolve user fields", "error", err)
		} else {
			id.emailClusters(users, acc)
		}
	}
	if !in.Logins.Empty() {
		events, err := dataset.Logins(in.Logins, in.resolver())
		if err != nil {
			slog.Error("identity: cannot resolve login fields", "error", err)
		} else {
			id.sharedAddresses(events, acc)
		}
	}

	alerts := acc.alerts()
	slog.Info("identity: detection finished", "alerts", len(alerts))
	return Result{Alerts: alerts}
}

// emailClusters groups users by normalized email base and flags
// clusters big enough to suggest a single controller.
func (id *Identity) emailClusters(users []domain.UserRecord, acc *accumulator) {
	clusters := make(map[string][]domain.UserRecord)
	var keys []string
	for _, u := range users {
		base := normalizeEmail(u.Email)
		if base == "" {
			continue
		}
		if _, ok := clusters[base]; !ok {
			keys = append(keys, base)
		}
		clusters[base] = append(clusters[base], u)
	}
	sort.Strings(keys)

	for _, base := range keys {
		members := clusters[base]
		if len(members) < id.cfg.ClusterMinAccounts {
			continue
		}
		// A family sharing one mailbox under one name is not a fraud
		// ring. When names are on record, the cluster must span more
		// than one of them.
		if names := distinctNames(members); names == 1 {
			continue
		}
		severity := domain.SeverityHigh
		if len(members) >= id.cfg.CriticalAccounts {
			severity = domain.SeverityCritical
		}

		evidence := []string{fmt.Sprintf(
			"%d identities behind email variants of %s", len(members), base,
		)}
		if line := id.creationBurst(members); line != "" {
			evidence = append(evidence, line)
		}

		for _, u := range members {
			acc.add(u.UserID, draft{
				userID:    u.UserID,
				fraudType: id.Name(),
				severity:  severity,
				evidence:  evidence,
			})
		}
	}
}

// distinctNames counts the distinct full names on record across the
// cluster, zero when no member carries name data.
func distinctNames(members []domain.UserRecord) int {
	names := make(map[string]struct{})
	for _, u := range members {
		full := strings.TrimSpace(strings.ToUpper(
			strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName),
		))
		if full == "" {
			continue
		}
		names[full] = struct{}{}
	}
	return len(names)
}

// creationBurst reports when a cluster's identities were all created
// inside the creation window.
func (id *Identity) creationBurst(members []domain.UserRecord) string {
	var first, last time.Time
	known := 0
	for _, u := range members {
		if u.AddedAt.IsZero() {
			continue
		}
		known++
		if first.IsZero() || u.AddedAt.Before(first) {
			first = u.AddedAt
		}
		if u.AddedAt.After(last) {
			last = u.AddedAt
		}
	}
	if known < 2 {
		return ""
	}
	span := last.Sub(first)
	window := time.Duration(id.cfg.CreationWindowDays) * 24 * time.Hour
	if span > window {
		return ""
	}
	return fmt.Sprintf("%d of the identities created within %.0f day(s)",
		known, span.Hours()/24+1)
}

// sharedAddresses flags usernames that authenticate from an address
// used by several other identities inside the sharing window.
func (id *Identity) sharedAddresses(events []domain.LoginEvent, acc *accumulator) {
	byIP := make(map[string][]domain.LoginEvent)
	var ips []string
	for _, ev := range events {
		if ev.SourceIP == "" {
			continue
		}
		if _, ok := byIP[ev.SourceIP]; !ok {
			ips = append(ips, ev.SourceIP)
		}
		byIP[ev.SourceIP] = append(byIP[ev.SourceIP], ev)
	}
	sort.Strings(ips)

	for _, ip := range ips {
		evs := byIP[ip]
		// Events arrive time-sorted; slide a window and track the
		// largest distinct-user set seen.
		for i := range evs {
			users := map[string]struct{}{evs[i].Username: {}}
			for j := i + 1; j < len(evs); j++ {
				if evs[j].Timestamp.Sub(evs[i].Timestamp) > id.cfg.SharedIPWindow {
					break
				}
				users[evs[j].Username] = struct{}{}
			}
			if len(users) < id.cfg.SharedIPUsers {
				continue
			}
			names := make([]string, 0, len(users))
			for u := range users {
				names = append(names, u)
			}
			sort.Strings(names)
			line := fmt.Sprintf(
				"%d distinct identities logged in from %s within %s",
				len(names), ip, id.cfg.SharedIPWindow,
			)
			for _, u := range names {
				acc.add(u, draft{
					userID:    u,
					fraudType: id.Name(),
					severity:  domain.SeverityMedium,
					evidence:  []string{line},
				})
			}
		}
	}
}

// normalizeEmail reduces an address to its base: lower-cased, dots
// and plus-tags stripped from the local part, provider aliases
// folded.
func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ""
	}
	local, host := email[:at], email[at+1:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	local = strings.ReplaceAll(local, ".", "")
	if local == "" || host == "" {
		return ""
	}
	if folded, ok := domainFolds[host]; ok {
		host = folded
	}
	return local + "@" + host
}
