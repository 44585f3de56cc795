package detect

import (
	"context"
	"testing"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"John.Doe+promo@GMAIL.com", "johndoe@gmail.com"},
		{"johndoe@googlemail.com", "johndoe@gmail.com"},
		{"j.o.h.n.doe@gmail.com", "johndoe@gmail.com"},
		{"someone@ymail.com", "someone@yahoo.com"},
		{"plain@example.org", "plain@example.org"},
		{"not-an-email", ""},
		{"@example.org", ""},
	}
	for _, tc := range cases {
		if got := normalizeEmail(tc.in); got != tc.want {
			t.Errorf("normalizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIdentityEmptyInput(t *testing.T) {
	det := NewIdentity(domain.DefaultConfig().Detectors.Identity)
	if res := det.Detect(context.Background(), NewInputs()); !res.Empty() {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestIdentityEmailClusterSeverity(t *testing.T) {
	cases := []struct {
		name  string
		users int
		want  domain.Severity
	}{
		{"three identities is high", 3, domain.SeverityHigh},
		{"five identities is critical", 5, domain.SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			det := NewIdentity(domain.DefaultConfig().Detectors.Identity)
			in := NewInputs()
			rows := [][]string{
				{"U-1", "shady+a@gmail.com", "2024-01-10", "Alice", "Ames"},
				{"U-2", "shady+b@gmail.com", "2024-01-12", "Bob", "Burr"},
				{"U-3", "s.hady@googlemail.com", "2024-01-15", "Cora", "Cole"},
				{"U-4", "shady+c@gmail.com", "2024-01-20", "Dan", "Dent"},
				{"U-5", "sha.dy@gmail.com", "2024-01-22", "Eve", "Earl"},
			}
			in.Users = dataset.New(
				[]string{"user_id", "email", "added_date", "first_name", "last_name"},
				rows[:tc.users],
			)

			res := det.Detect(context.Background(), in)
			if len(res.Alerts) != tc.users {
				t.Fatalf("expected one alert per identity, got %d", len(res.Alerts))
			}
			for _, a := range res.Alerts {
				if a.Severity != tc.want {
					t.Errorf("identity %s severity = %s, want %s", a.UserID, a.Severity, tc.want)
				}
				if !hasEvidenceContaining([]string{a.Evidence}, "shady@gmail.com") {
					t.Errorf("evidence should name the base address: %s", a.Evidence)
				}
				if !hasEvidenceContaining([]string{a.Evidence}, "created within") {
					t.Errorf("expected creation-burst evidence: %s", a.Evidence)
				}
			}
		})
	}
}

func TestIdentityBelowClusterFloorIsQuiet(t *testing.T) {
	det := NewIdentity(domain.DefaultConfig().Detectors.Identity)
	in := NewInputs()
	in.Users = dataset.New(
		[]string{"user_id", "email", "added_date"},
		[][]string{
			{"U-1", "shady+a@gmail.com", "2024-01-10"},
			{"U-2", "shady+b@gmail.com", "2024-01-12"},
			{"U-3", "harmless@example.org", "2024-01-15"},
		},
	)
	if res := det.Detect(context.Background(), in); !res.Empty() {
		t.Fatalf("two-identity cluster should not alert, got %+v", res.Alerts)
	}
}

func TestIdentitySingleNameClusterIsQuiet(t *testing.T) {
	det := NewIdentity(domain.DefaultConfig().Detectors.Identity)
	in := NewInputs()
	// Same person behind every variant: no ring, no alert.
	in.Users = dataset.New(
		[]string{"user_id", "email", "added_date", "first_name", "last_name"},
		[][]string{
			{"U-1", "shady+a@gmail.com", "2024-01-10", "Alice", "Ames"},
			{"U-2", "shady+b@gmail.com", "2024-01-12", "alice", "AMES"},
			{"U-3", "s.hady@googlemail.com", "2024-01-15", "Alice", "Ames"},
		},
	)
	if res := det.Detect(context.Background(), in); !res.Empty() {
		t.Fatalf("single-name cluster should not alert, got %+v", res.Alerts)
	}
}

func TestIdentityClusterWithoutNamesStillAlerts(t *testing.T) {
	det := NewIdentity(domain.DefaultConfig().Detectors.Identity)
	in := NewInputs()
	// No name columns: cluster size alone decides.
	in.Users = dataset.New(
		[]string{"user_id", "email", "added_date"},
		[][]string{
			{"U-1", "shady+a@gmail.com", "2024-01-10"},
			{"U-2", "shady+b@gmail.com", "2024-01-12"},
			{"U-3", "s.hady@googlemail.com", "2024-01-15"},
		},
	)
	res := det.Detect(context.Background(), in)
	if len(res.Alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(res.Alerts))
	}
}

func TestIdentitySharedAddress(t *testing.T) {
	det := NewIdentity(domain.DefaultConfig().Detectors.Identity)
	in := NewInputs()
	in.Logins = loginDataset([][]string{
		{"alpha", "2024-02-01 09:00:00", "success", "203.0.113.7"},
		{"bravo", "2024-02-01 09:10:00", "success", "203.0.113.7"},
		{"charlie", "2024-02-01 09:20:00", "success", "203.0.113.7"},
		{"delta", "2024-02-01 15:00:00", "success", "203.0.113.7"},
		{"echo", "2024-02-01 09:05:00", "success", "198.51.100.4"},
	})

	res := det.Detect(context.Background(), in)
	if len(res.Alerts) != 3 {
		t.Fatalf("expected alerts for the three windowed identities, got %d: %+v",
			len(res.Alerts), res.Alerts)
	}
	for _, a := range res.Alerts {
		if a.Severity != domain.SeverityMedium {
			t.Errorf("shared-address severity = %s, want MEDIUM", a.Severity)
		}
		if a.UserID == "delta" || a.UserID == "echo" {
			t.Errorf("%s is outside the sharing window and should not alert", a.UserID)
		}
	}
}
