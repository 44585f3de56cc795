package detect

import (
	"context"
	"fmt"
	"testing"

	"github.com/openfinsec/kestrel/internal/dataset"
	"github.com/openfinsec/kestrel/internal/domain"
)

func loginDataset(rows [][]string) *dataset.Dataset {
	return dataset.New(
		[]string{"username", "attempted_at", "result", "source_ip"},
		rows,
	)
}

func alertFor(alerts []domain.Alert, userID string) (domain.Alert, bool) {
	for _, a := range alerts {
		if a.UserID == userID {
			return a, true
		}
	}
	return domain.Alert{}, false
}

func TestTakeoverEmptyInput(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	res := det.Detect(context.Background(), NewInputs())
	if !res.Empty() {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestTakeoverRapidFireIsCritical(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	in := NewInputs()
	// Nine failures in under five minutes for one username.
	var rows [][]string
	for i := 0; i < 9; i++ {
		rows = append(rows, []string{
			"jdoe",
			fmt.Sprintf("2024-06-01 03:%02d:00", i*30/60),
			"failure",
			"10.0.0.1",
		})
	}
	in.Logins = loginDataset(rows)

	res := det.Detect(context.Background(), in)
	alert, ok := alertFor(res.Alerts, "jdoe")
	if !ok {
		t.Fatal("expected an alert for jdoe")
	}
	if alert.Severity != domain.SeverityCritical {
		t.Fatalf("expected CRITICAL, got %s", alert.Severity)
	}
	if alert.Points != 40 {
		t.Fatalf("expected 40 points, got %d", alert.Points)
	}
}

func TestTakeoverBruteForceRateGate(t *testing.T) {
	cases := []struct {
		name      string
		fails     int
		successes int
		want      bool
	}{
		{"five fails all failed", 5, 0, true},
		{"five fails half succeeded", 5, 6, false},
		{"four fails below floor", 4, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
			in := NewInputs()
			var rows [][]string
			for i := 0; i < tc.fails; i++ {
				rows = append(rows, []string{"user1", fmt.Sprintf("2024-06-0%d 10:00:00", i%5+1), "failure", ""})
			}
			for i := 0; i < tc.successes; i++ {
				rows = append(rows, []string{"user1", fmt.Sprintf("2024-06-1%d 10:00:00", i%5+1), "success", ""})
			}
			in.Logins = loginDataset(rows)

			res := det.Detect(context.Background(), in)
			_, got := alertFor(res.Alerts, "user1")
			if got != tc.want {
				t.Fatalf("flagged = %v, want %v (alerts: %+v)", got, tc.want, res.Alerts)
			}
		})
	}
}

func TestTakeoverIPVelocity(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	in := NewInputs()
	// Four distinct IPs exceeds the limit of three. All successes, so
	// no brute-force rule can fire instead.
	in.Logins = loginDataset([][]string{
		{"acct-hopper", "2024-06-01 08:00:00", "success", "10.0.0.1"},
		{"acct-hopper", "2024-06-01 09:00:00", "success", "10.0.0.2"},
		{"acct-hopper", "2024-06-01 10:00:00", "success", "10.0.0.3"},
		{"acct-hopper", "2024-06-01 11:00:00", "success", "10.0.0.4"},
	})

	res := det.Detect(context.Background(), in)
	alert, ok := alertFor(res.Alerts, "acct-hopper")
	if !ok {
		t.Fatal("expected IP velocity alert")
	}
	if alert.Severity != domain.SeverityMedium {
		t.Fatalf("expected MEDIUM at 4 IPs, got %s", alert.Severity)
	}
}

func TestTakeoverAllFailuresAccretesWithRapidFire(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	in := NewInputs()
	// One alert per username even when several rules fire; severity
	// is the max and evidence carries every rule's line.
	in.Logins = loginDataset([][]string{
		{"victim", "2024-06-01 02:00:00", "failure", "10.0.0.1"},
		{"victim", "2024-06-01 02:01:00", "failure", "10.0.0.2"},
		{"victim", "2024-06-01 02:02:00", "failure", "10.0.0.3"},
		{"victim", "2024-06-01 02:03:00", "failure", "10.0.0.4"},
		{"victim", "2024-06-01 02:04:00", "failure", "10.0.0.5"},
	})

	res := det.Detect(context.Background(), in)
	if len(res.Alerts) != 1 {
		t.Fatalf("expected exactly 1 accreted alert, got %d", len(res.Alerts))
	}
	alert := res.Alerts[0]
	if alert.Severity != domain.SeverityCritical {
		t.Fatalf("expected CRITICAL max severity, got %s", alert.Severity)
	}
	for _, want := range []string{"failed login", "automated attack", "distinct source addresses"} {
		if !hasEvidenceContaining([]string{alert.Evidence}, want) {
			t.Errorf("evidence missing %q: %s", want, alert.Evidence)
		}
	}
}

func signalFor(signals []domain.Signal, entityID string) (domain.Signal, bool) {
	for _, s := range signals {
		if s.EntityID == entityID {
			return s, true
		}
	}
	return domain.Signal{}, false
}

func TestTakeoverProfileChangeThenTransfer(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	in := NewInputs()
	in.ProfileEvents = dataset.New(
		[]string{"account_id", "event_time", "event_type"},
		[][]string{{"ACC-55", "2024-07-01 10:00:00", "email_change"}},
	)
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount"},
		[][]string{
			{"ACC-55", "2024-06-01 12:00:00", "40.00"},
			{"ACC-55", "2024-07-02 03:00:00", "5000.00"},
			{"ACC-99", "2024-06-02 12:00:00", "35.00"},
			{"ACC-99", "2024-06-03 12:00:00", "20.00"},
		},
	)

	res := det.Detect(context.Background(), in)
	sig, ok := signalFor(res.Signals, "ACC-55")
	if !ok {
		t.Fatalf("expected a behavioral signal for ACC-55, got %+v", res.Signals)
	}
	if sig.Score <= 0 || sig.Score > 1 {
		t.Fatalf("score out of range: %v", sig.Score)
	}
	if !hasEvidenceContaining(sig.Evidence, "profile change") {
		t.Fatalf("expected profile-change evidence: %v", sig.Evidence)
	}
	if _, ok := signalFor(res.Signals, "ACC-99"); ok {
		t.Fatal("ACC-99 had no profile changes and should not signal")
	}
}

func TestTakeoverChannelDeviceNovelty(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	in := NewInputs()
	// Sixteen historical transactions over web from one device, then
	// the last four switch entirely to a new channel and device. No
	// login data at all: the behavioral family must carry the signal.
	var rows [][]string
	for i := 0; i < 16; i++ {
		rows = append(rows, []string{
			"ACC-7", fmt.Sprintf("2024-05-%02d 11:00:00", i+1), "50.00", "web", "dev-1",
		})
	}
	for i := 0; i < 4; i++ {
		rows = append(rows, []string{
			"ACC-7", fmt.Sprintf("2024-05-%02d 11:00:00", 20+i), "60.00", "atm", "dev-9",
		})
	}
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount", "channel", "device"},
		rows,
	)

	res := det.Detect(context.Background(), in)
	sig, ok := signalFor(res.Signals, "ACC-7")
	if !ok {
		t.Fatalf("expected a novelty signal for ACC-7, got %+v", res.Signals)
	}
	if sig.Score <= 0 {
		t.Fatalf("novel channel and device should score above zero, got %v", sig.Score)
	}
	if !hasEvidenceContaining(sig.Evidence, "seen only in the most recent") {
		t.Fatalf("expected novelty evidence: %v", sig.Evidence)
	}
}

func TestTakeoverUnusualHourShift(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	in := NewInputs()
	// Daytime history, then the recent slice moves entirely into the
	// night window.
	var rows [][]string
	for i := 0; i < 16; i++ {
		rows = append(rows, []string{
			"ACC-8", fmt.Sprintf("2024-05-%02d 12:00:00", i+1), "50.00",
		})
	}
	for i := 0; i < 4; i++ {
		rows = append(rows, []string{
			"ACC-8", fmt.Sprintf("2024-05-%02d 02:00:00", 20+i), "50.00",
		})
	}
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount"}, rows,
	)

	res := det.Detect(context.Background(), in)
	sig, ok := signalFor(res.Signals, "ACC-8")
	if !ok {
		t.Fatalf("expected a night-shift signal for ACC-8, got %+v", res.Signals)
	}
	if !hasEvidenceContaining(sig.Evidence, "Night-hour activity rose") {
		t.Fatalf("expected night-shift evidence: %v", sig.Evidence)
	}
}

func TestTakeoverNewRecipientLargeTransfer(t *testing.T) {
	det := NewTakeover(domain.DefaultConfig().Detectors.Takeover)
	in := NewInputs()
	rows := [][]string{}
	for i := 0; i < 9; i++ {
		rows = append(rows, []string{
			"ACC-1", fmt.Sprintf("2024-04-%02d 10:00:00", i+1), "100.00", "transfer", "ACC-B",
		})
	}
	// A large wire to a recipient the history has never paid.
	rows = append(rows, []string{
		"ACC-1", "2024-04-20 10:00:00", "5000.00", "wire", "ACC-NEW",
	})
	in.Transactions = dataset.New(
		[]string{"account_id", "transaction_date", "amount", "transaction_type", "recipient"},
		rows,
	)

	res := det.Detect(context.Background(), in)
	sig, ok := signalFor(res.Signals, "ACC-1")
	if !ok {
		t.Fatalf("expected a new-recipient signal for ACC-1, got %+v", res.Signals)
	}
	if !hasEvidenceContaining(sig.Evidence, "never paid before") {
		t.Fatalf("expected new-recipient evidence: %v", sig.Evidence)
	}
}
