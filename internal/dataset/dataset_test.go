package dataset

import (
	"strings"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
		ok   bool
	}{
		{"rfc3339", "2024-03-15T10:30:00Z", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), true},
		{"date time", "2024-03-15 10:30:00", time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), true},
		{"bare date", "2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"us style", "03/15/2024", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"padded", "  2024-03-15  ", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"empty", "", time.Time{}, false},
		{"garbage", "not-a-date", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTime(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ParseTime(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{"plain", "9500", 9500, true},
		{"decimal", "9999.99", 9999.99, true},
		{"dollar sign", "$2,500.00", 2500, true},
		{"negative", "-1200.50", -1200.50, true},
		{"negative dollar", "-$1,200.50", -1200.50, true},
		{"empty", "", 0, false},
		{"garbage", "n/a", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ParseAmount(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseAmount(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseBoolish(t *testing.T) {
	for _, raw := range []string{"1", "true", "SUCCESS", "ok", "y", "Yes"} {
		if !ParseBoolish(raw) {
			t.Errorf("ParseBoolish(%q) = false, want true", raw)
		}
	}
	for _, raw := range []string{"0", "false", "FAILED", "denied", ""} {
		if ParseBoolish(raw) {
			t.Errorf("ParseBoolish(%q) = true, want false", raw)
		}
	}
}

func TestDatasetShape(t *testing.T) {
	d := New(
		[]string{"Account_ID", "Amount"},
		[][]string{
			{"ACC-1", "100"},
			{"ACC-2"},                 // short row padded
			{"ACC-3", "300", "extra"}, // long row truncated
		},
	)

	if d.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", d.Len())
	}
	if d.Cell(1, 1) != "" {
		t.Errorf("expected padded cell, got %q", d.Cell(1, 1))
	}
	if d.Cell(2, 1) != "300" {
		t.Errorf("expected truncated row to keep leading cells, got %q", d.Cell(2, 1))
	}
	if d.Cell(5, 0) != "" || d.Cell(0, 9) != "" {
		t.Error("out-of-range cells should be empty")
	}

	var nilDS *Dataset
	if !nilDS.Empty() || nilDS.Len() != 0 {
		t.Error("nil dataset should report empty")
	}
}

func TestResolverAliases(t *testing.T) {
	r := NewResolver(nil)

	tests := []struct {
		name      string
		columns   []string
		canonical string
		wantCol   int
		wantOK    bool
	}{
		{"exact", []string{"account_id", "amount"}, "account_id", 0, true},
		{"case insensitive alias", []string{"Acct_ID", "Amount"}, "account_id", 0, true},
		{"curated alias", []string{"member", "DatePosted", "value"}, "transaction_date", 1, true},
		{"amount alias", []string{"id", "txn_amount"}, "amount", 1, true},
		{"regex fallback", []string{"raw_transaction_posting_date"}, "transaction_date", 0, true},
		{"wildcard gap", []string{"source_client_ip"}, "source_ip", 0, true},
		{"no match", []string{"foo", "bar"}, "amount", -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.columns, nil)
			col, ok := r.ResolveOptional(d, tt.canonical)
			if ok != tt.wantOK {
				t.Fatalf("ResolveOptional(%q) ok = %v, want %v", tt.canonical, ok, tt.wantOK)
			}
			if ok && col != tt.wantCol {
				t.Errorf("ResolveOptional(%q) = %d, want %d", tt.canonical, col, tt.wantCol)
			}
		})
	}

	t.Run("required field error", func(t *testing.T) {
		d := New([]string{"foo"}, nil)
		_, err := r.Resolve(d, "amount")
		if err == nil {
			t.Fatal("expected MissingFieldError")
		}
		if !strings.Contains(err.Error(), "amount") {
			t.Errorf("error should name the field: %v", err)
		}
	})
}

func TestTransactionsView(t *testing.T) {
	r := NewResolver(nil)

	t.Run("full schema", func(t *testing.T) {
		d := New(
			[]string{"account_id", "transaction_date", "amount", "transaction_type", "channel", "recipient", "customer_id"},
			[][]string{
				{"ACC-2", "2024-01-02", "$1,500.00", "transfer", "online", "ACC-3", "CUST-9"},
				{"ACC-1", "2024-01-01", "200", "deposit", "branch", "", "CUST-1"},
				{"ACC-1", "bad-date", "300", "deposit", "branch", "", "CUST-1"},
				{"", "2024-01-03", "400", "deposit", "branch", "", ""},
			},
		)

		view, err := Transactions(d, r)
		if err != nil {
			t.Fatalf("Transactions failed: %v", err)
		}
		if len(view.Records) != 2 {
			t.Fatalf("expected 2 valid records, got %d", len(view.Records))
		}
		// Sorted by timestamp
		if view.Records[0].EntityID != "ACC-1" {
			t.Errorf("expected ACC-1 first after sort, got %s", view.Records[0].EntityID)
		}
		if !view.Caps.Type || !view.Caps.Channel || !view.Caps.Destination || !view.Caps.Ownership {
			t.Errorf("capability set incomplete: %+v", view.Caps)
		}
		if view.Records[1].Amount != 1500 {
			t.Errorf("expected amount 1500, got %f", view.Records[1].Amount)
		}
		if view.Records[1].Source != "ACC-2" || view.Records[1].Destination != "ACC-3" {
			t.Errorf("transfer columns wrong: source=%s dest=%s", view.Records[1].Source, view.Records[1].Destination)
		}
		if view.Owners["ACC-2"] != "CUST-9" {
			t.Errorf("expected owner CUST-9, got %s", view.Owners["ACC-2"])
		}
	})

	t.Run("minimal schema", func(t *testing.T) {
		d := New(
			[]string{"account_id", "transaction_date", "amount"},
			[][]string{{"ACC-1", "2024-01-01", "100"}},
		)

		view, err := Transactions(d, r)
		if err != nil {
			t.Fatalf("Transactions failed: %v", err)
		}
		if view.Caps.Type || view.Caps.Destination || view.Caps.Ownership {
			t.Errorf("minimal schema should have no optional capabilities: %+v", view.Caps)
		}
	})

	t.Run("missing required column", func(t *testing.T) {
		d := New([]string{"account_id", "transaction_date"}, nil)
		if _, err := Transactions(d, r); err == nil {
			t.Error("expected error for missing amount column")
		}
	})
}

func TestLoginsView(t *testing.T) {
	r := NewResolver(nil)
	d := New(
		[]string{"username", "attempted_at", "result", "source_ip"},
		[][]string{
			{"jdoe", "2024-01-01 10:05:00", "FAILED", "10.0.0.2"},
			{"jdoe", "2024-01-01 10:00:00", "success", "10.0.0.1"},
			{"", "2024-01-01 10:01:00", "success", "10.0.0.1"},
		},
	)

	events, err := Logins(d, r)
	if err != nil {
		t.Fatalf("Logins failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].Success || events[1].Success {
		t.Errorf("result parsing wrong: %+v", events)
	}
	if events[1].SourceIP != "10.0.0.2" {
		t.Errorf("expected source ip 10.0.0.2, got %s", events[1].SourceIP)
	}
}

func TestCoreAccountsView(t *testing.T) {
	r := NewResolver(nil)
	d := New(
		[]string{"Number", "LastFMDate", "MemberStatus", "OpenDate"},
		[][]string{
			{"M-100", "2017-06-01", "Active", "2001-02-03"},
			{"M-101", "", "Active", "2001-02-03"},
		},
	)

	accounts, err := CoreAccounts(d, r)
	if err != nil {
		t.Fatalf("CoreAccounts failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].AccountNumber != "M-100" || accounts[0].Status != "Active" {
		t.Errorf("unexpected account: %+v", accounts[0])
	}
	if accounts[0].OpenDate.Year() != 2001 {
		t.Errorf("open date not parsed: %v", accounts[0].OpenDate)
	}
}

func TestUsersAndAssociations(t *testing.T) {
	r := NewResolver(nil)

	users, err := Users(New(
		[]string{"user_id", "email", "username", "first_name", "last_name", "user_added_dt"},
		[][]string{
			{"U-1", "jane@example.com", "jane01", "Jane", "Doe", "2024-01-01"},
			{"", "orphan@example.com", "", "", "", ""},
		},
	), r)
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Email != "jane@example.com" || users[0].AddedAt.IsZero() {
		t.Errorf("unexpected user: %+v", users[0])
	}

	assocs, err := Associations(New(
		[]string{"member_number", "user_id", "account_id"},
		[][]string{
			{"M-100", "U-1", "ACC-1"},
			{"", "", ""},
		},
	), r)
	if err != nil {
		t.Fatalf("Associations failed: %v", err)
	}
	if len(assocs) != 1 {
		t.Fatalf("expected 1 association, got %d", len(assocs))
	}
	if assocs[0].MemberNumber != "M-100" || assocs[0].UserID != "U-1" || assocs[0].AccountID != "ACC-1" {
		t.Errorf("unexpected association: %+v", assocs[0])
	}
}

func TestFromCSV(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		input := "account_id,transaction_date,amount\nACC-1,2024-01-01,9500\nACC-2,2024-01-02,\"1,200.50\"\n"
		d, err := FromCSV(strings.NewReader(input))
		if err != nil {
			t.Fatalf("FromCSV failed: %v", err)
		}
		if d.Len() != 2 {
			t.Fatalf("expected 2 rows, got %d", d.Len())
		}
		if d.Cell(1, 2) != "1,200.50" {
			t.Errorf("quoted cell mangled: %q", d.Cell(1, 2))
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		d, err := FromCSV(strings.NewReader(""))
		if err != nil {
			t.Fatalf("FromCSV failed on empty input: %v", err)
		}
		if !d.Empty() {
			t.Error("expected empty dataset")
		}
	})

	t.Run("ragged rows survive", func(t *testing.T) {
		input := "a,b,c\n1,2\n1,2,3,4\n"
		d, err := FromCSV(strings.NewReader(input))
		if err != nil {
			t.Fatalf("FromCSV failed: %v", err)
		}
		if d.Len() != 2 {
			t.Fatalf("expected 2 rows, got %d", d.Len())
		}
	})
}
