package dataset

import (
	"fmt"
	"regexp"
	"strings"
)

// MissingFieldError reports that a required canonical field could not
// be resolved against a dataset's columns. Detectors handle it by
// returning an empty result and logging, never by aborting the run.
type MissingFieldError struct {
	Field   string
	Columns []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("no column matching %q in %v", e.Field, e.Columns)
}

// Aliases maps canonical logical field names to curated column
// aliases, matched case-insensitively before the regex fallback.
type Aliases map[string][]string

// DefaultAliases covers the canonical fields every detector resolves.
func DefaultAliases() Aliases {
	return Aliases{
		"account_id": {"account_id", "acct_id", "account", "accountid", "customer_id", "cust_id"},
		"transaction_date": {
			"transaction_date", "txn_date", "date", "timestamp", "trans_date",
			"dateposted", "posted_at", "attempted_at", "event_time", "occurred_at",
		},
		"amount":           {"amount", "txn_amount", "transaction_amount", "value"},
		"transaction_type": {"transaction_type", "txn_type", "type", "trans_type"},
		"channel":          {"channel", "txn_channel", "source_channel", "medium"},
		"device":           {"device", "device_id", "device_fingerprint"},
		"recipient":        {"recipient", "beneficiary", "payee", "recipient_id"},
		"memo":             {"memo", "description", "narrative", "note"},
		"source_account": {
			"source_account", "from_account", "from_acct", "sender", "sender_account",
		},
		"dest_account": {
			"dest_account", "to_account", "destination_account", "recipient",
			"beneficiary", "recipient_id", "to_acct",
		},
		"customer_id":   {"customer_id", "cust_id", "owner_id", "customer"},
		"username":      {"username", "user_name", "login", "user_id", "userid"},
		"result":        {"result", "result_id", "outcome", "status", "success"},
		"source_ip":     {"source_ip", "client_ip", "ip", "ip_address", "remote_addr"},
		"event_type":    {"event_type", "edit_type", "change_type", "field_changed", "action"},
		"member_number": {"member_number", "number", "member_no", "account_number"},
		"last_activity": {"last_activity", "lastfmdate", "last_activity_date", "last_txn_date"},
		"open_date":     {"open_date", "opendate", "opened_at", "created_at"},
		"status":        {"status", "memberstatus", "account_status", "state"},
		"user_id_assoc": {"user_id", "userid", "digital_user_id"},
		"email":         {"email", "email_address", "mail"},
		"first_name":    {"first_name", "firstname", "given_name"},
		"last_name":     {"last_name", "lastname", "surname", "family_name"},
		"added_date":    {"added_date", "user_added_dt", "created_at", "signup_date"},
	}
}

// Resolver maps canonical logical field names to actual dataset
// columns. Stateless and shared by every detector; the alias table is
// configuration, not a global registry.
type Resolver struct {
	aliases Aliases
}

// NewResolver creates a resolver over the given alias table. A nil
// table falls back to DefaultAliases.
func NewResolver(aliases Aliases) *Resolver {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Resolver{aliases: aliases}
}

// Resolve returns the column position for a canonical field, or a
// MissingFieldError when nothing matches. Use for fields a detector
// cannot operate without.
func (r *Resolver) Resolve(d *Dataset, canonical string) (int, error) {
	if col, ok := r.lookup(d, canonical); ok {
		return col, nil
	}
	return -1, &MissingFieldError{Field: canonical, Columns: d.Columns()}
}

// ResolveOptional returns the column position for a canonical field,
// with ok=false when nothing matches. Missing optional fields degrade
// a detector's signal set rather than disabling it.
func (r *Resolver) ResolveOptional(d *Dataset, canonical string) (int, bool) {
	return r.lookup(d, canonical)
}

func (r *Resolver) lookup(d *Dataset, canonical string) (int, bool) {
	if d == nil {
		return -1, false
	}

	aliases, ok := r.aliases[canonical]
	if !ok {
		aliases = []string{canonical}
	}
	for _, alias := range aliases {
		if col := d.column(alias); col >= 0 {
			return col, true
		}
	}

	// Fallback: substring match with "_" treated as a wildcard gap.
	pattern, err := regexp.Compile("(?i)" + strings.ReplaceAll(regexp.QuoteMeta(canonical), "_", ".*"))
	if err != nil {
		return -1, false
	}
	for i, col := range d.Columns() {
		if pattern.MatchString(col) {
			return i, true
		}
	}
	return -1, false
}
