package dataset

import (
	"sort"

	"github.com/openfinsec/kestrel/internal/domain"
)

// TransactionCapabilities is the set of optional fields a transaction
// dataset was able to supply. Detectors branch on capability, not on
// errors.
type TransactionCapabilities struct {
	Type        bool
	Channel     bool
	Device      bool
	Destination bool
	Memo        bool
	Ownership   bool
}

// TransactionView is the typed transaction slice derived from a raw
// dataset, with the capability set computed once.
type TransactionView struct {
	Records []domain.TransactionRecord
	Caps    TransactionCapabilities

	// Owners maps account id -> external customer id when an
	// ownership column is present. Used by the kiting detector.
	Owners map[string]string
}

// Transactions extracts a typed transaction view. account, date, and
// amount are required; everything else degrades to the capability set.
// Rows with malformed dates or amounts are dropped.
func Transactions(d *Dataset, r *Resolver) (*TransactionView, error) {
	acctCol, err := r.Resolve(d, "account_id")
	if err != nil {
		return nil, err
	}
	dateCol, err := r.Resolve(d, "transaction_date")
	if err != nil {
		return nil, err
	}
	amtCol, err := r.Resolve(d, "amount")
	if err != nil {
		return nil, err
	}

	typeCol, hasType := r.ResolveOptional(d, "transaction_type")
	chanCol, hasChan := r.ResolveOptional(d, "channel")
	devCol, hasDev := r.ResolveOptional(d, "device")
	memoCol, hasMemo := r.ResolveOptional(d, "memo")
	custCol, hasCust := r.ResolveOptional(d, "customer_id")
	srcCol, dstCol := resolveTransferColumns(d, r, acctCol)

	view := &TransactionView{
		Caps: TransactionCapabilities{
			Type:        hasType,
			Channel:     hasChan,
			Device:      hasDev,
			Destination: dstCol >= 0,
			Memo:        hasMemo,
			Ownership:   hasCust && custCol != acctCol,
		},
	}
	if view.Caps.Ownership {
		view.Owners = make(map[string]string)
	}

	for i := 0; i < d.Len(); i++ {
		entity := d.Cell(i, acctCol)
		ts, tsOK := ParseTime(d.Cell(i, dateCol))
		amt, amtOK := ParseAmount(d.Cell(i, amtCol))
		if entity == "" || !tsOK || !amtOK {
			continue
		}

		rec := domain.TransactionRecord{
			EntityID:  entity,
			Timestamp: ts,
			Amount:    amt,
		}
		if hasType {
			rec.Type = d.Cell(i, typeCol)
		}
		if hasChan {
			rec.Channel = d.Cell(i, chanCol)
		}
		if hasDev {
			rec.Device = d.Cell(i, devCol)
		}
		if hasMemo {
			rec.Memo = d.Cell(i, memoCol)
		}
		if srcCol >= 0 {
			rec.Source = d.Cell(i, srcCol)
		}
		if dstCol >= 0 {
			rec.Destination = d.Cell(i, dstCol)
		}
		if view.Caps.Ownership {
			if owner := d.Cell(i, custCol); owner != "" {
				if _, seen := view.Owners[entity]; !seen {
					view.Owners[entity] = owner
				}
			}
		}

		view.Records = append(view.Records, rec)
	}

	sort.SliceStable(view.Records, func(a, b int) bool {
		return view.Records[a].Timestamp.Before(view.Records[b].Timestamp)
	})
	return view, nil
}

// resolveTransferColumns finds distinct source and destination account
// columns. When the source alias collapses onto the same column as the
// destination (both hitting account_id), the account column becomes
// the source and a separate recipient-style column is sought for the
// destination.
func resolveTransferColumns(d *Dataset, r *Resolver, acctCol int) (int, int) {
	srcCol, hasSrc := r.ResolveOptional(d, "source_account")
	dstCol, hasDst := r.ResolveOptional(d, "dest_account")

	if hasSrc && hasDst && srcCol != dstCol {
		return srcCol, dstCol
	}

	// Fall back to account_id -> recipient.
	if recCol, ok := r.ResolveOptional(d, "recipient"); ok && recCol != acctCol {
		return acctCol, recCol
	}
	if hasDst && dstCol != acctCol {
		return acctCol, dstCol
	}
	return acctCol, -1
}

// Logins extracts typed login events. username, date, and result are
// required; source address is optional.
func Logins(d *Dataset, r *Resolver) ([]domain.LoginEvent, error) {
	userCol, err := r.Resolve(d, "username")
	if err != nil {
		return nil, err
	}
	dateCol, err := r.Resolve(d, "transaction_date")
	if err != nil {
		return nil, err
	}
	resultCol, err := r.Resolve(d, "result")
	if err != nil {
		return nil, err
	}
	ipCol, hasIP := r.ResolveOptional(d, "source_ip")

	var events []domain.LoginEvent
	for i := 0; i < d.Len(); i++ {
		user := d.Cell(i, userCol)
		ts, ok := ParseTime(d.Cell(i, dateCol))
		if user == "" || !ok {
			continue
		}
		ev := domain.LoginEvent{
			Username:  user,
			Timestamp: ts,
			Success:   ParseBoolish(d.Cell(i, resultCol)),
		}
		if hasIP {
			ev.SourceIP = d.Cell(i, ipCol)
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(a, b int) bool {
		return events[a].Timestamp.Before(events[b].Timestamp)
	})
	return events, nil
}

// ProfileEvents extracts typed profile-change events.
func ProfileEvents(d *Dataset, r *Resolver) ([]domain.ProfileEvent, error) {
	acctCol, err := r.Resolve(d, "account_id")
	if err != nil {
		return nil, err
	}
	dateCol, err := r.Resolve(d, "transaction_date")
	if err != nil {
		return nil, err
	}
	typeCol, hasType := r.ResolveOptional(d, "event_type")

	var events []domain.ProfileEvent
	for i := 0; i < d.Len(); i++ {
		entity := d.Cell(i, acctCol)
		ts, ok := ParseTime(d.Cell(i, dateCol))
		if entity == "" || !ok {
			continue
		}
		ev := domain.ProfileEvent{EntityID: entity, Timestamp: ts}
		if hasType {
			ev.EventType = d.Cell(i, typeCol)
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(a, b int) bool {
		return events[a].Timestamp.Before(events[b].Timestamp)
	})
	return events, nil
}

// CoreAccounts extracts core-banking account statuses.
func CoreAccounts(d *Dataset, r *Resolver) ([]domain.CoreAccountStatus, error) {
	numCol, err := r.Resolve(d, "member_number")
	if err != nil {
		return nil, err
	}
	lastCol, err := r.Resolve(d, "last_activity")
	if err != nil {
		return nil, err
	}
	statusCol, hasStatus := r.ResolveOptional(d, "status")
	openCol, hasOpen := r.ResolveOptional(d, "open_date")

	var accounts []domain.CoreAccountStatus
	for i := 0; i < d.Len(); i++ {
		number := d.Cell(i, numCol)
		last, ok := ParseTime(d.Cell(i, lastCol))
		if number == "" || !ok {
			continue
		}
		acct := domain.CoreAccountStatus{AccountNumber: number, LastActivity: last}
		if hasStatus {
			acct.Status = d.Cell(i, statusCol)
		}
		if hasOpen {
			if open, ok := ParseTime(d.Cell(i, openCol)); ok {
				acct.OpenDate = open
			}
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// Users extracts digital-banking identities for the multi-identity
// detector.
func Users(d *Dataset, r *Resolver) ([]domain.UserRecord, error) {
	idCol, err := r.Resolve(d, "user_id_assoc")
	if err != nil {
		return nil, err
	}
	emailCol, err := r.Resolve(d, "email")
	if err != nil {
		return nil, err
	}
	userCol, hasUser := r.ResolveOptional(d, "username")
	firstCol, hasFirst := r.ResolveOptional(d, "first_name")
	lastCol, hasLast := r.ResolveOptional(d, "last_name")
	addedCol, hasAdded := r.ResolveOptional(d, "added_date")

	var users []domain.UserRecord
	for i := 0; i < d.Len(); i++ {
		id := d.Cell(i, idCol)
		if id == "" {
			continue
		}
		u := domain.UserRecord{UserID: id, Email: d.Cell(i, emailCol), Active: true}
		if hasUser {
			u.Username = d.Cell(i, userCol)
		}
		if hasFirst {
			u.FirstName = d.Cell(i, firstCol)
		}
		if hasLast {
			u.LastName = d.Cell(i, lastCol)
		}
		if hasAdded {
			if ts, ok := ParseTime(d.Cell(i, addedCol)); ok {
				u.AddedAt = ts
			}
		}
		users = append(users, u)
	}
	return users, nil
}

// Associations extracts the core-member to digital-identity mapping.
func Associations(d *Dataset, r *Resolver) ([]domain.Association, error) {
	memberCol, err := r.Resolve(d, "member_number")
	if err != nil {
		return nil, err
	}
	userCol, err := r.Resolve(d, "user_id_assoc")
	if err != nil {
		return nil, err
	}
	acctCol, hasAcct := r.ResolveOptional(d, "account_id")

	var assocs []domain.Association
	for i := 0; i < d.Len(); i++ {
		member := d.Cell(i, memberCol)
		user := d.Cell(i, userCol)
		if member == "" && user == "" {
			continue
		}
		a := domain.Association{MemberNumber: member, UserID: user}
		if hasAcct {
			a.AccountID = d.Cell(i, acctCol)
		}
		assocs = append(assocs, a)
	}
	return assocs, nil
}
