// Package domain defines the core interfaces and types for Kestrel.
package domain

import "time"

// TransactionRecord is one row of account activity after coercion.
// Raw records are immutable; detectors only derive views from them.
type TransactionRecord struct {
	EntityID    string
	Timestamp   time.Time
	Amount      float64 // signed
	Type        string
	Channel     string
	Device      string
	Source      string // source account for transfers, may be empty
	Destination string // destination account / recipient, may be empty
	Memo        string
}

// LoginEvent is one authentication attempt from the digital channel.
type LoginEvent struct {
	Username  string
	Timestamp time.Time
	Success   bool
	SourceIP  string
}

// ProfileEvent is an account-profile edit (password, email, phone, MFA).
type ProfileEvent struct {
	EntityID  string
	Timestamp time.Time
	EventType string
}

// CoreAccountStatus mirrors the core-banking system of record.
// Used only by the dormancy cross-system check.
type CoreAccountStatus struct {
	AccountNumber string
	LastActivity  time.Time
	Status        string
	OpenDate      time.Time
}

// UserRecord is a digital-banking identity, used by the
// multi-identity detector.
type UserRecord struct {
	UserID    string
	Username  string
	FirstName string
	LastName  string
	Email     string
	AddedAt   time.Time
	Active    bool
}

// Association links a core member number to a digital-banking identity.
type Association struct {
	MemberNumber string
	UserID       string
	AccountID    string
}
