package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntryDirection distinguishes credit from debit entries.
type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// Account key prefixes. Accounts are virtual: the string key is the grouping
// key for entries and balances, there is no accounts table.
const (
	AccountPrefixPending   = "creator_pending"
	AccountPrefixAvailable = "creator_available"
	AccountPrefixPaidOut   = "creator_paid_out"
	AccountPlatform        = "platform"
)

// AccountID identifies a virtual ledger account.
type AccountID string

func CreatorPendingAccount(creatorID string) AccountID {
	return AccountID(AccountPrefixPending + ":" + creatorID)
}

func CreatorAvailableAccount(creatorID string) AccountID {
	return AccountID(AccountPrefixAvailable + ":" + creatorID)
}

func CreatorPaidOutAccount(creatorID string) AccountID {
	return AccountID(AccountPrefixPaidOut + ":" + creatorID)
}

func PlatformAccount() AccountID {
	return AccountID(AccountPlatform)
}

// Validate rejects account keys that do not match a known prefix.
func (a AccountID) Validate() error {
	s := string(a)
	if s == AccountPlatform {
		return nil
	}
	prefix, creatorID, found := strings.Cut(s, ":")
	if !found || creatorID == "" {
		return fmt.Errorf("malformed account id %q", s)
	}
	switch prefix {
	case AccountPrefixPending, AccountPrefixAvailable, AccountPrefixPaidOut:
		return nil
	}
	return fmt.Errorf("unknown account prefix %q", prefix)
}

// LedgerEntry is one immutable signed money movement against one account.
// At most one entry exists per (account_id, reference) pair.
type LedgerEntry struct {
	ID        string         `json:"id" db:"id"`
	AccountID AccountID      `json:"account_id" db:"account_id"`
	Currency  string         `json:"currency" db:"currency"`
	Amount    int64          `json:"amount_cents" db:"amount_cents"` // always positive, in cents
	Direction EntryDirection `json:"direction" db:"direction"`
	Reference string         `json:"reference" db:"reference"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// SignedAmount applies the direction: credits are positive, debits negative.
func (e *LedgerEntry) SignedAmount() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

// LedgerBalance is the running sum of entries for one (account, currency).
type LedgerBalance struct {
	AccountID AccountID `json:"account_id" db:"account_id"`
	Currency  string    `json:"currency" db:"currency"`
	Balance   int64     `json:"balance_cents" db:"balance_cents"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreatorBalances summarizes one creator's position across the three
// creator accounts, for display.
type CreatorBalances struct {
	CreatorID string `json:"creator_id"`
	Currency  string `json:"currency"`
	Pending   int64  `json:"pending_cents"`
	Available int64  `json:"available_cents"`
	PaidOut   int64  `json:"paid_out_cents"`
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
