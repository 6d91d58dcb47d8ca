package models

import (
	"encoding/json"
	"time"
)

// LedgerEventType classifies the revenue fact behind a ledger event.
type LedgerEventType string

const (
	EventTypeTip          LedgerEventType = "TIP"
	EventTypePPVUnlock    LedgerEventType = "PPV_UNLOCK"
	EventTypeSubscription LedgerEventType = "SUBSCRIPTION"
)

// LedgerEvent is a business-level revenue fact (tip, PPV unlock, subscription
// charge), independent of its ledger postings. Immutable once created.
// Invariant: NetCents == GrossCents - FeeCents, both non-negative.
type LedgerEvent struct {
	ID            string          `json:"id" db:"id"`
	CreatorID     string          `json:"creator_id" db:"creator_id"`
	EventType     LedgerEventType `json:"event_type" db:"event_type"`
	GrossCents    int64           `json:"gross_cents" db:"gross_cents"`
	FeeCents      int64           `json:"fee_cents" db:"fee_cents"`
	NetCents      int64           `json:"net_cents" db:"net_cents"`
	Currency      string          `json:"currency" db:"currency"`
	ReferenceType string          `json:"reference_type" db:"reference_type"`
	ReferenceID   string          `json:"reference_id" db:"reference_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// PaymentEvent is the idempotency gate for raw processor webhooks, keyed on
// the processor's event id. Recorded before any ledger posting happens.
type PaymentEvent struct {
	ID        string          `json:"id" db:"id"`
	EventID   string          `json:"event_id" db:"event_id"`
	EventType string          `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Normalized processor signals accepted by the webhook intake.
const (
	PaymentSignalSucceeded = "payment_succeeded"
	PaymentSignalRefunded  = "payment_refunded"
	PaymentSignalDisputed  = "payment_disputed"
)

// EarningsSummary aggregates a creator's revenue over a window plus the most
// recent ledger events, for display.
type EarningsSummary struct {
	CreatorID    string        `json:"creator_id"`
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
	GrossCents   int64         `json:"gross_cents"`
	FeeCents     int64         `json:"fee_cents"`
	NetCents     int64         `json:"net_cents"`
	EventCount   int           `json:"event_count"`
	RecentEvents []LedgerEvent `json:"recent_events"`
}
