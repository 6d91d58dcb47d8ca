package models

import "time"

// PayoutStatus tracks where a payout is in its lifecycle.
type PayoutStatus string

const (
	PayoutStatusQueued   PayoutStatus = "queued"
	PayoutStatusExported PayoutStatus = "exported"
	PayoutStatusSent     PayoutStatus = "sent"
	PayoutStatusSettled  PayoutStatus = "settled"
	PayoutStatusFailed   PayoutStatus = "failed"
)

// PayoutSettings status values.
const (
	SettingsStatusActive     = "active"
	SettingsStatusIncomplete = "incomplete"
	SettingsStatusDisabled   = "disabled"
)

// Payout is one disbursement batch to one creator for one period.
// Unique per (creator_id, period_start, period_end).
type Payout struct {
	ID            string       `json:"id" db:"id"`
	CreatorID     string       `json:"creator_id" db:"creator_id"`
	AmountCents   int64        `json:"amount_cents" db:"amount_cents"`
	Currency      string       `json:"currency" db:"currency"`
	Method        string       `json:"method" db:"method"`
	Status        PayoutStatus `json:"status" db:"status"`
	PeriodStart   time.Time    `json:"period_start" db:"period_start"`
	PeriodEnd     time.Time    `json:"period_end" db:"period_end"`
	ExportedAt    *time.Time   `json:"exported_at,omitempty" db:"exported_at"`
	SentAt        *time.Time   `json:"sent_at,omitempty" db:"sent_at"`
	SettledAt     *time.Time   `json:"settled_at,omitempty" db:"settled_at"`
	ExportBatchID *string      `json:"export_batch_id,omitempty" db:"export_batch_id"`
	BankReference *string      `json:"bank_reference,omitempty" db:"bank_reference"`
	ErrorReason   *string      `json:"error_reason,omitempty" db:"error_reason"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// PayoutItem attributes one ledger event to one payout. A ledger event
// appears in at most one payout item ever. Never mutated.
type PayoutItem struct {
	ID            string    `json:"id" db:"id"`
	PayoutID      string    `json:"payout_id" db:"payout_id"`
	LedgerEventID string    `json:"ledger_event_id" db:"ledger_event_id"`
	AmountCents   int64     `json:"amount_cents" db:"amount_cents"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// PayoutSettings holds one creator's bank details, encrypted at rest.
// Mutated by the creator; read-only to the payout engine.
type PayoutSettings struct {
	CreatorID       string    `json:"creator_id" db:"creator_id"`
	BeneficiaryName string    `json:"beneficiary_name" db:"beneficiary_name"`
	IBANEncrypted   string    `json:"-" db:"iban_encrypted"`
	BICEncrypted    string    `json:"-" db:"bic_encrypted"`
	IBANLast4       string    `json:"iban_last4" db:"iban_last4"`
	Status          string    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// PayoutAuditLog is one append-only record of a payout-affecting action.
type PayoutAuditLog struct {
	ID         int64     `json:"id" db:"id"`
	Actor      string    `json:"actor" db:"actor"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Details    Metadata  `json:"details" db:"details"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
