package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/models"
	"github.com/google/uuid"
)

// RevenueService records business-level revenue facts and their ledger
// postings, and gates raw processor webhooks on an idempotency record so
// at-least-once delivery never double-posts.
type RevenueService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
	cfg       *config.PayoutConfig
}

// LedgerEventParams is the already-validated revenue tuple handed to the
// ledger core by the billing handlers.
type LedgerEventParams struct {
	CreatorID     string `json:"creator_id" validate:"required"`
	EventType     string `json:"event_type" validate:"required,oneof=TIP PPV_UNLOCK SUBSCRIPTION"`
	GrossCents    int64  `json:"gross_cents" validate:"gte=0"`
	FeeCents      int64  `json:"fee_cents" validate:"gte=0"`
	NetCents      int64  `json:"net_cents" validate:"gte=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	ReferenceType string `json:"reference_type" validate:"required"`
	ReferenceID   string `json:"reference_id" validate:"required"`
}

func NewRevenueService(db *sql.DB, ledger *LedgerService, cfg *config.PayoutConfig) *RevenueService {
	return &RevenueService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// RecordPaymentEvent is the idempotency gate for processor webhooks, keyed on
// the processor's event id. It returns whether the event is new; callers must
// only post to the ledger when it is.
func (s *RevenueService) RecordPaymentEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage) (bool, string, error) {
	id := uuid.New().String()
	var insertedID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payment_events (id, event_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`,
		id, eventID, eventType, payload, time.Now()).Scan(&insertedID)
	if err == sql.ErrNoRows {
		var existingID string
		if err := s.db.QueryRowContext(ctx, `
			SELECT id FROM payment_events WHERE event_id = $1`, eventID).Scan(&existingID); err != nil {
			return false, "", err
		}
		log.Printf("[REVENUE] Duplicate payment event %s, skipping", eventID)
		return false, existingID, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to record payment event: %w", err)
	}
	return true, insertedID, nil
}

// CreateLedgerEvent records one revenue fact and, in the same transaction,
// credits the creator's pending account with the net portion and the platform
// account with the fee portion. No debit leg is posted: the source of funds
// is the payment processor, not an internal account.
func (s *RevenueService) CreateLedgerEvent(ctx context.Context, params LedgerEventParams) (*models.LedgerEvent, error) {
	if err := s.validator.ValidateStruct(&params); err != nil {
		return nil, err
	}
	// A signal that carries only the gross amount gets the platform's
	// configured fee split applied.
	if params.GrossCents > 0 && params.FeeCents == 0 && params.NetCents == 0 {
		params.FeeCents = params.GrossCents * s.cfg.PlatformFeeBps / 10000
		params.NetCents = params.GrossCents - params.FeeCents
	}
	if params.NetCents != params.GrossCents-params.FeeCents {
		return nil, fmt.Errorf("net_cents %d does not equal gross_cents %d minus fee_cents %d",
			params.NetCents, params.GrossCents, params.FeeCents)
	}

	event := &models.LedgerEvent{
		ID:            uuid.New().String(),
		CreatorID:     params.CreatorID,
		EventType:     models.LedgerEventType(params.EventType),
		GrossCents:    params.GrossCents,
		FeeCents:      params.FeeCents,
		NetCents:      params.NetCents,
		Currency:      params.Currency,
		ReferenceType: params.ReferenceType,
		ReferenceID:   params.ReferenceID,
		CreatedAt:     time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_events (id, creator_id, event_type, gross_cents, fee_cents, net_cents, currency, reference_type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.CreatorID, string(event.EventType), event.GrossCents, event.FeeCents, event.NetCents,
		event.Currency, event.ReferenceType, event.ReferenceID, event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger event: %w", err)
	}

	if event.NetCents > 0 {
		_, err = s.ledger.CreateLedgerEntryTx(ctx, tx, models.CreatorPendingAccount(event.CreatorID),
			event.Currency, event.NetCents, models.DirectionCredit, "event:"+event.ID)
		if err != nil {
			return nil, err
		}
	}

	if event.FeeCents > 0 {
		_, err = s.ledger.CreateLedgerEntryTx(ctx, tx, models.PlatformAccount(),
			event.Currency, event.FeeCents, models.DirectionCredit, "fee:"+event.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[REVENUE] Recorded %s event %s for creator %s: gross=%d fee=%d net=%d",
		event.EventType, event.ID, event.CreatorID, event.GrossCents, event.FeeCents, event.NetCents)
	return event, nil
}

// RecordRefund posts the mirror of a revenue event: it debits the account
// currently holding the net portion (pending before maturation, available
// after) and the platform account for the fee. Idempotent per event through
// the entry-level reference check; the reconciler and payout generator both
// exclude events carrying a refund: entry, so a refunded event can neither
// mature nor be paid out.
func (s *RevenueService) RecordRefund(ctx context.Context, ledgerEventID string) error {
	var event models.LedgerEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, creator_id, net_cents, fee_cents, currency
		FROM ledger_events WHERE id = $1`,
		ledgerEventID).Scan(&event.ID, &event.CreatorID, &event.NetCents, &event.FeeCents, &event.Currency)
	if err == sql.ErrNoRows {
		return fmt.Errorf("ledger event %s not found", ledgerEventID)
	}
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if event.NetCents > 0 {
		netAccount := models.CreatorPendingAccount(event.CreatorID)
		var matured bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM ledger_entries
				WHERE account_id = $1 AND reference = $2
			)`,
			string(models.CreatorAvailableAccount(event.CreatorID)), "avail:"+event.ID).Scan(&matured)
		if err != nil {
			return err
		}
		if matured {
			netAccount = models.CreatorAvailableAccount(event.CreatorID)
		}

		_, err = s.ledger.CreateLedgerEntryTx(ctx, tx, netAccount,
			event.Currency, event.NetCents, models.DirectionDebit, "refund:"+event.ID)
		if err != nil {
			return err
		}
	}

	if event.FeeCents > 0 {
		_, err = s.ledger.CreateLedgerEntryTx(ctx, tx, models.PlatformAccount(),
			event.Currency, event.FeeCents, models.DirectionDebit, "refund_fee:"+event.ID)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[REVENUE] Recorded refund for event %s (creator %s)", event.ID, event.CreatorID)
	return nil
}

// FindEventByReference looks up a ledger event by its business reference,
// used to resolve refund signals back to the original revenue fact.
func (s *RevenueService) FindEventByReference(ctx context.Context, referenceType, referenceID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM ledger_events
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at
		LIMIT 1`, referenceType, referenceID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no ledger event for %s %s", referenceType, referenceID)
	}
	return id, err
}

// GetEarningsSummary aggregates gross/fee/net over a window plus the last
// `limit` ledger events for one creator.
func (s *RevenueService) GetEarningsSummary(ctx context.Context, creatorID string, from, to time.Time, limit int) (*models.EarningsSummary, error) {
	summary := &models.EarningsSummary{CreatorID: creatorID, From: from, To: to}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(gross_cents), 0), COALESCE(SUM(fee_cents), 0), COALESCE(SUM(net_cents), 0), COUNT(*)
		FROM ledger_events
		WHERE creator_id = $1 AND created_at >= $2 AND created_at <= $3`,
		creatorID, from, to).Scan(&summary.GrossCents, &summary.FeeCents, &summary.NetCents, &summary.EventCount)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator_id, event_type, gross_cents, fee_cents, net_cents, currency, reference_type, reference_id, created_at
		FROM ledger_events
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, creatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e models.LedgerEvent
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.EventType, &e.GrossCents, &e.FeeCents, &e.NetCents,
			&e.Currency, &e.ReferenceType, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		summary.RecentEvents = append(summary.RecentEvents, e)
	}
	return summary, rows.Err()
}
