package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PayoutService generates payout batches from available funds and drives each
// payout through its status lifecycle.
type PayoutService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *AuditService
	cfg    *config.PayoutConfig
}

// PayoutRunResult summarizes one generation run.
type PayoutRunResult struct {
	PayoutsCreated        int   `json:"payouts_created"`
	TotalCents            int64 `json:"total_cents"`
	SkippedBelowThreshold int   `json:"skipped_below_threshold"`
	SkippedDuplicate      int   `json:"skipped_duplicate"`
}

// payoutTransitions is the full transition table. settled and failed are
// terminal; a fresh payout must be generated for any remaining funds.
var payoutTransitions = map[models.PayoutStatus][]models.PayoutStatus{
	models.PayoutStatusQueued:   {models.PayoutStatusExported, models.PayoutStatusFailed},
	models.PayoutStatusExported: {models.PayoutStatusSent, models.PayoutStatusFailed},
	models.PayoutStatusSent:     {models.PayoutStatusSettled, models.PayoutStatusFailed},
}

func NewPayoutService(db *sql.DB, ledger *LedgerService, audit *AuditService, cfg *config.PayoutConfig) *PayoutService {
	return &PayoutService{db: db, ledger: ledger, audit: audit, cfg: cfg}
}

// transitionAllowed checks the status machine table.
func transitionAllowed(from, to models.PayoutStatus) bool {
	for _, allowed := range payoutTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GenerateWeeklyPayouts bundles reconciled, unattached events in the period
// into one payout per eligible creator. Uniqueness of (creator_id,
// period_start, period_end) is the safety net against duplicate generation:
// a conflict skips that creator, it never retries with a different amount.
func (s *PayoutService) GenerateWeeklyPayouts(ctx context.Context, periodStart, periodEnd time.Time) (*PayoutRunResult, error) {
	log.Printf("[PAYOUT] Generating payouts for period %s .. %s, threshold=%d cents",
		periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"), s.cfg.MinPayoutCents)

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.creator_id, b.currency
		FROM payout_settings s
		JOIN ledger_balances b ON b.account_id = 'creator_available:' || s.creator_id
		WHERE s.status = $1 AND b.balance_cents >= $2
		ORDER BY s.creator_id`,
		models.SettingsStatusActive, s.cfg.MinPayoutCents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type candidate struct {
		CreatorID string
		Currency  string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.CreatorID, &c.Currency); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &PayoutRunResult{}
	for _, c := range candidates {
		amount, err := s.generateForCreator(ctx, c.CreatorID, c.Currency, periodStart, periodEnd)
		switch {
		case errors.Is(err, ErrBelowThreshold):
			result.SkippedBelowThreshold++
		case errors.Is(err, ErrDuplicatePeriod):
			log.Printf("[PAYOUT] Payout already exists for creator %s in period, skipping", c.CreatorID)
			result.SkippedDuplicate++
		case err != nil:
			// One creator's failure must not abort the whole batch.
			log.Printf("[PAYOUT] Failed to generate payout for creator %s: %v", c.CreatorID, err)
		default:
			result.PayoutsCreated++
			result.TotalCents += amount
		}
	}

	log.Printf("[PAYOUT] Generation complete: created=%d total=%d cents below_threshold=%d duplicates=%d",
		result.PayoutsCreated, result.TotalCents, result.SkippedBelowThreshold, result.SkippedDuplicate)
	return result, nil
}

// generateForCreator creates one payout, its items and its ledger postings in
// a single transaction.
func (s *PayoutService) generateForCreator(ctx context.Context, creatorID, currency string, periodStart, periodEnd time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Events in the window that matured (have an avail: entry), match the
	// payout currency, were not refunded and were never attributed to a
	// payout. Exclusion through payout_items enforces the
	// at-most-one-payout-per-event invariant.
	rows, err := tx.QueryContext(ctx, `
		SELECT e.id, e.net_cents
		FROM ledger_events e
		WHERE e.creator_id = $1
		  AND e.created_at >= $2 AND e.created_at <= $3
		  AND e.currency = $4
		  AND e.net_cents > 0
		  AND EXISTS (
			SELECT 1 FROM ledger_entries le
			WHERE le.account_id = 'creator_available:' || e.creator_id
			  AND le.reference = 'avail:' || e.id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_entries le
			WHERE le.reference = 'refund:' || e.id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM payout_items pi WHERE pi.ledger_event_id = e.id
		  )
		ORDER BY e.created_at`,
		creatorID, periodStart, periodEnd, currency)
	if err != nil {
		return 0, err
	}

	type includedEvent struct {
		ID       string
		NetCents int64
	}
	var events []includedEvent
	var total int64
	for rows.Next() {
		var e includedEvent
		if err := rows.Scan(&e.ID, &e.NetCents); err != nil {
			rows.Close()
			return 0, err
		}
		events = append(events, e)
		total += e.NetCents
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if total < s.cfg.MinPayoutCents {
		// Funds roll forward to the next period, they never expire.
		return 0, ErrBelowThreshold
	}

	payoutID := uuid.New().String()
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payouts (id, creator_id, amount_cents, currency, method, status, period_start, period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		payoutID, creatorID, total, currency, s.cfg.PayoutMethod, string(models.PayoutStatusQueued),
		periodStart, periodEnd, now, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, ErrDuplicatePeriod
		}
		return 0, fmt.Errorf("failed to insert payout: %w", err)
	}

	for _, e := range events {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payout_items (id, payout_id, ledger_event_id, amount_cents, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), payoutID, e.ID, e.NetCents, now)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return 0, ErrDuplicatePeriod
			}
			return 0, fmt.Errorf("failed to insert payout item: %w", err)
		}
	}

	reference := "payout:" + payoutID
	if _, err = s.ledger.CreateLedgerEntryTx(ctx, tx, models.CreatorAvailableAccount(creatorID),
		currency, total, models.DirectionDebit, reference); err != nil {
		return 0, err
	}
	if _, err = s.ledger.CreateLedgerEntryTx(ctx, tx, models.CreatorPaidOutAccount(creatorID),
		currency, total, models.DirectionCredit, reference); err != nil {
		return 0, err
	}

	err = s.audit.Record(ctx, tx, "system", "payout.generated", "payout", payoutID, models.Metadata{
		"creator_id":   creatorID,
		"amount_cents": total,
		"event_count":  len(events),
		"period_start": periodStart.Format("2006-01-02"),
		"period_end":   periodEnd.Format("2006-01-02"),
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	log.Printf("[PAYOUT] Created payout %s for creator %s: %d cents across %d events",
		payoutID, creatorID, total, len(events))
	return total, nil
}

// UpdatePayoutStatus validates and applies an external settlement callback.
// An invalid transition is rejected without mutating state. Transitioning to
// failed posts a compensating reversal so the funds re-enter the creator's
// available balance while the original entries stay in the immutable log.
func (s *PayoutService) UpdatePayoutStatus(ctx context.Context, payoutID string, newStatus models.PayoutStatus, actorID string, bankReference, errorReason *string) (*models.Payout, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var p models.Payout
	err = tx.QueryRowContext(ctx, `
		SELECT id, creator_id, amount_cents, currency, status, bank_reference
		FROM payouts
		WHERE id = $1
		FOR UPDATE`, payoutID).Scan(&p.ID, &p.CreatorID, &p.AmountCents, &p.Currency, &p.Status, &p.BankReference)
	if err == sql.ErrNoRows {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}

	oldStatus := p.Status
	if !transitionAllowed(oldStatus, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldStatus, newStatus)
	}

	now := time.Now()
	if bankReference != nil {
		p.BankReference = bankReference
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE payouts
		SET status = $1,
		    bank_reference = COALESCE($2, bank_reference),
		    error_reason = $3,
		    exported_at = CASE WHEN $1 = 'exported' THEN $4 ELSE exported_at END,
		    sent_at = CASE WHEN $1 = 'sent' THEN $4 ELSE sent_at END,
		    settled_at = CASE WHEN $1 = 'settled' THEN $4 ELSE settled_at END,
		    updated_at = $4
		WHERE id = $5`,
		string(newStatus), bankReference, errorReason, now, payoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to update payout status: %w", err)
	}

	if newStatus == models.PayoutStatusFailed {
		// Compensating reversal: restore the available balance, keep history.
		reference := "payout_reversal:" + p.ID
		if _, err = s.ledger.CreateLedgerEntryTx(ctx, tx, models.CreatorAvailableAccount(p.CreatorID),
			p.Currency, p.AmountCents, models.DirectionCredit, reference); err != nil {
			return nil, err
		}
		if _, err = s.ledger.CreateLedgerEntryTx(ctx, tx, models.CreatorPaidOutAccount(p.CreatorID),
			p.Currency, p.AmountCents, models.DirectionDebit, reference); err != nil {
			return nil, err
		}
	}

	details := models.Metadata{
		"old_status": string(oldStatus),
		"new_status": string(newStatus),
	}
	if bankReference != nil {
		details["bank_reference"] = *bankReference
	}
	if errorReason != nil {
		details["error_reason"] = *errorReason
	}
	if err := s.audit.Record(ctx, tx, actorID, "payout.status_changed", "payout", p.ID, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	p.Status = newStatus
	p.ErrorReason = errorReason
	p.UpdatedAt = now
	log.Printf("[PAYOUT] Payout %s: %s -> %s (actor %s)", p.ID, oldStatus, newStatus, actorID)
	return &p, nil
}

// GetPayout fetches one payout by id.
func (s *PayoutService) GetPayout(ctx context.Context, payoutID string) (*models.Payout, error) {
	var p models.Payout
	err := s.db.QueryRowContext(ctx, `
		SELECT id, creator_id, amount_cents, currency, method, status, period_start, period_end,
		       exported_at, sent_at, settled_at, export_batch_id, bank_reference, error_reason, created_at, updated_at
		FROM payouts WHERE id = $1`, payoutID).Scan(
		&p.ID, &p.CreatorID, &p.AmountCents, &p.Currency, &p.Method, &p.Status, &p.PeriodStart, &p.PeriodEnd,
		&p.ExportedAt, &p.SentAt, &p.SettledAt, &p.ExportBatchID, &p.BankReference, &p.ErrorReason, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPayouts returns a creator's payouts, newest first.
func (s *PayoutService) ListPayouts(ctx context.Context, creatorID string, limit int) ([]models.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator_id, amount_cents, currency, method, status, period_start, period_end,
		       exported_at, sent_at, settled_at, export_batch_id, bank_reference, error_reason, created_at, updated_at
		FROM payouts
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, creatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []models.Payout
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.ID, &p.CreatorID, &p.AmountCents, &p.Currency, &p.Method, &p.Status,
			&p.PeriodStart, &p.PeriodEnd, &p.ExportedAt, &p.SentAt, &p.SettledAt,
			&p.ExportBatchID, &p.BankReference, &p.ErrorReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}
