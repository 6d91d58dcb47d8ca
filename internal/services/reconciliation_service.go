package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/models"
)

// ReconciliationService matures pending funds to available funds once the
// hold period has elapsed. It takes its knobs as explicit configuration so
// runs are independently testable; overlapping runs are safe because every
// posting is idempotent, not because of a distributed lock.
type ReconciliationService struct {
	db     *sql.DB
	ledger *LedgerService
	cfg    *config.PayoutConfig
}

// ReconciliationResult summarizes one reconciliation run.
type ReconciliationResult struct {
	EventsProcessed int   `json:"events_processed"`
	CreatorsUpdated int   `json:"creators_updated"`
	TotalCentsMoved int64 `json:"total_cents_moved"`
}

func NewReconciliationService(db *sql.DB, ledger *LedgerService, cfg *config.PayoutConfig) *ReconciliationService {
	return &ReconciliationService{db: db, ledger: ledger, cfg: cfg}
}

// ReconcileAvailability moves matured events from pending to available.
// The NOT EXISTS predicate on the avail: entry is both the query filter and
// the idempotency check, so re-running after a partial failure only
// processes the remainder. Refunded events never mature: their net was
// already debited back, so maturing them would hand out returned money.
// Each event commits in its own transaction, keeping a timed-out run
// consistent and resumable.
func (s *ReconciliationService) ReconcileAvailability(ctx context.Context, now time.Time) (*ReconciliationResult, error) {
	cutoff := now.Add(-s.cfg.HoldPeriod)
	log.Printf("[RECONCILE] Starting availability run, cutoff=%s batch=%d", cutoff.Format(time.RFC3339), s.cfg.ReconcileBatchSize)

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.creator_id, e.net_cents, e.currency
		FROM ledger_events e
		WHERE e.created_at <= $1
		  AND e.net_cents > 0
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_entries le
			WHERE le.account_id = 'creator_available:' || e.creator_id
			  AND le.reference = 'avail:' || e.id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_entries le
			WHERE le.reference = 'refund:' || e.id
		  )
		ORDER BY e.created_at
		LIMIT $2`, cutoff, s.cfg.ReconcileBatchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type maturedEvent struct {
		ID        string
		CreatorID string
		NetCents  int64
		Currency  string
	}
	var events []maturedEvent
	for rows.Next() {
		var e maturedEvent
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.NetCents, &e.Currency); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ReconciliationResult{}
	creators := make(map[string]bool)

	for _, e := range events {
		moved, err := s.matureEvent(ctx, e.ID, e.CreatorID, e.NetCents, e.Currency)
		if err != nil {
			log.Printf("[RECONCILE] Failed to mature event %s: %v", e.ID, err)
			return result, err
		}
		if moved {
			result.EventsProcessed++
			result.TotalCentsMoved += e.NetCents
			creators[e.CreatorID] = true
		}
	}

	result.CreatorsUpdated = len(creators)
	log.Printf("[RECONCILE] Run complete: events=%d creators=%d moved=%d cents",
		result.EventsProcessed, result.CreatorsUpdated, result.TotalCentsMoved)
	return result, nil
}

// matureEvent posts the pending->available transfer for one event under the
// shared avail:{event_id} reference. Both legs commit together; a concurrent
// run racing the completeness check falls through to the entry-level
// idempotency and posts nothing.
func (s *ReconciliationService) matureEvent(ctx context.Context, eventID, creatorID string, netCents int64, currency string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	reference := "avail:" + eventID

	debit, err := s.ledger.CreateLedgerEntryTx(ctx, tx, models.CreatorPendingAccount(creatorID),
		currency, netCents, models.DirectionDebit, reference)
	if err != nil {
		return false, err
	}

	credit, err := s.ledger.CreateLedgerEntryTx(ctx, tx, models.CreatorAvailableAccount(creatorID),
		currency, netCents, models.DirectionCredit, reference)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return debit != nil && credit != nil, nil
}
