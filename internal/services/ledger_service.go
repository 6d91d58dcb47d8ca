package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/creatorpay/backend/internal/models"
	"github.com/google/uuid"
)

// LedgerService is the append-only entry store plus the balance aggregator.
// Every entry insert and its balance delta commit in one transaction; the
// balance row lock serializes updates per (account, currency).
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// CreateLedgerEntry posts one entry in its own transaction. A duplicate
// (account_id, reference) pair is a no-op and returns (nil, nil); callers
// must not assume a successful call produced a new entry.
func (s *LedgerService) CreateLedgerEntry(ctx context.Context, accountID models.AccountID, currency string, amountCents int64, direction models.EntryDirection, reference string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.CreateLedgerEntryTx(ctx, tx, accountID, currency, amountCents, direction, reference)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// CreateLedgerEntryTx posts one entry inside the caller's transaction.
// It atomically inserts the entry, locks the matching balance row (creating
// it at zero if absent) and applies the signed delta.
func (s *LedgerService) CreateLedgerEntryTx(ctx context.Context, tx *sql.Tx, accountID models.AccountID, currency string, amountCents int64, direction models.EntryDirection, reference string) (*models.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if direction != models.DirectionCredit && direction != models.DirectionDebit {
		return nil, fmt.Errorf("invalid entry direction %q", direction)
	}
	if err := accountID.Validate(); err != nil {
		return nil, err
	}
	if reference == "" {
		return nil, fmt.Errorf("reference is required")
	}

	entry := &models.LedgerEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Currency:  currency,
		Amount:    amountCents,
		Direction: direction,
		Reference: reference,
		CreatedAt: time.Now(),
	}

	// Idempotency boundary: at most one entry per (account_id, reference).
	// The conflict target absorbs racing duplicates without raising a
	// constraint error, which would poison the enclosing transaction.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, currency, amount_cents, direction, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, reference) DO NOTHING`,
		entry.ID, string(entry.AccountID), entry.Currency, entry.Amount, string(entry.Direction), entry.Reference, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		log.Printf("[LEDGER] Duplicate reference %s for account %s, skipping", reference, accountID)
		return nil, nil
	}

	if err := s.applyBalanceDeltaTx(ctx, tx, accountID, currency, entry.SignedAmount()); err != nil {
		return nil, err
	}

	return entry, nil
}

// applyBalanceDeltaTx locks the balance row and applies the signed delta.
// The FOR UPDATE lock is the only lock in the system; unrelated accounts
// never contend.
func (s *LedgerService) applyBalanceDeltaTx(ctx context.Context, tx *sql.Tx, accountID models.AccountID, currency string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (account_id, currency, balance_cents, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (account_id, currency) DO NOTHING`,
		string(accountID), currency, time.Now())
	if err != nil {
		return fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance_cents FROM ledger_balances
		WHERE account_id = $1 AND currency = $2
		FOR UPDATE`,
		string(accountID), currency).Scan(&balance)
	if err != nil {
		return fmt.Errorf("failed to lock balance row: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE ledger_balances
		SET balance_cents = $1, updated_at = $2
		WHERE account_id = $3 AND currency = $4`,
		balance+delta, time.Now(), string(accountID), currency)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	return nil
}

// GetBalance returns the running balance for one (account, currency).
// A missing row means no entries were ever posted, so the balance is zero.
func (s *LedgerService) GetBalance(ctx context.Context, accountID models.AccountID, currency string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance_cents FROM ledger_balances
		WHERE account_id = $1 AND currency = $2`,
		string(accountID), currency).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GetCreatorBalances returns one creator's pending/available/paid-out
// position for display.
func (s *LedgerService) GetCreatorBalances(ctx context.Context, creatorID, currency string) (*models.CreatorBalances, error) {
	balances := &models.CreatorBalances{CreatorID: creatorID, Currency: currency}

	var err error
	if balances.Pending, err = s.GetBalance(ctx, models.CreatorPendingAccount(creatorID), currency); err != nil {
		return nil, err
	}
	if balances.Available, err = s.GetBalance(ctx, models.CreatorAvailableAccount(creatorID), currency); err != nil {
		return nil, err
	}
	if balances.PaidOut, err = s.GetBalance(ctx, models.CreatorPaidOutAccount(creatorID), currency); err != nil {
		return nil, err
	}
	return balances, nil
}
