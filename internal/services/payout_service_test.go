package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/creatorpay/backend/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func expectAuditRow(mock sqlmock.Sqlmock, action string) {
	mock.ExpectExec("INSERT INTO payout_audit_logs").
		WithArgs(sqlmock.AnyArg(), action, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func newPayoutServiceForTest(t *testing.T) (*PayoutService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	ledger := NewLedgerService(db)
	service := NewPayoutService(db, ledger, NewAuditService(db), testPayoutConfig())
	return service, mock, func() { db.Close() }
}

func TestPayoutService_GenerateWeeklyPayouts(t *testing.T) {
	periodStart := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC)

	t.Run("creates payout when reconciled funds reach the threshold", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectQuery("SELECT s.creator_id, b.currency").
			WillReturnRows(sqlmock.NewRows([]string{"creator_id", "currency"}).
				AddRow("creator-1", "EUR"))

		mock.ExpectBegin()
		// Events must match the payout currency and carry no refund entry.
		mock.ExpectQuery(`SELECT e.id, e.net_cents[\s\S]*e.currency = \$4[\s\S]*'refund:'`).
			WithArgs("creator-1", periodStart, periodEnd, "EUR").
			WillReturnRows(sqlmock.NewRows([]string{"id", "net_cents"}).
				AddRow("event-1", int64(3000)).
				AddRow("event-2", int64(2000)))
		mock.ExpectExec("INSERT INTO payouts").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO payout_items").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO payout_items").
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectPostingChain(mock, "creator_available:creator-1", 5000)
		expectPostingChain(mock, "creator_paid_out:creator-1", 0)
		expectAuditRow(mock, "payout.generated")
		mock.ExpectCommit()

		result, err := service.GenerateWeeklyPayouts(context.Background(), periodStart, periodEnd)
		assert.NoError(t, err)
		assert.Equal(t, 1, result.PayoutsCreated)
		assert.Equal(t, int64(5000), result.TotalCents)
		assert.Equal(t, 0, result.SkippedBelowThreshold)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("one cent below the threshold is skipped", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectQuery("SELECT s.creator_id, b.currency").
			WillReturnRows(sqlmock.NewRows([]string{"creator_id", "currency"}).
				AddRow("creator-1", "EUR"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT e.id, e.net_cents").
			WillReturnRows(sqlmock.NewRows([]string{"id", "net_cents"}).
				AddRow("event-1", int64(4999)))
		mock.ExpectRollback()

		result, err := service.GenerateWeeklyPayouts(context.Background(), periodStart, periodEnd)
		assert.NoError(t, err)
		assert.Equal(t, 0, result.PayoutsCreated)
		assert.Equal(t, 1, result.SkippedBelowThreshold)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate period conflict is skipped, not retried", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectQuery("SELECT s.creator_id, b.currency").
			WillReturnRows(sqlmock.NewRows([]string{"creator_id", "currency"}).
				AddRow("creator-1", "EUR"))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT e.id, e.net_cents").
			WillReturnRows(sqlmock.NewRows([]string{"id", "net_cents"}).
				AddRow("event-1", int64(6000)))
		mock.ExpectExec("INSERT INTO payouts").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		result, err := service.GenerateWeeklyPayouts(context.Background(), periodStart, periodEnd)
		assert.NoError(t, err)
		assert.Equal(t, 0, result.PayoutsCreated)
		assert.Equal(t, 1, result.SkippedDuplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no eligible creators means an empty run", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectQuery("SELECT s.creator_id, b.currency").
			WillReturnRows(sqlmock.NewRows([]string{"creator_id", "currency"}))

		result, err := service.GenerateWeeklyPayouts(context.Background(), periodStart, periodEnd)
		assert.NoError(t, err)
		assert.Equal(t, 0, result.PayoutsCreated)
	})
}

func TestPayoutService_UpdatePayoutStatus(t *testing.T) {
	payoutRow := func(status string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "creator_id", "amount_cents", "currency", "status", "bank_reference"}).
			AddRow("payout-1", "creator-1", int64(5000), "EUR", status, nil)
	}

	t.Run("queued to exported", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, creator_id, amount_cents, currency, status, bank_reference").
			WithArgs("payout-1").
			WillReturnRows(payoutRow("queued"))
		mock.ExpectExec("UPDATE payouts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAuditRow(mock, "payout.status_changed")
		mock.ExpectCommit()

		p, err := service.UpdatePayoutStatus(context.Background(), "payout-1", models.PayoutStatusExported, "admin-1", nil, nil)
		assert.NoError(t, err)
		assert.Equal(t, models.PayoutStatusExported, p.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure posts a compensating reversal", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		reason := "beneficiary account closed"
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, creator_id, amount_cents, currency, status, bank_reference").
			WithArgs("payout-1").
			WillReturnRows(payoutRow("sent"))
		mock.ExpectExec("UPDATE payouts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectPostingChain(mock, "creator_available:creator-1", 0)
		expectPostingChain(mock, "creator_paid_out:creator-1", 5000)
		expectAuditRow(mock, "payout.status_changed")
		mock.ExpectCommit()

		p, err := service.UpdatePayoutStatus(context.Background(), "payout-1", models.PayoutStatusFailed, "admin-1", nil, &reason)
		assert.NoError(t, err)
		assert.Equal(t, models.PayoutStatusFailed, p.Status)
		assert.Equal(t, &reason, p.ErrorReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal status cannot move", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, creator_id, amount_cents, currency, status, bank_reference").
			WithArgs("payout-1").
			WillReturnRows(payoutRow("settled"))
		mock.ExpectRollback()

		_, err := service.UpdatePayoutStatus(context.Background(), "payout-1", models.PayoutStatusSent, "admin-1", nil, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skipping a stage is rejected", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, creator_id, amount_cents, currency, status, bank_reference").
			WithArgs("payout-1").
			WillReturnRows(payoutRow("queued"))
		mock.ExpectRollback()

		_, err := service.UpdatePayoutStatus(context.Background(), "payout-1", models.PayoutStatusSettled, "admin-1", nil, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown payout", func(t *testing.T) {
		service, mock, done := newPayoutServiceForTest(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, creator_id, amount_cents, currency, status, bank_reference").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := service.UpdatePayoutStatus(context.Background(), "missing", models.PayoutStatusExported, "admin-1", nil, nil)
		assert.ErrorIs(t, err, ErrPayoutNotFound)
	})
}

func TestPayoutTransitionTable(t *testing.T) {
	cases := []struct {
		from, to models.PayoutStatus
		allowed  bool
	}{
		{models.PayoutStatusQueued, models.PayoutStatusExported, true},
		{models.PayoutStatusQueued, models.PayoutStatusFailed, true},
		{models.PayoutStatusQueued, models.PayoutStatusSent, false},
		{models.PayoutStatusExported, models.PayoutStatusSent, true},
		{models.PayoutStatusExported, models.PayoutStatusSettled, false},
		{models.PayoutStatusSent, models.PayoutStatusSettled, true},
		{models.PayoutStatusSent, models.PayoutStatusFailed, true},
		{models.PayoutStatusSettled, models.PayoutStatusFailed, false},
		{models.PayoutStatusFailed, models.PayoutStatusQueued, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.allowed, transitionAllowed(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}
