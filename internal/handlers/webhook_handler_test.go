package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/services"
	"github.com/stretchr/testify/assert"
)

func signalBody(overrides map[string]any) []byte {
	signal := map[string]any{
		"event_id":       "evt_abc",
		"event_type":     "payment_succeeded",
		"creator_id":     "creator-1",
		"gross_cents":    1000,
		"fee_cents":      200,
		"net_cents":      800,
		"currency":       "EUR",
		"revenue_type":   "TIP",
		"reference_type": "payment",
		"reference_id":   "pay_123",
	}
	for k, v := range overrides {
		signal[k] = v
	}
	body, _ := json.Marshal(signal)
	return body
}

// expectPosting mirrors the ledger entry plus balance statement sequence for
// one account.
func expectPosting(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO ledger_balances").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT balance_cents FROM ledger_balances").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(0))
	mock.ExpectExec("UPDATE ledger_balances").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestWebhookHandler_HandlePaymentSignal(t *testing.T) {
	t.Run("successful payment records revenue", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		revenue := services.NewRevenueService(db, services.NewLedgerService(db), config.LoadPayoutConfig())
		handler := NewWebhookHandler(revenue)

		mock.ExpectQuery("INSERT INTO payment_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_events").
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectPosting(mock)
		expectPosting(mock)
		mock.ExpectCommit()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(signalBody(nil)))
		rec := httptest.NewRecorder()
		handler.HandlePaymentSignal(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "recorded", resp["status"])
		assert.NotEmpty(t, resp["ledger_event_id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redelivered event is acknowledged without posting", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		revenue := services.NewRevenueService(db, services.NewLedgerService(db), config.LoadPayoutConfig())
		handler := NewWebhookHandler(revenue)

		mock.ExpectQuery("INSERT INTO payment_events").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT id FROM payment_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(signalBody(nil)))
		rec := httptest.NewRecorder()
		handler.HandlePaymentSignal(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "duplicate", resp["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refund signal reverses the original event", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		revenue := services.NewRevenueService(db, services.NewLedgerService(db), config.LoadPayoutConfig())
		handler := NewWebhookHandler(revenue)

		mock.ExpectQuery("INSERT INTO payment_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-2"))
		mock.ExpectQuery("SELECT id FROM ledger_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("event-1"))
		mock.ExpectQuery("SELECT id, creator_id, net_cents, fee_cents, currency").
			WillReturnRows(sqlmock.NewRows([]string{"id", "creator_id", "net_cents", "fee_cents", "currency"}).
				AddRow("event-1", "creator-1", int64(800), int64(200), "EUR"))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		expectPosting(mock)
		expectPosting(mock)
		mock.ExpectCommit()

		body := signalBody(map[string]any{"event_id": "evt_refund", "event_type": "payment_refunded"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandlePaymentSignal(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "reversed", resp["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown event type", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		handler := NewWebhookHandler(services.NewRevenueService(db, services.NewLedgerService(db), config.LoadPayoutConfig()))

		body := signalBody(map[string]any{"event_type": "payment_mystery"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandlePaymentSignal(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		handler := NewWebhookHandler(services.NewRevenueService(db, services.NewLedgerService(db), config.LoadPayoutConfig()))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		handler.HandlePaymentSignal(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("refund with no matching revenue event", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		handler := NewWebhookHandler(services.NewRevenueService(db, services.NewLedgerService(db), config.LoadPayoutConfig()))

		mock.ExpectQuery("INSERT INTO payment_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-3"))
		mock.ExpectQuery("SELECT id FROM ledger_events").
			WillReturnError(sql.ErrNoRows)

		body := signalBody(map[string]any{"event_id": "evt_orphan", "event_type": "payment_refunded"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandlePaymentSignal(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
