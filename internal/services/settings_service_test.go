package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestSettingsService_UpsertSettings(t *testing.T) {
	validRequest := SettingsUpdateRequest{
		BeneficiaryName: "Ana Martins",
		IBAN:            "DE89 3704 0044 0532 0130 00",
		BIC:             "COBADEFFXXX",
	}

	t.Run("stores encrypted bank details and activates the creator", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		redisClient, redisMock := redismock.NewClientMock()

		service := NewSettingsService(db, redisClient, &passthroughEncryptor{}, testPayoutConfig())

		redisMock.ExpectGet("settings:ratelimit:creator-1").RedisNil()
		mock.ExpectExec("INSERT INTO payout_settings").
			WithArgs("creator-1", "Ana Martins", "enc:DE89370400440532013000", "enc:COBADEFFXXX",
				"3000", "active", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		redisMock.ExpectIncr("settings:ratelimit:creator-1").SetVal(1)
		redisMock.ExpectExpire("settings:ratelimit:creator-1", time.Hour).SetVal(true)

		settings, err := service.UpsertSettings(context.Background(), "creator-1", validRequest)
		assert.NoError(t, err)
		assert.Equal(t, "3000", settings.IBANLast4)
		assert.Equal(t, "enc:DE89370400440532013000", settings.IBANEncrypted)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("rejects a bad IBAN checksum", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		redisClient, redisMock := redismock.NewClientMock()

		service := NewSettingsService(db, redisClient, &passthroughEncryptor{}, testPayoutConfig())

		redisMock.ExpectGet("settings:ratelimit:creator-1").RedisNil()

		bad := validRequest
		bad.IBAN = "DE89370400440532013001"
		_, err = service.UpsertSettings(context.Background(), "creator-1", bad)
		assert.Error(t, err)
	})

	t.Run("rejects a malformed BIC", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		redisClient, redisMock := redismock.NewClientMock()

		service := NewSettingsService(db, redisClient, &passthroughEncryptor{}, testPayoutConfig())

		redisMock.ExpectGet("settings:ratelimit:creator-1").RedisNil()

		bad := validRequest
		bad.BIC = "12345"
		_, err = service.UpsertSettings(context.Background(), "creator-1", bad)
		assert.Error(t, err)
	})

	t.Run("too many updates in the window are rate limited", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		redisClient, redisMock := redismock.NewClientMock()

		service := NewSettingsService(db, redisClient, &passthroughEncryptor{}, testPayoutConfig())

		redisMock.ExpectGet("settings:ratelimit:creator-1").SetVal("5")

		_, err = service.UpsertSettings(context.Background(), "creator-1", validRequest)
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("missing redis disables rate limiting", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewSettingsService(db, nil, &passthroughEncryptor{}, testPayoutConfig())

		mock.ExpectExec("INSERT INTO payout_settings").
			WillReturnResult(sqlmock.NewResult(1, 1))

		_, err = service.UpsertSettings(context.Background(), "creator-1", validRequest)
		assert.NoError(t, err)
	})
}

func TestSettingsService_GetSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettingsService(db, nil, &passthroughEncryptor{}, testPayoutConfig())

	t.Run("returns masked settings", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT creator_id, beneficiary_name, iban_last4").
			WithArgs("creator-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"creator_id", "beneficiary_name", "iban_last4", "status", "created_at", "updated_at",
			}).AddRow("creator-1", "Ana Martins", "3000", "active", now, now))

		settings, err := service.GetSettings(context.Background(), "creator-1")
		assert.NoError(t, err)
		assert.Equal(t, "3000", settings.IBANLast4)
		assert.Empty(t, settings.IBANEncrypted)
	})

	t.Run("missing creator", func(t *testing.T) {
		mock.ExpectQuery("SELECT creator_id, beneficiary_name, iban_last4").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetSettings(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrSettingsNotFound)
	})
}

func TestSettingsService_SetStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSettingsService(db, nil, &passthroughEncryptor{}, testPayoutConfig())

	t.Run("disables payouts", func(t *testing.T) {
		mock.ExpectExec("UPDATE payout_settings").
			WithArgs("disabled", sqlmock.AnyArg(), "creator-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.SetStatus(context.Background(), "creator-1", "disabled")
		assert.NoError(t, err)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		err := service.SetStatus(context.Background(), "creator-1", "paused")
		assert.Error(t, err)
	})

	t.Run("no settings row to update", func(t *testing.T) {
		mock.ExpectExec("UPDATE payout_settings").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.SetStatus(context.Background(), "creator-1", "active")
		assert.ErrorIs(t, err, ErrSettingsNotFound)
	})
}
