package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/models"
	"github.com/creatorpay/backend/internal/vault"
	"github.com/go-redis/redis/v8"
)

// SettingsService manages creators' payout settings. Bank details are
// validated, encrypted at rest and only decrypted during export.
type SettingsService struct {
	db        *sql.DB
	redis     *redis.Client
	encryptor vault.Encryptor
	validator *ValidationHelper
	cfg       *config.PayoutConfig
}

// SettingsUpdateRequest carries the creator-supplied bank details.
type SettingsUpdateRequest struct {
	BeneficiaryName string `json:"beneficiary_name" validate:"required,min=2,max=140"`
	IBAN            string `json:"iban" validate:"required,iban"`
	BIC             string `json:"bic" validate:"required,bic"`
}

func NewSettingsService(db *sql.DB, redisClient *redis.Client, encryptor vault.Encryptor, cfg *config.PayoutConfig) *SettingsService {
	return &SettingsService{
		db:        db,
		redis:     redisClient,
		encryptor: encryptor,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// UpsertSettings validates and stores one creator's bank details. A
// successful update marks the settings active so the payout generator will
// consider the creator.
func (s *SettingsService) UpsertSettings(ctx context.Context, creatorID string, req SettingsUpdateRequest) (*models.PayoutSettings, error) {
	if err := s.checkRateLimit(ctx, creatorID); err != nil {
		return nil, err
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}

	iban := NormalizeIBAN(req.IBAN)
	ibanEnc, err := s.encryptor.Encrypt(iban)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt IBAN: %w", err)
	}
	bicEnc, err := s.encryptor.Encrypt(req.BIC)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt BIC: %w", err)
	}

	settings := &models.PayoutSettings{
		CreatorID:       creatorID,
		BeneficiaryName: req.BeneficiaryName,
		IBANEncrypted:   ibanEnc,
		BICEncrypted:    bicEnc,
		IBANLast4:       iban[len(iban)-4:],
		Status:          models.SettingsStatusActive,
		UpdatedAt:       time.Now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payout_settings (creator_id, beneficiary_name, iban_encrypted, bic_encrypted, iban_last4, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (creator_id) DO UPDATE
		SET beneficiary_name = EXCLUDED.beneficiary_name,
		    iban_encrypted = EXCLUDED.iban_encrypted,
		    bic_encrypted = EXCLUDED.bic_encrypted,
		    iban_last4 = EXCLUDED.iban_last4,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at`,
		settings.CreatorID, settings.BeneficiaryName, settings.IBANEncrypted, settings.BICEncrypted,
		settings.IBANLast4, settings.Status, settings.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store payout settings: %w", err)
	}

	s.incrementRateLimit(ctx, creatorID)
	log.Printf("[SETTINGS] Updated payout settings for creator %s (IBAN ****%s)", creatorID, settings.IBANLast4)
	return settings, nil
}

// GetSettings returns one creator's settings with bank details masked.
func (s *SettingsService) GetSettings(ctx context.Context, creatorID string) (*models.PayoutSettings, error) {
	var settings models.PayoutSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT creator_id, beneficiary_name, iban_last4, status, created_at, updated_at
		FROM payout_settings WHERE creator_id = $1`,
		creatorID).Scan(&settings.CreatorID, &settings.BeneficiaryName, &settings.IBANLast4,
		&settings.Status, &settings.CreatedAt, &settings.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// SetStatus enables or disables a creator's payouts without touching the
// stored bank details.
func (s *SettingsService) SetStatus(ctx context.Context, creatorID, status string) error {
	switch status {
	case models.SettingsStatusActive, models.SettingsStatusIncomplete, models.SettingsStatusDisabled:
	default:
		return fmt.Errorf("invalid settings status %q", status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE payout_settings SET status = $1, updated_at = $2 WHERE creator_id = $3`,
		status, time.Now(), creatorID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

func (s *SettingsService) checkRateLimit(ctx context.Context, creatorID string) error {
	if s.redis == nil {
		return nil
	}
	key := fmt.Sprintf("settings:ratelimit:%s", creatorID)
	count, err := s.redis.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return err
	}

	if count >= s.cfg.MaxSettingsUpdates {
		return ErrRateLimited
	}

	return nil
}

func (s *SettingsService) incrementRateLimit(ctx context.Context, creatorID string) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("settings:ratelimit:%s", creatorID)
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.cfg.SettingsUpdateWindow)
	pipe.Exec(ctx)
}
