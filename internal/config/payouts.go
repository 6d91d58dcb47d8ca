package config

import (
	"os"
	"strconv"
	"time"
)

type PayoutConfig struct {
	HoldPeriod           time.Duration
	MinPayoutCents       int64
	PlatformFeeBps       int64
	ReconcileBatchSize   int
	PayoutMethod         string
	BankReferencePrefix  string
	MaxSettingsUpdates   int
	SettingsUpdateWindow time.Duration
}

func LoadPayoutConfig() *PayoutConfig {
	return &PayoutConfig{
		HoldPeriod:           getEnvAsDuration("PAYOUT_HOLD_PERIOD", 240*time.Hour),
		MinPayoutCents:       getEnvAsInt64("PAYOUT_MIN_CENTS", 5000),
		PlatformFeeBps:       getEnvAsInt64("PLATFORM_FEE_BPS", 2000),
		ReconcileBatchSize:   getEnvAsInt("RECONCILE_BATCH_SIZE", 1000),
		PayoutMethod:         getEnv("PAYOUT_METHOD", "sepa_credit"),
		BankReferencePrefix:  getEnv("PAYOUT_BANK_REF_PREFIX", "CPAY"),
		MaxSettingsUpdates:   getEnvAsInt("SETTINGS_MAX_UPDATES", 5),
		SettingsUpdateWindow: getEnvAsDuration("SETTINGS_UPDATE_WINDOW", 1*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
