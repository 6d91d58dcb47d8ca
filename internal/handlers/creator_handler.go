package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/creatorpay/backend/internal/services"
)

// CreatorHandler serves the creator-facing read surface plus payout settings.
type CreatorHandler struct {
	revenue   *services.RevenueService
	ledger    *services.LedgerService
	payouts   *services.PayoutService
	settings  *services.SettingsService
	validator *services.ValidationHelper
}

func NewCreatorHandler(revenue *services.RevenueService, ledger *services.LedgerService, payouts *services.PayoutService, settings *services.SettingsService) *CreatorHandler {
	return &CreatorHandler{
		revenue:   revenue,
		ledger:    ledger,
		payouts:   payouts,
		settings:  settings,
		validator: services.NewValidationHelper(),
	}
}

func creatorFromContext(w http.ResponseWriter, r *http.Request) (string, bool) {
	creatorID, ok := r.Context().Value("userID").(string)
	if !ok || creatorID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return creatorID, true
}

// GetEarnings returns an earnings summary for the authenticated creator
// @Summary Get earnings summary
// @Tags creator
// @Produce json
// @Param from query string false "Window start (YYYY-MM-DD, default 30 days ago)"
// @Param to query string false "Window end (YYYY-MM-DD, default today)"
// @Param limit query int false "Number of recent events (default: 10, max: 100)"
// @Success 200 {object} models.EarningsSummary
// @Failure 401 {object} services.ErrorResponse
// @Router /creator/earnings [get]
func (h *CreatorHandler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := creatorFromContext(w, r)
	if !ok {
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if s := r.URL.Query().Get("from"); s != "" {
		if parsed, err := time.Parse("2006-01-02", s); err == nil {
			from = parsed
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if parsed, err := time.Parse("2006-01-02", s); err == nil {
			to = parsed.Add(24*time.Hour - time.Nanosecond)
		}
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	summary, err := h.revenue.GetEarningsSummary(r.Context(), creatorID, from, to, req.Limit)
	if err != nil {
		log.Printf("[CREATOR] Failed to build earnings summary for %s: %v", creatorID, err)
		services.SendErrorResponse(w, "Failed to fetch earnings", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// GetBalances returns the creator's pending/available/paid-out position
// @Summary Get ledger balances
// @Tags creator
// @Produce json
// @Param currency query string false "Currency (default EUR)"
// @Success 200 {object} models.CreatorBalances
// @Failure 401 {object} services.ErrorResponse
// @Router /creator/balances [get]
func (h *CreatorHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := creatorFromContext(w, r)
	if !ok {
		return
	}

	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "EUR"
	}

	balances, err := h.ledger.GetCreatorBalances(r.Context(), creatorID, currency)
	if err != nil {
		log.Printf("[CREATOR] Failed to fetch balances for %s: %v", creatorID, err)
		services.SendErrorResponse(w, "Failed to fetch balances", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balances)
}

// ListPayouts returns the creator's payout history
// @Summary List payouts
// @Tags creator
// @Produce json
// @Param limit query int false "Number of payouts to return (default: 20, max: 100)"
// @Success 200 {object} object{payouts=[]models.Payout,count=int}
// @Failure 401 {object} services.ErrorResponse
// @Router /creator/payouts [get]
func (h *CreatorHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := creatorFromContext(w, r)
	if !ok {
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	payouts, err := h.payouts.ListPayouts(r.Context(), creatorID, limit)
	if err != nil {
		log.Printf("[CREATOR] Failed to list payouts for %s: %v", creatorID, err)
		services.SendErrorResponse(w, "Failed to fetch payouts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"payouts": payouts,
		"count":   len(payouts),
	})
}

// GetPayoutSettings returns the creator's masked payout settings
// @Summary Get payout settings
// @Tags creator
// @Produce json
// @Success 200 {object} models.PayoutSettings
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /creator/payout-settings [get]
func (h *CreatorHandler) GetPayoutSettings(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := creatorFromContext(w, r)
	if !ok {
		return
	}

	settings, err := h.settings.GetSettings(r.Context(), creatorID)
	if errors.Is(err, services.ErrSettingsNotFound) {
		services.SendErrorResponse(w, "Payout settings not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch settings", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}

// UpdatePayoutSettings stores validated, encrypted bank details
// @Summary Update payout settings
// @Tags creator
// @Accept json
// @Produce json
// @Param settings body services.SettingsUpdateRequest true "Bank details"
// @Success 200 {object} models.PayoutSettings
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /creator/payout-settings [put]
func (h *CreatorHandler) UpdatePayoutSettings(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := creatorFromContext(w, r)
	if !ok {
		return
	}

	var req services.SettingsUpdateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	settings, err := h.settings.UpsertSettings(r.Context(), creatorID, req)
	switch {
	case errors.Is(err, services.ErrRateLimited):
		services.SendErrorResponse(w, err.Error(), http.StatusTooManyRequests, nil)
		return
	case err != nil:
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}
