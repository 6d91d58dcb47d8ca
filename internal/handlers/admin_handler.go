package handlers

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/creatorpay/backend/internal/models"
	"github.com/creatorpay/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// AdminHandler exposes the operational surface: triggering the batch jobs
// and applying external settlement callbacks.
type AdminHandler struct {
	reconciler *services.ReconciliationService
	payouts    *services.PayoutService
	exporter   *services.ExportService
	validator  *services.ValidationHelper
}

func NewAdminHandler(reconciler *services.ReconciliationService, payouts *services.PayoutService, exporter *services.ExportService) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		payouts:    payouts,
		exporter:   exporter,
		validator:  services.NewValidationHelper(),
	}
}

func actorFromContext(r *http.Request) string {
	if userID, ok := r.Context().Value("userID").(string); ok && userID != "" {
		return userID
	}
	return "system"
}

// RunReconciliation triggers one availability reconciliation run
// @Summary Mature pending funds past the hold period
// @Tags admin
// @Produce json
// @Success 200 {object} services.ReconciliationResult
// @Failure 500 {object} services.ErrorResponse
// @Router /admin/reconcile [post]
func (h *AdminHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.ReconcileAvailability(r.Context(), time.Now())
	if err != nil {
		log.Printf("[ADMIN] Reconciliation run failed: %v", err)
		services.SendErrorResponse(w, "Reconciliation failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GeneratePayouts triggers payout generation for a period
// @Summary Generate payouts for a period
// @Tags admin
// @Accept json
// @Produce json
// @Param period body object{period_start=string,period_end=string} true "Period bounds (YYYY-MM-DD)"
// @Success 200 {object} services.PayoutRunResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /admin/payouts/generate [post]
func (h *AdminHandler) GeneratePayouts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
		PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
	}

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
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	periodStart, _ := time.Parse("2006-01-02", req.PeriodStart)
	periodEnd, _ := time.Parse("2006-01-02", req.PeriodEnd)
	// The period end bound is inclusive of the whole final day.
	periodEnd = periodEnd.Add(24*time.Hour - time.Nanosecond)

	if periodEnd.Before(periodStart) {
		services.SendErrorResponse(w, "period_end must not precede period_start", http.StatusBadRequest, nil)
		return
	}

	result, err := h.payouts.GenerateWeeklyPayouts(r.Context(), periodStart, periodEnd)
	if err != nil {
		log.Printf("[ADMIN] Payout generation failed: %v", err)
		services.SendErrorResponse(w, "Payout generation failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ExportPayouts exports all queued payouts as a bank CSV
// @Summary Export queued payouts for bank upload
// @Tags admin
// @Produce json
// @Success 200 {object} services.ExportBatch
// @Failure 500 {object} services.ErrorResponse
// @Router /admin/payouts/export [post]
func (h *AdminHandler) ExportPayouts(w http.ResponseWriter, r *http.Request) {
	batch, err := h.exporter.ExportPayoutsCSV(r.Context(), actorFromContext(r), models.PayoutStatusQueued)
	if err != nil {
		log.Printf("[ADMIN] Export failed: %v", err)
		services.SendErrorResponse(w, "Export failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

// GetExportBatchPacs008 renders an export batch as pacs.008 XML
// @Summary Get the ISO 20022 message for an export batch
// @Tags admin
// @Produce xml
// @Param batchId path string true "Export batch ID"
// @Success 200 {string} string
// @Failure 500 {object} services.ErrorResponse
// @Router /admin/payouts/export/{batchId}/pacs008 [get]
func (h *AdminHandler) GetExportBatchPacs008(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")

	doc, err := h.exporter.BuildPacs008(r.Context(), batchID)
	if err != nil {
		log.Printf("[ADMIN] Failed to build pacs.008 for batch %s: %v", batchID, err)
		services.SendErrorResponse(w, "Failed to build bank message", http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		services.SendErrorResponse(w, "Failed to marshal XML", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	w.Write(xmlData)
}

// UpdatePayoutStatus applies an external settlement callback
// @Summary Apply a payout status callback from the bank
// @Tags admin
// @Accept json
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Param update body object{status=string,bank_reference=string,error_reason=string} true "Status update"
// @Success 200 {object} models.Payout
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/payouts/{payoutId}/status [post]
func (h *AdminHandler) UpdatePayoutStatus(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payoutId")

	var req struct {
		Status        string  `json:"status" validate:"required,oneof=exported sent settled failed"`
		BankReference *string `json:"bank_reference,omitempty"`
		ErrorReason   *string `json:"error_reason,omitempty"`
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payout, err := h.payouts.UpdatePayoutStatus(r.Context(), payoutID, models.PayoutStatus(req.Status),
		actorFromContext(r), req.BankReference, req.ErrorReason)
	switch {
	case errors.Is(err, services.ErrPayoutNotFound):
		services.SendErrorResponse(w, "Payout not found", http.StatusNotFound, nil)
		return
	case errors.Is(err, services.ErrInvalidTransition):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		return
	case err != nil:
		log.Printf("[ADMIN] Status update failed for payout %s: %v", payoutID, err)
		services.SendErrorResponse(w, "Status update failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payout)
}
