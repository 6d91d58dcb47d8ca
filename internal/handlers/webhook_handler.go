package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/creatorpay/backend/internal/models"
	"github.com/creatorpay/backend/internal/services"
)

// WebhookHandler consumes normalized payment signals. Signature verification
// and provider-specific parsing happen upstream; by the time a request lands
// here it carries the validated revenue tuple plus the processor event id
// used as the idempotency reference.
type WebhookHandler struct {
	revenue   *services.RevenueService
	validator *services.ValidationHelper
}

type paymentSignal struct {
	EventID       string `json:"event_id" validate:"required"`
	EventType     string `json:"event_type" validate:"required,oneof=payment_succeeded payment_refunded payment_disputed"`
	CreatorID     string `json:"creator_id" validate:"required"`
	GrossCents    int64  `json:"gross_cents" validate:"gte=0"`
	FeeCents      int64  `json:"fee_cents" validate:"gte=0"`
	NetCents      int64  `json:"net_cents" validate:"gte=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	RevenueType   string `json:"revenue_type" validate:"required,oneof=TIP PPV_UNLOCK SUBSCRIPTION"`
	ReferenceType string `json:"reference_type" validate:"required"`
	ReferenceID   string `json:"reference_id" validate:"required"`
}

func NewWebhookHandler(revenue *services.RevenueService) *WebhookHandler {
	return &WebhookHandler{
		revenue:   revenue,
		validator: services.NewValidationHelper(),
	}
}

// HandlePaymentSignal processes one normalized processor signal
// @Summary Ingest a normalized payment signal
// @Description Records the payment event idempotently and posts the matching ledger movements
// @Tags webhooks
// @Accept json
// @Produce json
// @Param signal body paymentSignal true "Normalized payment signal"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /webhooks/payments [post]
func (h *WebhookHandler) HandlePaymentSignal(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	var signal paymentSignal
	if err := json.Unmarshal(body, &signal); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&signal); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Idempotency gate before any ledger posting: at-least-once delivery
	// means the same event can land here more than once.
	isNew, recordID, err := h.revenue.RecordPaymentEvent(r.Context(), signal.EventID, signal.EventType, body)
	if err != nil {
		log.Printf("[WEBHOOK] Failed to record payment event %s: %v", signal.EventID, err)
		services.SendErrorResponse(w, "Failed to record payment event", http.StatusInternalServerError, nil)
		return
	}
	if !isNew {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "duplicate",
			"id":      recordID,
			"message": "Event already processed",
		})
		return
	}

	switch signal.EventType {
	case models.PaymentSignalSucceeded:
		event, err := h.revenue.CreateLedgerEvent(r.Context(), services.LedgerEventParams{
			CreatorID:     signal.CreatorID,
			EventType:     signal.RevenueType,
			GrossCents:    signal.GrossCents,
			FeeCents:      signal.FeeCents,
			NetCents:      signal.NetCents,
			Currency:      signal.Currency,
			ReferenceType: signal.ReferenceType,
			ReferenceID:   signal.ReferenceID,
		})
		if err != nil {
			log.Printf("[WEBHOOK] Failed to create ledger event for %s: %v", signal.EventID, err)
			services.SendErrorResponse(w, "Failed to record revenue", http.StatusInternalServerError, nil)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "recorded",
			"ledger_event_id": event.ID,
		})

	case models.PaymentSignalRefunded, models.PaymentSignalDisputed:
		ledgerEventID, err := h.revenue.FindEventByReference(r.Context(), signal.ReferenceType, signal.ReferenceID)
		if err != nil {
			log.Printf("[WEBHOOK] No ledger event for refund signal %s: %v", signal.EventID, err)
			services.SendErrorResponse(w, "Original revenue event not found", http.StatusNotFound, nil)
			return
		}
		if err := h.revenue.RecordRefund(r.Context(), ledgerEventID); err != nil {
			log.Printf("[WEBHOOK] Failed to record refund for %s: %v", signal.EventID, err)
			services.SendErrorResponse(w, "Failed to record refund", http.StatusInternalServerError, nil)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "reversed",
			"ledger_event_id": ledgerEventID,
		})
	}
}
