package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/creatorpay/backend/internal/models"
)

// AuditService appends to the immutable payout audit log. Rows are written in
// the caller's transaction so an audit record never exists for a rolled-back
// action, and vice versa.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// Record writes one audit row inside tx and mirrors it to the process log.
func (a *AuditService) Record(ctx context.Context, tx *sql.Tx, actor, action, entityType, entityID string, details models.Metadata) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payout_audit_logs (actor, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		actor, action, entityType, entityID, details, time.Now())
	if err != nil {
		return err
	}

	event := models.PayoutAuditLog{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now(),
	}
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
	return nil
}

// List returns the most recent audit rows for one entity.
func (a *AuditService) List(ctx context.Context, entityType, entityID string, limit int) ([]models.PayoutAuditLog, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, actor, action, entity_type, entity_id, details, created_at
		FROM payout_audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.PayoutAuditLog
	for rows.Next() {
		var l models.PayoutAuditLog
		if err := rows.Scan(&l.ID, &l.Actor, &l.Action, &l.EntityType, &l.EntityID, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
