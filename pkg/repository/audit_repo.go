package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/corepay/stepup/pkg/domain"
)

// AuditRepository appends audit events. The table is append-only; there are
// no update or delete operations.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit event.
func (r *AuditRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	query := `
		INSERT INTO audit_events
			(id, action, actor_id, target_id, tenant_id, before, after, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Action,
		event.ActorID,
		event.TargetID,
		event.TenantID,
		nullableJSON(event.Before),
		nullableJSON(event.After),
		event.IP,
		event.UserAgent,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
