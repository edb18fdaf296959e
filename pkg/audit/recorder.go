// Package audit provides best-effort append-only event recording for every
// enrollment, verification and gated-action outcome.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corepay/stepup/pkg/domain"
)

// Store appends audit events. Implementations live in pkg/repository.
type Store interface {
	Append(ctx context.Context, event *domain.AuditEvent) error
}

// Recorder writes audit events without ever failing the caller: a lost audit
// row must never cause a false denial of the underlying action.
type Recorder struct {
	logger *slog.Logger
	store  Store
}

// NewRecorder creates a recorder. A nil store degrades to log-only.
func NewRecorder(logger *slog.Logger, store Store) *Recorder {
	return &Recorder{logger: logger, store: store}
}

// Record persists the event, filling in ID and timestamp when absent.
// Storage errors are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if r.store != nil {
		if err := r.store.Append(ctx, &event); err != nil {
			r.logger.Error("failed to append audit event",
				"action", event.Action,
				"actor", event.ActorID,
				"error", err,
			)
			return
		}
	}

	r.logger.Info("audit",
		"action", event.Action,
		"actor", event.ActorID,
		"target", event.TargetID,
		"ip", event.IP,
	)
}
