package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/model"
)

// Journal stamps entries and appends them to a Store. A failed write is
// logged and counted; it never fails the action being journaled.
type Journal struct {
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewJournal wraps store. logger and metrics may be nil.
func NewJournal(store Store, logger *zap.Logger, metrics *observability.Metrics) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{store: store, logger: logger, metrics: metrics, now: time.Now}
}

// Record appends e, filling ID, CreatedAt and the session fields from the
// request context when they are blank.
func (j *Journal) Record(ctx context.Context, e Entry) {
	if j == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now().UTC()
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if e.SessionID == "" {
			e.SessionID = rctx.SessionID
		}
		if e.Subject == "" {
			e.Subject = rctx.Subject
		}
	}

	// The action already happened; a cancelled request must not drop its record.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := j.store.Append(writeCtx, e); err != nil {
		j.metrics.RecordAuditEntry(string(e.Action), "error")
		observability.RequestLogger(ctx, j.logger).Error("audit journal write failed",
			zap.String("action", string(e.Action)),
			observability.CaseField(e.CaseID),
			zap.Error(err),
		)
		return
	}
	j.metrics.RecordAuditEntry(string(e.Action), string(e.Outcome))
}

// List returns journal entries matching f.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	return j.store.List(ctx, f)
}
