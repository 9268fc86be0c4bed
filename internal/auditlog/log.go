// ABOUTME: Append-only audit log for wallet group mutations
// ABOUTME: Writes through the store or an open transaction and mirrors events to slog and metrics

package auditlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/corp-gateway/internal/metrics"
	"github.com/2389/corp-gateway/internal/store"
)

// ErrUnavailable wraps any failure to persist an audit event.
// Callers treat it as fatal: an attempt that cannot be audited must not proceed.
var ErrUnavailable = errors.New("audit log unavailable")

// Writer is where events go: the store itself or a store.GroupTx.
type Writer interface {
	AppendAuditEvent(ctx context.Context, e *store.AuditEvent) error
}

// Reader lists a group's audit trail.
type Reader interface {
	ListAuditEvents(ctx context.Context, groupID string, limit int) ([]*store.AuditEvent, error)
}

// Log records audit events. A Log with no metrics or logger still persists.
type Log struct {
	reader  Reader
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithMetrics counts every persisted event.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log reading from r.
func New(r Reader, opts ...Option) *Log {
	l := &Log{
		reader: r,
		logger: slog.Default().With("component", "auditlog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append persists e through w. ID and Timestamp are filled when empty.
func (l *Log) Append(ctx context.Context, w Writer, e *store.AuditEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	if err := w.AppendAuditEvent(ctx, e); err != nil {
		l.logger.Error("audit write failed",
			"group_id", e.GroupID,
			"action", e.Action,
			"performed_by", e.PerformedBy,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	l.metrics.AuditEvent(string(e.Action), e.Success)
	l.mirror(e)
	return nil
}

// ListByGroup returns the group's events oldest first.
func (l *Log) ListByGroup(ctx context.Context, groupID string, limit int) ([]*store.AuditEvent, error) {
	events, err := l.reader.ListAuditEvents(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	return events, nil
}

func (l *Log) mirror(e *store.AuditEvent) {
	attrs := []any{
		"audit", true,
		"audit_id", e.ID,
		"group_id", e.GroupID,
		"action", e.Action,
		"performed_by", e.PerformedBy,
		"success", e.Success,
	}
	if e.TargetWallet != nil {
		attrs = append(attrs, "target_wallet", *e.TargetWallet)
	}
	if e.ErrorMessage != nil {
		attrs = append(attrs, "error_message", *e.ErrorMessage)
	}

	if e.Success {
		l.logger.Info("audit event", attrs...)
	} else {
		l.logger.Warn("audit event", attrs...)
	}
}
