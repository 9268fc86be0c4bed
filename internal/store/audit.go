// ABOUTME: Audit event entity and store methods for the wallet group audit trail
// ABOUTME: Append-only record of every link, removal and primary transfer attempt

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditCreateGroup           AuditAction = "create_group"
	AuditAddWallet             AuditAction = "add_wallet"
	AuditRemoveWallet          AuditAction = "remove_wallet"
	AuditTransferPrimary       AuditAction = "transfer_primary"
	AuditAutoMigrateSoloWallet AuditAction = "auto_migrate_solo_wallet"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditCreateGroup,
	AuditAddWallet,
	AuditRemoveWallet,
	AuditTransferPrimary,
	AuditAutoMigrateSoloWallet,
}

// UnknownGroupID is recorded when an attempt fails before any group can be resolved.
const UnknownGroupID = "unknown"

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	ID           string // UUID v4
	GroupID      string
	Action       AuditAction
	PerformedBy  string
	TargetWallet *string
	Signature    *string
	Nonce        *string
	Timestamp    time.Time
	Success      bool
	ErrorMessage *string
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// prepareAuditEvent generates ID and Timestamp if not set.
func prepareAuditEvent(e *AuditEvent) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// AppendAuditEvent appends a new entry to the audit log.
func (o *sqlOps) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	prepareAuditEvent(e)

	query := `
		INSERT INTO wallet_group_audit
			(audit_id, group_id, action, performed_by, target_wallet, signature, nonce, ts, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := o.q.ExecContext(ctx, query,
		e.ID,
		e.GroupID,
		string(e.Action),
		e.PerformedBy,
		nullable(e.TargetWallet),
		nullable(e.Signature),
		nullable(e.Nonce),
		toMillis(e.Timestamp),
		e.Success,
		nullable(e.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// scanAuditEvent scans a row into an AuditEvent.
func scanAuditEvent(scanner interface{ Scan(dest ...any) error }) (*AuditEvent, error) {
	var e AuditEvent
	var action string
	var ts int64
	var target, sig, nonce, errMsg sql.NullString

	if err := scanner.Scan(
		&e.ID,
		&e.GroupID,
		&action,
		&e.PerformedBy,
		&target,
		&sig,
		&nonce,
		&ts,
		&e.Success,
		&errMsg,
	); err != nil {
		return nil, fmt.Errorf("scanning audit event: %w", err)
	}

	e.Action = AuditAction(action)
	e.Timestamp = fromMillis(ts)
	e.TargetWallet = stringPtr(target)
	e.Signature = stringPtr(sig)
	e.Nonce = stringPtr(nonce)
	e.ErrorMessage = stringPtr(errMsg)
	return &e, nil
}

// ListAuditEvents returns the group's audit events ordered by timestamp, then insertion order.
func (s *SQLiteStore) ListAuditEvents(ctx context.Context, groupID string, limit int) ([]*AuditEvent, error) {
	query := `
		SELECT audit_id, group_id, action, performed_by, target_wallet, signature, nonce, ts, success, error_message
		FROM wallet_group_audit
		WHERE group_id = ?
		ORDER BY ts ASC, seq ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, groupID, normalizeAuditLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []*AuditEvent{}
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}
