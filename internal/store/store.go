// ABOUTME: Store interfaces and data types for corp-gateway persistence
// ABOUTME: Defines wallet groups, memberships, challenges and the transactional GroupStore

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMembership is returned when a wallet already has a membership row
var ErrDuplicateMembership = errors.New("wallet already has a membership")

// Group is a corporation: the set of wallets controlled by one player.
type Group struct {
	ID            string
	PrimaryWallet string
	CreatedAt     time.Time
}

// Membership places one wallet in one group.
type Membership struct {
	GroupID       string
	WalletAddress string
	AddedAt       time.Time
	Nickname      *string

	// OriginalCompanyName is the wallet's display name at join time, restored on removal.
	OriginalCompanyName *string
}

// GroupReader is the read side of group storage.
type GroupReader interface {
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	GetMembership(ctx context.Context, walletAddress string) (*Membership, error)

	// ListMemberships returns the group's members ordered by AddedAt ascending.
	ListMemberships(ctx context.Context, groupID string) ([]*Membership, error)

	// GetDisplayName returns ErrNotFound when the wallet has no name in the ledger.
	GetDisplayName(ctx context.Context, walletAddress string) (string, error)
}

// GroupTx is the set of operations available inside one atomic unit.
type GroupTx interface {
	GroupReader

	CreateGroup(ctx context.Context, group *Group) error
	DeleteGroup(ctx context.Context, groupID string) error
	SetPrimaryWallet(ctx context.Context, groupID, walletAddress string) error

	CreateMembership(ctx context.Context, m *Membership) error
	DeleteMembership(ctx context.Context, walletAddress string) error
	SetNickname(ctx context.Context, walletAddress string, nickname *string) error

	SetDisplayName(ctx context.Context, walletAddress, name string) error

	AppendAuditEvent(ctx context.Context, e *AuditEvent) error
}

// GroupStore exposes group operations both directly and as a serialized transaction.
type GroupStore interface {
	GroupTx

	// WithGroupTx runs fn in a single transaction. A non-nil error from fn rolls back
	// every write made through tx.
	WithGroupTx(ctx context.Context, fn func(tx GroupTx) error) error

	// ListAuditEvents returns the group's audit trail oldest first.
	ListAuditEvents(ctx context.Context, groupID string, limit int) ([]*AuditEvent, error)
}

// Store is everything the gateway persists.
type Store interface {
	GroupStore
	ChallengeStore

	// Close releases any resources held by the store
	Close() error
}
