// ABOUTME: Group registry owning corporation lifecycle: create, add, remove, dissolve
// ABOUTME: Every mutation runs in one store transaction together with its audit events

package corp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/corp-gateway/internal/auditlog"
	"github.com/2389/corp-gateway/internal/store"
)

// DefaultMaxWalletsPerGroup is used when Options.MaxWalletsPerGroup is zero.
const DefaultMaxWalletsPerGroup = 50

// MaxDisplayNameLength bounds shared company names, in characters.
const MaxDisplayNameLength = 64

// Options configures a Registry.
type Options struct {
	MaxWalletsPerGroup int
	// NormalizeWallet maps every spelling of an address to the one form that
	// is stored. Nil only trims whitespace.
	NormalizeWallet func(string) (string, error)
	Now             func() time.Time
	NewGroupID      func() string
	Logger          *slog.Logger
}

// Registry owns groups, primary-wallet assignment and membership lifecycle.
type Registry struct {
	store      store.GroupStore
	audit      *auditlog.Log
	maxWallets int
	normalize  func(string) (string, error)
	now        func() time.Time
	newGroupID func() string
	logger     *slog.Logger
}

// NewRegistry creates a Registry over s, writing audit events through audit.
func NewRegistry(s store.GroupStore, audit *auditlog.Log, opts Options) *Registry {
	r := &Registry{
		store:      s,
		audit:      audit,
		maxWallets: opts.MaxWalletsPerGroup,
		normalize:  opts.NormalizeWallet,
		now:        opts.Now,
		newGroupID: opts.NewGroupID,
		logger:     opts.Logger,
	}
	if r.maxWallets == 0 {
		r.maxWallets = DefaultMaxWalletsPerGroup
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newGroupID == nil {
		r.newGroupID = func() string { return "grp_" + uuid.New().String() }
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "corp")
	}
	return r
}

// MaxWalletsPerGroup returns the configured group size limit.
func (r *Registry) MaxWalletsPerGroup() int {
	return r.maxWallets
}

// NormalizeWallet returns the stored form of wallet, or ErrInvalidWallet.
func (r *Registry) NormalizeWallet(wallet string) (string, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return "", ErrInvalidWallet
	}
	if r.normalize == nil {
		return wallet, nil
	}
	canonical, err := r.normalize(wallet)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	return canonical, nil
}

// AddWalletRequest is the input of CommitAddWallet. Signature and Nonce are
// recorded in the audit trail only; verification happens before the commit.
type AddWalletRequest struct {
	ExistingWallet string
	NewWallet      string
	Nickname       *string
	Signature      string
	Nonce          string
}

// LinkResult describes a committed link.
type LinkResult struct {
	GroupID      string
	GroupCreated bool   // the existing wallet's implicit group was materialized
	MigratedFrom string // solo group dissolved to make the link, if any
}

// RemoveRequest is the input of CommitRemoveWallet.
type RemoveRequest struct {
	Wallet      string
	PerformedBy string // defaults to Wallet
	Signature   string
	Nonce       string
}

// RemoveResult describes a committed removal.
type RemoveResult struct {
	GroupID      string
	GroupDeleted bool
	NewPrimary   string // set when the removed wallet was primary and another member was promoted
}

// WalletEntry is one row of a group listing.
type WalletEntry struct {
	WalletAddress string
	Nickname      *string
	AddedAt       time.Time
	IsPrimary     bool
}

// EnsureResult is the outcome of EnsureGroup.
type EnsureResult struct {
	GroupID string
	Created bool
}

// FailedAttempt is an operation rejected before it reached the registry.
type FailedAttempt struct {
	Action       store.AuditAction
	PerformedBy  string
	TargetWallet string
	Signature    string
	Nonce        string
	Reason       string
}

// target is the group a wallet is being linked into, possibly not yet stored.
type target struct {
	groupID  string
	implicit bool
	members  []*store.Membership
}

// key identifies the target for conflict resolution. An implicit group has no
// ID yet, so its owner's address stands in for it.
func (t *target) key(owner string) string {
	if t.implicit {
		return "implicit:" + owner
	}
	return t.groupID
}

// auditGroupID is the group failures are recorded against.
func (t *target) auditGroupID() string {
	if t.implicit {
		return store.UnknownGroupID
	}
	return t.groupID
}

// CommitAddWallet links req.NewWallet into the group of req.ExistingWallet.
//
// The policy decision, the mutation and the audit trail run in one
// transaction. A rejected link writes only its failed add_wallet event, which
// is committed before the rejection is returned.
func (r *Registry) CommitAddWallet(ctx context.Context, req AddWalletRequest) (*LinkResult, error) {
	var err error
	if req.ExistingWallet, err = r.NormalizeWallet(req.ExistingWallet); err != nil {
		return nil, err
	}
	if req.NewWallet, err = r.NormalizeWallet(req.NewWallet); err != nil {
		return nil, err
	}

	var result *LinkResult
	var rejection error

	err = r.store.WithGroupTx(ctx, func(tx store.GroupTx) error {
		result, rejection = nil, nil
		now := r.now().UTC().Truncate(time.Millisecond)

		tgt, err := r.loadTarget(ctx, tx, req.ExistingWallet)
		if err != nil {
			return err
		}

		conflict := Conflict{TargetGroupID: tgt.key(req.ExistingWallet)}
		current, err := getMembership(ctx, tx, req.NewWallet)
		if err != nil {
			return err
		}
		switch {
		case current != nil:
			size, err := groupSize(ctx, tx, current.GroupID)
			if err != nil {
				return err
			}
			conflict.CurrentGroupID = current.GroupID
			conflict.CurrentGroupSize = size
		case req.NewWallet == req.ExistingWallet:
			// Linking a wallet to itself: it already sits in its own implicit group.
			conflict.CurrentGroupID = conflict.TargetGroupID
			conflict.CurrentGroupSize = 1
		}

		disposition, reject := Resolve(conflict)
		if reject == nil {
			reject = CheckCapacity(len(tgt.members), r.maxWallets)
		}
		if reject != nil {
			rejection = reject
			return r.audit.Append(ctx, tx, &store.AuditEvent{
				GroupID:      tgt.auditGroupID(),
				Action:       store.AuditAddWallet,
				PerformedBy:  req.ExistingWallet,
				TargetWallet: optional(req.NewWallet),
				Signature:    optional(req.Signature),
				Nonce:        optional(req.Nonce),
				Timestamp:    now,
				Success:      false,
				ErrorMessage: optional(reject.Error()),
			})
		}

		result = &LinkResult{}
		if tgt.implicit {
			owner, err := r.materialize(ctx, tx, req.ExistingWallet, nil, now)
			if err != nil {
				return err
			}
			tgt.groupID = owner.GroupID
			tgt.members = []*store.Membership{owner}
			result.GroupCreated = true
		}
		result.GroupID = tgt.groupID

		if disposition == MigrateSolo {
			if err := r.dissolveSolo(ctx, tx, current, req, now); err != nil {
				return err
			}
			result.MigratedFrom = current.GroupID
		}

		original, err := snapshotName(ctx, tx, req.NewWallet)
		if err != nil {
			return err
		}
		if err := tx.CreateMembership(ctx, &store.Membership{
			GroupID:             tgt.groupID,
			WalletAddress:       req.NewWallet,
			AddedAt:             nextAddedAt(now, tgt.members),
			Nickname:            req.Nickname,
			OriginalCompanyName: original,
		}); err != nil {
			return fmt.Errorf("inserting membership: %w", err)
		}

		return r.audit.Append(ctx, tx, &store.AuditEvent{
			GroupID:      tgt.groupID,
			Action:       store.AuditAddWallet,
			PerformedBy:  req.ExistingWallet,
			TargetWallet: optional(req.NewWallet),
			Signature:    optional(req.Signature),
			Nonce:        optional(req.Nonce),
			Timestamp:    now,
			Success:      true,
		})
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		r.logger.Info("link rejected",
			"existing_wallet", req.ExistingWallet,
			"new_wallet", req.NewWallet,
			"reason", rejection,
		)
		return nil, rejection
	}

	r.logger.Info("wallet linked",
		"group_id", result.GroupID,
		"new_wallet", req.NewWallet,
		"group_created", result.GroupCreated,
		"migrated_from", result.MigratedFrom,
	)
	return result, nil
}

// loadTarget resolves the group of wallet, or its implicit singleton.
func (r *Registry) loadTarget(ctx context.Context, tx store.GroupTx, wallet string) (*target, error) {
	m, err := getMembership(ctx, tx, wallet)
	if err != nil {
		return nil, err
	}
	if m == nil {
		// The implicit group's only member is the wallet itself.
		return &target{implicit: true, members: []*store.Membership{{WalletAddress: wallet}}}, nil
	}

	members, err := tx.ListMemberships(ctx, m.GroupID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	return &target{groupID: m.GroupID, members: members}, nil
}

// materialize stores a new group with wallet as its sole member and primary.
func (r *Registry) materialize(ctx context.Context, tx store.GroupTx, wallet string, nickname *string, now time.Time) (*store.Membership, error) {
	groupID := r.newGroupID()

	if err := tx.CreateGroup(ctx, &store.Group{ID: groupID, PrimaryWallet: wallet, CreatedAt: now}); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	original, err := snapshotName(ctx, tx, wallet)
	if err != nil {
		return nil, err
	}
	m := &store.Membership{
		GroupID:             groupID,
		WalletAddress:       wallet,
		AddedAt:             now,
		Nickname:            nickname,
		OriginalCompanyName: original,
	}
	if err := tx.CreateMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("inserting membership: %w", err)
	}

	if err := r.audit.Append(ctx, tx, &store.AuditEvent{
		GroupID:     groupID,
		Action:      store.AuditCreateGroup,
		PerformedBy: wallet,
		Timestamp:   now,
		Success:     true,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// dissolveSolo deletes a single-member group ahead of its wallet joining another.
func (r *Registry) dissolveSolo(ctx context.Context, tx store.GroupTx, solo *store.Membership, req AddWalletRequest, now time.Time) error {
	if err := tx.DeleteMembership(ctx, solo.WalletAddress); err != nil {
		return fmt.Errorf("deleting solo membership: %w", err)
	}
	if err := tx.DeleteGroup(ctx, solo.GroupID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting solo group: %w", err)
	}
	return r.audit.Append(ctx, tx, &store.AuditEvent{
		GroupID:      solo.GroupID,
		Action:       store.AuditAutoMigrateSoloWallet,
		PerformedBy:  req.ExistingWallet,
		TargetWallet: optional(req.NewWallet),
		Signature:    optional(req.Signature),
		Nonce:        optional(req.Nonce),
		Timestamp:    now,
		Success:      true,
	})
}

// RemoveWallet removes wallet from its group on the wallet's own behalf.
func (r *Registry) RemoveWallet(ctx context.Context, wallet string) (*RemoveResult, error) {
	return r.CommitRemoveWallet(ctx, RemoveRequest{Wallet: wallet})
}

// CommitRemoveWallet removes a wallet, dissolving its group when it was the last
// member and promoting the oldest remaining member when it was primary.
// ErrWalletNotFound is not audited: there is no group to audit against.
func (r *Registry) CommitRemoveWallet(ctx context.Context, req RemoveRequest) (*RemoveResult, error) {
	var err error
	if req.Wallet, err = r.NormalizeWallet(req.Wallet); err != nil {
		return nil, err
	}
	performedBy := req.PerformedBy
	if performedBy == "" {
		performedBy = req.Wallet
	}

	var result *RemoveResult
	err = r.store.WithGroupTx(ctx, func(tx store.GroupTx) error {
		now := r.now().UTC().Truncate(time.Millisecond)

		m, err := getMembership(ctx, tx, req.Wallet)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrWalletNotFound
		}

		members, err := tx.ListMemberships(ctx, m.GroupID)
		if err != nil {
			return fmt.Errorf("listing memberships: %w", err)
		}
		group, err := tx.GetGroup(ctx, m.GroupID)
		if err != nil {
			return fmt.Errorf("loading group: %w", err)
		}

		if err := tx.DeleteMembership(ctx, req.Wallet); err != nil {
			return fmt.Errorf("deleting membership: %w", err)
		}
		if err := restoreName(ctx, tx, m); err != nil {
			return err
		}

		result = &RemoveResult{GroupID: m.GroupID}
		removal := &store.AuditEvent{
			GroupID:      m.GroupID,
			Action:       store.AuditRemoveWallet,
			PerformedBy:  performedBy,
			TargetWallet: optional(req.Wallet),
			Signature:    optional(req.Signature),
			Nonce:        optional(req.Nonce),
			Timestamp:    now,
			Success:      true,
		}

		if len(members) == 1 {
			if err := tx.DeleteGroup(ctx, m.GroupID); err != nil {
				return fmt.Errorf("deleting group: %w", err)
			}
			result.GroupDeleted = true
			return r.audit.Append(ctx, tx, removal)
		}

		if group.PrimaryWallet == req.Wallet {
			// members is ordered by AddedAt, so the first survivor has the oldest tenure.
			var next string
			for _, other := range members {
				if other.WalletAddress != req.Wallet {
					next = other.WalletAddress
					break
				}
			}
			if err := tx.SetPrimaryWallet(ctx, m.GroupID, next); err != nil {
				return fmt.Errorf("transferring primary: %w", err)
			}
			if err := r.audit.Append(ctx, tx, &store.AuditEvent{
				GroupID:      m.GroupID,
				Action:       store.AuditTransferPrimary,
				PerformedBy:  performedBy,
				TargetWallet: optional(next),
				Timestamp:    now,
				Success:      true,
			}); err != nil {
				return err
			}
			result.NewPrimary = next
		}

		return r.audit.Append(ctx, tx, removal)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("wallet removed",
		"group_id", result.GroupID,
		"wallet", req.Wallet,
		"group_deleted", result.GroupDeleted,
		"new_primary", result.NewPrimary,
	)
	return result, nil
}

// EnsureGroup creates a group for wallet if it has none. It is idempotent:
// a wallet already in a group gets that group back with Created false.
func (r *Registry) EnsureGroup(ctx context.Context, wallet string, nickname *string) (*EnsureResult, error) {
	wallet, err := r.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}

	var result *EnsureResult
	err = r.store.WithGroupTx(ctx, func(tx store.GroupTx) error {
		m, err := getMembership(ctx, tx, wallet)
		if err != nil {
			return err
		}
		if m != nil {
			result = &EnsureResult{GroupID: m.GroupID}
			return nil
		}

		owner, err := r.materialize(ctx, tx, wallet, nickname, r.now().UTC().Truncate(time.Millisecond))
		if err != nil {
			return err
		}
		result = &EnsureResult{GroupID: owner.GroupID, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordFailure audits an attempt that failed before reaching the registry,
// against the group of the performing wallet. Add attempts with no group are
// recorded under store.UnknownGroupID; removal attempts with no group are not
// recorded.
func (r *Registry) RecordFailure(ctx context.Context, f FailedAttempt) error {
	groupID := store.UnknownGroupID
	m, err := getMembership(ctx, r.store, f.PerformedBy)
	if err != nil {
		return err
	}
	if m != nil {
		groupID = m.GroupID
	} else if f.Action == store.AuditRemoveWallet {
		return nil
	}

	return r.audit.Append(ctx, r.store, &store.AuditEvent{
		GroupID:      groupID,
		Action:       f.Action,
		PerformedBy:  f.PerformedBy,
		TargetWallet: optional(f.TargetWallet),
		Signature:    optional(f.Signature),
		Nonce:        optional(f.Nonce),
		Timestamp:    r.now().UTC(),
		Success:      false,
		ErrorMessage: optional(f.Reason),
	})
}

// SetNickname sets or clears (nil) a member's nickname.
func (r *Registry) SetNickname(ctx context.Context, wallet string, nickname *string) error {
	wallet, err := r.NormalizeWallet(wallet)
	if err != nil {
		return err
	}
	if nickname != nil && strings.TrimSpace(*nickname) == "" {
		nickname = nil
	}
	err = r.store.SetNickname(ctx, wallet, nickname)
	if errors.Is(err, store.ErrNotFound) {
		return ErrWalletNotFound
	}
	return err
}

// GroupByWallet returns the group wallet belongs to.
func (r *Registry) GroupByWallet(ctx context.Context, wallet string) (*store.Group, error) {
	wallet, err := r.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	m, err := getMembership(ctx, r.store, wallet)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrWalletNotFound
	}

	g, err := r.store.GetGroup(ctx, m.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading group: %w", err)
	}
	return g, nil
}

// ListGroupWallets lists a group's wallets, primary first, then by ascending AddedAt.
func (r *Registry) ListGroupWallets(ctx context.Context, groupID string) ([]WalletEntry, error) {
	var entries []WalletEntry
	err := r.store.WithGroupTx(ctx, func(tx store.GroupTx) error {
		g, err := tx.GetGroup(ctx, groupID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrGroupNotFound
		}
		if err != nil {
			return fmt.Errorf("loading group: %w", err)
		}
		members, err := tx.ListMemberships(ctx, groupID)
		if err != nil {
			return fmt.Errorf("listing memberships: %w", err)
		}
		entries = primaryFirst(g, members)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// WalletsFor lists the group of wallet. A wallet in no group is listed alone as
// the primary of its implicit group.
func (r *Registry) WalletsFor(ctx context.Context, wallet string) ([]WalletEntry, error) {
	wallet, err := r.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	m, err := getMembership(ctx, r.store, wallet)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return []WalletEntry{{
			WalletAddress: wallet,
			AddedAt:       r.now().UTC().Truncate(time.Millisecond),
			IsPrimary:     true,
		}}, nil
	}

	return r.ListGroupWallets(ctx, m.GroupID)
}

// DisplayName returns the wallet's company name from the ledger. ok is false
// when the wallet has none.
func (r *Registry) DisplayName(ctx context.Context, wallet string) (name string, ok bool, err error) {
	if wallet, err = r.NormalizeWallet(wallet); err != nil {
		return "", false, err
	}
	name, err = r.store.GetDisplayName(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading display name: %w", err)
	}
	return name, true, nil
}

// GroupDisplayName returns the shared company name, read from the primary wallet.
func (r *Registry) GroupDisplayName(ctx context.Context, groupID string) (name string, ok bool, err error) {
	g, err := r.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, ErrGroupNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("loading group: %w", err)
	}
	return r.DisplayName(ctx, g.PrimaryWallet)
}

// SetGroupDisplayName writes name to the ledger entry of every member.
// Members' OriginalCompanyName snapshots are left untouched so removal still
// restores the pre-join name.
func (r *Registry) SetGroupDisplayName(ctx context.Context, groupID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return ErrInvalidDisplayName
	}

	return r.store.WithGroupTx(ctx, func(tx store.GroupTx) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrGroupNotFound
			}
			return fmt.Errorf("loading group: %w", err)
		}
		members, err := tx.ListMemberships(ctx, groupID)
		if err != nil {
			return fmt.Errorf("listing memberships: %w", err)
		}
		for _, m := range members {
			if err := tx.SetDisplayName(ctx, m.WalletAddress, name); err != nil {
				return fmt.Errorf("setting display name: %w", err)
			}
		}
		return nil
	})
}

// AuditTrail returns the group's audit events oldest first. Diagnostic only.
func (r *Registry) AuditTrail(ctx context.Context, groupID string, limit int) ([]*store.AuditEvent, error) {
	return r.audit.ListByGroup(ctx, groupID, limit)
}

// getMembership returns nil, nil when the wallet has no membership.
func getMembership(ctx context.Context, q store.GroupReader, wallet string) (*store.Membership, error) {
	m, err := q.GetMembership(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading membership: %w", err)
	}
	return m, nil
}

func groupSize(ctx context.Context, q store.GroupReader, groupID string) (int, error) {
	members, err := q.ListMemberships(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("listing memberships: %w", err)
	}
	return len(members), nil
}

// snapshotName reads the wallet's current ledger name for later restoration.
func snapshotName(ctx context.Context, tx store.GroupReader, wallet string) (*string, error) {
	name, err := tx.GetDisplayName(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) || (err == nil && name == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading display name: %w", err)
	}
	return &name, nil
}

func restoreName(ctx context.Context, tx store.GroupTx, m *store.Membership) error {
	if m.OriginalCompanyName == nil || *m.OriginalCompanyName == "" {
		return nil
	}
	if err := tx.SetDisplayName(ctx, m.WalletAddress, *m.OriginalCompanyName); err != nil {
		return fmt.Errorf("restoring display name: %w", err)
	}
	return nil
}

// nextAddedAt keeps AddedAt strictly increasing within a group, so primary
// failover by oldest tenure never sees a tie.
func nextAddedAt(now time.Time, members []*store.Membership) time.Time {
	at := now
	for _, m := range members {
		if !m.AddedAt.IsZero() && !at.After(m.AddedAt) {
			at = m.AddedAt.Add(time.Millisecond)
		}
	}
	return at
}

func primaryFirst(g *store.Group, members []*store.Membership) []WalletEntry {
	entries := make([]WalletEntry, 0, len(members))
	for _, m := range members {
		e := WalletEntry{
			WalletAddress: m.WalletAddress,
			Nickname:      m.Nickname,
			AddedAt:       m.AddedAt,
			IsPrimary:     m.WalletAddress == g.PrimaryWallet,
		}
		if e.IsPrimary {
			entries = append([]WalletEntry{e}, entries...)
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
