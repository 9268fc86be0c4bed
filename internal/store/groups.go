// ABOUTME: SQL for wallet groups, memberships and the display-name ledger
// ABOUTME: Shared by direct store calls and WithGroupTx transactions

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetGroup retrieves a group by ID.
// Returns ErrNotFound if the group doesn't exist.
func (o *sqlOps) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	var g Group
	var createdAt int64

	err := o.q.QueryRowContext(ctx,
		`SELECT group_id, primary_wallet, created_at FROM wallet_groups WHERE group_id = ?`,
		groupID,
	).Scan(&g.ID, &g.PrimaryWallet, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}

	g.CreatedAt = fromMillis(createdAt)
	return &g, nil
}

// CreateGroup inserts a new group row.
func (o *sqlOps) CreateGroup(ctx context.Context, g *Group) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO wallet_groups (group_id, primary_wallet, created_at) VALUES (?, ?, ?)`,
		g.ID, g.PrimaryWallet, toMillis(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// DeleteGroup removes a group row. Its memberships must already be gone.
func (o *sqlOps) DeleteGroup(ctx context.Context, groupID string) error {
	result, err := o.q.ExecContext(ctx, `DELETE FROM wallet_groups WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireRow(result)
}

// SetPrimaryWallet changes the group's primary wallet.
func (o *sqlOps) SetPrimaryWallet(ctx context.Context, groupID, walletAddress string) error {
	result, err := o.q.ExecContext(ctx,
		`UPDATE wallet_groups SET primary_wallet = ? WHERE group_id = ?`,
		walletAddress, groupID,
	)
	if err != nil {
		return fmt.Errorf("updating primary wallet: %w", err)
	}
	return requireRow(result)
}

const membershipColumns = `group_id, wallet_address, added_at, nickname, original_company_name`

func scanMembership(scanner interface{ Scan(dest ...any) error }) (*Membership, error) {
	var m Membership
	var addedAt int64
	var nickname, original sql.NullString

	if err := scanner.Scan(&m.GroupID, &m.WalletAddress, &addedAt, &nickname, &original); err != nil {
		return nil, err
	}
	m.AddedAt = fromMillis(addedAt)
	m.Nickname = stringPtr(nickname)
	m.OriginalCompanyName = stringPtr(original)
	return &m, nil
}

// GetMembership retrieves the membership of a wallet.
// Returns ErrNotFound if the wallet is in no group.
func (o *sqlOps) GetMembership(ctx context.Context, walletAddress string) (*Membership, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM wallet_group_memberships WHERE wallet_address = ?`,
		walletAddress,
	)
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying membership: %w", err)
	}
	return m, nil
}

// ListMemberships returns the group's members, oldest first.
func (o *sqlOps) ListMemberships(ctx context.Context, groupID string) ([]*Membership, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM wallet_group_memberships
		 WHERE group_id = ?
		 ORDER BY added_at ASC, seq ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := []*Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}
	return members, nil
}

// CreateMembership inserts a membership.
// Returns ErrDuplicateMembership if the wallet already belongs to a group.
func (o *sqlOps) CreateMembership(ctx context.Context, m *Membership) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO wallet_group_memberships (`+membershipColumns+`) VALUES (?, ?, ?, ?, ?)`,
		m.GroupID,
		m.WalletAddress,
		toMillis(m.AddedAt),
		nullable(m.Nickname),
		nullable(m.OriginalCompanyName),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMembership
		}
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// DeleteMembership removes a wallet's membership.
func (o *sqlOps) DeleteMembership(ctx context.Context, walletAddress string) error {
	result, err := o.q.ExecContext(ctx,
		`DELETE FROM wallet_group_memberships WHERE wallet_address = ?`,
		walletAddress,
	)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return requireRow(result)
}

// SetNickname updates (or clears, when nil) a member's nickname.
func (o *sqlOps) SetNickname(ctx context.Context, walletAddress string, nickname *string) error {
	result, err := o.q.ExecContext(ctx,
		`UPDATE wallet_group_memberships SET nickname = ? WHERE wallet_address = ?`,
		nullable(nickname), walletAddress,
	)
	if err != nil {
		return fmt.Errorf("updating nickname: %w", err)
	}
	return requireRow(result)
}

// GetDisplayName reads the wallet's company name from the ledger.
func (o *sqlOps) GetDisplayName(ctx context.Context, walletAddress string) (string, error) {
	var name string
	err := o.q.QueryRowContext(ctx,
		`SELECT name FROM display_names WHERE wallet_address = ?`,
		walletAddress,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying display name: %w", err)
	}
	return name, nil
}

// SetDisplayName writes the wallet's company name.
func (o *sqlOps) SetDisplayName(ctx context.Context, walletAddress, name string) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO display_names (wallet_address, name, updated_at)
		VALUES (?, ?, strftime('%s','now') * 1000)
		ON CONFLICT(wallet_address) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`, walletAddress, name)
	if err != nil {
		return fmt.Errorf("upserting display name: %w", err)
	}
	return nil
}

// requireRow maps "no rows affected" to ErrNotFound.
func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
