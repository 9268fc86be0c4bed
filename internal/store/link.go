// ABOUTME: Wallet challenge types and store methods for signed ownership proofs
// ABOUTME: Handles single-use, time-limited nonces issued per wallet

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrChallengeConsumed is returned when a challenge has already been used
var ErrChallengeConsumed = errors.New("challenge already consumed")

// Challenge is a nonce a wallet must sign to prove control
type Challenge struct {
	Nonce         string
	WalletAddress string
	WalletName    string // wallet extension that requested it (e.g. "eternl")
	Origin        string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
}

// ChallengeStore defines operations for challenge management
type ChallengeStore interface {
	// CreateChallenge stores a new challenge, replacing unused challenges of the same wallet
	CreateChallenge(ctx context.Context, c *Challenge) error

	// GetChallenge retrieves a challenge by nonce, consumed or not
	GetChallenge(ctx context.Context, nonce string) (*Challenge, error)

	// ConsumeChallenge marks a challenge used; ErrChallengeConsumed if it already was
	ConsumeChallenge(ctx context.Context, nonce string, usedAt time.Time) error

	// DeleteExpiredChallenges removes unused challenges that expired before the cutoff
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

// CreateChallenge stores a new challenge.
func (s *SQLiteStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wallet_challenges WHERE wallet_address = ? AND used_at IS NULL`,
		c.WalletAddress,
	); err != nil {
		return fmt.Errorf("deleting unused challenges: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_challenges (nonce, wallet_address, wallet_name, origin, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		c.Nonce,
		c.WalletAddress,
		nullString(c.WalletName),
		nullString(c.Origin),
		toMillis(c.CreatedAt),
		toMillis(c.ExpiresAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("nonce collision: %w", err)
		}
		return fmt.Errorf("inserting challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing challenge: %w", err)
	}

	s.logger.Debug("created challenge", "wallet", c.WalletAddress, "expires_at", c.ExpiresAt)
	return nil
}

// GetChallenge retrieves a challenge by nonce.
func (s *SQLiteStore) GetChallenge(ctx context.Context, nonce string) (*Challenge, error) {
	query := `
		SELECT nonce, wallet_address, wallet_name, origin, created_at, expires_at, used_at
		FROM wallet_challenges
		WHERE nonce = ?
	`

	var c Challenge
	var walletName, origin sql.NullString
	var createdAt, expiresAt int64
	var usedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, nonce).Scan(
		&c.Nonce,
		&c.WalletAddress,
		&walletName,
		&origin,
		&createdAt,
		&expiresAt,
		&usedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	c.WalletName = walletName.String
	c.Origin = origin.String
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expiresAt)
	if usedAt.Valid {
		t := fromMillis(usedAt.Int64)
		c.UsedAt = &t
	}
	return &c, nil
}

// ConsumeChallenge atomically marks the challenge used.
func (s *SQLiteStore) ConsumeChallenge(ctx context.Context, nonce string, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE wallet_challenges SET used_at = ? WHERE nonce = ? AND used_at IS NULL`,
		toMillis(usedAt), nonce,
	)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetChallenge(ctx, nonce); err != nil {
			return err
		}
		return ErrChallengeConsumed
	}
	return nil
}

// DeleteExpiredChallenges removes unused challenges past their expiry.
func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM wallet_challenges WHERE expires_at < ? AND used_at IS NULL`,
		toMillis(before),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}
	return result.RowsAffected()
}
