// ABOUTME: Business errors for corporation (wallet group) operations
// ABOUTME: All are terminal; callers match them with errors.Is

package corp

import "errors"

var (
	// ErrAlreadyInSameGroup is returned when the wallet being linked is already in the target group.
	ErrAlreadyInSameGroup = errors.New("wallet is already connected to this corporation")

	// ErrWalletBelongsToOtherGroup is returned when the wallet is shared in another multi-wallet group.
	ErrWalletBelongsToOtherGroup = errors.New("wallet belongs to a different corporation with multiple wallets; remove it from that corporation first")

	// ErrGroupSizeLimitExceeded is returned when the target group is full.
	ErrGroupSizeLimitExceeded = errors.New("corporation has reached its wallet limit")

	// ErrWalletNotFound is returned when a wallet has no membership.
	ErrWalletNotFound = errors.New("wallet not found in any corporation")

	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("corporation not found")

	// ErrInvalidWallet is returned for an empty or malformed wallet address.
	ErrInvalidWallet = errors.New("invalid wallet address")

	// ErrInvalidDisplayName is returned for empty or oversized display names.
	ErrInvalidDisplayName = errors.New("invalid display name")
)
