// Package corp implements corporations: groups of wallets controlled by one player.
//
// # Policy and Commit
//
// Resolve and CheckCapacity are pure functions. Resolve decides what happens to a
// wallet that is linked into a group, and there are exactly four outcomes:
//
//   - the wallet has no group: JoinFresh
//   - the wallet is already in the target group: ErrAlreadyInSameGroup
//   - the wallet is alone in another group: MigrateSolo (that group is dissolved)
//   - the wallet shares another group with other wallets: ErrWalletBelongsToOtherGroup
//
// Registry applies the policy inside a single store transaction, so the membership
// reads, the size check and the writes are indivisible. Signature verification is
// the caller's job and happens before CommitAddWallet.
//
// # Implicit Groups
//
// A wallet with no membership row is the sole member and primary of an implicit
// group. The group is stored the first time another wallet links to it, or on an
// explicit EnsureGroup call.
//
// # Invariants
//
// After every committed operation:
//
//   - a wallet is a member of at most one group
//   - every stored group has at least one member
//   - a group's primary wallet is one of its members
//   - no group exceeds the configured wallet limit
//
// AddedAt is strictly increasing within a group, so removing the primary wallet
// promotes the member with the oldest tenure without ties.
//
// # Display Names
//
// Each membership keeps the wallet's company name from before it joined. Removing
// the wallet restores that name in the display-name ledger, even if the group's
// shared name changed in between.
package corp
