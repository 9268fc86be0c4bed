// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package splits persistence into small interfaces:
//
//   - GroupReader: read-only lookups of groups, memberships and display names
//   - GroupTx: every write a group mutation needs, usable inside one transaction
//   - GroupStore: GroupTx plus WithGroupTx and audit trail listing
//   - ChallengeStore: single-use signing challenges
//
// SQLiteStore implements all of them in a single struct. The same SQL runs
// against the database handle or a *sql.Tx through the internal querier
// abstraction, so callers write their mutation once and choose atomicity with
// WithGroupTx.
//
// # Data Models
//
//   - Group: a corporation with exactly one primary wallet
//   - Membership: one wallet in one group, with its join time, nickname and
//     the company name it had before joining
//   - AuditEvent: append-only record of a group mutation attempt
//   - Challenge: a nonce a wallet must sign, valid once and for a limited time
//
// The display_names table is the company-name ledger. It is keyed by wallet
// and survives group membership changes.
//
// # Concurrency
//
// SQLiteStore holds a single connection and opens transactions with
// BEGIN IMMEDIATE, so WithGroupTx calls are fully serialized. Do not call
// methods on the store itself from inside a WithGroupTx callback; use the tx.
//
// # Audit Trail
//
// The wallet_group_audit table rejects UPDATE and DELETE with triggers.
// Events are listed oldest first, ties broken by insertion order.
//
// # Timestamps
//
// All timestamps are stored as unix milliseconds and returned in UTC.
//
// # Testing
//
// MockStore is an in-memory implementation with the same semantics, including
// rollback of failed WithGroupTx callbacks. Set AuditErr to simulate an
// unavailable audit log.
package store
