// ABOUTME: JSON request and response bodies of the HTTP API
// ABOUTME: Shared with the admin client

package api

import (
	"time"

	"github.com/2389/corp-gateway/internal/corp"
	"github.com/2389/corp-gateway/internal/store"
)

// ChallengeRequest asks for a signing challenge.
type ChallengeRequest struct {
	WalletAddress string `json:"wallet_address"`
	WalletName    string `json:"wallet_name"`
	Origin        string `json:"origin"`
}

type ChallengeResponse struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type EnsureRequest struct {
	WalletAddress string  `json:"wallet_address"`
	Nickname      *string `json:"nickname,omitempty"`
}

type EnsureResponse struct {
	GroupID string `json:"group_id"`
	Created bool   `json:"created"`
}

// LinkRequest links NewWallet into the group of ExistingWallet.
type LinkRequest struct {
	ExistingWallet string  `json:"existing_wallet"`
	NewWallet      string  `json:"new_wallet"`
	Signature      string  `json:"signature"`
	Key            string  `json:"key,omitempty"`
	Nonce          string  `json:"nonce"`
	Nickname       *string `json:"nickname,omitempty"`
}

type LinkResponse struct {
	GroupID      string `json:"group_id"`
	GroupCreated bool   `json:"group_created"`
	MigratedFrom string `json:"migrated_from,omitempty"`
}

type UnlinkRequest struct {
	Signature string `json:"signature"`
	Key       string `json:"key,omitempty"`
	Nonce     string `json:"nonce"`
}

// RemoveResponse describes a removal.
type RemoveResponse struct {
	GroupID      string `json:"group_id"`
	GroupDeleted bool   `json:"group_deleted"`
	NewPrimary   string `json:"new_primary,omitempty"`
}

func toRemoveResponse(r *corp.RemoveResult) RemoveResponse {
	return RemoveResponse{GroupID: r.GroupID, GroupDeleted: r.GroupDeleted, NewPrimary: r.NewPrimary}
}

type DisplayNameRequest struct {
	Name string `json:"name"`
}

type NicknameRequest struct {
	Nickname *string `json:"nickname"`
}

// NameResponse carries an optional display name.
type NameResponse struct {
	Name *string `json:"name"`
}

func nameResponse(name string, ok bool) NameResponse {
	if !ok {
		return NameResponse{}
	}
	return NameResponse{Name: &name}
}

// GroupResponse describes one group.
type GroupResponse struct {
	GroupID       string    `json:"group_id"`
	PrimaryWallet string    `json:"primary_wallet"`
	CreatedAt     time.Time `json:"created_at"`
}

// Wallet is one member in a listing.
type Wallet struct {
	WalletAddress string    `json:"wallet_address"`
	Nickname      *string   `json:"nickname,omitempty"`
	AddedAt       time.Time `json:"added_at"`
	IsPrimary     bool      `json:"is_primary"`
}

// WalletsResponse lists a group's wallets, primary first.
type WalletsResponse struct {
	GroupID string   `json:"group_id,omitempty"`
	Wallets []Wallet `json:"wallets"`
}

func toWallets(entries []corp.WalletEntry) []Wallet {
	out := make([]Wallet, 0, len(entries))
	for _, e := range entries {
		out = append(out, Wallet{
			WalletAddress: e.WalletAddress,
			Nickname:      e.Nickname,
			AddedAt:       e.AddedAt,
			IsPrimary:     e.IsPrimary,
		})
	}
	return out
}

// AuditEvent is one audit log entry.
type AuditEvent struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	PerformedBy  string    `json:"performed_by"`
	TargetWallet *string   `json:"target_wallet,omitempty"`
	Nonce        *string   `json:"nonce,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// AuditResponse is a group's audit trail, oldest first.
type AuditResponse struct {
	GroupID string       `json:"group_id"`
	Events  []AuditEvent `json:"events"`
}

// toAuditEvents omits signatures; they stay in the database.
func toAuditEvents(events []*store.AuditEvent) []AuditEvent {
	out := make([]AuditEvent, 0, len(events))
	for _, e := range events {
		out = append(out, AuditEvent{
			ID:           e.ID,
			Action:       string(e.Action),
			PerformedBy:  e.PerformedBy,
			TargetWallet: e.TargetWallet,
			Nonce:        e.Nonce,
			Timestamp:    e.Timestamp,
			Success:      e.Success,
			ErrorMessage: e.ErrorMessage,
		})
	}
	return out
}
