// ABOUTME: Tests for SQLiteStore setup, groups, memberships and transactions
// ABOUTME: Uses temporary database files for isolation

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func strPtr(s string) *string { return &s }

func seedGroup(t *testing.T, s GroupStore, groupID string, wallets ...string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateGroup(ctx, &Group{ID: groupID, PrimaryWallet: wallets[0], CreatedAt: base}))
	for i, w := range wallets {
		require.NoError(t, s.CreateMembership(ctx, &Membership{
			GroupID:       groupID,
			WalletAddress: w,
			AddedAt:       base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestNewSQLiteStore(t *testing.T) {
	store := setupTestStore(t)
	require.NotNil(t, store)

	_, err := store.GetGroup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "dir", "corp.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(tmpDir, "nested", "dir"))
	assert.NoError(t, err)
}

func TestOpenSQLiteStore_UnsupportedDriver(t *testing.T) {
	_, err := OpenSQLiteStore("postgres", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestGroup_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 123_000_000, time.UTC)

	require.NoError(t, store.CreateGroup(ctx, &Group{ID: "g1", PrimaryWallet: "stake1", CreatedAt: created}))

	g, err := store.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "stake1", g.PrimaryWallet)
	assert.True(t, g.CreatedAt.Equal(created))

	require.NoError(t, store.SetPrimaryWallet(ctx, "g1", "stake2"))
	g, err = store.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "stake2", g.PrimaryWallet)

	assert.ErrorIs(t, store.SetPrimaryWallet(ctx, "nope", "stake2"), ErrNotFound)
	assert.ErrorIs(t, store.DeleteGroup(ctx, "nope"), ErrNotFound)
}

func TestMembership_UniquePerWallet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "g1", "stake_a")
	seedGroup(t, store, "g2", "stake_b")

	err := store.CreateMembership(ctx, &Membership{GroupID: "g2", WalletAddress: "stake_a", AddedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicateMembership)
}

func TestMembership_ListOrderedByAddedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "g1", "stake_a", "stake_b", "stake_c")

	members, err := store.ListMemberships(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "stake_a", members[0].WalletAddress)
	assert.Equal(t, "stake_b", members[1].WalletAddress)
	assert.Equal(t, "stake_c", members[2].WalletAddress)

	empty, err := store.ListMemberships(ctx, "g-none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMembership_NicknameAndOriginalName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "g1", "stake_a")

	require.NoError(t, store.CreateMembership(ctx, &Membership{
		GroupID:             "g1",
		WalletAddress:       "stake_b",
		AddedAt:             time.Now(),
		Nickname:            strPtr("Vault"),
		OriginalCompanyName: strPtr("Acme"),
	}))

	m, err := store.GetMembership(ctx, "stake_b")
	require.NoError(t, err)
	require.NotNil(t, m.Nickname)
	assert.Equal(t, "Vault", *m.Nickname)
	require.NotNil(t, m.OriginalCompanyName)
	assert.Equal(t, "Acme", *m.OriginalCompanyName)

	require.NoError(t, store.SetNickname(ctx, "stake_b", nil))
	m, err = store.GetMembership(ctx, "stake_b")
	require.NoError(t, err)
	assert.Nil(t, m.Nickname)

	assert.ErrorIs(t, store.SetNickname(ctx, "stake_zzz", strPtr("x")), ErrNotFound)
}

func TestMembership_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "g1", "stake_a")

	require.NoError(t, store.DeleteMembership(ctx, "stake_a"))
	_, err := store.GetMembership(ctx, "stake_a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteMembership(ctx, "stake_a"), ErrNotFound)

	require.NoError(t, store.DeleteGroup(ctx, "g1"))
}

func TestDisplayName_Upsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetDisplayName(ctx, "stake_a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetDisplayName(ctx, "stake_a", "Acme"))
	require.NoError(t, store.SetDisplayName(ctx, "stake_a", "Globex"))

	name, err := store.GetDisplayName(ctx, "stake_a")
	require.NoError(t, err)
	assert.Equal(t, "Globex", name)
}

func TestWithGroupTx_CommitsOnSuccess(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.WithGroupTx(ctx, func(tx GroupTx) error {
		if err := tx.CreateGroup(ctx, &Group{ID: "g1", PrimaryWallet: "stake_a", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return tx.CreateMembership(ctx, &Membership{GroupID: "g1", WalletAddress: "stake_a", AddedAt: time.Now()})
	})
	require.NoError(t, err)

	m, err := store.GetMembership(ctx, "stake_a")
	require.NoError(t, err)
	assert.Equal(t, "g1", m.GroupID)
}

func TestWithGroupTx_RollsBackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithGroupTx(ctx, func(tx GroupTx) error {
		if err := tx.CreateGroup(ctx, &Group{ID: "g1", PrimaryWallet: "stake_a", CreatedAt: time.Now()}); err != nil {
			return err
		}
		if err := tx.CreateMembership(ctx, &Membership{GroupID: "g1", WalletAddress: "stake_a", AddedAt: time.Now()}); err != nil {
			return err
		}
		if err := tx.AppendAuditEvent(ctx, &AuditEvent{GroupID: "g1", Action: AuditCreateGroup, PerformedBy: "stake_a", Success: true}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetGroup(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetMembership(ctx, "stake_a")
	assert.ErrorIs(t, err, ErrNotFound)

	events, err := store.ListAuditEvents(ctx, "g1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStore_MemoryDatabase(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	seedGroup(t, store, "g1", "stake_a")
	members, err := store.ListMemberships(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}
