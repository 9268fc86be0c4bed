// ABOUTME: Tests for challenge storage: creation, replacement, consumption and cleanup
// ABOUTME: Runs each case against both SQLiteStore and MockStore

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func challengeStores(t *testing.T) map[string]ChallengeStore {
	return map[string]ChallengeStore{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	}
}

func TestChallenge_CreateAndGet(t *testing.T) {
	for name, s := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, s.CreateChallenge(ctx, &Challenge{
				Nonce:         "nonce-1",
				WalletAddress: "stake_a",
				WalletName:    "eternl",
				CreatedAt:     now,
				ExpiresAt:     now.Add(5 * time.Minute),
			}))

			c, err := s.GetChallenge(ctx, "nonce-1")
			require.NoError(t, err)
			assert.Equal(t, "stake_a", c.WalletAddress)
			assert.Equal(t, "eternl", c.WalletName)
			assert.True(t, c.ExpiresAt.Equal(now.Add(5*time.Minute)))
			assert.Nil(t, c.UsedAt)

			_, err = s.GetChallenge(ctx, "nonce-missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestChallenge_NewChallengeReplacesUnused(t *testing.T) {
	for name, s := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, s.CreateChallenge(ctx, &Challenge{Nonce: "n1", WalletAddress: "stake_a", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
			require.NoError(t, s.CreateChallenge(ctx, &Challenge{Nonce: "n2", WalletAddress: "stake_a", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

			_, err := s.GetChallenge(ctx, "n1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetChallenge(ctx, "n2")
			assert.NoError(t, err)
		})
	}
}

func TestChallenge_ConsumeOnce(t *testing.T) {
	for name, s := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, s.CreateChallenge(ctx, &Challenge{Nonce: "n1", WalletAddress: "stake_a", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

			require.NoError(t, s.ConsumeChallenge(ctx, "n1", now))
			assert.ErrorIs(t, s.ConsumeChallenge(ctx, "n1", now), ErrChallengeConsumed)
			assert.ErrorIs(t, s.ConsumeChallenge(ctx, "missing", now), ErrNotFound)

			c, err := s.GetChallenge(ctx, "n1")
			require.NoError(t, err)
			assert.NotNil(t, c.UsedAt)
		})
	}
}

func TestChallenge_DeleteExpired(t *testing.T) {
	for name, s := range challengeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, s.CreateChallenge(ctx, &Challenge{Nonce: "old", WalletAddress: "stake_a", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}))
			require.NoError(t, s.CreateChallenge(ctx, &Challenge{Nonce: "fresh", WalletAddress: "stake_b", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

			n, err := s.DeleteExpiredChallenges(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = s.GetChallenge(ctx, "old")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetChallenge(ctx, "fresh")
			assert.NoError(t, err)
		})
	}
}
