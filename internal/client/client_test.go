// ABOUTME: Tests for the corp-gateway HTTP client
// ABOUTME: Runs the real API router over the mock store behind httptest

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/corp-gateway/internal/api"
	"github.com/2389/corp-gateway/internal/auditlog"
	"github.com/2389/corp-gateway/internal/auth"
	"github.com/2389/corp-gateway/internal/challenge"
	"github.com/2389/corp-gateway/internal/corp"
	"github.com/2389/corp-gateway/internal/identity"
	"github.com/2389/corp-gateway/internal/store"
)

const testSecret = "client-test-secret-0123456789abcdef"

type fixture struct {
	url   string
	token string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMockStore()
	registry := corp.NewRegistry(s, auditlog.New(s), corp.Options{})
	issuer := challenge.NewIssuer(s, challenge.Options{})
	service := identity.NewService(identity.Config{
		Challenges: s,
		Registry:   registry,
		Verifier: identity.VerifierFunc(func(_ context.Context, req identity.VerifyRequest) (identity.VerifyResult, error) {
			if req.Signature != "sig:"+req.StakeAddress {
				return identity.VerifyResult{Reason: "signature does not match"}, nil
			}
			return identity.VerifyResult{Valid: true}, nil
		}),
	})
	t.Cleanup(service.Wait)

	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := v.Generate("alice", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(api.New(api.Deps{
		Identity: service,
		Registry: registry,
		Issuer:   issuer,
		Admin:    v,
	}))
	t.Cleanup(srv.Close)
	return &fixture{url: srv.URL, token: token}
}

// link creates owner's group and signs joiner into it.
func link(t *testing.T, c *Client, owner, joiner string) *api.LinkResponse {
	t.Helper()
	ctx := context.Background()

	_, err := c.EnsureGroup(ctx, api.EnsureRequest{WalletAddress: owner})
	require.NoError(t, err)

	ch, err := c.IssueChallenge(ctx, api.ChallengeRequest{WalletAddress: joiner})
	require.NoError(t, err)
	assert.Contains(t, ch.Message, ch.Nonce)

	res, err := c.Link(ctx, api.LinkRequest{
		ExistingWallet: owner,
		NewWallet:      joiner,
		Signature:      "sig:" + joiner,
		Nonce:          ch.Nonce,
	})
	require.NoError(t, err)
	return res
}

func TestClient_Health(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, New(f.url).Health(context.Background()))
}

func TestClient_LinkAndList(t *testing.T) {
	f := newFixture(t)
	c := New(f.url + "/")
	ctx := context.Background()

	linked := link(t, c, "stake1owner", "stake1joiner")

	g, err := c.GroupByWallet(ctx, "stake1joiner")
	require.NoError(t, err)
	assert.Equal(t, linked.GroupID, g.GroupID)
	assert.Equal(t, "stake1owner", g.PrimaryWallet)

	wallets, err := c.GroupWallets(ctx, linked.GroupID)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "stake1owner", wallets[0].WalletAddress)
	assert.True(t, wallets[0].IsPrimary)

	wallets, err = c.WalletsFor(ctx, "stake1joiner")
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
}

func TestClient_DisplayNames(t *testing.T) {
	f := newFixture(t)
	c := New(f.url)
	ctx := context.Background()
	linked := link(t, c, "stake1owner", "stake1joiner")

	require.NoError(t, c.SetGroupDisplayName(ctx, linked.GroupID, "Acme Mining"))

	name, ok, err := c.GroupDisplayName(ctx, linked.GroupID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Acme Mining", name)

	name, ok, err = c.DisplayName(ctx, "stake1joiner")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Acme Mining", name)

	_, ok, err = c.DisplayName(ctx, "stake1stranger")
	require.NoError(t, err)
	assert.False(t, ok)

	nick := "cold storage"
	require.NoError(t, c.SetNickname(ctx, "stake1joiner", &nick))
	wallets, err := c.GroupWallets(ctx, linked.GroupID)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	require.NotNil(t, wallets[1].Nickname)
	assert.Equal(t, nick, *wallets[1].Nickname)
}

func TestClient_Errors(t *testing.T) {
	f := newFixture(t)
	c := New(f.url)
	ctx := context.Background()

	_, err := c.GroupByWallet(ctx, "stake1nobody")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "wallet_not_found", apiErr.Code)

	_, err = c.Link(ctx, api.LinkRequest{
		ExistingWallet: "stake1owner",
		NewWallet:      "stake1joiner",
		Signature:      "sig:stake1joiner",
		Nonce:          "unknown",
	})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_nonce", apiErr.Code)
	assert.False(t, IsNotFound(err))
}

func TestClient_AdminRequiresToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	linked := link(t, New(f.url), "stake1owner", "stake1joiner")

	_, err := New(f.url).Audit(ctx, linked.GroupID, 0)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	admin := New(f.url, WithToken(f.token))
	events, err := admin.Audit(ctx, linked.GroupID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "create_group", events[0].Action)

	removed, err := admin.RemoveWallet(ctx, "stake1joiner")
	require.NoError(t, err)
	assert.Equal(t, linked.GroupID, removed.GroupID)

	_, err = admin.GroupByWallet(ctx, "stake1joiner")
	assert.True(t, IsNotFound(err))
}

func TestClient_Unlink(t *testing.T) {
	f := newFixture(t)
	c := New(f.url)
	ctx := context.Background()
	linked := link(t, c, "stake1owner", "stake1joiner")

	ch, err := c.IssueChallenge(ctx, api.ChallengeRequest{WalletAddress: "stake1joiner"})
	require.NoError(t, err)

	res, err := c.Unlink(ctx, "stake1joiner", api.UnlinkRequest{Signature: "sig:stake1joiner", Nonce: ch.Nonce})
	require.NoError(t, err)
	assert.Equal(t, linked.GroupID, res.GroupID)
}

func TestClient_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(srv.URL).Health(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
	assert.Empty(t, apiErr.Code)
}
