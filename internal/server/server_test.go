// ABOUTME: Tests for server wiring and lifecycle
// ABOUTME: Links a wallet end to end with a real CIP-30 signature over SQLite

package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/corp-gateway/internal/api"
	"github.com/2389/corp-gateway/internal/cardano"
	"github.com/2389/corp-gateway/internal/config"
	"github.com/2389/corp-gateway/internal/corp"
	"github.com/2389/corp-gateway/internal/notify"
)

const testSecret = "server-test-secret-0123456789abcdef"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse(`
server:
  http_addr: "127.0.0.1:0"
  grpc_addr: "127.0.0.1:0"
database:
  path: ":memory:"
auth:
  jwt_secret: "`+testSecret+`"
verifier:
  network: mainnet
notify:
  debounce: "0s"
metrics:
  enabled: true
`, config.YAML)
	require.NoError(t, err)
	return cfg
}

func newServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("CORP_DB_PATH", "")
	srv, err := New(testConfig(t))
	require.NoError(t, err)
	return srv
}

type wallet struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
	raw     []byte
}

func newWallet(t *testing.T) *wallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr, err := cardano.StakeAddressFromKey(pub, cardano.Mainnet)
	require.NoError(t, err)
	parsed, err := cardano.ParseStakeAddress(addr)
	require.NoError(t, err)
	return &wallet{priv: priv, pub: pub, address: addr, raw: parsed.Raw}
}

// sign produces the hex COSE_Sign1 and COSE_Key a CIP-30 wallet returns.
func (w *wallet) sign(t *testing.T, message string) (string, string) {
	t.Helper()
	protected, err := cbor.Marshal(map[any]any{int64(1): int64(-8), "address": w.raw})
	require.NoError(t, err)
	toSign, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, []byte(message)})
	require.NoError(t, err)
	sig, err := cbor.Marshal([]any{protected, map[string]bool{"hashed": false}, []byte(message), ed25519.Sign(w.priv, toSign)})
	require.NoError(t, err)
	key, err := cbor.Marshal(map[int64]any{1: int64(1), 3: int64(-8), -1: int64(6), -2: []byte(w.pub)})
	require.NoError(t, err)
	return hex.EncodeToString(sig), hex.EncodeToString(key)
}

func call(t *testing.T, h http.Handler, method, path string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func TestNew_LinksWalletEndToEnd(t *testing.T) {
	srv := newServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()
	h := srv.Handler()

	owner := newWallet(t)
	joiner := newWallet(t)

	status, data := call(t, h, http.MethodPost, "/api/groups", api.EnsureRequest{WalletAddress: owner.address})
	require.Equal(t, http.StatusCreated, status, string(data))
	var ensured api.EnsureResponse
	require.NoError(t, json.Unmarshal(data, &ensured))
	assert.True(t, ensured.Created)

	status, data = call(t, h, http.MethodPost, "/api/challenges", api.ChallengeRequest{WalletAddress: joiner.address})
	require.Equal(t, http.StatusCreated, status, string(data))
	var ch api.ChallengeResponse
	require.NoError(t, json.Unmarshal(data, &ch))

	sig, key := joiner.sign(t, ch.Message)
	status, data = call(t, h, http.MethodPost, "/api/groups/link", api.LinkRequest{
		ExistingWallet: owner.address,
		NewWallet:      joiner.address,
		Signature:      sig,
		Key:            key,
		Nonce:          ch.Nonce,
	})
	require.Equal(t, http.StatusOK, status, string(data))
	var linked api.LinkResponse
	require.NoError(t, json.Unmarshal(data, &linked))
	assert.Equal(t, ensured.GroupID, linked.GroupID)

	// The nonce is single use.
	status, _ = call(t, h, http.MethodPost, "/api/groups/link", api.LinkRequest{
		ExistingWallet: owner.address,
		NewWallet:      joiner.address,
		Signature:      sig,
		Key:            key,
		Nonce:          ch.Nonce,
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	wallets, err := srv.Registry().ListGroupWallets(context.Background(), ensured.GroupID)
	require.NoError(t, err)
	assert.Len(t, wallets, 2)
}

func TestNew_RejectsForgedSignature(t *testing.T) {
	srv := newServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()
	h := srv.Handler()

	owner := newWallet(t)
	victim := newWallet(t)
	attacker := newWallet(t)

	status, data := call(t, h, http.MethodPost, "/api/challenges", api.ChallengeRequest{WalletAddress: victim.address})
	require.Equal(t, http.StatusCreated, status, string(data))
	var ch api.ChallengeResponse
	require.NoError(t, json.Unmarshal(data, &ch))

	sig, key := attacker.sign(t, ch.Message)
	status, _ = call(t, h, http.MethodPost, "/api/groups/link", api.LinkRequest{
		ExistingWallet: owner.address,
		NewWallet:      victim.address,
		Signature:      sig,
		Key:            key,
		Nonce:          ch.Nonce,
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, h, http.MethodGet, "/api/wallets/"+victim.address+"/group", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// linkAs links w into the group of existing, spelling w's address as spelled.
func linkAs(t *testing.T, h http.Handler, existing string, w *wallet, spelled string) (int, []byte) {
	t.Helper()
	status, data := call(t, h, http.MethodPost, "/api/challenges", api.ChallengeRequest{WalletAddress: spelled})
	require.Equal(t, http.StatusCreated, status, string(data))
	var ch api.ChallengeResponse
	require.NoError(t, json.Unmarshal(data, &ch))

	sig, key := w.sign(t, ch.Message)
	return call(t, h, http.MethodPost, "/api/groups/link", api.LinkRequest{
		ExistingWallet: existing,
		NewWallet:      spelled,
		Signature:      sig,
		Key:            key,
		Nonce:          ch.Nonce,
	})
}

func TestNew_AddressSpellingsShareOneMembership(t *testing.T) {
	srv := newServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()
	h := srv.Handler()
	ctx := context.Background()

	owner := newWallet(t)
	joiner := newWallet(t)
	rivalB := newWallet(t)
	rivalC := newWallet(t)

	status, data := linkAs(t, h, owner.address, joiner, joiner.address)
	require.Equal(t, http.StatusOK, status, string(data))
	var linked api.LinkResponse
	require.NoError(t, json.Unmarshal(data, &linked))

	for _, tc := range []struct {
		rival   *wallet
		spelled string
	}{
		{rivalB, hex.EncodeToString(joiner.raw)},
		{rivalC, strings.ToUpper(joiner.address)},
	} {
		status, data := linkAs(t, h, tc.rival.address, joiner, tc.spelled)
		require.Equal(t, http.StatusConflict, status, "%s: %s", tc.spelled, data)
		var e api.ErrorResponse
		require.NoError(t, json.Unmarshal(data, &e))
		assert.Equal(t, "wallet_belongs_to_other_group", e.Code)

		_, err := srv.Registry().GroupByWallet(ctx, tc.rival.address)
		assert.ErrorIs(t, err, corp.ErrWalletNotFound, "no group was created for the rival")
	}

	g, err := srv.Registry().GroupByWallet(ctx, strings.ToUpper(hex.EncodeToString(joiner.raw)))
	require.NoError(t, err)
	assert.Equal(t, linked.GroupID, g.ID)

	wallets, err := srv.Registry().ListGroupWallets(ctx, linked.GroupID)
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, joiner.address, wallets[1].WalletAddress)

	status, _ = call(t, h, http.MethodPost, "/api/groups", api.EnsureRequest{WalletAddress: "stake1notreallyanaddress"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = call(t, h, http.MethodPost, "/api/challenges", api.ChallengeRequest{WalletAddress: "addr1xyz"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestNew_MetricsEndpoint(t *testing.T) {
	srv := newServer(t)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	status, data := call(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestNew_InvalidDatabaseDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	srv := newServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		return srv.Addr("http") != nil && srv.Addr("grpc") != nil
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr("http").String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	conn, err := grpc.NewClient(srv.Addr("grpc").String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	hc, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	srv := newServer(t)
	srv.config.Server.HTTPAddr = "256.0.0.1:99999"

	err := srv.Run(context.Background())
	assert.Error(t, err)
}

func TestBuildNotifier(t *testing.T) {
	n, closers := buildNotifier(config.NotifyConfig{Driver: "log"})
	assert.IsType(t, &notify.LogNotifier{}, n)
	assert.Empty(t, closers)

	n, closers = buildNotifier(config.NotifyConfig{Driver: "log", Debounce: time.Second})
	assert.IsType(t, &notify.Debounced{}, n)
	assert.Len(t, closers, 1)

	n, closers = buildNotifier(config.NotifyConfig{Driver: "amqp", AMQPURL: "amqp://localhost", Debounce: time.Second})
	assert.IsType(t, &notify.Debounced{}, n)
	require.Len(t, closers, 2)
	assert.IsType(t, &notify.AMQPPublisher{}, closers[0])
	for _, c := range closers {
		assert.NoError(t, c.Close())
	}
}

func TestBuildAdminVerifier(t *testing.T) {
	v, err := buildAdminVerifier(config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = buildAdminVerifier(config.AuthConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	assert.NotNil(t, v)

	_, err = buildAdminVerifier(config.AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/corp")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/corp", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.local/share/corp-gateway/tailscale", dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}
