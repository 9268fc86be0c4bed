// ABOUTME: Tests for CIP-30 signature verification
// ABOUTME: Signs real COSE_Sign1 messages with generated ed25519 keys

package cardano

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/corp-gateway/internal/identity"
)

const testMessage = "Please sign this message to verify ownership of your wallet:\n\nNonce: abc\nApplication: Mek Tycoon\nTimestamp: 2025-01-01T00:00:00.000Z"

type testWallet struct {
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	address string
	raw     []byte
}

func newTestWallet(t *testing.T, network Network) *testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr, err := StakeAddressFromKey(pub, network)
	require.NoError(t, err)
	parsed, err := ParseStakeAddress(addr)
	require.NoError(t, err)
	return &testWallet{pub: pub, priv: priv, address: addr, raw: parsed.Raw}
}

// signData mimics CIP-30 signData: returns hex COSE_Sign1 and hex COSE_Key.
func (w *testWallet) signData(t *testing.T, payload string, tagged bool) (string, string) {
	t.Helper()
	protected, err := cbor.Marshal(map[any]any{
		int64(labelAlg): int64(algEdDSA),
		addressHeader:   w.raw,
	})
	require.NoError(t, err)

	toSign, err := sigStructure(protected, []byte(payload))
	require.NoError(t, err)
	sig := ed25519.Sign(w.priv, toSign)

	msg, err := cbor.Marshal([]any{protected, map[string]bool{"hashed": false}, []byte(payload), sig})
	require.NoError(t, err)
	if tagged {
		msg = append([]byte{coseSign1Tag}, msg...)
	}

	key, err := cbor.Marshal(map[int64]any{
		labelKeyType: int64(keyTypeOKP),
		3:            int64(algEdDSA),
		labelCurve:   int64(curveEd25519),
		labelKeyX:    []byte(w.pub),
	})
	require.NoError(t, err)

	return hex.EncodeToString(msg), hex.EncodeToString(key)
}

func verify(t *testing.T, v *Verifier, req identity.VerifyRequest) identity.VerifyResult {
	t.Helper()
	res, err := v.Verify(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestVerifier_ValidSignature(t *testing.T) {
	w := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)

	for _, tagged := range []bool{false, true} {
		sig, key := w.signData(t, testMessage, tagged)
		res := verify(t, v, identity.VerifyRequest{
			StakeAddress: w.address,
			Nonce:        "abc",
			Signature:    sig,
			Key:          key,
			Message:      testMessage,
		})
		assert.True(t, res.Valid, res.Reason)
	}
}

func TestVerifier_HexStakeAddress(t *testing.T) {
	w := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)
	sig, key := w.signData(t, testMessage, false)

	res := verify(t, v, identity.VerifyRequest{
		StakeAddress: hex.EncodeToString(w.raw),
		Signature:    sig,
		Key:          key,
		Message:      testMessage,
	})
	assert.True(t, res.Valid, res.Reason)
}

func TestVerifier_WrongMessage(t *testing.T) {
	w := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)
	sig, key := w.signData(t, testMessage, false)

	res := verify(t, v, identity.VerifyRequest{
		StakeAddress: w.address,
		Nonce:        "zzz",
		Signature:    sig,
		Key:          key,
		Message:      testMessage + "!",
	})
	assert.False(t, res.Valid)
	assert.Equal(t, "nonce not found in signature payload", res.Reason)
}

func TestVerifier_OtherWalletsKey(t *testing.T) {
	victim := newTestWallet(t, Mainnet)
	attacker := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)

	// Attacker signs with their own key and claims the victim's address.
	sig, key := attacker.signData(t, testMessage, false)
	res := verify(t, v, identity.VerifyRequest{
		StakeAddress: victim.address,
		Signature:    sig,
		Key:          key,
		Message:      testMessage,
	})
	assert.False(t, res.Valid)
	assert.Equal(t, "signature was made for a different address", res.Reason)
}

func TestVerifier_KeyDoesNotMatchAddress(t *testing.T) {
	w := newTestWallet(t, Mainnet)
	other := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)

	// Protected header without an address, signed by other, claimed for w.
	protected, err := cbor.Marshal(map[any]any{int64(labelAlg): int64(algEdDSA)})
	require.NoError(t, err)
	toSign, err := sigStructure(protected, []byte(testMessage))
	require.NoError(t, err)
	msg, err := cbor.Marshal([]any{protected, map[string]bool{}, []byte(testMessage), ed25519.Sign(other.priv, toSign)})
	require.NoError(t, err)
	_, otherKey := other.signData(t, testMessage, false)

	res := verify(t, v, identity.VerifyRequest{
		StakeAddress: w.address,
		Signature:    hex.EncodeToString(msg),
		Key:          otherKey,
		Message:      testMessage,
	})
	assert.False(t, res.Valid)
	assert.Equal(t, "public key does not belong to the stake address", res.Reason)
}

func TestVerifier_TamperedSignature(t *testing.T) {
	w := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)
	sig, key := w.signData(t, testMessage, false)

	raw, err := hex.DecodeString(sig)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF

	res := verify(t, v, identity.VerifyRequest{
		StakeAddress: w.address,
		Signature:    hex.EncodeToString(raw),
		Key:          key,
		Message:      testMessage,
	})
	assert.False(t, res.Valid)
	assert.Equal(t, "ed25519 signature verification failed", res.Reason)
}

func TestVerifier_NetworkPolicy(t *testing.T) {
	w := newTestWallet(t, Testnet)
	sig, key := w.signData(t, testMessage, false)
	req := identity.VerifyRequest{StakeAddress: w.address, Signature: sig, Key: key, Message: testMessage}

	assert.False(t, verify(t, NewVerifier(AcceptMainnet, nil), req).Valid)
	assert.True(t, verify(t, NewVerifier(AcceptTestnet, nil), req).Valid)
	assert.True(t, verify(t, NewVerifier(AcceptAny, nil), req).Valid)
}

func TestVerifier_MalformedInput(t *testing.T) {
	w := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)

	for name, req := range map[string]identity.VerifyRequest{
		"not hex":         {StakeAddress: w.address, Signature: "zz", Message: testMessage},
		"not cbor":        {StakeAddress: w.address, Signature: "ffff", Message: testMessage},
		"bad address":     {StakeAddress: "addr1qxyz", Signature: "84", Message: testMessage},
		"missing key":     {StakeAddress: w.address, Signature: mustNoKeySig(t, w), Message: testMessage},
		"empty signature": {StakeAddress: w.address, Signature: "", Message: testMessage},
	} {
		t.Run(name, func(t *testing.T) {
			res := verify(t, v, req)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

// mustNoKeySig signs correctly but without any public key in the headers.
func mustNoKeySig(t *testing.T, w *testWallet) string {
	t.Helper()
	protected, err := cbor.Marshal(map[any]any{int64(labelAlg): int64(algEdDSA)})
	require.NoError(t, err)
	toSign, err := sigStructure(protected, []byte(testMessage))
	require.NoError(t, err)
	msg, err := cbor.Marshal([]any{protected, map[string]bool{}, []byte(testMessage), ed25519.Sign(w.priv, toSign)})
	require.NoError(t, err)
	return hex.EncodeToString(msg)
}

func TestVerifier_KeyInProtectedHeader(t *testing.T) {
	w := newTestWallet(t, Mainnet)
	v := NewVerifier(AcceptMainnet, nil)

	protected, err := cbor.Marshal(map[any]any{
		int64(labelAlg): int64(algEdDSA),
		int64(labelKid): []byte(w.pub),
	})
	require.NoError(t, err)
	toSign, err := sigStructure(protected, []byte(testMessage))
	require.NoError(t, err)
	msg, err := cbor.Marshal([]any{protected, map[string]bool{}, []byte(testMessage), ed25519.Sign(w.priv, toSign)})
	require.NoError(t, err)

	res := verify(t, v, identity.VerifyRequest{
		StakeAddress: w.address,
		Signature:    hex.EncodeToString(msg),
		Message:      testMessage,
	})
	assert.True(t, res.Valid, res.Reason)
}

func TestParseNetworkPolicy(t *testing.T) {
	p, err := ParseNetworkPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AcceptMainnet, p)

	p, err = ParseNetworkPolicy(" Testnet ")
	require.NoError(t, err)
	assert.Equal(t, AcceptTestnet, p)

	_, err = ParseNetworkPolicy("preprod")
	assert.Error(t, err)
}
