// ABOUTME: CIP-30 signData verifier proving control of a Cardano stake address
// ABOUTME: Checks the EdDSA signature, the signed payload and the stake key hash

package cardano

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/corp-gateway/internal/identity"
	"github.com/2389/corp-gateway/internal/metrics"
)

// NetworkPolicy restricts which network's addresses are accepted.
type NetworkPolicy string

const (
	AcceptMainnet NetworkPolicy = "mainnet"
	AcceptTestnet NetworkPolicy = "testnet"
	AcceptAny     NetworkPolicy = "any"
)

// ParseNetworkPolicy validates a configured policy. Empty means mainnet.
func ParseNetworkPolicy(s string) (NetworkPolicy, error) {
	switch p := NetworkPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return AcceptMainnet, nil
	case AcceptMainnet, AcceptTestnet, AcceptAny:
		return p, nil
	default:
		return "", fmt.Errorf("unknown network %q (want mainnet, testnet or any)", s)
	}
}

func (p NetworkPolicy) allows(n Network) bool {
	switch p {
	case AcceptAny:
		return true
	case AcceptTestnet:
		return n == Testnet
	default:
		return n == Mainnet
	}
}

// Verifier implements identity.SignatureVerifier for CIP-30 wallets.
type Verifier struct {
	policy  NetworkPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewVerifier creates a Verifier. m may be nil.
func NewVerifier(policy NetworkPolicy, m *metrics.Metrics) *Verifier {
	if policy == "" {
		policy = AcceptMainnet
	}
	return &Verifier{
		policy:  policy,
		metrics: m,
		logger:  slog.Default().With("component", "cardano"),
	}
}

var _ identity.SignatureVerifier = (*Verifier)(nil)

// Verify checks that req.Signature is a COSE_Sign1 over req.Message made by
// the stake key of req.StakeAddress. Malformed input is an invalid result,
// never an error.
func (v *Verifier) Verify(ctx context.Context, req identity.VerifyRequest) (identity.VerifyResult, error) {
	start := time.Now()
	defer func() { v.metrics.ObserveVerify(time.Since(start)) }()

	reason := v.check(req)
	if reason != "" {
		v.logger.Debug("signature rejected", "stake_address", req.StakeAddress, "reason", reason)
		return identity.VerifyResult{Valid: false, Reason: reason}, nil
	}
	return identity.VerifyResult{Valid: true}, nil
}

// check returns an empty string when the signature is valid.
func (v *Verifier) check(req identity.VerifyRequest) string {
	addr, err := ParseStakeAddress(req.StakeAddress)
	if err != nil {
		return err.Error()
	}
	if !v.policy.allows(addr.Network) {
		return fmt.Sprintf("stake address is on %s, expected %s", addr.Network, v.policy)
	}

	msg, protected, err := parseSign1(req.Signature)
	if err != nil {
		return err.Error()
	}

	if alg, ok := protected.integer(labelAlg); !ok || alg != algEdDSA {
		return "signature algorithm is not EdDSA"
	}

	if !bytes.Equal(msg.Payload, []byte(req.Message)) {
		if req.Nonce != "" && !strings.Contains(string(msg.Payload), req.Nonce) {
			return "nonce not found in signature payload"
		}
		return "signed payload does not match the challenge message"
	}

	if signed, ok := protected.bytes(addressHeader); ok && len(signed) == stakeAddressSize {
		if !bytes.Equal(signed, addr.Raw) {
			return "signature was made for a different address"
		}
	}

	pub, err := v.publicKey(req.Key, protected)
	if err != nil {
		return err.Error()
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}

	toVerify, err := sigStructure(msg.Protected, msg.Payload)
	if err != nil {
		return fmt.Sprintf("building signature structure: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), toVerify, msg.Signature) {
		return "ed25519 signature verification failed"
	}

	if !bytes.Equal(HashKey(pub), addr.KeyHash()) {
		return "public key does not belong to the stake address"
	}
	return ""
}

// publicKey prefers the COSE_Key returned alongside the signature and falls
// back to a 32-byte key some wallets put in the protected header.
func (v *Verifier) publicKey(keyHex string, protected headers) ([]byte, error) {
	if strings.TrimSpace(keyHex) != "" {
		return parseKey(keyHex)
	}
	for _, label := range []any{addressHeader, int64(labelKid), int64(labelCurve)} {
		if b, ok := protected.bytes(label); ok && len(b) == ed25519.PublicKeySize {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: no public key supplied", errMalformed)
}
