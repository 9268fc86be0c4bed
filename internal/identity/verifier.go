// ABOUTME: Signature verification capability consumed by the identity service
// ABOUTME: Implementations prove that a signature was made by the claimed wallet

package identity

import (
	"context"
	"errors"
	"fmt"
)

// VerifyRequest carries everything needed to check one wallet signature.
type VerifyRequest struct {
	StakeAddress string
	Nonce        string
	Signature    string // hex COSE_Sign1 from CIP-30 signData
	Key          string // hex COSE_Key from CIP-30 signData, optional
	Message      string // exact challenge text the wallet signed
}

// VerifyResult is the verdict. Reason explains an invalid signature.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// SignatureVerifier checks wallet signatures. An error means the check could
// not run; an invalid signature is reported through VerifyResult.
type SignatureVerifier interface {
	Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error)
}

// VerifierFunc adapts a function to SignatureVerifier.
type VerifierFunc func(ctx context.Context, req VerifyRequest) (VerifyResult, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	return f(ctx, req)
}

// ErrSignatureInvalid matches every *SignatureError.
var ErrSignatureInvalid = errors.New("signature invalid")

// SignatureError reports a signature the verifier rejected.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	if e.Reason == "" {
		return ErrSignatureInvalid.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSignatureInvalid.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrSignatureInvalid) true.
func (e *SignatureError) Is(target error) bool {
	return target == ErrSignatureInvalid
}
