// ABOUTME: COSE_Sign1 and COSE_Key decoding for CIP-30 signData results
// ABOUTME: Builds the Sig_structure that Ed25519 signatures are computed over

package cardano

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// COSE header and key labels used by CIP-30 wallets.
const (
	labelAlg     = 1
	labelKid     = 4
	labelKeyType = 1
	labelCurve   = -1
	labelKeyX    = -2

	algEdDSA      = -8
	keyTypeOKP    = 1
	curveEd25519  = 6
	coseSign1Tag  = 0xd2 // CBOR tag 18, one byte
	addressHeader = "address"
)

var errMalformed = errors.New("malformed COSE structure")

// sign1 is a decoded COSE_Sign1 message.
type sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// headers is a decoded header or key map. CBOR integer labels decode as
// uint64 or int64 depending on sign, text labels as string.
type headers map[any]any

func (h headers) label(n int64) (any, bool) {
	if v, ok := h[n]; ok {
		return v, true
	}
	if n >= 0 {
		v, ok := h[uint64(n)]
		return v, ok
	}
	return nil, false
}

func (h headers) integer(n int64) (int64, bool) {
	v, ok := h.label(n)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	default:
		return 0, false
	}
}

func (h headers) bytes(key any) ([]byte, bool) {
	var v any
	var ok bool
	if n, isInt := key.(int64); isInt {
		v, ok = h.label(n)
	} else {
		v, ok = h[key]
	}
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func decodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", errMalformed)
	}
	return b, nil
}

// parseSign1 decodes a hex COSE_Sign1, tagged or untagged.
func parseSign1(signatureHex string) (*sign1, headers, error) {
	raw, err := decodeHex(signatureHex)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) > 0 && raw[0] == coseSign1Tag {
		raw = raw[1:]
	}

	var msg sign1
	if err := cbor.Unmarshal(raw, &msg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(msg.Signature) == 0 {
		return nil, nil, fmt.Errorf("%w: empty signature", errMalformed)
	}

	protected := headers{}
	if len(msg.Protected) > 0 {
		if err := cbor.Unmarshal(msg.Protected, &protected); err != nil {
			return nil, nil, fmt.Errorf("%w: protected header: %v", errMalformed, err)
		}
	}
	return &msg, protected, nil
}

// parseKey extracts the Ed25519 public key from a hex COSE_Key.
func parseKey(keyHex string) ([]byte, error) {
	raw, err := decodeHex(keyHex)
	if err != nil {
		return nil, err
	}

	key := headers{}
	if err := cbor.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("%w: key: %v", errMalformed, err)
	}
	if kty, ok := key.integer(labelKeyType); ok && kty != keyTypeOKP {
		return nil, fmt.Errorf("%w: key type %d is not OKP", errMalformed, kty)
	}
	if crv, ok := key.integer(labelCurve); ok && crv != curveEd25519 {
		return nil, fmt.Errorf("%w: curve %d is not Ed25519", errMalformed, crv)
	}
	x, ok := key.bytes(int64(labelKeyX))
	if !ok {
		return nil, fmt.Errorf("%w: key has no public key bytes", errMalformed)
	}
	return x, nil
}

// sigStructure is the byte string an Ed25519 COSE_Sign1 signature covers.
func sigStructure(protected, payload []byte) ([]byte, error) {
	if protected == nil {
		protected = []byte{}
	}
	return cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
}
