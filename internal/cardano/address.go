// ABOUTME: Cardano reward (stake) address parsing and derivation
// ABOUTME: Bech32 stake/stake_test addresses over a blake2b-224 stake key hash

package cardano

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

// Network is a Cardano network as encoded in an address header.
type Network byte

const (
	Testnet Network = 0
	Mainnet Network = 1
)

func (n Network) String() string {
	if n == Mainnet {
		return "mainnet"
	}
	return "testnet"
}

// hrp returns the bech32 human-readable part of reward addresses on n.
func (n Network) hrp() string {
	if n == Mainnet {
		return "stake"
	}
	return "stake_test"
}

const (
	// KeyHashSize is the length of a blake2b-224 digest.
	KeyHashSize = 28

	// rewardKeyHeader is the high nibble of a reward address whose
	// credential is a key hash (CIP-19 header type 14).
	rewardKeyHeader = 0xE0

	stakeAddressSize = 1 + KeyHashSize
)

// ErrInvalidAddress is returned for malformed stake addresses.
var ErrInvalidAddress = errors.New("invalid stake address")

// StakeAddress is a decoded key-hash reward address.
type StakeAddress struct {
	Raw     []byte // header byte followed by the key hash
	Network Network
}

// KeyHash returns the stake key hash carried by the address.
func (a StakeAddress) KeyHash() []byte {
	return a.Raw[1:]
}

// ParseStakeAddress decodes a bech32 stake address, or the hex bytes CIP-30
// getRewardAddresses returns.
func ParseStakeAddress(s string) (StakeAddress, error) {
	s = strings.TrimSpace(s)

	if raw, err := hex.DecodeString(s); err == nil && len(raw) == stakeAddressSize {
		return fromRaw(raw)
	}

	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return StakeAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return StakeAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	addr, err := fromRaw(raw)
	if err != nil {
		return StakeAddress{}, err
	}
	if hrp != addr.Network.hrp() {
		return StakeAddress{}, fmt.Errorf("%w: prefix %q does not match %s header", ErrInvalidAddress, hrp, addr.Network)
	}
	return addr, nil
}

func fromRaw(raw []byte) (StakeAddress, error) {
	if len(raw) != stakeAddressSize {
		return StakeAddress{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, stakeAddressSize, len(raw))
	}
	if raw[0]&0xF0 != rewardKeyHeader {
		return StakeAddress{}, fmt.Errorf("%w: header 0x%02x is not a key-hash reward address", ErrInvalidAddress, raw[0])
	}

	network := Network(raw[0] & 0x0F)
	if network != Mainnet && network != Testnet {
		return StakeAddress{}, fmt.Errorf("%w: unknown network id %d", ErrInvalidAddress, network)
	}
	return StakeAddress{Raw: append([]byte(nil), raw...), Network: network}, nil
}

// HashKey returns the blake2b-224 digest of a public key.
func HashKey(publicKey []byte) []byte {
	h, err := blake2b.New(KeyHashSize, nil)
	if err != nil {
		// Only reachable with an invalid size or key, both constant here.
		panic(err)
	}
	h.Write(publicKey)
	return h.Sum(nil)
}

// String returns the lowercase bech32 form of the address.
func (a StakeAddress) String() string {
	s, err := encode(a.Raw, a.Network)
	if err != nil {
		// Raw is validated by fromRaw, so conversion cannot fail.
		panic(err)
	}
	return s
}

// NormalizeStakeAddress returns the lowercase bech32 form of any accepted
// spelling of a stake address: bech32 in either case, or hex bytes.
func NormalizeStakeAddress(s string) (string, error) {
	addr, err := ParseStakeAddress(s)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// StakeAddressFromKey derives the bech32 reward address of a stake public key.
func StakeAddressFromKey(publicKey []byte, network Network) (string, error) {
	raw := append([]byte{rewardKeyHeader | byte(network)}, HashKey(publicKey)...)
	return encode(raw, network)
}

func encode(raw []byte, network Network) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("converting address bits: %w", err)
	}
	addr, err := bech32.Encode(network.hrp(), data)
	if err != nil {
		return "", fmt.Errorf("encoding address: %w", err)
	}
	return addr, nil
}
