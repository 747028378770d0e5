package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// addressVersion prefixes every encoded address so other key material cannot
// be mistaken for an account identity.
const addressVersion = 0x52

const checksumLen = 4

// AddressFromPubKey encodes an ed25519 public key as a base58 account
// address with a version byte and a 4-byte double-SHA-256 checksum.
func AddressFromPubKey(pub ed25519.PublicKey) string {
	payload := make([]byte, 0, 1+ed25519.PublicKeySize+checksumLen)
	payload = append(payload, addressVersion)
	payload = append(payload, pub...)
	return base58.Encode(append(payload, checksum(payload)...))
}

// DecodeAddress recovers the public key behind an address, validating the
// version byte and checksum.
func DecodeAddress(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, ErrInvalidAddress)
	}
	if len(raw) != 1+ed25519.PublicKeySize+checksumLen {
		return nil, fmt.Errorf("address %q has wrong length: %w", address, ErrInvalidAddress)
	}
	if raw[0] != addressVersion {
		return nil, fmt.Errorf("address %q has wrong version byte: %w", address, ErrInvalidAddress)
	}
	payload := raw[:len(raw)-checksumLen]
	if !bytes.Equal(raw[len(raw)-checksumLen:], checksum(payload)) {
		return nil, fmt.Errorf("address %q fails checksum: %w", address, ErrInvalidAddress)
	}
	return ed25519.PublicKey(payload[1:]), nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
