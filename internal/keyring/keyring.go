// Package keyring holds signing keys and produces signatures over
// transaction envelopes. It is a capability handed to the escrow core; the
// core itself never touches private key material.
package keyring

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tyler-smith/go-bip39"

	"rentrails/internal/ledger"
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrUnknownSigner   = errors.New("signing key not held for address")
)

// Provider signs an envelope on behalf of the given account addresses.
type Provider interface {
	Sign(ctx context.Context, env *ledger.Envelope, signers []string) (*ledger.SignedEnvelope, error)
}

// Keyring is an in-process Provider backed by ed25519 keys derived from
// bip39 mnemonics or imported directly.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

func New() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PrivateKey)}
}

// ImportMnemonic derives the key at the given account index from a bip39
// mnemonic and returns its address. The same mnemonic and index always yield
// the same key.
func (k *Keyring) ImportMnemonic(mnemonic string, index uint32) (string, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	mac := hmac.New(sha512.New, seed)
	if err := binary.Write(mac, binary.BigEndian, index); err != nil {
		return "", err
	}
	key := ed25519.NewKeyFromSeed(mac.Sum(nil)[:ed25519.SeedSize])
	return k.Import(key), nil
}

// Import stores a private key and returns its address.
func (k *Keyring) Import(key ed25519.PrivateKey) string {
	address := ledger.AddressFromPubKey(key.Public().(ed25519.PublicKey))
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[address] = key
	return address
}

// Generate creates and stores a fresh random key, returning its address.
func (k *Keyring) Generate() (string, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	return k.Import(priv), nil
}

// Addresses lists the accounts this keyring can sign for, sorted.
func (k *Keyring) Addresses() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (k *Keyring) Sign(_ context.Context, env *ledger.Envelope, signers []string) (*ledger.SignedEnvelope, error) {
	digest := env.HashBytes()

	k.mu.RLock()
	defer k.mu.RUnlock()
	signed := &ledger.SignedEnvelope{Envelope: env}
	for _, address := range signers {
		key, ok := k.keys[address]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, address)
		}
		signed.Signatures = append(signed.Signatures, ledger.Signature{
			Signer:    address,
			Signature: ed25519.Sign(key, digest[:]),
		})
	}
	return signed, nil
}

// NewEphemeralAddress generates a keypair, returns its address, and discards
// the private half. Escrow accounts are created this way: their master
// weight is zeroed in the creation envelope, so the key must never be able
// to sign anything.
func NewEphemeralAddress() (string, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	return ledger.AddressFromPubKey(pub), nil
}
